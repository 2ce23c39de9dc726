package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type recordingSender struct {
	name string
	err  error
	mu   sync.Mutex
	sent []string
}

func (s *recordingSender) Send(_ context.Context, title, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, title)
	return s.err
}

func (s *recordingSender) Name() string { return s.name }

func TestNotifier_Filter(t *testing.T) {
	tests := []struct {
		name   string
		events []string
		event  string
		want   int
	}{
		{"no filter", nil, EventLedgerDown, 1},
		{"allowed", []string{" ledger_down ", "ledger_up"}, EventLedgerDown, 1},
		{"filtered", []string{EventLedgerUp}, EventLedgerDown, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &recordingSender{name: "rec"}
			n := NewNotifier([]Sender{s}, tt.events, discardLogger())
			if err := n.Notify(context.Background(), tt.event, "t", "m"); err != nil {
				t.Fatalf("Notify: %v", err)
			}
			if len(s.sent) != tt.want {
				t.Errorf("sent %d, want %d", len(s.sent), tt.want)
			}
		})
	}
}

func TestNotifier_OneSenderFailing(t *testing.T) {
	boom := errors.New("boom")
	bad := &recordingSender{name: "bad", err: boom}
	good := &recordingSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventLedgerUp, "t", "m")
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "bad") {
		t.Errorf("err = %v, want the failing sender's error", err)
	}
	if len(good.sent) != 1 {
		t.Error("healthy sender was skipped")
	}
}

func TestDiscordSender(t *testing.T) {
	var got discordPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected request %s %s", r.Method, r.Header.Get("Content-Type"))
		}
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL)
	d.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }
	if err := d.Send(context.Background(), "Ledger unreachable", "details"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(got.Embeds) != 1 || got.Embeds[0].Title != "Ledger unreachable" || got.Embeds[0].Timestamp != "2026-01-15T12:00:00Z" {
		t.Errorf("payload = %+v", got)
	}
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want status 404", err)
	}
}

func TestTelegramSender(t *testing.T) {
	var (
		text      string
		parseMode string
		chatID    string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"xo","username":"xo_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			r.ParseForm()
			text, parseMode, chatID = r.FormValue("text"), r.FormValue("parse_mode"), r.FormValue("chat_id")
			io.WriteString(w, `{"ok":true,"result":{"message_id":5,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s, err := NewTelegramSender("TOKEN", 42, srv.URL+"/bot%s/%s")
	if err != nil {
		t.Fatalf("NewTelegramSender: %v", err)
	}
	if err := s.Send(context.Background(), "Ledger up", "42 markets known."); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if text != "*Ledger up*\n42 markets known\\." || parseMode != "MarkdownV2" || chatID != "42" {
		t.Errorf("text = %q, parse_mode = %q, chat_id = %q", text, parseMode, chatID)
	}
}

type scriptedStatus struct {
	mu     sync.Mutex
	states []bool
	i      int
}

func (s *scriptedStatus) ConnectionStatus(context.Context) domain.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.states[min(s.i, len(s.states)-1)]
	s.i++
	return domain.ConnectionStatus{Connected: c, KnownMarkets: 3}
}

func TestWatcher_NotifiesTransitionsOnly(t *testing.T) {
	src := &scriptedStatus{states: []bool{true, true, false, false, true, true}}
	rec := &recordingSender{name: "rec"}
	w := NewWatcher(src, NewNotifier([]Sender{rec}, nil, discardLogger()), time.Hour, discardLogger())

	for range src.states {
		w.check(context.Background())
	}
	want := []string{"Ledger unreachable", "Ledger reachable again"}
	if strings.Join(rec.sent, "|") != strings.Join(want, "|") {
		t.Errorf("sent = %v, want %v", rec.sent, want)
	}
}

func TestWatcher_DownAtStart(t *testing.T) {
	src := &scriptedStatus{states: []bool{false}}
	rec := &recordingSender{name: "rec"}
	w := NewWatcher(src, NewNotifier([]Sender{rec}, []string{EventLedgerDown}, discardLogger()), time.Hour, discardLogger())

	w.check(context.Background())
	w.check(context.Background())
	if len(rec.sent) != 1 || rec.sent[0] != "Ledger unreachable" {
		t.Errorf("sent = %v", rec.sent)
	}
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	src := &scriptedStatus{states: []bool{true}}
	w := NewWatcher(src, NewNotifier(nil, nil, discardLogger()), 5*time.Millisecond, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run = %v", err)
	}
}
