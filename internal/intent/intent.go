// Package intent maps free-text live-data questions onto query engine calls.
package intent

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
)

// Kind names the query engine operation an Intent maps to.
type Kind string

const (
	KindUnknown      Kind = ""
	KindMarket       Kind = "market"
	KindSearch       Kind = "search"
	KindClosingSoon  Kind = "closing_soon"
	KindHighVolume   Kind = "high_volume"
	KindNewlyCreated Kind = "newly_created"
	KindActive       Kind = "active"
	KindByStatus     Kind = "by_status"
	KindConnection   Kind = "connection"
)

// Focus narrows a single-market intent.
type Focus string

const (
	FocusDetails Focus = "details"
	FocusPrice   Focus = "price"
	FocusVolume  Focus = "volume"
)

// Limits accepted from users.
const (
	DefaultHours = 24
	MaxHours     = 168
	DefaultLimit = 10
	MaxLimit     = 25
	DefaultDays  = 7
	MaxDays      = 365
)

// Intent is a parsed question. Only the fields relevant to Kind are set.
type Intent struct {
	Kind     Kind                `json:"kind"`
	MarketID int64               `json:"marketId,omitempty"`
	Focus    Focus               `json:"focus,omitempty"`
	Outcome  int                 `json:"outcome"` // 0-based; -1 for every outcome
	Term     string              `json:"term,omitempty"`
	Hours    int                 `json:"hours,omitempty"`
	Days     int                 `json:"days,omitempty"`
	Limit    int                 `json:"limit,omitempty"`
	Status   domain.MarketStatus `json:"status,omitempty"`
}

var (
	reQuoted    = regexp.MustCompile(`["“]([^"”]+)["”]`)
	reSearch    = regexp.MustCompile(`^(?:search(?:\s+markets?)?(?:\s+for)?|find(?:\s+markets?)?(?:\s+about)?)\s+(.+)$`)
	reMarketID  = regexp.MustCompile(`\bmarket\s+#?(\d+)\b`)
	reOutcome   = regexp.MustCompile(`\boutcome\s+#?(\d+)\b`)
	reHours     = regexp.MustCompile(`(\d+)\s*(?:hours?|hrs?|h)\b`)
	reDays      = regexp.MustCompile(`(\d+)\s*days?\b`)
	reTopN      = regexp.MustCompile(`\b(?:top|latest|first|newest)\s+(\d+)\b`)
	reLeadingN  = regexp.MustCompile(`^(\d+)\s+`)
	reClosing   = regexp.MustCompile(`\b(?:closing|expiring|ending)\b`)
	reVolume    = regexp.MustCompile(`\b(?:volume|biggest|largest|top)\b`)
	reNew       = regexp.MustCompile(`\b(?:new|newly|newest|latest|recent|recently)\b`)
	reActive    = regexp.MustCompile(`\b(?:active|open|live)\b`)
	reConnected = regexp.MustCompile(`\b(?:status|connection|connected|network|online)\b`)

	// Live-data detection as used by the chat route.
	reLiveWords  = regexp.MustCompile(`current|live|active|real-time|now|today`)
	reLiveTopics = regexp.MustCompile(`market.*status|market.*count|latest.*market`)
)

var statusWords = []struct {
	re     *regexp.Regexp
	status domain.MarketStatus
}{
	{regexp.MustCompile(`\bresolved\b`), domain.MarketStatusResolved},
	{regexp.MustCompile(`\bclosed\b`), domain.MarketStatusClosed},
	{regexp.MustCompile(`\bpaused\b`), domain.MarketStatusPaused},
	{regexp.MustCompile(`\bcancel+ed\b`), domain.MarketStatusCancelled},
	{regexp.MustCompile(`\bpending\b|\bupcoming\b`), domain.MarketStatusPending},
}

// NeedsLiveData reports whether text asks about current ledger state.
func NeedsLiveData(text string) bool {
	t := strings.ToLower(text)
	return reLiveWords.MatchString(t) || reLiveTopics.MatchString(t)
}

// Parse maps text onto an Intent. Unrecognized text yields KindUnknown.
// Numbers outside the accepted ranges are clamped.
func Parse(text string) Intent {
	t := strings.ToLower(strings.Join(strings.Fields(text), " "))
	t = strings.TrimRight(t, "?!. ")
	if t == "" {
		return Intent{}
	}

	if term, ok := searchTerm(t); ok {
		return Intent{Kind: KindSearch, Term: term}
	}

	if m := reMarketID.FindStringSubmatch(t); m != nil {
		if id, err := strconv.ParseInt(m[1], 10, 64); err == nil && id > 0 {
			return marketIntent(t, id)
		}
	}

	switch {
	case reClosing.MatchString(t):
		return Intent{Kind: KindClosingSoon, Hours: clamp(firstInt(reHours, t, DefaultHours), 1, MaxHours)}
	case reVolume.MatchString(t) && !reNew.MatchString(t):
		return Intent{Kind: KindHighVolume, Limit: clamp(limitIn(t), 1, MaxLimit)}
	case reNew.MatchString(t):
		return Intent{
			Kind:  KindNewlyCreated,
			Days:  clamp(firstInt(reDays, t, DefaultDays), 1, MaxDays),
			Limit: clamp(limitIn(t), 1, MaxLimit),
		}
	}

	for _, sw := range statusWords {
		if sw.re.MatchString(t) {
			return Intent{Kind: KindByStatus, Status: sw.status, Limit: clamp(limitIn(t), 1, MaxLimit)}
		}
	}

	switch {
	case reActive.MatchString(t) && strings.Contains(t, "market"):
		return Intent{Kind: KindActive, Limit: clamp(limitIn(t), 1, MaxLimit)}
	case reConnected.MatchString(t):
		return Intent{Kind: KindConnection}
	}
	return Intent{}
}

func searchTerm(t string) (string, bool) {
	if m := reQuoted.FindStringSubmatch(t); m != nil && strings.Contains(t, "search") {
		if term := strings.TrimSpace(m[1]); term != "" {
			return term, true
		}
	}
	if m := reSearch.FindStringSubmatch(t); m != nil {
		term := strings.Trim(strings.TrimSpace(m[1]), `"“”`)
		if term != "" {
			return term, true
		}
	}
	return "", false
}

func marketIntent(t string, id int64) Intent {
	in := Intent{Kind: KindMarket, MarketID: id, Focus: FocusDetails, Outcome: -1}
	switch {
	case strings.Contains(t, "price") || strings.Contains(t, "odds") || reOutcome.MatchString(t):
		in.Focus = FocusPrice
		if m := reOutcome.FindStringSubmatch(t); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				in.Outcome = n
			}
		}
	case strings.Contains(t, "volume") || strings.Contains(t, "open interest"):
		in.Focus = FocusVolume
	}
	return in
}

// limitIn reads "top N", "latest N", or a leading "N ...".
func limitIn(t string) int {
	if m := reTopN.FindStringSubmatch(t); m != nil {
		return atoi(m[1], DefaultLimit)
	}
	if m := reLeadingN.FindStringSubmatch(t); m != nil {
		return atoi(m[1], DefaultLimit)
	}
	return DefaultLimit
}

func firstInt(re *regexp.Regexp, t string, def int) int {
	if m := re.FindStringSubmatch(t); m != nil {
		return atoi(m[1], def)
	}
	return def
}

func atoi(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func clamp(n, lo, hi int) int {
	return max(lo, min(n, hi))
}
