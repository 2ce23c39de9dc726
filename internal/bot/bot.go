// Package bot serves the query engine as a Telegram command bot.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/intent"
)

// Config holds bot settings.
type Config struct {
	Token string
	// AllowedChats restricts the bot to these chat ids. Empty allows all.
	AllowedChats []int64
	QueryTimeout time.Duration
	// Workers bounds concurrently handled updates.
	Workers int
}

// sender is the part of *tgbotapi.BotAPI used to reply.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Bot answers market questions in Telegram chats.
type Bot struct {
	api     *tgbotapi.BotAPI
	sender  sender
	engine  intent.Engine
	allowed map[int64]bool
	cfg     Config
	now     func() time.Time
	logger  *slog.Logger
}

// New connects to the Telegram Bot API with cfg.Token.
func New(cfg Config, engine intent.Engine, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: connect: %w", err)
	}
	b := newBot(api, engine, cfg, logger)
	b.api = api
	b.logger.Info("telegram bot authorized", slog.String("username", api.Self.UserName))
	return b, nil
}

func newBot(s sender, engine intent.Engine, cfg Config, logger *slog.Logger) *Bot {
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 60 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	allowed := make(map[int64]bool, len(cfg.AllowedChats))
	for _, id := range cfg.AllowedChats {
		allowed[id] = true
	}
	return &Bot{
		sender:  s,
		engine:  engine,
		allowed: allowed,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(slog.String("component", "bot")),
	}
}

// Run long-polls for updates until ctx is cancelled.
func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)
	defer b.api.StopReceivingUpdates()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.cfg.Workers)

	for {
		select {
		case <-gctx.Done():
			_ = g.Wait()
			return nil
		case update, ok := <-updates:
			if !ok {
				return g.Wait()
			}
			if update.Message == nil {
				continue
			}
			msg := update.Message
			g.Go(func() error {
				b.handle(gctx, msg)
				return nil
			})
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg *tgbotapi.Message) {
	if len(b.allowed) > 0 && !b.allowed[msg.Chat.ID] {
		b.logger.DebugContext(ctx, "ignoring chat", slog.Int64("chat_id", msg.Chat.ID))
		return
	}

	ctx, cancel := context.WithTimeout(ctx, b.cfg.QueryTimeout)
	defer cancel()

	var text string
	if msg.IsCommand() {
		text = b.respond(ctx, msg.Command(), msg.CommandArguments())
	} else {
		text = b.respond(ctx, "", msg.Text)
	}
	b.reply(ctx, msg.Chat.ID, msg.MessageID, text)
}

func (b *Bot) reply(ctx context.Context, chatID int64, replyTo int, text string) {
	for _, chunk := range splitMessage(text, maxMessageLen) {
		out := tgbotapi.NewMessage(chatID, chunk)
		out.ParseMode = tgbotapi.ModeMarkdownV2
		out.ReplyToMessageID = replyTo
		if _, err := b.sender.Send(out); err != nil {
			b.logger.WarnContext(ctx, "send reply failed",
				slog.Int64("chat_id", chatID),
				slog.String("error", err.Error()),
			)
			return
		}
	}
}

// respond builds the MarkdownV2 reply to a command, or to free text when
// command is empty.
func (b *Bot) respond(ctx context.Context, command, args string) string {
	args = strings.TrimSpace(args)

	var (
		in  intent.Intent
		err error
	)
	switch command {
	case "":
		in = intent.Parse(args)
		if in.Kind == intent.KindUnknown {
			return escapeMarkdownV2("I can answer questions about live markets. Try /help.")
		}
	case "start", "help":
		return helpText
	case "market":
		in, err = marketIntent(args, intent.FocusDetails)
	case "price":
		in, err = marketIntent(args, intent.FocusPrice)
	case "volume":
		in, err = marketIntent(args, intent.FocusVolume)
	case "search":
		if args == "" {
			return usage("/search <terms>")
		}
		in = intent.Intent{Kind: intent.KindSearch, Term: args}
	case "closing":
		var hours int
		hours, err = optionalInt(args, intent.DefaultHours, 1, intent.MaxHours)
		in = intent.Intent{Kind: intent.KindClosingSoon, Hours: hours}
	case "top":
		var n int
		n, err = optionalInt(args, intent.DefaultLimit, 1, intent.MaxLimit)
		in = intent.Intent{Kind: intent.KindHighVolume, Limit: n}
	case "new":
		var days int
		days, err = optionalInt(args, intent.DefaultDays, 1, intent.MaxDays)
		in = intent.Intent{Kind: intent.KindNewlyCreated, Days: days, Limit: intent.MaxLimit}
	case "active":
		var n int
		n, err = optionalInt(args, intent.DefaultLimit, 1, intent.MaxLimit)
		in = intent.Intent{Kind: intent.KindActive, Limit: n}
	case "status":
		in = intent.Intent{Kind: intent.KindConnection}
	default:
		return escapeMarkdownV2("Unknown command /" + command + ". Try /help.")
	}
	if err != nil {
		return escapeMarkdownV2(err.Error())
	}

	start := time.Now()
	ans, err := intent.Execute(ctx, b.engine, in)
	b.logger.InfoContext(ctx, "bot query",
		slog.String("kind", string(in.Kind)),
		slog.Duration("elapsed", time.Since(start)),
	)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return escapeMarkdownV2(fmt.Sprintf("Market #%d was not found.", in.MarketID))
	case errors.Is(err, domain.ErrInvalidMarketID):
		return escapeMarkdownV2("Market id must be a positive integer.")
	case errors.Is(err, domain.ErrInvalidQuery):
		return escapeMarkdownV2("Please give me something to search for.")
	case err != nil:
		b.logger.WarnContext(ctx, "bot query failed", slog.String("error", err.Error()))
		return escapeMarkdownV2("Something went wrong fetching live data. Please try again.")
	}
	return formatAnswer(ans, b.now())
}

// marketIntent parses "<id> [outcome]".
func marketIntent(args string, focus intent.Focus) (intent.Intent, error) {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return intent.Intent{}, replyError(usageLine(focus))
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(fields[0], "#"), 10, 64)
	if err != nil || id <= 0 {
		return intent.Intent{}, replyError("Market id must be a positive integer.")
	}
	in := intent.Intent{Kind: intent.KindMarket, MarketID: id, Focus: focus, Outcome: -1}
	if focus == intent.FocusPrice && len(fields) > 1 {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n < 0 {
			return intent.Intent{}, replyError("Outcome must be a non-negative integer.")
		}
		in.Outcome = n
	}
	return in, nil
}

func usageLine(focus intent.Focus) string {
	switch focus {
	case intent.FocusPrice:
		return "Usage: /price <id> [outcome]"
	case intent.FocusVolume:
		return "Usage: /volume <id>"
	}
	return "Usage: /market <id>"
}

// optionalInt parses an optional integer argument within [lo, hi].
func optionalInt(args string, def, lo, hi int) (int, error) {
	if args == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.Fields(args)[0])
	if err != nil || n < lo || n > hi {
		return 0, replyError(fmt.Sprintf("Please give a number between %d and %d.", lo, hi))
	}
	return n, nil
}

// replyError is an argument problem reported back to the user verbatim.
type replyError string

func (e replyError) Error() string { return string(e) }

func usage(line string) string {
	return escapeMarkdownV2("Usage: " + line)
}

var helpText = escapeMarkdownV2(strings.Join([]string{
	"XO Market live data",
	"",
	"/market <id> - market details",
	"/price <id> [outcome] - current prices",
	"/volume <id> - trading volume",
	"/search <terms> - find markets",
	"/closing [hours] - closing soon (1-168, default 24)",
	"/top [n] - top markets by volume (1-25, default 10)",
	"/new [days] - newly created markets (default 7)",
	"/active [n] - active markets",
	"/status - ledger connection",
	"",
	"You can also ask in plain words, e.g. \"top 5 markets by volume\".",
}, "\n"))
