package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/xomarket-expert/internal/domain"
	"github.com/alanyoungcy/xomarket-expert/internal/intent"
	"github.com/alanyoungcy/xomarket-expert/internal/market"
)

// maxMessageLen stays under Telegram's 4096 character limit.
const maxMessageLen = 4000

// formatAnswer renders ans as a MarkdownV2 message.
func formatAnswer(ans intent.Answer, now time.Time) string {
	in := ans.Intent
	switch {
	case ans.Market != nil:
		return formatMarket(*ans.Market, in.Focus, in.Outcome, now)
	case ans.Connection != nil:
		return formatConnection(*ans.Connection)
	case in.Kind == intent.KindSearch:
		return formatMatches(in.Term, ans.Matches)
	default:
		return formatList(listHeading(in), ans.Markets, now)
	}
}

func listHeading(in intent.Intent) string {
	switch in.Kind {
	case intent.KindClosingSoon:
		return fmt.Sprintf("⏰ Markets closing in the next %d hours", in.Hours)
	case intent.KindHighVolume:
		return fmt.Sprintf("📊 Top %d markets by volume", in.Limit)
	case intent.KindNewlyCreated:
		return fmt.Sprintf("🆕 Markets created in the last %d days", in.Days)
	case intent.KindActive:
		return "🟢 Active markets"
	case intent.KindByStatus:
		return fmt.Sprintf("Markets: %s", in.Status)
	}
	return "Markets"
}

func formatMarket(m domain.Market, focus intent.Focus, outcome int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n", escapeMarkdownV2(m.Metadata.Title))
	fmt.Fprintf(&b, "Market %s · %s\n", escapeMarkdownV2(fmt.Sprintf("#%d", m.ID)), escapeMarkdownV2(string(m.Status)))

	switch focus {
	case intent.FocusPrice:
		if outcome >= 0 {
			if outcome >= len(m.CurrentPrices) {
				return escapeMarkdownV2(fmt.Sprintf("Market #%d has no outcome %d (it has %d).", m.ID, outcome, len(m.CurrentPrices)))
			}
			fmt.Fprintf(&b, "%s: *%s*\n", escapeMarkdownV2(m.OutcomeName(outcome)), escapeMarkdownV2(m.CurrentPrices[outcome]))
			return b.String()
		}
		writePrices(&b, m)
	case intent.FocusVolume:
		fmt.Fprintf(&b, "Volume: *%s*\n", escapeMarkdownV2(m.Volume.StringFixed(2)))
		fmt.Fprintf(&b, "Collateral: %s\n", escapeMarkdownV2(m.CollateralAmount.StringFixed(2)))
	default:
		if m.Metadata.Description != "" {
			fmt.Fprintf(&b, "_%s_\n", escapeMarkdownV2(truncate(m.Metadata.Description, 300)))
		}
		writePrices(&b, m)
		fmt.Fprintf(&b, "Volume: %s\n", escapeMarkdownV2(m.Volume.StringFixed(2)))
		fmt.Fprintf(&b, "Fee: %s\n", escapeMarkdownV2(fmt.Sprintf("%.2f%%", float64(m.CreatorFeeBps)/100)))
		b.WriteString(closesLine(m, now))
		if m.WinningOutcome != nil {
			fmt.Fprintf(&b, "🏆 Winner: *%s*\n", escapeMarkdownV2(m.OutcomeName(*m.WinningOutcome)))
		}
	}
	return b.String()
}

func writePrices(b *strings.Builder, m domain.Market) {
	for i, p := range m.CurrentPrices {
		fmt.Fprintf(b, "  %s: %s\n", escapeMarkdownV2(m.OutcomeName(i)), escapeMarkdownV2(p))
	}
}

func closesLine(m domain.Market, now time.Time) string {
	at := escapeMarkdownV2(m.ExpiresAt.UTC().Format("2006-01-02 15:04 UTC"))
	if m.TimeToClose > 0 {
		return fmt.Sprintf("Closes: %s \\(in %s\\)\n", at, escapeMarkdownV2(humanDuration(m.TimeToClose)))
	}
	if now.After(m.ExpiresAt) {
		return fmt.Sprintf("Closed: %s\n", at)
	}
	return fmt.Sprintf("Closes: %s\n", at)
}

func formatList(heading string, ms []domain.Market, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", escapeMarkdownV2(heading))
	if len(ms) == 0 {
		b.WriteString("No markets found\\.")
		return b.String()
	}
	for i, m := range ms {
		fmt.Fprintf(&b, "%d\\. *%s* %s\n", i+1,
			escapeMarkdownV2(m.Metadata.Title), escapeMarkdownV2(fmt.Sprintf("(#%d)", m.ID)))
		line := fmt.Sprintf("%s · vol %s", m.Status, m.Volume.StringFixed(2))
		if m.TimeToClose > 0 {
			line += " · closes in " + humanDuration(m.TimeToClose)
		} else if now.Before(m.ExpiresAt) {
			line += " · closes " + m.ExpiresAt.UTC().Format("2006-01-02")
		}
		fmt.Fprintf(&b, "   %s\n", escapeMarkdownV2(line))
	}
	return b.String()
}

func formatMatches(term string, matches []market.Match) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", escapeMarkdownV2(fmt.Sprintf("🔍 Results for \"%s\"", term)))
	if len(matches) == 0 {
		b.WriteString("No matching markets\\.")
		return b.String()
	}
	for i, mt := range matches {
		fmt.Fprintf(&b, "%d\\. *%s* %s\n", i+1,
			escapeMarkdownV2(mt.Market.Metadata.Title),
			escapeMarkdownV2(fmt.Sprintf("(#%d, %s, score %.0f)", mt.Market.ID, mt.Market.Status, mt.Score)))
	}
	return b.String()
}

func formatConnection(cs domain.ConnectionStatus) string {
	if !cs.Connected {
		return "🔴 *Ledger unreachable*"
	}
	return fmt.Sprintf("🟢 *Ledger connected*\nKnown markets: %d", cs.KnownMarkets)
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4)
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// humanDuration renders d as "3d 4h", "5h 10m", or "12m".
func humanDuration(d time.Duration) string {
	d = d.Round(time.Minute)
	days := int(d / (24 * time.Hour))
	hours := int(d % (24 * time.Hour) / time.Hour)
	mins := int(d % time.Hour / time.Minute)
	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, mins)
	default:
		return fmt.Sprintf("%dm", mins)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// splitMessage breaks text into chunks of at most limit bytes on line
// boundaries so escapes are never split.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}
	var (
		chunks []string
		cur    strings.Builder
	)
	for _, line := range strings.SplitAfter(text, "\n") {
		if cur.Len()+len(line) > limit && cur.Len() > 0 {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}
