package transcript

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"chatsave/internal/store"
)

type Options struct {
	// MaxContent truncates message bodies longer than this many bytes.
	// Zero keeps them whole.
	MaxContent int
	// Location for printed times. Nil means time.Local.
	Location *time.Location
}

// Render formats a session header followed by its messages.
func Render(sess store.Session, messages []store.Message, opts Options) string {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("# %s\n", sess.Title))
	sb.WriteString(fmt.Sprintf("Category: %s\n", sess.Category.DisplayName()))
	sb.WriteString(fmt.Sprintf("Date:     %s\n", sess.Date.In(loc).Format("2006-01-02 15:04")))
	if sess.Summary != "" {
		sb.WriteString(fmt.Sprintf("Summary:  %s\n", sess.Summary))
	}
	sb.WriteString("\n")

	if len(messages) == 0 {
		sb.WriteString("(no messages)\n")
		return sb.String()
	}

	for _, m := range messages {
		sb.WriteString(FormatMessage(m, opts.MaxContent, loc))
		sb.WriteString("\n")
	}
	return sb.String()
}

// FormatMessage renders one timeline line, e.g. "[14:05] You: hello".
func FormatMessage(m store.Message, maxContent int, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	who := "Bot"
	if m.IsFromUser {
		who = "You"
	}
	return fmt.Sprintf("[%s] %s: %s", m.Timestamp.In(loc).Format("15:04"), who, Truncate(m.Content, maxContent))
}

// EstimateTokens approximates prompt size at ~4 characters per token.
func EstimateTokens(text string) int {
	return int(float64(len(text)) / 4.0)
}

// Truncate cuts s to at most max bytes and appends "...". The cut backs up
// to a rune boundary so the result stays valid UTF-8.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
