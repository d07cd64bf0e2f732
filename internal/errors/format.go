package errors

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Style selects how Render prints an error.
type Style string

const (
	// StyleText is the multi-line report with ANSI colors.
	StyleText Style = "text"

	// StylePlain is StyleText without colors.
	StylePlain Style = "plain"

	// StyleCompact prints one location: code: message line.
	StyleCompact Style = "compact"

	// StyleJSON prints one JSON object per error.
	StyleJSON Style = "json"
)

// ParseStyle returns the Style named s, ignoring case.
func ParseStyle(s string) (Style, error) {
	switch st := Style(strings.ToLower(strings.TrimSpace(s))); st {
	case StyleText, StylePlain, StyleCompact, StyleJSON:
		return st, nil
	}
	return "", Newf(CategoryCLI, "Unknown error format %q", s).
		WithSuggestion("Use text, plain, compact or json.")
}

const (
	ansiReset = "\033[0m"
	ansiBold  = "\033[1m"
	ansiRed   = "\033[31m"
	ansiCyan  = "\033[36m"
	ansiWhite = "\033[37m"
	ansiGray  = "\033[90m"
)

// painter wraps text in ANSI codes when true.
type painter bool

func (p painter) paint(text string, codes ...string) string {
	if !p || len(codes) == 0 {
		return text
	}
	return strings.Join(codes, "") + text + ansiReset
}

// Format returns the colored terminal report for e.
func (e *TengiError) Format() string {
	return e.report(true)
}

func (e *TengiError) report(color painter) string {
	var b strings.Builder

	b.WriteString("\n")
	if e.Code != "" {
		b.WriteString(color.paint("ERROR ", ansiBold, ansiRed))
		b.WriteString(color.paint(e.Code+": ", ansiBold, ansiWhite))
	} else {
		b.WriteString(color.paint("ERROR: ", ansiBold, ansiRed))
	}
	b.WriteString(color.paint(e.Message, ansiWhite))
	b.WriteString("\n\n")

	if e.Location != nil {
		fmt.Fprintf(&b, "  %s\n\n", color.paint(e.Location.String(), ansiCyan))
		if len(e.Context) > 0 {
			e.writeSource(&b, color)
			b.WriteString("\n")
		}
	}

	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  %s\n\n", color.paint(e.Wrapped.Error(), ansiGray))
	}

	if lines := wrapText(e.Detail, 70); len(lines) > 0 {
		for _, line := range lines {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		b.WriteString("\n")
	}

	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", color.paint("Hint: ", ansiCyan), e.Suggestion)
	}

	return b.String()
}

// writeSource prints the context lines behind a line-number gutter and
// marks the location's line and column.
func (e *TengiError) writeSource(b *strings.Builder, color painter) {
	first := e.ContextStart
	if first <= 0 {
		first = e.Location.Line - len(e.Context)/2
	}
	bar := color.paint(" │ ", ansiGray)
	for i, text := range e.Context {
		n := first + i
		if n != e.Location.Line {
			fmt.Fprintf(b, "    %4d%s%s\n", n, bar, text)
			continue
		}
		fmt.Fprintf(b, "  %s%4d%s%s\n", color.paint("→ ", ansiRed), n, bar, text)
		if e.Location.Column > 0 {
			fmt.Fprintf(b, "       %s%s%s\n",
				color.paint("│ ", ansiGray),
				strings.Repeat(" ", e.Location.Column-1),
				color.paint("^", ansiRed))
		}
	}
}

// FormatCompact returns e on a single line.
func (e *TengiError) FormatCompact() string {
	parts := make([]string, 0, 4)
	if loc := e.Location.String(); loc != "" {
		parts = append(parts, loc)
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	parts = append(parts, e.Message)
	if e.Wrapped != nil {
		parts = append(parts, e.Wrapped.Error())
	}
	return strings.Join(parts, ": ")
}

type jsonError struct {
	Code       string    `json:"code,omitempty"`
	Category   Category  `json:"category,omitempty"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Suggestion string    `json:"suggestion,omitempty"`
	Cause      string    `json:"cause,omitempty"`
}

// MarshalJSON encodes e with its cause flattened to a string.
func (e *TengiError) MarshalJSON() ([]byte, error) {
	out := jsonError{
		Code:       e.Code,
		Category:   e.Category,
		Message:    e.Message,
		Detail:     e.Detail,
		Location:   e.Location,
		Suggestion: e.Suggestion,
	}
	if e.Wrapped != nil {
		out.Cause = e.Wrapped.Error()
	}
	return json.Marshal(out)
}

// FormatJSON returns e as a single JSON object.
func (e *TengiError) FormatJSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return `{"message":"unencodable error"}`
	}
	return string(data)
}

// wrapText splits text into lines of at most width bytes at word
// boundaries. A single word longer than width gets its own line.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	lines := []string{words[0]}
	for _, word := range words[1:] {
		last := &lines[len(lines)-1]
		if len(*last)+1+len(word) > width {
			lines = append(lines, word)
			continue
		}
		*last += " " + word
	}
	return lines
}

// PrintError writes err to w as a colored report.
func PrintError(w io.Writer, err error) {
	Render(w, err, StyleText)
}

// Render writes err to w in the given style. Errors that do not classify
// to a code are shown by their message alone.
func Render(w io.Writer, err error, style Style) {
	if err == nil {
		return
	}
	te := lookup(err)
	if te == nil {
		te = &TengiError{Message: err.Error()}
	}
	switch style {
	case StyleJSON:
		fmt.Fprintln(w, te.FormatJSON())
	case StyleCompact:
		fmt.Fprintln(w, te.FormatCompact())
	case StylePlain:
		fmt.Fprint(w, te.report(false))
	default:
		fmt.Fprint(w, te.report(true))
	}
}
