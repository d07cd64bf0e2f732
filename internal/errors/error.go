package errors

import (
	"bufio"
	"errors"
	"fmt"
	"os"
)

// Category represents the type of error.
type Category string

const (
	CategoryConfig    Category = "config"
	CategoryProtocol  Category = "protocol"
	CategoryTransport Category = "transport"
	CategoryCLI       Category = "cli"
)

// Location points into a configuration file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	if l.Line > 0 {
		return fmt.Sprintf("%s:%d", l.File, l.Line)
	}
	return l.File
}

// TengiError is a coded error with an optional config file location and a
// fix suggestion.
type TengiError struct {
	// Code is a unique error identifier (e.g., "T101").
	Code string

	// Category is the error type (config, protocol, etc.).
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the config file position the error refers to.
	Location *Location

	// Context contains the surrounding file lines, starting at line
	// ContextStart.
	Context      []string
	ContextStart int

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *TengiError) Error() string {
	msg := e.Message
	if e.Detail != "" && e.Wrapped == nil {
		msg += ": " + e.Detail
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	if e.Code != "" {
		return e.Code + ": " + msg
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *TengiError) Unwrap() error {
	return e.Wrapped
}

// WithLocation points the error at file:line:column and captures the
// surrounding lines.
func (e *TengiError) WithLocation(file string, line, column int) *TengiError {
	e.Location = &Location{File: file, Line: line, Column: column}
	if line > 0 {
		e.ContextStart, e.Context = readContextLines(file, line, 5)
	}
	return e
}

// WithContext sets the file lines shown around the location; start is the
// line number of lines[0].
func (e *TengiError) WithContext(start int, lines []string) *TengiError {
	e.ContextStart = start
	e.Context = lines
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *TengiError) WithSuggestion(s string) *TengiError {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *TengiError) WithDetail(d string) *TengiError {
	e.Detail = d
	return e
}

// WithDetailf adds a formatted explanation to the error.
func (e *TengiError) WithDetailf(format string, args ...any) *TengiError {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

// Wrap wraps another error.
func (e *TengiError) Wrap(err error) *TengiError {
	e.Wrapped = err
	return e
}

// readContextLines reads lines around the specified line number from a file
// and returns the number of the first one.
func readContextLines(filename string, targetLine, contextSize int) (int, []string) {
	file, err := os.Open(filename)
	if err != nil {
		return 0, nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := max(targetLine-contextSize/2, 1)
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}

	return startLine, lines
}

// New creates a TengiError from a registered error code.
func New(code string) *TengiError {
	template, ok := registry[code]
	if !ok {
		return &TengiError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &TengiError{
		Code:       code,
		Category:   template.Category,
		Message:    template.Message,
		Detail:     template.Detail,
		Suggestion: template.Suggestion,
	}
}

// Newf creates a new TengiError with a formatted message (no code).
func Newf(category Category, format string, args ...any) *TengiError {
	return &TengiError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in a TengiError with the given code, unless it
// already is one.
func FromError(err error, code string) *TengiError {
	if err == nil {
		return nil
	}
	var te *TengiError
	if errors.As(err, &te) {
		return te
	}
	return New(code).Wrap(err)
}

// Code returns the code of the first TengiError in err's chain, or "".
func Code(err error) string {
	var te *TengiError
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
