package loader

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// maxFailureMessage bounds per-strategy failure text so aggregated reports
// stay readable.
const maxFailureMessage = 50

// RegenerateHint points at the sample-artifact generator shipped with the
// tool; it is appended to every exhausted-strategies report.
const RegenerateHint = "Suggestion: regenerate the sample artifacts with: go run ./cmd/genmodel"

// FileAccessError means the artifact could not be read at all; no strategy
// was attempted.
type FileAccessError struct {
	Path string
	Err  error
}

func (e *FileAccessError) Error() string {
	return fmt.Sprintf("cannot read model artifact %s: %v", e.Path, e.Err)
}

func (e *FileAccessError) Unwrap() error { return e.Err }

// LoadError is one strategy's failure, with the message capped.
type LoadError struct {
	Strategy string
	Message  string
}

func newLoadError(strategy string, err error) LoadError {
	msg := err.Error()
	if len(msg) > maxFailureMessage {
		// Back off to a rune boundary so the cut never splits a
		// multi-byte sequence.
		cut := maxFailureMessage
		for cut > 0 && !utf8.RuneStart(msg[cut]) {
			cut--
		}
		msg = msg[:cut]
	}
	return LoadError{Strategy: strategy, Message: msg}
}

func (e LoadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Strategy, e.Message)
}

// AggregatedError reports that every available strategy failed, in attempt
// order.
type AggregatedError struct {
	Path     string
	Attempts []LoadError
}

func (e *AggregatedError) Error() string {
	var b strings.Builder
	b.WriteString("failed to load model with all strategies:\n")
	for _, a := range e.Attempts {
		b.WriteString("  ")
		b.WriteString(a.Error())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(RegenerateHint)
	return b.String()
}
