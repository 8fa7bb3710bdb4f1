// Package korerr implements the closed error taxonomy every component in
// koretto maps its failures onto before they cross a process or a wire
// boundary.
package korerr

import "fmt"

// Kind is the closed set of error categories a koretto component can raise.
type Kind string

const (
	NotFound        Kind = "NotFound"
	ValidationError Kind = "ValidationError"
	InvalidPayload  Kind = "InvalidPayload"
	Forbidden       Kind = "Forbidden"
	Timeout         Kind = "Timeout"
	TaskTimeout     Kind = "TaskTimeout"
	TaskWorkerLost  Kind = "TaskWorkerLost"
	StreamAborted   Kind = "StreamAborted"
	InvalidState    Kind = "InvalidState"
	ScopeMismatch   Kind = "ScopeMismatch"
	DuplicateName   Kind = "DuplicateName"
	Internal        Kind = "Internal"
)

// surfaced records which kinds are allowed to reach a client, per spec §7.
var surfaced = map[Kind]bool{
	NotFound:        true,
	ValidationError: true,
	InvalidPayload:  true,
	Forbidden:       true,
	Timeout:         true,
	TaskTimeout:     true,
	TaskWorkerLost:  true,
	StreamAborted:   true,
	Internal:        true,
}

// Surfaced reports whether errors of this kind are allowed to reach a client.
func Surfaced(k Kind) bool {
	return surfaced[k]
}

// FieldDetail describes one schema validation failure.
type FieldDetail struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the single error type every koretto component returns. It carries
// the wire-visible shape from spec.md §6 ({code, message, data}) plus a
// Cause for %w-style unwrapping.
type Error struct {
	Kind    Kind
	Text    string
	Data    any
	Fields  []FieldDetail
	Cause   error
}

func (e *Error) Error() string {
	if e.Text == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Text)
}

func (e *Error) Unwrap() error { return e.Cause }

// Message is the wire "message" field: the code concatenated with any human
// text, per spec.md §6.
func (e *Error) Message() string {
	if e.Text == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Text
}

// New builds an Error of the given kind.
func New(kind Kind, text string) *Error {
	return &Error{Kind: kind, Text: text}
}

// Wrap builds an Error of the given kind around a lower-level cause.
func Wrap(kind Kind, text string, cause error) *Error {
	return &Error{Kind: kind, Text: text, Cause: cause}
}

// WithData attaches format-defined wire data to the error.
func (e *Error) WithData(data any) *Error {
	e.Data = data
	return e
}

// WithFields attaches per-field validation details.
func (e *Error) WithFields(fields []FieldDetail) *Error {
	e.Fields = fields
	return e
}

// Sanitized returns a copy suitable for surfacing to a client: Internal
// errors have their cause-derived text stripped per spec.md §7
// ("message sanitized"), everything else passes through unchanged.
func (e *Error) Sanitized() *Error {
	if e.Kind != Internal {
		return e
	}
	return &Error{Kind: Internal, Text: "internal error"}
}

// As reports whether err is (or wraps) a *Error and, if so, returns it.
func As(err error) (*Error, bool) {
	var target *Error
	if err == nil {
		return nil, false
	}
	if e, ok := err.(*Error); ok {
		return e, true
	}
	if u, ok := err.(interface{ Unwrap() error }); ok {
		return As(u.Unwrap())
	}
	return target, false
}

// Classify maps an arbitrary error into the taxonomy: a *Error passes
// through, anything else becomes Internal per the propagation policy in
// spec.md §7.
func Classify(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	return Wrap(Internal, err.Error(), err)
}
