// Package format implements the Format interface from spec.md §6
// (encode/decode/supports by content-type) and the selector that picks the
// first supporting format for a connection's content-type (spec.md §4.3
// Format Selector).
package format

import (
	"github.com/koretto/koretto/korerr"
)

// Format encodes and decodes values for a given content-type.
type Format interface {
	// ContentType is the canonical content-type this format registers
	// itself under (also accepted by Supports).
	ContentType() string
	Supports(contentType string) bool
	Encode(value any) ([]byte, error)
	Decode(data []byte) (any, error)
}

// Selector chooses the first Format whose Supports returns true for a
// given content-type, in registration order.
type Selector struct {
	formats []Format
}

// NewSelector builds a selector over the given formats, tried in order.
func NewSelector(formats ...Format) *Selector {
	return &Selector{formats: formats}
}

// Select returns the first format supporting contentType.
func (s *Selector) Select(contentType string) (Format, error) {
	for _, f := range s.formats {
		if f.Supports(contentType) {
			return f, nil
		}
	}
	return nil, korerr.New(korerr.InvalidPayload, "unsupported content-type: "+contentType)
}

// Encode selects a format for contentType and encodes value.
func (s *Selector) Encode(contentType string, value any) ([]byte, error) {
	f, err := s.Select(contentType)
	if err != nil {
		return nil, err
	}
	b, err := f.Encode(value)
	if err != nil {
		return nil, korerr.Wrap(korerr.InvalidPayload, "encoding response", err)
	}
	return b, nil
}

// Decode selects a format for contentType and decodes data.
func (s *Selector) Decode(contentType string, data []byte) (any, error) {
	f, err := s.Select(contentType)
	if err != nil {
		return nil, err
	}
	v, err := f.Decode(data)
	if err != nil {
		return nil, korerr.Wrap(korerr.InvalidPayload, "decoding payload", err)
	}
	return v, nil
}
