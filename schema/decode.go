package schema

import (
	"github.com/mitchellh/mapstructure"

	"github.com/koretto/koretto/korerr"
)

// Decode maps a generically-decoded payload (map[string]any, the shape a
// Format hands back from the wire) into a typed Go value. This is the
// bridge spec.md's Design Notes call for: "the handler signature is
// (ctx, decodedInput) → output; encode/decode is schema-driven" — Format
// produces the generic shape, Decode gives the handler its concrete type.
func Decode[T any](payload any) (T, error) {
	var out T
	cfg := &mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
		TagName:          "json",
	}
	dec, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return out, korerr.Wrap(korerr.InvalidPayload, "building decoder", err)
	}
	if err := dec.Decode(payload); err != nil {
		return out, korerr.Wrap(korerr.InvalidPayload, "decoding payload", err)
	}
	return out, nil
}
