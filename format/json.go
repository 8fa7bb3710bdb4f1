package format

import (
	jsoniter "github.com/json-iterator/go"
)

var compatJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSON is the built-in Format, backed by json-iterator's
// standard-library-compatible configuration rather than encoding/json
// directly — a drop-in faster codec, grounded on the RPC-shaped repos in
// the corpus (gravitational-teleport, giantswarm-muster) that make the
// same substitution.
type JSON struct{}

func (JSON) ContentType() string { return "application/json" }

func (JSON) Supports(contentType string) bool {
	return contentType == "" || contentType == "application/json" || contentType == "json"
}

func (JSON) Encode(value any) ([]byte, error) {
	return compatJSON.Marshal(value)
}

func (JSON) Decode(data []byte) (any, error) {
	var v any
	if err := compatJSON.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
