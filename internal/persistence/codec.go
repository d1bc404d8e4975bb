package persistence

import (
	"bytes"
	"encoding/gob"

	"github.com/weftlabs/weft/pkg/api"
)

func init() {
	// State values travel as interface{}; gob needs the concrete types that
	// appear in graph states registered up front.
	gob.Register([]string{})
	gob.Register([]any{})
	gob.Register(map[string]any{})
	gob.Register(map[string]string{})
	gob.Register(api.Document{})
	gob.Register([]api.Document{})
	gob.Register(api.Verdict{})
}

// EncodeState serializes a state snapshot using encoding/gob. Callers must
// ensure that all field values are gob-encodable; custom value types can be
// registered with gob.Register before the first run.
func EncodeState(s api.State) ([]byte, error) {
	if s == nil {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(map[string]any(s)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeState is the inverse of EncodeState. Empty input decodes to nil.
func DecodeState(data []byte) (api.State, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&m); err != nil {
		return nil, err
	}
	return api.State(m), nil
}
