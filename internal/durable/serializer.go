package durable

import (
	"encoding/json"
)

// Serializer converts task payloads to and from the bytes kept in the task store.
type Serializer interface {
	Marshal(payload any) ([]byte, error)
	Unmarshal(data []byte) (any, error)
}

// JSONSerializer stores payloads as JSON. Byte slices are stored as they
// are. Loaded payloads are returned as json.RawMessage for the handler to
// decode, or as plain bytes when they are not JSON.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case json.RawMessage:
		return p, nil
	case []byte:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}

func (JSONSerializer) Unmarshal(data []byte) (any, error) {
	if json.Valid(data) {
		return json.RawMessage(data), nil
	}
	return data, nil
}
