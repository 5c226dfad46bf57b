package envelope

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind identifies which variant of the envelope is populated.
type Kind string

const (
	KindJSON   Kind = "json"
	KindText   Kind = "text"
	KindBinary Kind = "binary"
	KindEmpty  Kind = "empty"
)

// Envelope is the typed data payload passed between pipeline stages, paired with
// an attached schema. Exactly one of the payload fields is meaningful, selected
// by Kind.
type Envelope struct {
	Kind   Kind
	JSON   any
	Text   string
	Binary []byte
	Schema Schema
}

// Empty returns the zero envelope: Kind Empty, no schema.
func Empty() Envelope {
	return Envelope{Kind: KindEmpty, Schema: NewSchema()}
}

// FromJSON wraps a decoded JSON value, inferring a schema from its top level.
func FromJSON(value any) Envelope {
	return Envelope{Kind: KindJSON, JSON: value, Schema: InferSchema(value)}
}

// FromText wraps a plain string payload.
func FromText(text string) Envelope {
	return Envelope{Kind: KindText, Text: text, Schema: NewSchema()}
}

// FromBinary wraps a raw byte payload.
func FromBinary(data []byte) Envelope {
	return Envelope{Kind: KindBinary, Binary: data, Schema: NewSchema()}
}

// IsBatch reports whether the envelope carries a JSON array of length > 1.
func (e Envelope) IsBatch() bool {
	if e.Kind != KindJSON {
		return false
	}
	arr, ok := e.JSON.([]any)
	return ok && len(arr) > 1
}

// BatchSize returns the element count if the envelope is a JSON array, else 1
// for any non-empty payload and 0 for Empty.
func (e Envelope) BatchSize() int {
	switch e.Kind {
	case KindEmpty:
		return 0
	case KindJSON:
		if arr, ok := e.JSON.([]any); ok {
			return len(arr)
		}
		return 1
	default:
		return 1
	}
}

// AsArray coerces the envelope into a JSON array: an existing array is returned
// unchanged, any other JSON value is wrapped as a one-element array.
func (e Envelope) AsArray() ([]any, error) {
	if e.Kind != KindJSON {
		return nil, fmt.Errorf("envelope: cannot coerce kind %q to array", e.Kind)
	}
	if arr, ok := e.JSON.([]any); ok {
		return arr, nil
	}
	return []any{e.JSON}, nil
}

// EstimatedMemoryUsage returns a rough byte-size estimate of the payload, used
// to enforce stage processing limits.
func (e Envelope) EstimatedMemoryUsage() int {
	switch e.Kind {
	case KindEmpty:
		return 0
	case KindText:
		return len(e.Text)
	case KindBinary:
		return len(e.Binary)
	case KindJSON:
		b, err := json.Marshal(e.JSON)
		if err != nil {
			return 0
		}
		return len(b)
	default:
		return 0
	}
}

// ToText converts the envelope's payload to its string form. JSON is rendered
// pretty-printed; Binary is base64-encoded; Empty yields "".
func (e Envelope) ToText() (string, error) {
	switch e.Kind {
	case KindText:
		return e.Text, nil
	case KindEmpty:
		return "", nil
	case KindBinary:
		return base64.StdEncoding.EncodeToString(e.Binary), nil
	case KindJSON:
		b, err := json.MarshalIndent(e.JSON, "", "  ")
		if err != nil {
			return "", fmt.Errorf("envelope: marshal json to text: %w", err)
		}
		return string(b), nil
	default:
		return "", fmt.Errorf("envelope: unknown kind %q", e.Kind)
	}
}

// ToBinary converts the envelope's payload to raw bytes. Text is converted by
// its UTF-8 representation; JSON is compact-marshaled; Empty yields nil.
func (e Envelope) ToBinary() ([]byte, error) {
	switch e.Kind {
	case KindBinary:
		return e.Binary, nil
	case KindText:
		return []byte(e.Text), nil
	case KindEmpty:
		return nil, nil
	case KindJSON:
		return json.Marshal(e.JSON)
	default:
		return nil, fmt.Errorf("envelope: unknown kind %q", e.Kind)
	}
}

// CanonicalYAML renders the payload as canonical YAML text, trimming trailing
// whitespace so the result splices cleanly into a larger string (see resolver).
func (e Envelope) CanonicalYAML() (string, error) {
	var node any
	switch e.Kind {
	case KindJSON:
		node = e.JSON
	case KindText:
		node = e.Text
	case KindBinary:
		node = base64.StdEncoding.EncodeToString(e.Binary)
	case KindEmpty:
		node = nil
	}
	b, err := yaml.Marshal(node)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal canonical yaml: %w", err)
	}
	return trimTrailing(string(b)), nil
}

func trimTrailing(s string) string {
	i := len(s)
	for i > 0 && (s[i-1] == '\n' || s[i-1] == '\r' || s[i-1] == ' ' || s[i-1] == '\t') {
		i--
	}
	return s[:i]
}
