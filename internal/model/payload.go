package model

import "encoding/json"

// PayloadTextKey is the one field every source payload must carry.
const PayloadTextKey = "text"

// Payload is a structured source or translation payload. Beyond the required
// "text" field all keys are pass-through metadata and are preserved verbatim
// when the text is replaced by a translation.
type Payload map[string]any

// TextPayload wraps a plain string as the minimal structured payload.
func TextPayload(text string) Payload {
	return Payload{PayloadTextKey: text}
}

// Text returns the payload's text field, or "" if absent or not a string.
func (p Payload) Text() string {
	s, _ := p[PayloadTextKey].(string)
	return s
}

// WithText returns a copy of p with the text field replaced. Non-text fields
// are carried over untouched.
func (p Payload) WithText(text string) Payload {
	out := make(Payload, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	out[PayloadTextKey] = text
	return out
}

// Clone returns a shallow copy of p. A nil payload stays nil.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// MarshalJSONString encodes p as a JSON object string for storage.
func (p Payload) MarshalJSONString() (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ParsePayload decodes a stored JSON object string. Empty input yields nil.
func ParsePayload(s string) (Payload, error) {
	if s == "" {
		return nil, nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(s), &p); err != nil {
		return nil, err
	}
	return p, nil
}
