package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed control message")

const (
	TypeReady        = "ready"
	TypeKeepalive    = "keepalive"
	TypeEndOfStream  = "end_of_stream"
	TypeSessionEnded = "session_ended"
	TypeComplete     = "complete"
	TypeError        = "error"
	TypeFinal        = "final"
	TypeAudio        = "audio"
)

// Message is one JSON control message. The set of implementations is closed.
type Message interface {
	Type() string
	isMessage()
}

type Ready struct {
	Message    string `json:"message,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
}

type Keepalive struct{}

type EndOfStream struct{}

type SessionEnded struct {
	Message string `json:"message,omitempty"`
}

type Complete struct {
	Message string `json:"message,omitempty"`
}

type Error struct {
	Message string `json:"message"`
}

type Final struct {
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// Audio carries PCM16LE bytes, base64 encoded on the wire.
type Audio struct {
	Data       []byte `json:"data"`
	SampleRate int    `json:"sample_rate"`
}

// TextFragment is TTS input. It has no type field on the wire.
type TextFragment struct {
	Text string `json:"text"`
}

type Unknown struct {
	Kind string
	Raw  json.RawMessage
}

func (Ready) Type() string        { return TypeReady }
func (Keepalive) Type() string    { return TypeKeepalive }
func (EndOfStream) Type() string  { return TypeEndOfStream }
func (SessionEnded) Type() string { return TypeSessionEnded }
func (Complete) Type() string     { return TypeComplete }
func (Error) Type() string        { return TypeError }
func (Final) Type() string        { return TypeFinal }
func (Audio) Type() string        { return TypeAudio }
func (TextFragment) Type() string { return "" }
func (u Unknown) Type() string    { return u.Kind }

func (Ready) isMessage()        {}
func (Keepalive) isMessage()    {}
func (EndOfStream) isMessage()  {}
func (SessionEnded) isMessage() {}
func (Complete) isMessage()     {}
func (Error) isMessage()        {}
func (Final) isMessage()        {}
func (Audio) isMessage()        {}
func (TextFragment) isMessage() {}
func (Unknown) isMessage()      {}

// Terminal reports whether m ends a session from the server side.
func Terminal(m Message) bool {
	switch m.(type) {
	case SessionEnded, Complete, Error:
		return true
	}
	return false
}

func Marshal(m Message) ([]byte, error) {
	switch v := m.(type) {
	case TextFragment:
		return json.Marshal(v)
	case Unknown:
		if len(v.Raw) > 0 {
			return v.Raw, nil
		}
		return json.Marshal(struct {
			Type string `json:"type"`
		}{v.Kind})
	case nil:
		return nil, fmt.Errorf("marshal nil message: %w", ErrMalformed)
	}

	body, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", m.Type(), err)
	}
	if string(body) == "{}" {
		return []byte(`{"type":"` + m.Type() + `"}`), nil
	}
	out := make([]byte, 0, len(body)+len(m.Type())+10)
	out = append(out, `{"type":"`...)
	out = append(out, m.Type()...)
	out = append(out, `",`...)
	out = append(out, body[1:]...)
	return out, nil
}

type envelope struct {
	Type *string `json:"type"`
	Text *string `json:"text"`
}

// Unmarshal decodes a text frame. Payloads with a text field and no type
// decode as TextFragment. Unrecognised types decode as Unknown.
func Unmarshal(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if env.Type == nil {
		if env.Text != nil {
			return TextFragment{Text: *env.Text}, nil
		}
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	}

	var (
		m   Message
		err error
	)
	switch *env.Type {
	case TypeReady:
		var v Ready
		err = json.Unmarshal(data, &v)
		m = v
	case TypeKeepalive:
		m = Keepalive{}
	case TypeEndOfStream:
		m = EndOfStream{}
	case TypeSessionEnded:
		var v SessionEnded
		err = json.Unmarshal(data, &v)
		m = v
	case TypeComplete:
		var v Complete
		err = json.Unmarshal(data, &v)
		m = v
	case TypeError:
		var v Error
		err = json.Unmarshal(data, &v)
		m = v
	case TypeFinal:
		var v Final
		err = json.Unmarshal(data, &v)
		m = v
	case TypeAudio:
		var v Audio
		err = json.Unmarshal(data, &v)
		m = v
	default:
		raw := make(json.RawMessage, len(data))
		copy(raw, data)
		m = Unknown{Kind: *env.Type, Raw: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformed, *env.Type, err)
	}
	return m, nil
}

// RemoteError is a server error message surfaced to the client.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}
