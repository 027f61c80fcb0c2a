package eventbus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrMissingType = errors.New("envelope has no type")
	ErrNotObject   = errors.New("envelope is not a JSON object")
)

// Envelope is the wire form of an event.
type Envelope struct {
	Type Channel         `json:"type"`
	Data json.RawMessage `json:"data"`

	// EventType is the legacy discriminator used by the blockchain
	// listener broadcasts ("AdminAlert", "IPQuarantined").
	EventType string `json:"event_type,omitempty"`
}

var legacyEventTypes = map[string]Channel{
	"AdminAlert":     ChannelAdminAlert,
	"IPQuarantined":  ChannelIPQuarantined,
	"IncidentLogged": ChannelIncidentLogged,
}

var decoders = map[Channel]func(json.RawMessage) (Event, error){
	ChannelSystemStatus:   decodeAs[SystemStatus],
	ChannelThreatAlert:    decodeAs[ThreatAlert],
	ChannelAdminAlert:     decodeAs[AdminAlert],
	ChannelIPQuarantined:  decodeAs[IPQuarantined],
	ChannelIncidentLogged: decodeAs[IncidentLogged],
	ChannelNetworkTraffic: decodeAs[NetworkTraffic],
}

func decodeAs[T Event](data json.RawMessage) (Event, error) {
	var v T
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return v, nil
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Decode parses a wire frame into a typed event. Frames on channels without
// a registered payload type decode to Unknown.
func Decode(data []byte) (Event, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrNotObject
	}

	var env Envelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	ch := env.Type
	if ch == "" && env.EventType != "" {
		if mapped, ok := legacyEventTypes[env.EventType]; ok {
			ch = mapped
		} else {
			ch = Channel(env.EventType)
		}
	}
	if ch == "" {
		return nil, ErrMissingType
	}

	decode, ok := decoders[ch]
	if !ok {
		return Unknown{Name: ch, Data: env.Data}, nil
	}

	ev, err := decode(env.Data)
	if err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", ch, err)
	}
	return ev, nil
}

// Encode renders ev as a wire frame.
func Encode(ev Event) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("encode nil event")
	}

	var data json.RawMessage
	if u, ok := ev.(Unknown); ok {
		data = u.Data
	} else {
		raw, err := json.Marshal(ev)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", ev.Channel(), err)
		}
		data = raw
	}

	return json.Marshal(Envelope{Type: ev.Channel(), Data: data})
}
