// Package packet defines the lanclip wire protocol.
//
// Every packet is a single JSON document:
//
//	{ "packet_type": "...", "sender_name": "...", "sender_ip": "...",
//	  "timestamp": <unix seconds>, "data": <payload or null> }
//
// The payload shape depends on packet_type. Presence packets (announce,
// discovery, heartbeat, device_info) carry a DevicePayload; clipboard_data
// carries a ClipboardPayload whose content is raw UTF-8 for text and base64
// for images, so binary data is safe to embed in JSON strings.
//
// Decode never panics: malformed input, unknown packet types, and missing
// required fields all come back as error values so receive loops can log and
// drop the datagram or frame.
package packet

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"
)

// Type identifies the kind of packet.
type Type string

const (
	TypeAnnounce   Type = "device_announce"
	TypeDiscovery  Type = "device_discovery"
	TypeHeartbeat  Type = "device_heartbeat"
	TypeDeviceInfo Type = "device_info"
	TypeClipboard  Type = "clipboard_data"
)

// Presence reports whether packets of this type refresh device presence.
func (t Type) Presence() bool {
	switch t {
	case TypeAnnounce, TypeDiscovery, TypeHeartbeat, TypeDeviceInfo:
		return true
	}
	return false
}

func (t Type) valid() bool {
	return t.Presence() || t == TypeClipboard
}

// Packet is the top-level wire envelope. Immutable once constructed.
type Packet struct {
	Type       Type            `json:"packet_type"`
	SenderName string          `json:"sender_name"`
	SenderIP   string          `json:"sender_ip"`
	Timestamp  float64         `json:"timestamp"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// SenderID returns the sender's device identity key, name@ip.
func (p *Packet) SenderID() string {
	return p.SenderName + "@" + p.SenderIP
}

// Now returns the current time as a wire timestamp (unix seconds).
func Now() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// New constructs a packet with the current timestamp and the given payload.
// payload may be nil for bare presence packets.
func New(t Type, senderName, senderIP string, payload any) (*Packet, error) {
	p := &Packet{
		Type:       t,
		SenderName: senderName,
		SenderIP:   senderIP,
		Timestamp:  Now(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("packet payload: %w", err)
		}
		p.Data = raw
	}
	return p, nil
}

// Encode serialises the packet to its wire form.
func (p *Packet) Encode() ([]byte, error) {
	if !p.Type.valid() {
		return nil, fmt.Errorf("packet encode: unknown packet_type %q", p.Type)
	}
	return json.Marshal(p)
}

// Decode deserialises and validates a packet from raw bytes.
func Decode(b []byte) (*Packet, error) {
	var aux struct {
		Type       *Type           `json:"packet_type"`
		SenderName *string         `json:"sender_name"`
		SenderIP   *string         `json:"sender_ip"`
		Timestamp  *float64        `json:"timestamp"`
		Data       json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return nil, fmt.Errorf("packet decode: %w", err)
	}
	switch {
	case aux.Type == nil:
		return nil, fmt.Errorf("packet decode: missing packet_type")
	case !aux.Type.valid():
		return nil, fmt.Errorf("packet decode: unknown packet_type %q", *aux.Type)
	case aux.SenderName == nil || *aux.SenderName == "":
		return nil, fmt.Errorf("packet decode: missing sender_name")
	case aux.SenderIP == nil || *aux.SenderIP == "":
		return nil, fmt.Errorf("packet decode: missing sender_ip")
	case aux.Timestamp == nil:
		return nil, fmt.Errorf("packet decode: missing timestamp")
	}
	return &Packet{
		Type:       *aux.Type,
		SenderName: *aux.SenderName,
		SenderIP:   *aux.SenderIP,
		Timestamp:  *aux.Timestamp,
		Data:       aux.Data,
	}, nil
}

// DevicePayload is the data carried by presence packets.
type DevicePayload struct {
	Platform string `json:"platform"`
	Port     int    `json:"port,omitempty"`
}

// Device returns the decoded DevicePayload of a presence packet. A presence
// packet without data is legal (heartbeats carry none) and yields a zero
// payload.
func (p *Packet) Device() (*DevicePayload, error) {
	if !p.Type.Presence() {
		return nil, fmt.Errorf("packet: %s carries no device payload", p.Type)
	}
	var d DevicePayload
	if len(p.Data) == 0 {
		return &d, nil
	}
	if err := json.Unmarshal(p.Data, &d); err != nil {
		return nil, fmt.Errorf("device payload decode: %w", err)
	}
	return &d, nil
}

// ValidateUTF8 is a guard for text payload content crossing the wire.
func ValidateUTF8(b []byte) error {
	if !utf8.Valid(b) {
		return fmt.Errorf("content is not valid UTF-8")
	}
	return nil
}
