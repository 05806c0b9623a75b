// Package protocol implements the four peer wire messages of spec §4.C
// (OPEN, UPDATE, KEEPALIVE, CLOSE) over a length-prefixed JSON framing.
// Encoding is symmetric and byte-deterministic for a fixed field set;
// encoding/json natively ignores unknown fields on decode, satisfying the
// spec's tolerance requirement without extra bookkeeping.
package protocol

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MessageKind discriminates the four wire messages.
type MessageKind string

const (
	KindOpen      MessageKind = "OPEN"
	KindUpdate    MessageKind = "UPDATE"
	KindKeepalive MessageKind = "KEEPALIVE"
	KindClose     MessageKind = "CLOSE"
)

// WireRoute is the on-the-wire shape of a Route (spec §4.C: "route contains
// {name, protocol, endpoint, region?, tags?}").
type WireRoute struct {
	Name     string            `json:"name"`
	Protocol string            `json:"protocol"`
	Endpoint string            `json:"endpoint"`
	Region   string            `json:"region,omitempty"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// WireUpdateEntry is one add/remove instruction inside an UPDATE frame.
type WireUpdateEntry struct {
	Action   string    `json:"action"` // "add" | "remove"
	Route    WireRoute `json:"route"`
	NodePath []string  `json:"nodePath"`
}

// Open is the OPEN handshake frame.
type Open struct {
	PeerName     string   `json:"peerName"`
	Domains      []string `json:"domains"`
	HoldTimeSec  int64    `json:"holdTimeSec"`
	PeerToken    string   `json:"peerToken,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Update carries one or more add/remove route instructions.
type Update struct {
	Updates []WireUpdateEntry `json:"updates"`
}

// Keepalive is an empty heartbeat frame.
type Keepalive struct{}

// Close signals graceful or error-driven session termination.
type Close struct {
	Reason string `json:"reason,omitempty"`
}

// Envelope is the on-the-wire container: a Kind tag plus the opaque body of
// the corresponding message. json.RawMessage preserves unknown trailing
// fields within Body for forward-compatible decoding.
type Envelope struct {
	Kind MessageKind     `json:"kind"`
	Body json.RawMessage `json:"body"`
}

func wrap(kind MessageKind, body any) (Envelope, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Envelope{}, fmt.Errorf("protocol: encode %s body: %w", kind, err)
	}
	return Envelope{Kind: kind, Body: raw}, nil
}

// WriteMessage frames env as a 4-byte big-endian length prefix followed by
// its JSON encoding, and writes it to w.
func WriteMessage(w io.Writer, kind MessageKind, body any) error {
	env, err := wrap(kind, body)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("protocol: encode envelope: %w", err)
	}
	var lenPrefix [4]byte
	binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(payload)))
	if _, err := w.Write(lenPrefix[:]); err != nil {
		return fmt.Errorf("protocol: write length prefix: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("protocol: write payload: %w", err)
	}
	return nil
}

// MaxFrameBytes bounds a single frame to defend against a malformed or
// hostile peer claiming an enormous length prefix.
const MaxFrameBytes = 16 << 20 // 16 MiB

// ReadMessage reads one length-prefixed frame from r and decodes its
// envelope. Any decode error is reported as-is; per §4.C, validation is
// total and callers must respond by closing the session, not by mutating
// the RIB.
func ReadMessage(r io.Reader) (Envelope, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(r, lenPrefix[:]); err != nil {
		return Envelope{}, err
	}
	n := binary.BigEndian.Uint32(lenPrefix[:])
	if n > MaxFrameBytes {
		return Envelope{}, fmt.Errorf("protocol: frame of %d bytes exceeds max %d", n, MaxFrameBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Envelope{}, fmt.Errorf("protocol: read frame body: %w", err)
	}
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("protocol: decode envelope: %w", err)
	}
	return env, nil
}

// DecodeOpen, DecodeUpdate, DecodeKeepalive, DecodeClose decode an
// Envelope's Body into the concrete message type, validating Kind matches.

func DecodeOpen(env Envelope) (Open, error) {
	var m Open
	if env.Kind != KindOpen {
		return m, fmt.Errorf("protocol: expected OPEN, got %s", env.Kind)
	}
	if err := json.Unmarshal(env.Body, &m); err != nil {
		return m, fmt.Errorf("protocol: decode OPEN: %w", err)
	}
	return m, nil
}

func DecodeUpdate(env Envelope) (Update, error) {
	var m Update
	if env.Kind != KindUpdate {
		return m, fmt.Errorf("protocol: expected UPDATE, got %s", env.Kind)
	}
	if err := json.Unmarshal(env.Body, &m); err != nil {
		return m, fmt.Errorf("protocol: decode UPDATE: %w", err)
	}
	return m, nil
}

func DecodeKeepalive(env Envelope) (Keepalive, error) {
	var m Keepalive
	if env.Kind != KindKeepalive {
		return m, fmt.Errorf("protocol: expected KEEPALIVE, got %s", env.Kind)
	}
	return m, nil
}

func DecodeClose(env Envelope) (Close, error) {
	var m Close
	if env.Kind != KindClose {
		return m, fmt.Errorf("protocol: expected CLOSE, got %s", env.Kind)
	}
	if err := json.Unmarshal(env.Body, &m); err != nil {
		return m, fmt.Errorf("protocol: decode CLOSE: %w", err)
	}
	return m, nil
}
