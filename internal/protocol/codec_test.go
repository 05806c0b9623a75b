package protocol

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"
)

func TestOpenRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Open{PeerName: "node-b", Domains: []string{"prod"}, HoldTimeSec: 60, PeerToken: "secret"}
	if err := WriteMessage(&buf, KindOpen, want); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	env, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	got, err := DecodeOpen(env)
	if err != nil {
		t.Fatalf("DecodeOpen: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("round trip mismatch: want %+v got %+v", want, got)
	}
}

func TestUpdateRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Update{Updates: []WireUpdateEntry{
		{Action: "add", Route: WireRoute{Name: "svc", Protocol: "http", Endpoint: "http://h:80"}, NodePath: []string{"a", "b"}},
	}}
	if err := WriteMessage(&buf, KindUpdate, want); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	env, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	got, err := DecodeUpdate(env)
	if err != nil {
		t.Fatalf("DecodeUpdate: %v", err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Fatalf("round trip mismatch: want %+v got %+v", want, got)
	}
}

func TestUnknownFieldsIgnoredOnDecode(t *testing.T) {
	raw := []byte(`{"kind":"KEEPALIVE","body":{},"futureField":"ignored"}`)
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, err := DecodeKeepalive(env); err != nil {
		t.Fatalf("DecodeKeepalive: %v", err)
	}
}

func TestDecodeMismatchedKindErrors(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteMessage(&buf, KindClose, Close{Reason: "bye"}); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	env, err := ReadMessage(&buf)
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if _, err := DecodeOpen(env); err == nil {
		t.Fatalf("expected error decoding CLOSE envelope as OPEN")
	}
}
