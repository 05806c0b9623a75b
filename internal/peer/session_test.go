package peer

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/meshcore/meshd/internal/protocol"
	"github.com/meshcore/meshd/internal/rib"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSession_ClientHandshake_EstablishesAndPostsOpen(t *testing.T) {
	actions := make(chan rib.Action, 4)
	info := rib.PeerInfo{Name: "peer-b", Endpoint: "unused:0", PeerToken: "secret"}
	s := newSession(info, "peer-a", []string{"prod"}, 180, actions, testLogger())

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan error, 1)
	go func() { done <- s.clientHandshake(clientConn) }()

	env, err := protocol.ReadMessage(serverConn)
	if err != nil {
		t.Fatalf("reading OPEN from client: %v", err)
	}
	open, err := protocol.DecodeOpen(env)
	if err != nil {
		t.Fatalf("decoding OPEN: %v", err)
	}
	if open.PeerName != "peer-a" || open.PeerToken != "secret" {
		t.Fatalf("unexpected OPEN frame: %+v", open)
	}
	if open.HoldTimeSec != 180 {
		t.Fatalf("expected locally configured hold time 180 in outbound OPEN, got %d", open.HoldTimeSec)
	}

	if err := protocol.WriteMessage(serverConn, protocol.KindOpen, protocol.Open{PeerName: "peer-b", HoldTimeSec: 90}); err != nil {
		t.Fatalf("writing OPEN reply: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("clientHandshake returned error: %v", err)
	}
	if s.State() != StateEstablished {
		t.Fatalf("expected StateEstablished, got %s", s.State())
	}

	select {
	case a := <-actions:
		open, ok := a.(rib.InternalProtocolOpen)
		if !ok {
			t.Fatalf("expected InternalProtocolOpen, got %T", a)
		}
		if open.PeerName != "peer-b" || !open.HoldTimeSet || open.HoldTimeSec != 90 {
			t.Fatalf("unexpected InternalProtocolOpen: %+v", open)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an InternalProtocolOpen action to be posted")
	}
}

func TestSession_AcceptHandshake_EstablishesAndPostsOpen(t *testing.T) {
	actions := make(chan rib.Action, 4)
	info := rib.PeerInfo{Name: "peer-b", Endpoint: "unused:0"}
	s := newSession(info, "peer-a", []string{"prod"}, 60, actions, testLogger())

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	peerOpen := protocol.Open{PeerName: "peer-b", HoldTimeSec: 45}
	done := make(chan error, 1)
	go func() { done <- s.acceptHandshake(serverConn, peerOpen) }()

	env, err := protocol.ReadMessage(clientConn)
	if err != nil {
		t.Fatalf("reading OPEN reply: %v", err)
	}
	reply, err := protocol.DecodeOpen(env)
	if err != nil {
		t.Fatalf("decoding OPEN reply: %v", err)
	}
	if reply.PeerName != "peer-a" {
		t.Fatalf("expected reply to carry local node ID, got %+v", reply)
	}
	if reply.HoldTimeSec != 60 {
		t.Fatalf("expected locally configured hold time 60 in the OPEN reply, got %d", reply.HoldTimeSec)
	}

	if err := <-done; err != nil {
		t.Fatalf("acceptHandshake returned error: %v", err)
	}
	if s.State() != StateEstablished {
		t.Fatalf("expected StateEstablished, got %s", s.State())
	}

	select {
	case a := <-actions:
		open, ok := a.(rib.InternalProtocolOpen)
		if !ok {
			t.Fatalf("expected InternalProtocolOpen, got %T", a)
		}
		if open.HoldTimeSec != 45 || !open.HoldTimeSet {
			t.Fatalf("unexpected InternalProtocolOpen: %+v", open)
		}
	case <-time.After(time.Second):
		t.Fatal("expected an InternalProtocolOpen action to be posted")
	}
}

func TestSession_Enqueue_ClosesOnBackpressure(t *testing.T) {
	actions := make(chan rib.Action, sendQueueCapacity+4)
	info := rib.PeerInfo{Name: "peer-b", Endpoint: "unused:0"}
	s := newSession(info, "peer-a", nil, 90, actions, testLogger())

	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	s.mu.Lock()
	s.conn = clientConn
	s.mu.Unlock()
	serverConn.Close() // no reader draining the pipe, so writes will eventually block/fail

	for i := 0; i < sendQueueCapacity+1; i++ {
		s.Enqueue(rib.Propagation{Peer: "peer-b"})
	}

	if s.State() != StateDisconnected {
		t.Fatalf("expected session to be closed after queue overflow, got state %s", s.State())
	}
}
