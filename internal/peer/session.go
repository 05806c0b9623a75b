// Package peer implements the per-peer session state machine of spec §4.B:
// outbound dial with backoff, inbound accept, the OPEN/OPEN_SENT/
// OPEN_CONFIRM/ESTABLISHED handshake, the read loop that posts inbound
// frames as Actions (hold-timer expiry is decided by the RIB's Tick
// handling, not here), and a bounded FIFO send queue per session. Grounded on the teacher's
// Client.connectPeer/exchangeWithPeer reconnect-and-health-check shape
// (internal/controlplane/controlplane.go), replaced with the framed
// OPEN/UPDATE/KEEPALIVE/CLOSE codec of internal/protocol and an explicit
// state machine the teacher's unary-gRPC design doesn't need.
package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/meshcore/meshd/internal/protocol"
	"github.com/meshcore/meshd/internal/rib"
)

// FSMState mirrors the state diagram of spec §4.B.
type FSMState string

const (
	StateIdle         FSMState = "IDLE"
	StateDisconnected FSMState = "DISCONNECTED"
	StateOpenSent     FSMState = "OPEN_SENT"
	StateOpenConfirm  FSMState = "OPEN_CONFIRM"
	StateEstablished  FSMState = "ESTABLISHED"
)

// sendQueueCapacity bounds each session's outbound FIFO (spec §5,
// "recommended 1024 frames"); exceeding it closes the session with
// reason "backpressure".
const sendQueueCapacity = 1024

type frame struct {
	kind protocol.MessageKind
	body any
}

// Session owns one peer's connection lifecycle: dial loop, handshake,
// bounded send queue, and the read pump that turns inbound frames into
// Actions posted to the dispatcher.
type Session struct {
	info         rib.PeerInfo
	localNodeID  string
	localDomains []string
	holdTimeSec  int64
	dialTimeout  time.Duration
	openTimeout  time.Duration

	actions chan<- rib.Action
	logger  *slog.Logger
	backoff *Backoff

	mu    sync.Mutex
	state FSMState
	conn  net.Conn

	sendQueue chan frame
	closeOnce sync.Once
	done      chan struct{}
}

func newSession(info rib.PeerInfo, localNodeID string, localDomains []string, holdTimeSec int64, actions chan<- rib.Action, logger *slog.Logger) *Session {
	return &Session{
		info:         info,
		localNodeID:  localNodeID,
		localDomains: localDomains,
		holdTimeSec:  holdTimeSec,
		dialTimeout:  5 * time.Second,
		openTimeout:  10 * time.Second,
		actions:      actions,
		logger:       logger.With("peer", info.Name),
		backoff:      NewBackoff(),
		state:        StateDisconnected,
		sendQueue:    make(chan frame, sendQueueCapacity),
		done:         make(chan struct{}),
	}
}

// State returns the session's current FSM state.
func (s *Session) State() FSMState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(st FSMState) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Enqueue appends a propagation-derived frame to the session's send queue.
// If the queue is full the session is closed with reason "backpressure"
// per spec §5, and the caller must treat this as a transport error (the
// dispatcher will see an InternalProtocolClose follow).
func (s *Session) Enqueue(p rib.Propagation) {
	kind, body := propagationToFrame(p)
	select {
	case s.sendQueue <- frame{kind: kind, body: body}:
	default:
		s.logger.Warn("send queue full, closing session", "reason", "backpressure")
		s.closeTransport()
	}
}

// run is the outbound dial loop: while the peer remains configured it
// repeatedly waits out the backoff interval, dials, performs the OPEN
// handshake, then pumps frames until the transport fails, at which point
// it reports InternalProtocolClose and retries.
func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if s.State() == StateDisconnected {
			delay := s.backoff.Next()
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		conn, err := net.DialTimeout("tcp", s.info.Endpoint, s.dialTimeout)
		if err != nil {
			s.logger.Debug("dial failed", "error", err)
			continue
		}

		if err := s.clientHandshake(conn); err != nil {
			s.logger.Warn("handshake failed", "error", err)
			conn.Close()
			s.setState(StateDisconnected)
			continue
		}

		s.backoff.Reset()
		s.pump(ctx, conn)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (s *Session) clientHandshake(conn net.Conn) error {
	s.setState(StateOpenSent)
	conn.SetDeadline(time.Now().Add(s.openTimeout))
	defer conn.SetDeadline(time.Time{})

	open := protocol.Open{
		PeerName:    s.localNodeID,
		Domains:     s.localDomains,
		HoldTimeSec: s.holdTimeSec,
		PeerToken:   s.info.PeerToken,
	}
	if err := protocol.WriteMessage(conn, protocol.KindOpen, open); err != nil {
		return fmt.Errorf("peer: sending OPEN: %w", err)
	}

	env, err := protocol.ReadMessage(conn)
	if err != nil {
		return fmt.Errorf("peer: waiting for OPEN reply: %w", err)
	}
	reply, err := protocol.DecodeOpen(env)
	if err != nil {
		return fmt.Errorf("peer: decoding OPEN reply: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateEstablished
	s.mu.Unlock()

	s.postAction(rib.InternalProtocolOpen{
		PeerName:    s.info.Name,
		HoldTimeSec: reply.HoldTimeSec,
		HoldTimeSet: reply.HoldTimeSec > 0,
		NowMs:       nowMs(),
	})
	return nil
}

// acceptHandshake completes the responder side of the handshake for an
// inbound connection that has already been identified as belonging to
// this session (by the manager, which reads the first OPEN frame before
// routing to a Session). There is no distinct ACK frame in the wire
// protocol, so OPEN_CONFIRM is entered and immediately resolved to
// ESTABLISHED once our own OPEN has been written.
func (s *Session) acceptHandshake(conn net.Conn, peerOpen protocol.Open) error {
	s.setState(StateOpenConfirm)
	conn.SetDeadline(time.Now().Add(s.openTimeout))
	defer conn.SetDeadline(time.Time{})

	reply := protocol.Open{PeerName: s.localNodeID, Domains: s.localDomains, HoldTimeSec: s.holdTimeSec}
	if err := protocol.WriteMessage(conn, protocol.KindOpen, reply); err != nil {
		return fmt.Errorf("peer: sending OPEN reply: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.state = StateEstablished
	s.mu.Unlock()

	s.backoff.Reset()
	s.postAction(rib.InternalProtocolOpen{
		PeerName:    s.info.Name,
		HoldTimeSec: peerOpen.HoldTimeSec,
		HoldTimeSet: peerOpen.HoldTimeSec > 0,
		NowMs:       nowMs(),
	})
	return nil
}

// pump runs the read and write tasks for an established connection until
// either fails, then marks the session disconnected and reports closure.
func (s *Session) pump(ctx context.Context, conn net.Conn) {
	pumpCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(pumpCtx, conn)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn)
		cancel()
	}()
	wg.Wait()

	s.closeTransport()
	s.postAction(rib.InternalProtocolClose{PeerName: s.info.Name})
}

func (s *Session) writePump(ctx context.Context, conn net.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.sendQueue:
			if err := protocol.WriteMessage(conn, f.kind, f.body); err != nil {
				s.logger.Warn("write failed", "error", err)
				return
			}
		}
	}
}

func (s *Session) readPump(conn net.Conn) {
	for {
		env, err := protocol.ReadMessage(conn)
		if err != nil {
			return
		}
		switch env.Kind {
		case protocol.KindUpdate:
			msg, err := protocol.DecodeUpdate(env)
			if err != nil {
				s.logger.Warn("protocol error decoding UPDATE", "error", err)
				s.sendClose("protocol error", 2*time.Second)
				return
			}
			entries := make([]rib.UpdateEntry, 0, len(msg.Updates))
			for _, w := range msg.Updates {
				e, err := wireToUpdateEntry(w)
				if err != nil {
					s.logger.Warn("protocol error decoding update entry", "error", err)
					continue
				}
				entries = append(entries, e)
			}
			s.postAction(rib.InternalProtocolUpdate{PeerName: s.info.Name, Updates: entries, NowMs: nowMs()})
		case protocol.KindKeepalive:
			s.postAction(rib.InternalProtocolKeepalive{PeerName: s.info.Name, NowMs: nowMs()})
		case protocol.KindClose:
			return
		default:
			s.logger.Warn("unknown frame kind", "kind", env.Kind)
			return
		}
	}
}

func (s *Session) sendClose(reason string, timeout time.Duration) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(timeout))
	_ = protocol.WriteMessage(conn, protocol.KindClose, protocol.Close{Reason: reason})
}

func (s *Session) closeTransport() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.state = StateDisconnected
	s.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// shutdown sends a best-effort CLOSE and tears down the transport,
// bounded by the given deadline (spec §4.B cancellation / §5 graceful
// shutdown).
func (s *Session) shutdown(deadline time.Duration) {
	s.sendClose("shutdown", deadline)
	s.closeTransport()
}

func (s *Session) postAction(a rib.Action) {
	select {
	case s.actions <- a:
	case <-time.After(5 * time.Second):
		s.logger.Error("dispatcher action channel blocked, dropping action", "action", fmt.Sprintf("%T", a))
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}
