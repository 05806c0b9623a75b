package peer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/meshcore/meshd/internal/protocol"
	"github.com/meshcore/meshd/internal/rib"
)

// Manager owns every configured peer's Session, the inbound accept loop,
// and the fan-out of propagations to the right session's send queue.
type Manager struct {
	localNodeID  string
	localDomains []string
	holdTimeSec  int64
	actions      chan<- rib.Action
	logger       *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
	cancels  map[string]context.CancelFunc
}

// NewManager returns a Manager posting Actions onto actions, a channel the
// caller delivers to the dispatcher (cmd/ribd relays it onto the
// dispatcher's PeerActions channel). holdTimeSec is
// this node's configured hold time (rib.HoldTimeSec, spec §6.5); it is
// advertised in every OPEN this node sends, so the far side's
// PeerRecord.HoldTimeSec reflects our configuration rather than "never
// expire".
func NewManager(localNodeID string, localDomains []string, holdTimeSec int64, actions chan<- rib.Action, logger *slog.Logger) *Manager {
	return &Manager{
		localNodeID:  localNodeID,
		localDomains: localDomains,
		holdTimeSec:  holdTimeSec,
		actions:      actions,
		logger:       logger.With("component", "peer.Manager"),
		sessions:     make(map[string]*Session),
		cancels:      make(map[string]context.CancelFunc),
	}
}

// AddPeer starts an outbound dial loop for a newly configured peer.
func (m *Manager) AddPeer(ctx context.Context, info rib.PeerInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[info.Name]; exists {
		return
	}
	sess := newSession(info, m.localNodeID, m.localDomains, m.holdTimeSec, m.actions, m.logger)
	sessCtx, cancel := context.WithCancel(ctx)
	m.sessions[info.Name] = sess
	m.cancels[info.Name] = cancel
	go sess.run(sessCtx)
}

// RemovePeer stops the named peer's session, sending a best-effort CLOSE
// (spec §4.B cancellation).
func (m *Manager) RemovePeer(name string) {
	m.removePeer(name, 2*time.Second)
}

func (m *Manager) removePeer(name string, deadline time.Duration) {
	m.mu.Lock()
	sess, exists := m.sessions[name]
	cancel := m.cancels[name]
	delete(m.sessions, name)
	delete(m.cancels, name)
	m.mu.Unlock()

	if !exists {
		return
	}
	sess.shutdown(deadline)
	cancel()
}

// Enqueue fans each propagation out to its target peer's send queue.
// Propagations addressed to a peer with no active session are dropped
// (the peer is not currently connected, so there is nothing to drain to;
// a reconnect will trigger a fresh full-table sync instead).
func (m *Manager) Enqueue(propagations []rib.Propagation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range propagations {
		if sess, ok := m.sessions[p.Peer]; ok {
			sess.Enqueue(p)
		}
	}
}

// SessionState reports the FSM state of a configured peer, or
// StateIdle if unknown.
func (m *Manager) SessionState(name string) FSMState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[name]; ok {
		return sess.State()
	}
	return StateIdle
}

// Serve accepts inbound connections on address and routes each to the
// matching configured peer's Session after validating the OPEN handshake
// (peerToken match, domain intersection), per §4.B's inbound-accept
// requirements. Serve blocks until ctx is cancelled or the listener fails.
func (m *Manager) Serve(ctx context.Context, address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("peer: listen on %s: %w", address, err)
	}
	go func() {
		<-ctx.Done()
		lis.Close()
	}()

	for {
		conn, err := lis.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				m.logger.Warn("accept failed", "error", err)
				continue
			}
		}
		go m.acceptOne(conn)
	}
}

func (m *Manager) acceptOne(conn net.Conn) {
	conn.SetDeadline(time.Now().Add(10 * time.Second))
	env, err := protocol.ReadMessage(conn)
	if err != nil {
		m.logger.Warn("inbound read failed before OPEN", "error", err)
		conn.Close()
		return
	}
	open, err := protocol.DecodeOpen(env)
	if err != nil {
		m.logger.Warn("inbound OPEN decode failed", "error", err)
		conn.Close()
		return
	}

	m.mu.Lock()
	sess, exists := m.sessions[open.PeerName]
	m.mu.Unlock()
	if !exists {
		m.logger.Warn("inbound OPEN from unconfigured peer", "peer", open.PeerName)
		conn.Close()
		return
	}
	if sess.info.PeerToken != "" && sess.info.PeerToken != open.PeerToken {
		m.logger.Warn("inbound OPEN with mismatched token", "peer", open.PeerName)
		conn.Close()
		return
	}
	if !domainsIntersect(sess.localDomains, open.Domains) {
		m.logger.Warn("inbound OPEN with disjoint domains", "peer", open.PeerName)
		conn.Close()
		return
	}

	if err := sess.acceptHandshake(conn, open); err != nil {
		m.logger.Warn("inbound handshake failed", "peer", open.PeerName, "error", err)
		conn.Close()
	}
}

func domainsIntersect(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, d := range a {
		set[strings.ToLower(d)] = true
	}
	for _, d := range b {
		if set[strings.ToLower(d)] {
			return true
		}
	}
	return false
}

// ShutdownAll sends CLOSE to every session and stops its dial loop,
// bounded by deadline (spec §5 graceful shutdown).
func (m *Manager) ShutdownAll(deadline time.Duration) {
	m.mu.Lock()
	names := make([]string, 0, len(m.sessions))
	for name := range m.sessions {
		names = append(names, name)
	}
	m.mu.Unlock()

	for _, name := range names {
		m.removePeer(name, deadline)
	}
}
