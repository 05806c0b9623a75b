// Package dispatcher implements spec §4.H: the single actor that
// serializes Actions from local RPCs, peer frames, and the tick source
// onto the RIB, then fans each CommitResult out to peer send queues and
// the snapshot cache. Grounded on the teacher's reconciler.Reconciler.Run
// ticker-loop shape (internal/reconciler/reconciler.go), generalized from
// a single periodic reconcile into a multi-producer action loop.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/meshcore/meshd/internal/metrics"
	"github.com/meshcore/meshd/internal/peer"
	"github.com/meshcore/meshd/internal/portalloc"
	"github.com/meshcore/meshd/internal/rib"
	"github.com/meshcore/meshd/internal/snapshot"
)

// request is a synchronous local-RPC submission awaiting a reply.
type request struct {
	action rib.Action
	reply  chan result
}

type result struct {
	state *rib.State
	err   *rib.Error
}

// Dispatcher owns the single in-memory RIB State. Only its run goroutine
// ever reads or writes d.state; every other component communicates with
// it exclusively through Submit/Snapshot and the PeerActions channel.
type Dispatcher struct {
	state       *rib.State
	portEntries []portalloc.Entry
	bindAddress string

	peers     *peer.Manager
	snapshots *snapshot.Cache
	metrics   *metrics.Registry
	logger    *slog.Logger

	requests    chan request
	peerActions chan rib.Action
	tickPeriod  time.Duration
}

// Option customizes a Dispatcher at construction time.
type Option func(*Dispatcher)

func WithTickPeriod(d time.Duration) Option {
	return func(disp *Dispatcher) { disp.tickPeriod = d }
}

func WithMetrics(m *metrics.Registry) Option {
	return func(disp *Dispatcher) { disp.metrics = m }
}

// New returns a Dispatcher for localNodeID, wired to peers and snapshots.
func New(localNodeID string, portEntries []portalloc.Entry, bindAddress string, peers *peer.Manager, snapshots *snapshot.Cache, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		state:       rib.NewState(localNodeID),
		portEntries: portEntries,
		bindAddress: bindAddress,
		peers:       peers,
		snapshots:   snapshots,
		logger:      logger.With("component", "dispatcher"),
		requests:    make(chan request),
		peerActions: make(chan rib.Action, 256),
		tickPeriod:  time.Second,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// PeerActions returns the channel peer sessions post Internal* actions to.
func (d *Dispatcher) PeerActions() chan<- rib.Action {
	return d.peerActions
}

// Submit synchronously applies a locally-originated action (from the
// control API) and returns the resulting state or a structured error.
func (d *Dispatcher) Submit(ctx context.Context, action rib.Action) (*rib.State, *rib.Error) {
	reply := make(chan result, 1)
	select {
	case d.requests <- request{action: action, reply: reply}:
	case <-ctx.Done():
		return nil, &rib.Error{Kind: rib.ErrTransportError, Message: "dispatcher unavailable: " + ctx.Err().Error()}
	}
	select {
	case r := <-reply:
		return r.state, r.err
	case <-ctx.Done():
		return nil, &rib.Error{Kind: rib.ErrTransportError, Message: "dispatcher unavailable: " + ctx.Err().Error()}
	}
}

// Snapshot returns the current RIB state (an immutable value the
// dispatcher replaces rather than mutates), used by the control API for
// listPeers/listRoutes. It returns nil if ctx ends first.
func (d *Dispatcher) Snapshot(ctx context.Context) *rib.State {
	state, err := d.Submit(ctx, noopAction{})
	if err != nil {
		return nil
	}
	return state
}

// noopAction is a private action used only to read the current state
// through the single-writer channel; handle answers it before planning, so
// it never reaches the RIB and never commits.
type noopAction struct{}

func (noopAction) isAction() {}

// Run drives the dispatcher loop until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-d.requests:
			d.handle(req.action, req.reply)
		case action := <-d.peerActions:
			d.handle(action, nil)
		case t := <-ticker.C:
			d.handle(rib.Tick{NowMs: t.UnixMilli()}, nil)
		}
	}
}

func (d *Dispatcher) handle(action rib.Action, reply chan result) {
	if _, ok := action.(noopAction); ok {
		if reply != nil {
			reply <- result{state: d.state}
		}
		return
	}

	plan, err := rib.PlanAction(d.state, d.portEntries, action)
	if err != nil {
		d.logger.Debug("plan rejected", "action", action, "error", err)
		if reply != nil {
			reply <- result{err: err}
		}
		return
	}

	cr := rib.Commit(plan)
	d.state = cr.State

	switch a := action.(type) {
	case rib.LocalPeerCreate:
		d.peers.AddPeer(context.Background(), a.PeerInfo)
	case rib.LocalPeerDelete:
		d.peers.RemovePeer(a.Name)
	}

	if len(cr.Propagations) > 0 {
		d.peers.Enqueue(cr.Propagations)
		if d.metrics != nil {
			for _, p := range cr.Propagations {
				d.metrics.PropagationsTotal.WithLabelValues(string(p.Kind)).Inc()
			}
		}
	}
	if len(cr.PortOps) > 0 {
		snap := rib.BuildSnapshot(d.state, d.bindAddress)
		d.snapshots.Set(snap)
	}
	if d.metrics != nil {
		d.metrics.Observe(d.state)
	}

	if reply != nil {
		reply <- result{state: d.state}
	}
}
