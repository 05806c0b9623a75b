package dispatcher

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/meshcore/meshd/internal/peer"
	"github.com/meshcore/meshd/internal/portalloc"
	"github.com/meshcore/meshd/internal/rib"
	"github.com/meshcore/meshd/internal/snapshot"
)

func testDispatcher(t *testing.T) (*Dispatcher, context.Context) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	actions := make(chan rib.Action, 16)
	peers := peer.NewManager("local", nil, 90, actions, logger)
	snaps := snapshot.New()
	entries, err := portalloc.ParseEntries([]portalloc.Entry{{Start: 20000, End: 20099}})
	if err != nil {
		t.Fatalf("unexpected portalloc error: %v", err)
	}

	d := New("local", entries, "0.0.0.0", peers, snaps, logger, WithTickPeriod(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)

	return d, ctx
}

func TestDispatcher_SubmitLocalRouteCreate_InstallsRoute(t *testing.T) {
	d, ctx := testDispatcher(t)

	state, ribErr := d.Submit(ctx, rib.LocalRouteCreate{Route: rib.Route{
		Name:     "svc-a",
		Protocol: rib.ProtocolHTTP,
		Endpoint: rib.Endpoint{Scheme: "http", Host: "127.0.0.1", Port: 8081},
	}})
	if ribErr != nil {
		t.Fatalf("unexpected error: %v", ribErr)
	}
	if _, ok := state.LocalRoutes["svc-a"]; !ok {
		t.Fatalf("expected svc-a in LocalRoutes, got %+v", state.LocalRoutes)
	}
}

func TestDispatcher_SubmitLocalRouteCreate_PublishesSnapshot(t *testing.T) {
	d, ctx := testDispatcher(t)

	if _, ribErr := d.Submit(ctx, rib.LocalRouteCreate{Route: rib.Route{
		Name:     "svc-a",
		Protocol: rib.ProtocolHTTP,
		Endpoint: rib.Endpoint{Scheme: "http", Host: "127.0.0.1", Port: 8081},
	}}); ribErr != nil {
		t.Fatalf("unexpected error: %v", ribErr)
	}

	snap := d.snapshots.Get()
	if len(snap.Clusters) != 1 {
		t.Fatalf("expected 1 cluster in published snapshot, got %d", len(snap.Clusters))
	}
}

func TestDispatcher_SubmitDuplicateRoute_Fails(t *testing.T) {
	d, ctx := testDispatcher(t)

	route := rib.LocalRouteCreate{Route: rib.Route{
		Name:     "svc-a",
		Protocol: rib.ProtocolHTTP,
		Endpoint: rib.Endpoint{Scheme: "http", Host: "127.0.0.1", Port: 8081},
	}}
	if _, ribErr := d.Submit(ctx, route); ribErr != nil {
		t.Fatalf("unexpected error on first create: %v", ribErr)
	}
	if _, ribErr := d.Submit(ctx, route); ribErr == nil {
		t.Fatal("expected an error creating a duplicate route")
	}
}

func TestDispatcher_SubmitLocalRouteDelete_RemovesRoute(t *testing.T) {
	d, ctx := testDispatcher(t)

	route := rib.Route{Name: "svc-a", Protocol: rib.ProtocolHTTP, Endpoint: rib.Endpoint{Scheme: "http", Host: "127.0.0.1", Port: 8081}}
	if _, ribErr := d.Submit(ctx, rib.LocalRouteCreate{Route: route}); ribErr != nil {
		t.Fatalf("unexpected error: %v", ribErr)
	}

	state, ribErr := d.Submit(ctx, rib.LocalRouteDelete{Name: "svc-a"})
	if ribErr != nil {
		t.Fatalf("unexpected error: %v", ribErr)
	}
	if _, ok := state.LocalRoutes["svc-a"]; ok {
		t.Fatal("expected svc-a to be removed from LocalRoutes")
	}
}

func TestDispatcher_Snapshot_ReturnsCurrentState(t *testing.T) {
	d, ctx := testDispatcher(t)

	if _, ribErr := d.Submit(ctx, rib.LocalPeerCreate{PeerInfo: rib.PeerInfo{Name: "peer-b", Endpoint: "203.0.113.5:9999"}}); ribErr != nil {
		t.Fatalf("unexpected error: %v", ribErr)
	}

	state := d.Snapshot(ctx)
	if state == nil {
		t.Fatal("expected a non-nil state")
	}
	if _, ok := state.Peers["peer-b"]; !ok {
		t.Fatalf("expected peer-b to be registered, got %+v", state.Peers)
	}
}

func TestDispatcher_Submit_ContextCancelled(t *testing.T) {
	d, _ := testDispatcher(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, ribErr := d.Submit(ctx, rib.LocalRouteCreate{Route: rib.Route{Name: "svc-a"}}); ribErr == nil {
		t.Fatal("expected an error submitting on a cancelled context")
	}
}
