package rib

import (
	"reflect"
	"testing"

	"github.com/meshcore/meshd/internal/portalloc"
)

func testPorts(t *testing.T) []portalloc.Entry {
	t.Helper()
	entries, err := portalloc.ParseEntries([]portalloc.Entry{{Start: 20000, End: 20010}})
	if err != nil {
		t.Fatalf("ParseEntries: %v", err)
	}
	return entries
}

func mustPlan(t *testing.T, state *State, ports []portalloc.Entry, action Action) *CommitResult {
	t.Helper()
	plan, err := PlanAction(state, ports, action)
	if err != nil {
		t.Fatalf("PlanAction(%T): unexpected error %v", action, err)
	}
	return Commit(plan)
}

// Scenario 1: Empty-RIB sync.
func TestEmptyRIBSync(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	state.Peers["B"] = PeerRecord{PeerInfo: PeerInfo{Name: "B"}, ConnectionStatus: StatusDisconnected}

	result := mustPlan(t, state, ports, InternalProtocolOpen{PeerName: "B", NowMs: 1000})
	if len(result.Propagations) != 0 {
		t.Fatalf("expected zero propagations on empty RIB, got %d", len(result.Propagations))
	}
}

// Scenario 2: Loop prevention.
func TestLoopPrevention(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	state.Peers["C"] = PeerRecord{PeerInfo: PeerInfo{Name: "C"}, ConnectionStatus: StatusConnected, LastReceivedSet: true}

	before := state
	result := mustPlan(t, state, ports, InternalProtocolUpdate{
		PeerName: "C",
		NowMs:    10,
		Updates: []UpdateEntry{{
			Add:      true,
			Route:    Route{Name: "svc", Protocol: ProtocolHTTP},
			NodePath: []string{"C", "B", "A"}, // contains local node "A"
		}},
	})
	if len(result.State.LearnedRoutes) != 0 {
		t.Fatalf("expected route to be silently dropped, got %v", result.State.LearnedRoutes)
	}
	if len(result.Propagations) != 0 {
		t.Fatalf("loop-detected update must not propagate, got %v", result.Propagations)
	}
	if len(before.LearnedRoutes) != 0 {
		t.Fatalf("prior state must be untouched")
	}
}

// Scenario 3: Hold-timer boundary, strict '>'.
func TestHoldTimerBoundary(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	state.Peers["B"] = PeerRecord{
		PeerInfo:         PeerInfo{Name: "B"},
		ConnectionStatus: StatusConnected,
		HoldTimeSec:      60,
		HoldTimeSet:      true,
		LastReceivedMs:   1000,
		LastReceivedSet:  true,
	}

	result := mustPlan(t, state, ports, Tick{NowMs: 61000})
	if result.State.Peers["B"].ConnectionStatus != StatusConnected {
		t.Fatalf("peer must still be connected exactly at the boundary")
	}

	result = mustPlan(t, result.State, ports, Tick{NowMs: 61001})
	if result.State.Peers["B"].ConnectionStatus != StatusDisconnected {
		t.Fatalf("peer must be disconnected just past the boundary")
	}
}

// Scenario 4: Keepalive boundary, strict '>'.
func TestKeepaliveBoundary(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	state.Peers["B"] = PeerRecord{
		PeerInfo:         PeerInfo{Name: "B"},
		ConnectionStatus: StatusConnected,
		HoldTimeSec:      60,
		HoldTimeSet:      true,
		LastSentMs:       1000,
		LastSentSet:      true,
		LastReceivedMs:   21000,
		LastReceivedSet:  true,
	}

	result := mustPlan(t, state, ports, Tick{NowMs: 21000})
	if len(result.Propagations) != 0 {
		t.Fatalf("no keepalive expected exactly at the boundary, got %v", result.Propagations)
	}

	result = mustPlan(t, result.State, ports, Tick{NowMs: 21001})
	if len(result.Propagations) != 1 || result.Propagations[0].Kind != PropagationKeepalive {
		t.Fatalf("expected one keepalive propagation, got %v", result.Propagations)
	}
	if result.State.Peers["B"].LastSentMs != 21001 {
		t.Fatalf("lastSent must be updated to 21001, got %d", result.State.Peers["B"].LastSentMs)
	}
}

// Scenario 6: multi-peer simultaneous expiry.
func TestMultiPeerSimultaneousExpiry(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	state.Peers["B"] = PeerRecord{PeerInfo: PeerInfo{Name: "B"}, ConnectionStatus: StatusConnected, HoldTimeSec: 60, HoldTimeSet: true, LastReceivedMs: 1000, LastReceivedSet: true}
	state.Peers["C"] = PeerRecord{PeerInfo: PeerInfo{Name: "C"}, ConnectionStatus: StatusConnected, HoldTimeSec: 60, HoldTimeSet: true, LastReceivedMs: 1000, LastReceivedSet: true}
	state.LearnedRoutes["from-b"] = RouteEntry{Service: Route{Name: "from-b"}, Origin: Origin{Peer: "B"}, NodePath: []string{"B"}}
	state.LearnedRoutes["from-c"] = RouteEntry{Service: Route{Name: "from-c"}, Origin: Origin{Peer: "C"}, NodePath: []string{"C"}}

	result := mustPlan(t, state, ports, Tick{NowMs: 62000})

	if result.State.Peers["B"].ConnectionStatus != StatusDisconnected || result.State.Peers["C"].ConnectionStatus != StatusDisconnected {
		t.Fatalf("both peers must be disconnected")
	}
	if len(result.State.LearnedRoutes) != 0 {
		t.Fatalf("zero learned routes must remain, got %v", result.State.LearnedRoutes)
	}
	// No remaining connected peers, so no withdrawal has anywhere to go.
	if len(result.Propagations) != 0 {
		t.Fatalf("expected zero propagations with no remaining connected peers, got %v", result.Propagations)
	}
}

func TestLocalRouteCreateThenDeleteIsIdempotentOnState(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	route := Route{Name: "svc", Protocol: ProtocolHTTP, Endpoint: Endpoint{Host: "h", Port: 80}}

	afterCreate := mustPlan(t, state, ports, LocalRouteCreate{Route: route})
	afterDelete := mustPlan(t, afterCreate.State, ports, LocalRouteDelete{Name: "svc"})

	if len(afterDelete.State.LocalRoutes) != 0 {
		t.Fatalf("expected no local routes after create+delete, got %v", afterDelete.State.LocalRoutes)
	}
	if len(afterDelete.State.PortAssignments) != 0 {
		t.Fatalf("expected port released after delete, got %v", afterDelete.State.PortAssignments)
	}
}

func TestDuplicateUpdateAddIsIdempotent(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	state.Peers["B"] = PeerRecord{PeerInfo: PeerInfo{Name: "B"}, ConnectionStatus: StatusConnected}
	route := Route{Name: "svc", Protocol: ProtocolHTTP}

	first := mustPlan(t, state, ports, InternalProtocolUpdate{
		PeerName: "B",
		Updates:  []UpdateEntry{{Add: true, Route: route, NodePath: []string{"B"}}},
	})
	second := mustPlan(t, first.State, ports, InternalProtocolUpdate{
		PeerName: "B",
		Updates:  []UpdateEntry{{Add: true, Route: route, NodePath: []string{"B"}}},
	})

	if !reflect.DeepEqual(first.State.LearnedRoutes, second.State.LearnedRoutes) {
		t.Fatalf("duplicate add must be idempotent on state: %v vs %v", first.State.LearnedRoutes, second.State.LearnedRoutes)
	}
}

func TestLocalPeerDeleteEmitsWithdrawalsAndDropsRoutes(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	state.Peers["B"] = PeerRecord{PeerInfo: PeerInfo{Name: "B"}, ConnectionStatus: StatusConnected}
	state.Peers["C"] = PeerRecord{PeerInfo: PeerInfo{Name: "C"}, ConnectionStatus: StatusConnected}
	state.LearnedRoutes["from-b"] = RouteEntry{Service: Route{Name: "from-b"}, Origin: Origin{Peer: "B"}, NodePath: []string{"B"}}

	result := mustPlan(t, state, ports, LocalPeerDelete{Name: "B"})

	if _, exists := result.State.Peers["B"]; exists {
		t.Fatalf("peer B must be removed")
	}
	if len(result.State.LearnedRoutes) != 0 {
		t.Fatalf("routes originated by B must be dropped")
	}
	found := false
	for _, p := range result.Propagations {
		if p.Kind == PropagationWithdraw && p.Peer == "C" {
			found = true
			if !reflect.DeepEqual(p.RouteNames, []string{"from-b"}) {
				t.Fatalf("unexpected withdrawal routes: %v", p.RouteNames)
			}
		}
	}
	if !found {
		t.Fatalf("expected a withdrawal propagation to peer C")
	}
}

func TestPortAllocatorReuseOnReAllocate(t *testing.T) {
	entries, err := portalloc.ParseEntries([]portalloc.Entry{{Start: 9000, End: 9002}})
	if err != nil {
		t.Fatalf("ParseEntries: %v", err)
	}
	assigned := map[string]uint32{}
	assigned, port1, ok := portalloc.Allocate(entries, assigned, "x")
	if !ok {
		t.Fatalf("expected allocation to succeed")
	}
	assigned = portalloc.Release(assigned, "x")
	_, port2, ok := portalloc.Allocate(entries, assigned, "x")
	if !ok || port1 != port2 {
		t.Fatalf("expected re-allocate to return same port, got %d vs %d", port1, port2)
	}
}

func TestCommitVersionsStrictlyIncrease(t *testing.T) {
	state := NewState("A")
	ports := testPorts(t)
	v0 := state.Version
	r1 := mustPlan(t, state, ports, LocalPeerCreate{PeerInfo: PeerInfo{Name: "B"}})
	if r1.State.Version <= v0 {
		t.Fatalf("version must strictly increase: %d -> %d", v0, r1.State.Version)
	}
	r2 := mustPlan(t, r1.State, ports, LocalPeerCreate{PeerInfo: PeerInfo{Name: "C"}})
	if r2.State.Version <= r1.State.Version {
		t.Fatalf("version must strictly increase across commits: %d -> %d", r1.State.Version, r2.State.Version)
	}
}
