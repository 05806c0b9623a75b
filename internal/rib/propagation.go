package rib

// PropagationKind discriminates the three frame shapes §4.D turns a
// CommitResult into.
type PropagationKind string

const (
	PropagationUpdate    PropagationKind = "update"
	PropagationKeepalive PropagationKind = "keepalive"
	PropagationWithdraw  PropagationKind = "withdraw"
)

// Propagation is one entry of a CommitResult's propagation list, destined
// for a single peer's session send queue.
type Propagation struct {
	Kind       PropagationKind
	Peer       string
	Updates    []UpdateEntry // PropagationUpdate
	RouteNames []string      // PropagationWithdraw
}

// PortOpKind discriminates port-allocator operations emitted by a commit.
type PortOpKind string

const (
	PortOpAllocate PortOpKind = "allocate"
	PortOpRelease  PortOpKind = "release"
)

// PortOp is one allocate/release instruction against the port allocator,
// folded by the dispatcher into a new Snapshot.
type PortOp struct {
	Kind      PortOpKind
	RouteName string
}

// Plan is the prospective result of applying an Action to a State: the
// would-be new state plus the propagations and port operations that
// commit will realize. Plans are never partially applied.
type Plan struct {
	NextState    *State
	Propagations []Propagation
	PortOps      []PortOp
}

// CommitResult is what commit(Plan) returns: the newly-installed state and
// the same derived propagations/port operations, now authoritative.
type CommitResult struct {
	State        *State
	Propagations []Propagation
	PortOps      []PortOp
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func prependNode(id string, path []string) []string {
	next := make([]string, 0, len(path)+1)
	next = append(next, id)
	next = append(next, path...)
	return next
}
