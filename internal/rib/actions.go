package rib

// Action is the closed set of inputs plan() accepts, per spec §4.A.
// Implemented as a marker interface over one struct per variant, the same
// sum-type-via-interface idiom used for RouteEvent-shaped types elsewhere
// in the corpus.
type Action interface {
	isAction()
}

type LocalRouteCreate struct {
	Route Route
}

type LocalRouteDelete struct {
	Name string
}

type LocalPeerCreate struct {
	PeerInfo PeerInfo
}

type LocalPeerDelete struct {
	Name string
}

type InternalProtocolOpen struct {
	PeerName    string
	HoldTimeSec int64
	HoldTimeSet bool
	NowMs       int64
}

// UpdateEntry is one route mutation carried by an UPDATE frame.
type UpdateEntry struct {
	Add      bool // true: add, false: remove
	Route    Route
	NodePath []string
}

type InternalProtocolUpdate struct {
	PeerName string
	Updates  []UpdateEntry
	NowMs    int64
}

type InternalProtocolKeepalive struct {
	PeerName string
	NowMs    int64
}

type InternalProtocolClose struct {
	PeerName string
}

type Tick struct {
	NowMs int64
}

func (LocalRouteCreate) isAction()         {}
func (LocalRouteDelete) isAction()          {}
func (LocalPeerCreate) isAction()           {}
func (LocalPeerDelete) isAction()           {}
func (InternalProtocolOpen) isAction()      {}
func (InternalProtocolUpdate) isAction()    {}
func (InternalProtocolKeepalive) isAction() {}
func (InternalProtocolClose) isAction()     {}
func (Tick) isAction()                      {}
