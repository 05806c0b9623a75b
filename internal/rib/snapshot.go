package rib

import "strconv"

// BuildSnapshot derives the proxy-facing Snapshot from the current RIB
// state: one Listener and one Cluster per known route (local ∪ learned),
// per §4.F's resource construction rule and invariant 3. Version numbering
// is the monotonic uint64 counter of §9 open question 3, formatted as a
// decimal string without leading zeros.
func BuildSnapshot(state *State, bindAddress string) Snapshot {
	snap := Snapshot{Version: strconv.FormatUint(state.Version, 10)}

	for _, name := range sortedLocalRouteNames(state) {
		route := state.LocalRoutes[name]
		port, ok := state.PortAssignments[name]
		if !ok {
			continue
		}
		snap.Clusters = append(snap.Clusters, Cluster{Name: name, Address: route.Endpoint.Host, Port: route.Endpoint.Port})
		snap.Listeners = append(snap.Listeners, Listener{Name: name, BindAddress: bindAddress, Port: port, UpstreamCluster: name})
	}
	for _, name := range sortedLearnedRouteNames(state) {
		entry := state.LearnedRoutes[name]
		port, ok := state.PortAssignments[name]
		if !ok {
			continue
		}
		snap.Clusters = append(snap.Clusters, Cluster{Name: name, Address: entry.Service.Endpoint.Host, Port: entry.Service.Endpoint.Port})
		snap.Listeners = append(snap.Listeners, Listener{Name: name, BindAddress: bindAddress, Port: port, UpstreamCluster: name})
	}
	return snap
}
