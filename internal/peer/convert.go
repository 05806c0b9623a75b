package peer

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/meshcore/meshd/internal/protocol"
	"github.com/meshcore/meshd/internal/rib"
)

func routeToWire(r rib.Route) protocol.WireRoute {
	return protocol.WireRoute{
		Name:     r.Name,
		Protocol: string(r.Protocol),
		Endpoint: endpointToURL(r.Endpoint),
		Region:   r.Region,
		Tags:     r.Tags,
	}
}

func wireToRoute(w protocol.WireRoute) (rib.Route, error) {
	ep, err := parseEndpointURL(w.Endpoint)
	if err != nil {
		return rib.Route{}, fmt.Errorf("peer: decoding route %q: %w", w.Name, err)
	}
	return rib.Route{
		Name:     w.Name,
		Protocol: rib.Protocol(w.Protocol),
		Endpoint: ep,
		Region:   w.Region,
		Tags:     w.Tags,
	}, nil
}

func endpointToURL(ep rib.Endpoint) string {
	scheme := ep.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, ep.Host, ep.Port)
}

func parseEndpointURL(raw string) (rib.Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return rib.Endpoint{}, err
	}
	host := u.Hostname()
	portStr := u.Port()
	var port uint64
	if portStr != "" {
		port, err = strconv.ParseUint(portStr, 10, 32)
		if err != nil {
			return rib.Endpoint{}, fmt.Errorf("invalid port in endpoint %q: %w", raw, err)
		}
	}
	return rib.Endpoint{Scheme: u.Scheme, Host: host, Port: uint32(port)}, nil
}

func updateEntryToWire(u rib.UpdateEntry) protocol.WireUpdateEntry {
	action := "remove"
	if u.Add {
		action = "add"
	}
	return protocol.WireUpdateEntry{Action: action, Route: routeToWire(u.Route), NodePath: u.NodePath}
}

func wireToUpdateEntry(w protocol.WireUpdateEntry) (rib.UpdateEntry, error) {
	route, err := wireToRoute(w.Route)
	if err != nil {
		return rib.UpdateEntry{}, err
	}
	return rib.UpdateEntry{Add: w.Action == "add", Route: route, NodePath: w.NodePath}, nil
}

func propagationToFrame(p rib.Propagation) (kind protocol.MessageKind, body any) {
	switch p.Kind {
	case rib.PropagationUpdate:
		entries := make([]protocol.WireUpdateEntry, 0, len(p.Updates))
		for _, u := range p.Updates {
			entries = append(entries, updateEntryToWire(u))
		}
		return protocol.KindUpdate, protocol.Update{Updates: entries}
	case rib.PropagationWithdraw:
		entries := make([]protocol.WireUpdateEntry, 0, len(p.RouteNames))
		for _, name := range p.RouteNames {
			entries = append(entries, protocol.WireUpdateEntry{Action: "remove", Route: protocol.WireRoute{Name: name}})
		}
		return protocol.KindUpdate, protocol.Update{Updates: entries}
	case rib.PropagationKeepalive:
		return protocol.KindKeepalive, protocol.Keepalive{}
	default:
		return protocol.KindKeepalive, protocol.Keepalive{}
	}
}
