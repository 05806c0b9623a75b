// Package authz provides the authz.Engine external collaborator (spec
// §6.4 and §9's open-question resolution: "authorization as a boolean
// predicate over (identity, operation)").
package authz

import "context"

// Action identifies a control-API action subject to authorization.
type Action string

const (
	ActionCreatePeer  Action = "peer.create"
	ActionDeletePeer  Action = "peer.delete"
	ActionCreateRoute Action = "route.create"
	ActionDeleteRoute Action = "route.delete"
	ActionReadRoutes  Action = "route.read"
	ActionReadPeers   Action = "peer.read"
)

// Decision is the result of an authorization check.
type Decision struct {
	Allowed bool
	Reason  string
}

// Engine decides whether principal may perform action on resource.
type Engine interface {
	Authorize(ctx context.Context, principal string, action Action, resource string) (Decision, error)
}

// AllowAllEngine permits every principal to perform every action. The
// default until an operator wires in a real policy engine.
type AllowAllEngine struct{}

func (AllowAllEngine) Authorize(ctx context.Context, principal string, action Action, resource string) (Decision, error) {
	return Decision{Allowed: true}, nil
}
