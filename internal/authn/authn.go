// Package authn provides the authn.Verifier external collaborator (spec
// §6.4) for the local control API: a thin interface verifying a caller's
// bearer token before a request reaches the dispatcher.
package authn

import "context"

// Verifier authenticates an inbound local control API request by its
// bearer token (empty string if none was supplied), returning the caller's
// principal and the domains/node names it is trusted to act on behalf of.
type Verifier interface {
	Verify(ctx context.Context, token string) (principal string, trustedDomains []string, trustedNodes []string, err error)
}

// AllowAllVerifier is the default Verifier: every caller is accepted as
// "anonymous", trusted for every domain and node. JWT/JWKS verification is
// out of scope; real deployments plug a real Verifier in behind this
// interface.
type AllowAllVerifier struct{}

func (AllowAllVerifier) Verify(ctx context.Context, token string) (string, []string, []string, error) {
	return "anonymous", []string{"*"}, []string{"*"}, nil
}
