// Package identity holds the domain values of the federated sign-in core:
// the principal produced by a successful exchange, the session the rest of
// the app observes, and the error taxonomy every layer maps into.
package identity

import "strings"

// Status is the reconciled session status.
type Status string

const (
	StatusUnknown          Status = "unknown"
	StatusAuthenticating   Status = "authenticating"
	StatusAuthenticated    Status = "authenticated"
	StatusNotAuthenticated Status = "not_authenticated"
	StatusError            Status = "error"
)

// Principal is the authenticated identity once an exchange (or a session
// restore) succeeds. Immutable after construction.
type Principal struct {
	// ID is the provider-assigned identifier, stable per tenant.
	ID string
	// Username is the provider username; may differ from the tenant id.
	Username string
	// Email and Name are optional profile attributes, empty when the
	// provider has none.
	Email string
	Name  string
}

// Session is the local belief about authentication state. It is owned by
// the reconciler; everyone else reads snapshots.
type Session struct {
	Status    Status
	TenantID  string
	Principal *Principal
	// Cause is set only when Status is StatusError.
	Cause error
}

// ExchangeRequest is the input to one exchange attempt: the externally
// issued token plus the tenant namespace it is scoped to.
type ExchangeRequest struct {
	ExternalToken string
	TenantID      string
}

// Validate rejects malformed requests before any network call.
func (r ExchangeRequest) Validate() error {
	if strings.TrimSpace(r.ExternalToken) == "" {
		return &Error{Kind: KindValidation, Msg: "external token is required"}
	}
	if strings.TrimSpace(r.TenantID) == "" {
		return &Error{Kind: KindValidation, Msg: "tenant id is required"}
	}
	return nil
}
