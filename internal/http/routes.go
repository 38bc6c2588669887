// Package http is the dev harness surface of the sign-in core: the
// link-callback intake plus session read/refresh/sign-out endpoints the
// storefront UI and routing layer talk to.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dropDatabas3/authbridge/internal/identity"
	"github.com/dropDatabas3/authbridge/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Core is the slice of the reconciler the handlers drive.
type Core interface {
	Snapshot() identity.Session
	CheckStatus(ctx context.Context) (identity.Session, error)
	SignOut(ctx context.Context) (identity.Session, error)
}

// Deliverer accepts credential-source deliveries.
type Deliverer interface {
	Deliver(d session.Delivery) error
}

// Handler bundles dependencies for the router.
type Handler struct {
	Core   Core
	Intake Deliverer
}

// NewRouter builds the chi router with the harness routes.
func NewRouter(h Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(AccessLog)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/link/callback", h.linkCallback)
		r.Get("/session", h.getSession)
		r.Post("/session/refresh", h.refreshSession)
		r.Post("/session/signout", h.signOut)
	})
	return r
}

type sessionResponse struct {
	Status    string             `json:"status"`
	TenantID  string             `json:"tenant_id,omitempty"`
	Principal *principalResponse `json:"principal,omitempty"`
	Cause     string             `json:"cause,omitempty"`
	CauseKind string             `json:"cause_kind,omitempty"`
}

type principalResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
}

func toSessionResponse(s identity.Session) sessionResponse {
	out := sessionResponse{
		Status:   string(s.Status),
		TenantID: s.TenantID,
	}
	if s.Principal != nil {
		out.Principal = &principalResponse{
			ID:       s.Principal.ID,
			Username: s.Principal.Username,
			Email:    s.Principal.Email,
			Name:     s.Principal.Name,
		}
	}
	if s.Cause != nil {
		out.Cause = s.Cause.Error()
		out.CauseKind = string(identity.KindOf(s.Cause))
	}
	return out
}

// linkCallback receives one external sign-in completion. It only enqueues;
// the session transition shows up through the status endpoints.
func (h Handler) linkCallback(w http.ResponseWriter, r *http.Request) {
	var d session.Delivery
	if !ReadJSON(w, r, &d) {
		return
	}
	if d.ExternalToken == "" || d.TenantID == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "external_token and tenant_id are required")
		return
	}
	if err := h.Intake.Deliver(d); err != nil {
		WriteError(w, http.StatusServiceUnavailable, "intake_full", "try again shortly")
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (h Handler) getSession(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, toSessionResponse(h.Core.Snapshot()))
}

func (h Handler) refreshSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.Core.CheckStatus(r.Context())
	if err != nil {
		// The session carries the error state; surface both.
		WriteJSON(w, statusForError(err), toSessionResponse(s))
		return
	}
	WriteJSON(w, http.StatusOK, toSessionResponse(s))
}

func (h Handler) signOut(w http.ResponseWriter, r *http.Request) {
	s, err := h.Core.SignOut(r.Context())
	if err != nil {
		WriteJSON(w, statusForError(err), toSessionResponse(s))
		return
	}
	WriteJSON(w, http.StatusOK, toSessionResponse(s))
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, identity.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, identity.ErrConcurrentAttempt):
		return http.StatusConflict
	case errors.Is(err, identity.ErrTokenExpired):
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}
