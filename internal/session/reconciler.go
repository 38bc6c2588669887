package session

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/authbridge/internal/identity"
	"github.com/dropDatabas3/authbridge/internal/metrics"
	"github.com/dropDatabas3/authbridge/internal/observability/logger"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// Provider is the identity-exchange boundary the reconciler drives.
type Provider interface {
	Exchange(ctx context.Context, req identity.ExchangeRequest) (*identity.Principal, error)
	CurrentPrincipal(ctx context.Context) (*identity.Principal, error)
	SignOut(ctx context.Context) error
}

// Config configures a Reconciler.
type Config struct {
	Provider Provider
	// ExchangeTimeout forces authenticating -> error(timeout) after the
	// bound; the generation counter then discards the late result. 0
	// disables the forced timeout.
	ExchangeTimeout time.Duration
}

// Reconciler owns every transition of the session state machine. It is the
// single writer of the Store; the in-flight guard is a checked state
// transition, so a second BeginExchange is rejected at entry rather than
// queued. Never retries on its own: retry is caller-initiated.
type Reconciler struct {
	provider Provider
	store    *Store
	pub      *Publisher
	timeout  time.Duration

	mu         sync.Mutex
	generation uint64
	sf         singleflight.Group
}

// NewReconciler starts at StatusUnknown; call CheckStatus to resolve it
// against provider truth.
func NewReconciler(cfg Config) *Reconciler {
	store := NewStore()
	return &Reconciler{
		provider: cfg.Provider,
		store:    store,
		pub:      NewPublisher(store.Snapshot()),
		timeout:  cfg.ExchangeTimeout,
	}
}

// Snapshot returns the current session without touching the provider.
func (r *Reconciler) Snapshot() identity.Session {
	return r.store.Snapshot()
}

// Subscribe registers a status observer; see Publisher.Subscribe.
func (r *Reconciler) Subscribe() (<-chan identity.Session, func()) {
	return r.pub.Subscribe()
}

// apply replaces the stored session and then publishes it, in that order.
// Callers must hold r.mu.
func (r *Reconciler) apply(s identity.Session) {
	r.store.Replace(s)
	metrics.TransitionsPublished.WithLabelValues(string(s.Status)).Inc()
	metrics.SessionState.Set(stateValue(s.Status))
	r.pub.Publish(s)
}

func stateValue(st identity.Status) float64 {
	switch st {
	case identity.StatusAuthenticating:
		return 1
	case identity.StatusAuthenticated:
		return 2
	case identity.StatusNotAuthenticated:
		return 3
	case identity.StatusError:
		return 4
	default:
		return 0
	}
}

// BeginExchange runs one exchange attempt. Validation failures and the
// in-flight guard reject synchronously without changing state; everything
// else resolves into exactly one transition out of authenticating.
func (r *Reconciler) BeginExchange(ctx context.Context, req identity.ExchangeRequest) (identity.Session, error) {
	log := logger.From(ctx).With(
		logger.Component("session.reconciler"),
		logger.Op("BeginExchange"),
		logger.TenantID(req.TenantID),
	)

	if err := req.Validate(); err != nil {
		metrics.ExchangeAttempts.WithLabelValues("rejected_validation").Inc()
		log.Warn("rejected malformed exchange request", logger.Err(err))
		return r.store.Snapshot(), err
	}

	r.mu.Lock()
	cur := r.store.Snapshot()
	if cur.Status == identity.StatusAuthenticating {
		r.mu.Unlock()
		metrics.ExchangeAttempts.WithLabelValues("rejected_concurrent").Inc()
		log.Info("exchange already in progress")
		return cur, &identity.Error{Kind: identity.KindConcurrentAttempt, Msg: "exchange already in progress"}
	}
	r.generation++
	gen := r.generation
	attemptID := uuid.NewString()
	log = log.With(logger.AttemptID(attemptID))
	r.apply(identity.Session{Status: identity.StatusAuthenticating, TenantID: req.TenantID})
	r.mu.Unlock()

	if r.timeout > 0 {
		timer := time.AfterFunc(r.timeout, func() { r.expire(gen, req.TenantID) })
		defer timer.Stop()
	}

	log.Debug("exchange started")
	principal, err := r.provider.Exchange(ctx, req)

	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || r.store.Snapshot().Status != identity.StatusAuthenticating {
		// A forced timeout (or a newer attempt after it) superseded this
		// one; the late result must not revive stale state.
		metrics.ExchangeAttempts.WithLabelValues("superseded").Inc()
		log.Warn("discarding superseded exchange result", logger.Err(err))
		return r.store.Snapshot(), &identity.Error{Kind: identity.KindTimeout, Msg: "exchange attempt superseded"}
	}

	if err != nil {
		kind := identity.KindOf(err)
		metrics.ExchangeAttempts.WithLabelValues(string(kind)).Inc()
		log.Warn("exchange failed", logger.Err(err))
		r.apply(identity.Session{Status: identity.StatusError, TenantID: req.TenantID, Cause: err})
		return r.store.Snapshot(), err
	}

	metrics.ExchangeAttempts.WithLabelValues("authenticated").Inc()
	log.Info("exchange succeeded", logger.PrincipalID(principal.ID))
	r.apply(identity.Session{Status: identity.StatusAuthenticated, TenantID: req.TenantID, Principal: principal})
	return r.store.Snapshot(), nil
}

// expire is the forced-timeout transition for the attempt tagged gen.
func (r *Reconciler) expire(gen uint64, tenantID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if gen != r.generation || r.store.Snapshot().Status != identity.StatusAuthenticating {
		return
	}
	cause := &identity.Error{Kind: identity.KindTimeout, Msg: "exchange timed out"}
	metrics.ExchangeAttempts.WithLabelValues("timeout").Inc()
	logger.L().Warn("exchange forced to error by timeout",
		logger.Component("session.reconciler"), logger.TenantID(tenantID))
	r.apply(identity.Session{Status: identity.StatusError, TenantID: tenantID, Cause: cause})
}

// CheckStatus reconciles local belief with provider truth. A no-op while an
// exchange is in flight, to avoid racing a provider read against the write.
// Concurrent calls collapse into one provider query.
func (r *Reconciler) CheckStatus(ctx context.Context) (identity.Session, error) {
	if cur := r.store.Snapshot(); cur.Status == identity.StatusAuthenticating {
		metrics.StatusChecks.WithLabelValues("skipped_in_flight").Inc()
		return cur, nil
	}

	v, err, _ := r.sf.Do("check", func() (any, error) {
		principal, perr := r.provider.CurrentPrincipal(ctx)

		r.mu.Lock()
		defer r.mu.Unlock()
		cur := r.store.Snapshot()
		if cur.Status == identity.StatusAuthenticating {
			// An exchange began while the check was on the wire; its
			// resolution owns the next transition.
			metrics.StatusChecks.WithLabelValues("skipped_in_flight").Inc()
			return cur, nil
		}
		switch {
		case perr != nil:
			metrics.StatusChecks.WithLabelValues("error").Inc()
			logger.From(ctx).Warn("status check failed",
				logger.Component("session.reconciler"), logger.Op("CheckStatus"), logger.Err(perr))
			r.apply(identity.Session{Status: identity.StatusError, TenantID: cur.TenantID, Cause: perr})
			return r.store.Snapshot(), perr
		case principal != nil:
			metrics.StatusChecks.WithLabelValues("authenticated").Inc()
			r.apply(identity.Session{Status: identity.StatusAuthenticated, TenantID: cur.TenantID, Principal: principal})
		default:
			metrics.StatusChecks.WithLabelValues("not_authenticated").Inc()
			r.apply(identity.Session{Status: identity.StatusNotAuthenticated, TenantID: cur.TenantID})
		}
		return r.store.Snapshot(), nil
	})
	return v.(identity.Session), err
}

// SignOut ends the session. Idempotent from not_authenticated. Provider
// sign-out failure lands in error state with the principal discarded either
// way, so the app never shows a session that was asked to end.
func (r *Reconciler) SignOut(ctx context.Context) (identity.Session, error) {
	log := logger.From(ctx).With(logger.Component("session.reconciler"), logger.Op("SignOut"))

	r.mu.Lock()
	cur := r.store.Snapshot()
	switch cur.Status {
	case identity.StatusNotAuthenticated:
		r.mu.Unlock()
		return cur, nil
	case identity.StatusAuthenticating:
		r.mu.Unlock()
		return cur, &identity.Error{Kind: identity.KindConcurrentAttempt, Msg: "exchange in progress"}
	}
	r.mu.Unlock()

	err := r.provider.SignOut(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.store.Snapshot().Status == identity.StatusAuthenticating {
		return r.store.Snapshot(), err
	}
	if err != nil {
		log.Warn("provider sign-out failed", logger.Err(err))
		r.apply(identity.Session{Status: identity.StatusError, TenantID: cur.TenantID, Cause: err})
		return r.store.Snapshot(), err
	}
	log.Info("signed out", logger.TenantID(cur.TenantID))
	r.apply(identity.Session{Status: identity.StatusNotAuthenticated, TenantID: cur.TenantID})
	return r.store.Snapshot(), nil
}
