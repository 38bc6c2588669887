package session

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"github.com/dropDatabas3/authbridge/internal/cache"
	"github.com/dropDatabas3/authbridge/internal/identity"
	"github.com/dropDatabas3/authbridge/internal/metrics"
	"github.com/dropDatabas3/authbridge/internal/observability/logger"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
)

// Delivery is one credential arrival from the credential source: a
// deep-link or redirect callback carrying the external token and the shop
// namespace it is scoped to.
type Delivery struct {
	ExternalToken string `json:"external_token"`
	TenantID      string `json:"tenant_id"`
}

// ErrIntakeFull is returned by Deliver when the queue is full.
var ErrIntakeFull = errors.New("intake queue full")

// IntakeConfig configures an Intake.
type IntakeConfig struct {
	Reconciler *Reconciler
	// Guard dedupes re-deliveries of an already-consumed token. Optional;
	// nil disables replay protection.
	Guard cache.Client
	// ReplayTTL is how long a consumed token stays guarded. Default 5m.
	ReplayTTL time.Duration
	// Buffer is the queue depth. Default 8.
	Buffer int
}

// Intake decouples credential delivery timing from the reconciler: deep
// links enqueue here and a single consumer loop runs the exchanges, so the
// credential source never blocks on (or races) the state machine.
type Intake struct {
	rec       *Reconciler
	guard     cache.Client
	replayTTL time.Duration
	ch        chan Delivery
}

// NewIntake builds an Intake; call Run to start consuming.
func NewIntake(cfg IntakeConfig) *Intake {
	ttl := cfg.ReplayTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	buf := cfg.Buffer
	if buf <= 0 {
		buf = 8
	}
	return &Intake{
		rec:       cfg.Reconciler,
		guard:     cfg.Guard,
		replayTTL: ttl,
		ch:        make(chan Delivery, buf),
	}
}

// Deliver enqueues one credential arrival without blocking.
func (in *Intake) Deliver(d Delivery) error {
	select {
	case in.ch <- d:
		return nil
	default:
		metrics.IntakeDeliveries.WithLabelValues("dropped").Inc()
		return ErrIntakeFull
	}
}

// Run consumes deliveries until ctx is done.
func (in *Intake) Run(ctx context.Context) {
	log := logger.From(ctx).With(logger.Component("session.intake"))
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-in.ch:
			in.handle(ctx, log, d)
		}
	}
}

func (in *Intake) handle(ctx context.Context, log *zap.Logger, d Delivery) {
	req := identity.ExchangeRequest{ExternalToken: d.ExternalToken, TenantID: d.TenantID}
	if err := req.Validate(); err != nil {
		metrics.IntakeDeliveries.WithLabelValues("invalid").Inc()
		log.Warn("dropping malformed delivery", logger.TenantID(d.TenantID), logger.Err(err))
		return
	}

	key := fingerprint(d.ExternalToken)
	if in.guard != nil {
		if _, err := in.guard.Get(ctx, key); err == nil {
			metrics.IntakeDeliveries.WithLabelValues("replay").Inc()
			log.Warn("dropping replayed delivery", logger.TenantID(d.TenantID))
			return
		}
	}

	s, err := in.rec.BeginExchange(ctx, req)
	if err != nil {
		metrics.IntakeDeliveries.WithLabelValues("rejected").Inc()
		log.Warn("delivery did not authenticate",
			logger.TenantID(d.TenantID), logger.SessionStatus(string(s.Status)), logger.Err(err))
		return
	}

	metrics.IntakeDeliveries.WithLabelValues("accepted").Inc()
	// Guard only tokens that were actually consumed, so a failed attempt
	// can still be retried from the same link.
	if in.guard != nil {
		if err := in.guard.Set(ctx, key, "1", in.replayTTL); err != nil {
			log.Warn("replay guard write failed", logger.Err(err))
		}
	}
}

// fingerprint keys the replay guard without storing the token itself.
func fingerprint(token string) string {
	sum := blake2b.Sum256([]byte(token))
	return "link:" + hex.EncodeToString(sum[:])
}
