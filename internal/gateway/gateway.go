// Package gateway adapts the payment provider to the purchase core. It is the
// only code that knows provider status names, metadata layout and minor-unit
// amounts.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/metrics"
	"github.com/tunevault/platform/internal/provider"
)

// Metadata keys written on every intent.
const (
	MetaUserID     = "user_id"
	MetaTrackCount = "track_count"
	metaTrackIDs   = "track_ids_"

	// Stripe caps metadata values at 500 characters; 13 UUIDs and their
	// separators fit in one value.
	trackIDsPerKey = 13
)

// Provider is the payment provider API the adapter drives.
type Provider interface {
	CreatePaymentIntent(ctx context.Context, amountMinor int64, currency string, metadata map[string]string) (*provider.PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*provider.PaymentIntent, error)
}

// Config tunes the adapter.
type Config struct {
	Currency string
	// Timeout bounds each provider call.
	Timeout time.Duration
	// BreakerFailures consecutive transient failures open the breaker.
	BreakerFailures uint32
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration
}

// Adapter implements intent creation and status retrieval on top of Provider.
type Adapter struct {
	provider Provider
	cfg      Config
	breaker  *gobreaker.CircuitBreaker[*provider.PaymentIntent]
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates an Adapter.
func New(p Provider, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Adapter {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[*provider.PaymentIntent](gobreaker.Settings{
		Name:        "payment-provider",
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		// Only outages count against the breaker; a 4xx is the caller's problem.
		IsSuccessful: func(err error) bool {
			return err == nil || !isTransient(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &Adapter{provider: p, cfg: cfg, breaker: breaker, metrics: m, logger: logger}
}

// CreateIntent opens a payment intent for the cart total. The snapshot must
// come from the same user. It is never retried here.
func (a *Adapter) CreateIntent(ctx context.Context, userID uuid.UUID, snapshot *domain.CartSnapshot) (*domain.PaymentIntentRef, error) {
	if snapshot.IsEmpty() {
		return nil, domain.ErrEmptyCart()
	}
	if snapshot.UserID != userID {
		return nil, domain.ErrValidation("cart snapshot belongs to another user")
	}

	amount := snapshot.TotalMinorUnits()
	trackIDs := snapshot.TrackIDs()

	intent, err := a.call(ctx, "create", "", func(ctx context.Context) (*provider.PaymentIntent, error) {
		return a.provider.CreatePaymentIntent(ctx, amount, a.cfg.Currency, EncodeMetadata(userID, trackIDs))
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("payment intent created",
		"user_id", userID, "provider_id", intent.ID, "amount", amount, "currency", a.cfg.Currency, "tracks", len(trackIDs))

	return &domain.PaymentIntentRef{
		ProviderID:   intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  amount,
		Currency:     a.cfg.Currency,
		UserID:       userID,
		TrackIDs:     trackIDs,
	}, nil
}

// RetrieveStatus reports the provider's current view of an intent.
func (a *Adapter) RetrieveStatus(ctx context.Context, providerID string) (*domain.PaymentStatusReport, error) {
	if err := domain.ValidateProviderID(providerID); err != nil {
		return nil, err
	}

	intent, err := a.call(ctx, "retrieve", providerID, func(ctx context.Context) (*provider.PaymentIntent, error) {
		return a.provider.RetrievePaymentIntent(ctx, providerID)
	})
	if err != nil {
		return nil, err
	}

	userID, trackIDs := DecodeMetadata(intent.Metadata)
	return &domain.PaymentStatusReport{
		ProviderID:         intent.ID,
		Status:             MapStatus(intent.Status),
		ChargedAmountMinor: intent.AmountReceived,
		Currency:           intent.Currency,
		UserID:             userID,
		TrackIDs:           trackIDs,
	}, nil
}

// call runs one bounded provider call through the breaker and maps failures
// onto the domain taxonomy.
func (a *Adapter) call(ctx context.Context, op, providerID string, fn func(ctx context.Context) (*provider.PaymentIntent, error)) (*provider.PaymentIntent, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	intent, err := a.breaker.Execute(func() (*provider.PaymentIntent, error) {
		return fn(callCtx)
	})
	if err == nil {
		a.metrics.GatewayCall(op, "ok")
		return intent, nil
	}

	mapped := mapError(op, providerID, err)
	a.metrics.GatewayCall(op, resultLabel(mapped))
	a.logger.Warn("payment provider call failed", "op", op, "provider_id", providerID, "error", err)
	return nil, mapped
}

func mapError(op, providerID string, err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return domain.ErrGatewayUnavailable(err)
	}
	if isTransient(err) {
		return domain.ErrGatewayUnavailable(err)
	}

	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		if op == "retrieve" && apiErr.StatusCode == 404 {
			return domain.ErrNotFound("payment intent", providerID)
		}
		return &domain.AppError{
			Code:    domain.CodeValidation,
			Message: fmt.Sprintf("payment provider rejected request: %s", apiErr.Message),
			Status:  400,
			Cause:   err,
		}
	}
	return domain.ErrInternal("payment provider call failed", err)
}

// isTransient reports whether err is an outage rather than a rejection.
func isTransient(err error) bool {
	var apiErr *provider.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	// Transport failures surface as *url.Error, which is a net.Error.
	var netErr net.Error
	return errors.As(err, &netErr)
}

func resultLabel(err error) string {
	var appErr *domain.AppError
	if errors.As(err, &appErr) {
		return strings.ToLower(appErr.Code)
	}
	return "error"
}

// MapStatus folds provider statuses into the three the store acts on.
func MapStatus(status string) domain.PaymentIntentStatus {
	switch status {
	case "succeeded":
		return domain.PaymentSucceeded
	case "canceled":
		return domain.PaymentFailed
	default:
		// processing, requires_payment_method, requires_confirmation,
		// requires_action, requires_capture
		return domain.PaymentPending
	}
}

// EncodeMetadata tags an intent with its user and tracks for auditability.
func EncodeMetadata(userID uuid.UUID, trackIDs []uuid.UUID) map[string]string {
	meta := map[string]string{
		MetaUserID:     userID.String(),
		MetaTrackCount: fmt.Sprintf("%d", len(trackIDs)),
	}
	for chunk := 0; chunk*trackIDsPerKey < len(trackIDs); chunk++ {
		end := min((chunk+1)*trackIDsPerKey, len(trackIDs))
		parts := make([]string, 0, end-chunk*trackIDsPerKey)
		for _, id := range trackIDs[chunk*trackIDsPerKey : end] {
			parts = append(parts, id.String())
		}
		meta[fmt.Sprintf("%s%d", metaTrackIDs, chunk)] = strings.Join(parts, ",")
	}
	return meta
}

// DecodeMetadata reads back what EncodeMetadata wrote. Unparseable values
// decode to uuid.Nil and are skipped.
func DecodeMetadata(meta map[string]string) (uuid.UUID, []uuid.UUID) {
	userID, err := uuid.Parse(meta[MetaUserID])
	if err != nil {
		userID = uuid.Nil
	}
	var trackIDs []uuid.UUID
	for chunk := 0; ; chunk++ {
		v, ok := meta[fmt.Sprintf("%s%d", metaTrackIDs, chunk)]
		if !ok {
			break
		}
		for _, raw := range strings.Split(v, ",") {
			if id, err := uuid.Parse(raw); err == nil {
				trackIDs = append(trackIDs, id)
			}
		}
	}
	return userID, trackIDs
}
