package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/tunevault/platform/internal/domain"
	"github.com/tunevault/platform/internal/gateway"
	"github.com/tunevault/platform/internal/guard"
	"github.com/tunevault/platform/internal/provider"
	"github.com/tunevault/platform/internal/store"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// WebhookVerifier authenticates provider webhooks.
type WebhookVerifier interface {
	VerifyWebhookSignature(payload []byte, sigHeader string) (*provider.StripeWebhookEvent, error)
}

// PurchaseService orchestrates checkout: intent creation, finalization from
// the client or the provider webhook, and purchase history.
type PurchaseService struct {
	store     store.Store
	carts     *CartService
	gateway   PaymentGateway
	finalizer *Finalizer
	verifier  WebhookVerifier
	seen      *guard.IdempotencyGuard
	logger    *slog.Logger
}

// NewPurchaseService creates a PurchaseService. seen deduplicates webhook
// deliveries by event id; nil disables deduplication.
func NewPurchaseService(st store.Store, carts *CartService, gw PaymentGateway, finalizer *Finalizer, verifier WebhookVerifier, seen *guard.IdempotencyGuard, logger *slog.Logger) *PurchaseService {
	return &PurchaseService{
		store:     st,
		carts:     carts,
		gateway:   gw,
		finalizer: finalizer,
		verifier:  verifier,
		seen:      seen,
		logger:    logger,
	}
}

// CreateIntent opens a payment intent for the user's current cart. The cart
// is not locked; finalize re-reads and reconciles it.
func (s *PurchaseService) CreateIntent(ctx context.Context, userID uuid.UUID) (*domain.PaymentIntentRef, error) {
	snapshot, err := s.carts.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	if snapshot.IsEmpty() {
		return nil, domain.ErrEmptyCart()
	}
	return s.gateway.CreateIntent(ctx, userID, snapshot)
}

// Finalize is the client-driven finalize.
func (s *PurchaseService) Finalize(ctx context.Context, userID uuid.UUID, providerID string) (*domain.FinalizeResult, error) {
	return s.finalizer.Finalize(ctx, userID, providerID)
}

// HandleStripeWebhook finalizes on payment_intent.succeeded using the user
// recorded in the intent metadata. Terminal rejections are acknowledged so
// the provider stops redelivering; transient failures are returned so it retries.
func (s *PurchaseService) HandleStripeWebhook(ctx context.Context, payload []byte, sigHeader string) (string, error) {
	event, err := s.verifier.VerifyWebhookSignature(payload, sigHeader)
	if err != nil {
		return "", domain.ErrUnauthorized(fmt.Sprintf("webhook verification failed: %v", err))
	}

	switch event.Type {
	case provider.EventPaymentIntentSucceeded:
		if s.seen == nil {
			return event.Type, s.handleIntentSucceeded(ctx, event)
		}
		if res := s.seen.Check(ctx, event.ID); !res.Allowed {
			s.logger.Info("duplicate stripe event skipped", "event_id", event.ID)
			return event.Type, nil
		}
		if err := s.handleIntentSucceeded(ctx, event); err != nil {
			// Release the id so the provider's redelivery is processed.
			s.seen.Remove(event.ID)
			return event.Type, err
		}
		return event.Type, nil
	default:
		s.logger.Info("unhandled stripe event type", "type", event.Type, "event_id", event.ID)
		return event.Type, nil
	}
}

func (s *PurchaseService) handleIntentSucceeded(ctx context.Context, event *provider.StripeWebhookEvent) error {
	intent, err := provider.ParsePaymentIntentData(event.Data)
	if err != nil {
		return domain.ErrValidation(err.Error())
	}

	userID, _ := gateway.DecodeMetadata(intent.Metadata)
	if userID == uuid.Nil {
		s.logger.Warn("payment intent without user metadata", "event_id", event.ID, "provider_id", intent.ID)
		return nil
	}

	result, err := s.finalizer.Finalize(ctx, userID, intent.ID)
	if err != nil {
		if domain.IsRetryable(err) {
			return err
		}
		s.logger.Warn("webhook finalize rejected", "event_id", event.ID, "provider_id", intent.ID, "error", err)
		return nil
	}

	s.logger.Info("webhook finalize complete",
		"event_id", event.ID, "provider_id", intent.ID, "purchase_id", result.PurchaseID, "replayed", result.Replayed)
	return nil
}

// ListPurchases returns the user's purchase history, newest first.
func (s *PurchaseService) ListPurchases(ctx context.Context, userID uuid.UUID, limit int) ([]domain.Purchase, error) {
	purchases, err := s.store.ListPurchases(ctx, userID, clampLimit(limit))
	if err != nil {
		return nil, storageErr("list purchases", err)
	}
	return purchases, nil
}

// ListRecentPurchases is the admin audit view across all users.
func (s *PurchaseService) ListRecentPurchases(ctx context.Context, limit int) ([]domain.Purchase, error) {
	purchases, err := s.store.ListRecentPurchases(ctx, clampLimit(limit))
	if err != nil {
		return nil, storageErr("list recent purchases", err)
	}
	return purchases, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	return min(limit, maxHistoryLimit)
}

// LookupPurchase finds a committed purchase by its payment provider id, for
// support reconciliation against the provider dashboard.
func (s *PurchaseService) LookupPurchase(ctx context.Context, providerID string) (*domain.Purchase, error) {
	if err := domain.ValidateProviderID(providerID); err != nil {
		return nil, err
	}
	p, err := s.store.FindPurchaseByProviderID(ctx, providerID)
	if err != nil {
		return nil, storageErr("find purchase", err)
	}
	if p == nil {
		return nil, domain.ErrNotFound("purchase", providerID)
	}
	return p, nil
}
