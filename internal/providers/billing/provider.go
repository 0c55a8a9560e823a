// Package billing defines the narrow capability set consumed from the
// external billing provider. The provider's HTTP protocol lives outside
// this repository; production wiring supplies a real implementation.
package billing

import (
	"context"
	"errors"
	"time"
)

type SubscriptionStatus string

const (
	StatusActive            SubscriptionStatus = "active"
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
)

// Subscription is the provider-side view the engine depends on. Anchor is
// the trial end for trialing subscriptions, otherwise the current period
// start; it can change underneath an account at any time, so callers must
// never cache it beyond a single reconciliation.
type Subscription struct {
	ID     string
	Status SubscriptionStatus
	Anchor time.Time
	Items  []SubscriptionItem
}

type SubscriptionItem struct {
	ID      string
	Metered bool
}

type InvoiceItem struct {
	ID          string
	CustomerID  string
	Description string
	Amount      int64
}

var (
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrRetriable            = errors.New("provider_retriable")
)

type Provider interface {
	GetSubscription(ctx context.Context, id string) (Subscription, error)
	// SubmitUsage must be safe to retry with the same idempotency key; the
	// provider returns the same usage-record id for a repeated key.
	SubmitUsage(ctx context.Context, itemID string, quantity int64, idempotencyKey string) (string, error)
	ListInvoiceItems(ctx context.Context, customerID string) ([]InvoiceItem, error)
	VoidUsageRecord(ctx context.Context, externalRecordID string) error
}

// MeteredItem returns the first metered item of the subscription, if any.
func (s Subscription) MeteredItem() (SubscriptionItem, bool) {
	for _, item := range s.Items {
		if item.Metered {
			return item, true
		}
	}
	return SubscriptionItem{}, false
}

type NoOpProvider struct{}

func (NoOpProvider) GetSubscription(ctx context.Context, id string) (Subscription, error) {
	return Subscription{}, ErrSubscriptionNotFound
}

func (NoOpProvider) SubmitUsage(ctx context.Context, itemID string, quantity int64, idempotencyKey string) (string, error) {
	return "", nil
}

func (NoOpProvider) ListInvoiceItems(ctx context.Context, customerID string) ([]InvoiceItem, error) {
	return nil, nil
}

func (NoOpProvider) VoidUsageRecord(ctx context.Context, externalRecordID string) error {
	return nil
}
