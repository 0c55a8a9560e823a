// Package domain defines the usage reconciliation engine's contract: free or
// paid classification, exactly-once provider sync, pending-charge retries,
// and subscription-swap resync.
package domain

import (
	"context"
	"errors"

	accountdomain "github.com/aicollections/billingbot/internal/account/domain"
	"github.com/aicollections/billingbot/internal/billingperiod"
	ledgerdomain "github.com/aicollections/billingbot/internal/ledger/domain"
	"github.com/aicollections/billingbot/internal/providers/billing"
	"gorm.io/datatypes"
)

// Eligibility reason codes.
const (
	ReasonActive           = "active"
	ReasonTrialing         = "trialing"
	ReasonNoSubscription   = "no_subscription"
	ReasonSubNotFound      = "subscription_not_found"
	ReasonStatusIneligible = "status_ineligible"
	ReasonPeriodMismatch   = "period_mismatched"
)

// Free classification reason codes.
const (
	FreeReasonTrialing  = "trialing"
	FreeReasonAllowance = "allowance"
)

type ClassifyAndRecordRequest struct {
	Account  *accountdomain.Account
	Kind     string
	Quantity int64
	Metadata datatypes.JSONMap
}

// ClassifyAndRecordResponse reports what happened to one usage event. Synced
// false on a paid event means the provider call failed and the event stays in
// the pending queue for the retry sweep.
type ClassifyAndRecordResponse struct {
	Event      *ledgerdomain.UsageEvent
	IsFree     bool
	FreeReason string
	Synced     bool
}

// Eligibility is the charge-eligibility verdict for an account, carrying the
// provider-side subscription when one was resolved.
type Eligibility struct {
	Eligible     bool
	Reason       string
	Subscription billing.Subscription
}

// RetryReport summarizes one pending-charge sweep.
type RetryReport struct {
	Attempted int
	Synced    int
	Failed    int
	Skipped   int
}

// StatusSummary is the account's usage overview for the current billing
// period.
type StatusSummary struct {
	Eligibility  Eligibility
	Period       billingperiod.Period
	CountsByKind map[string]int64
	Total        int64
}

type Service interface {
	// ClassifyAndRecord runs the full pipeline for one consumption: verify
	// eligibility, classify free or paid, write the ledger event, and for paid
	// events submit the charge to the provider exactly once. A provider
	// failure is not an error; the event simply stays pending.
	ClassifyAndRecord(ctx context.Context, req ClassifyAndRecordRequest) (*ClassifyAndRecordResponse, error)
	// IsChargeEligible resolves the account's subscription and reports whether
	// usage may be recorded against it.
	IsChargeEligible(ctx context.Context, account *accountdomain.Account) (Eligibility, error)
	// Resync repoints the account at a replacement subscription and reverts
	// every paid ledger event to pending so charges land on the new
	// subscription. Safe to repeat.
	Resync(ctx context.Context, account *accountdomain.Account, newSubscriptionID string) (int64, error)
	// RetryPending submits queued paid events to the provider, oldest first.
	RetryPending(ctx context.Context, limit int) (RetryReport, error)
	// CancelUsage voids and removes the account's n-th recorded event
	// (1-based, oldest first).
	CancelUsage(ctx context.Context, account *accountdomain.Account, listIndex int) (*ledgerdomain.UsageEvent, error)
	// StatusSummary reports per-kind usage counts and the current billing
	// period.
	StatusSummary(ctx context.Context, account *accountdomain.Account) (*StatusSummary, error)
}

var (
	ErrNotEligible        = errors.New("account_not_charge_eligible")
	ErrInvalidCancelIndex = errors.New("invalid_cancel_index")
)
