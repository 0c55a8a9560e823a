package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	accountdomain "github.com/aicollections/billingbot/internal/account/domain"
	"github.com/aicollections/billingbot/internal/billingperiod"
	"github.com/aicollections/billingbot/internal/catalog"
	"github.com/aicollections/billingbot/internal/clock"
	"github.com/aicollections/billingbot/internal/config"
	ledgerdomain "github.com/aicollections/billingbot/internal/ledger/domain"
	obsmetrics "github.com/aicollections/billingbot/internal/observability/metrics"
	"github.com/aicollections/billingbot/internal/providers/billing"
	reconciledomain "github.com/aicollections/billingbot/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Cfg        config.Config
	Clock      clock.Clock
	Provider   billing.Provider
	Catalog    catalog.Catalog
	AccountSvc accountdomain.Service
	LedgerSvc  ledgerdomain.Service
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	cfg   config.Config
	clock clock.Clock

	provider   billing.Provider
	catalog    catalog.Catalog
	accountSvc accountdomain.Service
	ledgerSvc  ledgerdomain.Service
}

func NewService(p ServiceParam) reconciledomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("reconcile.service"),
		cfg:   p.Cfg,
		clock: p.Clock,

		provider:   p.Provider,
		catalog:    p.Catalog,
		accountSvc: p.AccountSvc,
		ledgerSvc:  p.LedgerSvc,
	}
}

func (s *Service) IsChargeEligible(ctx context.Context, account *accountdomain.Account) (reconciledomain.Eligibility, error) {
	if account == nil || strings.TrimSpace(account.ExternalSubscriptionID) == "" {
		return reconciledomain.Eligibility{Reason: reconciledomain.ReasonNoSubscription}, nil
	}

	sub, err := s.getSubscription(ctx, account.ExternalSubscriptionID)
	if err != nil {
		if errors.Is(err, billing.ErrSubscriptionNotFound) {
			return reconciledomain.Eligibility{Reason: reconciledomain.ReasonSubNotFound}, nil
		}
		return reconciledomain.Eligibility{}, err
	}

	switch sub.Status {
	case billing.StatusActive:
		// An active subscription whose anchor has not started yet has no
		// current period to charge into.
		if !s.inCurrentPeriod(sub) {
			return reconciledomain.Eligibility{Reason: reconciledomain.ReasonPeriodMismatch, Subscription: sub}, nil
		}
		return reconciledomain.Eligibility{Eligible: true, Reason: reconciledomain.ReasonActive, Subscription: sub}, nil
	case billing.StatusTrialing:
		// The anchor of a trialing subscription is the trial end, so the
		// period check does not apply until the trial converts.
		return reconciledomain.Eligibility{Eligible: true, Reason: reconciledomain.ReasonTrialing, Subscription: sub}, nil
	default:
		return reconciledomain.Eligibility{Reason: reconciledomain.ReasonStatusIneligible, Subscription: sub}, nil
	}
}

func (s *Service) inCurrentPeriod(sub billing.Subscription) bool {
	if sub.Anchor.IsZero() {
		return true
	}
	now := s.clock.Now()
	return billingperiod.Resolve(sub.Anchor, now).Contains(now)
}

func (s *Service) ClassifyAndRecord(ctx context.Context, req reconciledomain.ClassifyAndRecordRequest) (*reconciledomain.ClassifyAndRecordResponse, error) {
	eligibility, err := s.IsChargeEligible(ctx, req.Account)
	if err != nil {
		return nil, err
	}
	if !eligibility.Eligible {
		return nil, fmt.Errorf("%w: %s", reconciledomain.ErrNotEligible, eligibility.Reason)
	}

	// The allowance count and the event insert must land together, or two
	// concurrent deliveries could both observe a zero count and both come
	// out free.
	var (
		event      *ledgerdomain.UsageEvent
		isFree     bool
		freeReason string
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ledger := s.ledgerSvc.WithTrx(tx)

		var txErr error
		isFree, freeReason, txErr = s.classify(ctx, ledger, req.Account, req.Kind, eligibility)
		if txErr != nil {
			return txErr
		}

		event, txErr = ledger.RecordUsage(ctx, ledgerdomain.RecordUsageRequest{
			AccountID:      req.Account.ID,
			Kind:           req.Kind,
			Quantity:       req.Quantity,
			IsFree:         isFree,
			SubscriptionID: eligibility.Subscription.ID,
			Metadata:       req.Metadata,
		})
		return txErr
	})
	if err != nil {
		return nil, err
	}

	classification := obsmetrics.ClassificationPaid
	if isFree {
		classification = obsmetrics.ClassificationFree
	}
	obsmetrics.Engine().IncUsageRecorded(event.Kind, classification)

	resp := &reconciledomain.ClassifyAndRecordResponse{
		Event:      event,
		IsFree:     isFree,
		FreeReason: freeReason,
	}
	if isFree {
		resp.Synced = true
		return resp, nil
	}

	// Provider failure leaves the event pending; the sweep picks it up.
	resp.Synced = s.submit(ctx, event, eligibility.Subscription)
	return resp, nil
}

func (s *Service) classify(ctx context.Context, ledger ledgerdomain.Service, account *accountdomain.Account, kind string, eligibility reconciledomain.Eligibility) (bool, string, error) {
	if eligibility.Subscription.Status == billing.StatusTrialing {
		return true, reconciledomain.FreeReasonTrialing, nil
	}

	switch s.cfg.Billing.FreeAllowance {
	case config.AllowanceFirstGlobal:
		total, err := ledger.CountAll(ctx, account.ID)
		if err != nil {
			return false, "", err
		}
		if total == 0 {
			return true, reconciledomain.FreeReasonAllowance, nil
		}
	default:
		byKind, err := ledger.CountByKind(ctx, account.ID, kind)
		if err != nil {
			return false, "", err
		}
		if byKind == 0 {
			return true, reconciledomain.FreeReasonAllowance, nil
		}
	}
	return false, "", nil
}

// submit pushes one paid event to the provider. The idempotency key is
// derived from the event id, so a retry after a lost response cannot double
// charge. Returns whether the event is now synced.
func (s *Service) submit(ctx context.Context, event *ledgerdomain.UsageEvent, sub billing.Subscription) bool {
	log := s.log.With(
		zap.String("event_id", event.ID.String()),
		zap.String("subscription_id", sub.ID),
	)

	item, ok := sub.MeteredItem()
	if !ok {
		obsmetrics.Engine().IncSyncAttempt(obsmetrics.SyncOutcomePending)
		log.Warn("subscription has no metered item, charge stays pending")
		return false
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Billing.ProviderTimeout)
	defer cancel()

	recordID, err := s.provider.SubmitUsage(callCtx, item.ID, event.Quantity, idempotencyKey(event))
	if err != nil || recordID == "" {
		obsmetrics.Engine().IncSyncAttempt(obsmetrics.SyncOutcomePending)
		log.Warn("usage submission failed, charge stays pending", zap.Error(err))
		return false
	}

	if err := s.ledgerSvc.MarkSynced(ctx, event.ID, recordID); err != nil {
		// The provider accepted the charge under our idempotency key; a
		// retried submission returns the same record id, so losing this
		// write is recoverable.
		obsmetrics.Engine().IncSyncAttempt(obsmetrics.SyncOutcomePending)
		log.Warn("failed to persist usage record id", zap.Error(err))
		return false
	}

	obsmetrics.Engine().IncSyncAttempt(obsmetrics.SyncOutcomeSynced)
	log.Info("usage synced", zap.String("external_record_id", recordID))
	return true
}

func (s *Service) Resync(ctx context.Context, account *accountdomain.Account, newSubscriptionID string) (int64, error) {
	newSubscriptionID = strings.TrimSpace(newSubscriptionID)
	if account == nil || newSubscriptionID == "" {
		return 0, accountdomain.ErrAccountNotFound
	}

	var reverted int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&accountdomain.Account{}).
			Where("id = ?", account.ID).
			Updates(map[string]any{
				"external_subscription_id": newSubscriptionID,
				"updated_at":               s.clock.Now(),
			}).Error; err != nil {
			return err
		}

		n, err := s.ledgerSvc.WithTrx(tx).ClearExternalLinks(ctx, ledgerdomain.ClearExternalLinksRequest{
			AccountID:      account.ID,
			SubscriptionID: newSubscriptionID,
		})
		if err != nil {
			return err
		}
		reverted = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	account.ExternalSubscriptionID = newSubscriptionID
	obsmetrics.Engine().IncResync()
	s.log.Info("subscription resynced",
		zap.String("account_id", account.ID.String()),
		zap.String("subscription_id", newSubscriptionID),
		zap.Int64("events_reverted", reverted),
	)
	return reverted, nil
}

func (s *Service) RetryPending(ctx context.Context, limit int) (reconciledomain.RetryReport, error) {
	var report reconciledomain.RetryReport

	events, err := s.ledgerSvc.ListPending(ctx, limit)
	if err != nil {
		return report, err
	}

	for _, event := range events {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Attempted++

		account, err := s.accountSvc.GetByID(ctx, event.AccountID.String())
		if err != nil || account == nil {
			report.Skipped++
			continue
		}

		eligibility, err := s.IsChargeEligible(ctx, account)
		if err != nil {
			report.Failed++
			continue
		}
		if !eligibility.Eligible {
			report.Skipped++
			continue
		}

		if s.submit(ctx, event, eligibility.Subscription) {
			report.Synced++
		} else {
			report.Failed++
		}
	}

	return report, nil
}

func (s *Service) CancelUsage(ctx context.Context, account *accountdomain.Account, listIndex int) (*ledgerdomain.UsageEvent, error) {
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}

	events, err := s.ledgerSvc.ListByAccount(ctx, account.ID)
	if err != nil {
		return nil, err
	}
	if listIndex < 1 || listIndex > len(events) {
		return nil, reconciledomain.ErrInvalidCancelIndex
	}
	event := events[listIndex-1]

	if event.Synced() {
		callCtx, cancel := context.WithTimeout(ctx, s.cfg.Billing.ProviderTimeout)
		defer cancel()
		if err := s.provider.VoidUsageRecord(callCtx, *event.ExternalUsageRecordID); err != nil {
			return nil, err
		}
	}

	if err := s.ledgerSvc.Delete(ctx, event.ID); err != nil {
		return nil, err
	}

	s.log.Info("usage cancelled",
		zap.String("account_id", account.ID.String()),
		zap.String("event_id", event.ID.String()),
		zap.String("kind", event.Kind),
	)
	return event, nil
}

func (s *Service) StatusSummary(ctx context.Context, account *accountdomain.Account) (*reconciledomain.StatusSummary, error) {
	eligibility, err := s.IsChargeEligible(ctx, account)
	if err != nil {
		return nil, err
	}

	summary := &reconciledomain.StatusSummary{
		Eligibility:  eligibility,
		CountsByKind: make(map[string]int64, s.catalog.Len()),
	}
	if account == nil {
		return summary, nil
	}

	for _, item := range s.catalog.Items() {
		count, err := s.ledgerSvc.CountByKind(ctx, account.ID, item.Kind)
		if err != nil {
			return nil, err
		}
		summary.CountsByKind[item.Kind] = count
		summary.Total += count
	}

	if eligibility.Eligible && !eligibility.Subscription.Anchor.IsZero() {
		summary.Period = billingperiod.Resolve(eligibility.Subscription.Anchor, s.clock.Now())
	}
	return summary, nil
}

func (s *Service) getSubscription(ctx context.Context, id string) (billing.Subscription, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Billing.ProviderTimeout)
	defer cancel()
	return s.provider.GetSubscription(callCtx, id)
}

func idempotencyKey(event *ledgerdomain.UsageEvent) string {
	return "usage-" + event.ID.String()
}
