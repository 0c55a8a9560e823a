package service

import (
	"context"
	"strings"

	"github.com/aicollections/billingbot/internal/clock"
	ledgerdomain "github.com/aicollections/billingbot/internal/ledger/domain"
	"github.com/aicollections/billingbot/pkg/db/option"
	"github.com/aicollections/billingbot/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	GenID *snowflake.Node
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	genID     *snowflake.Node
	usagerepo repository.Repository[ledgerdomain.UsageEvent]
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("ledger.service"),
		clock: p.Clock,

		genID:     p.GenID,
		usagerepo: repository.ProvideStore[ledgerdomain.UsageEvent](p.DB),
	}
}

func (s *Service) WithTrx(tx *gorm.DB) ledgerdomain.Service {
	return &Service{
		db:    tx,
		log:   s.log,
		clock: s.clock,

		genID:     s.genID,
		usagerepo: s.usagerepo.WithTrx(tx),
	}
}

func (s *Service) RecordUsage(ctx context.Context, req ledgerdomain.RecordUsageRequest) (*ledgerdomain.UsageEvent, error) {
	kind := strings.TrimSpace(req.Kind)
	if req.AccountID == 0 || kind == "" {
		return nil, ledgerdomain.ErrInvalidUsage
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	now := s.clock.Now()
	event := &ledgerdomain.UsageEvent{
		ID:             s.genID.Generate(),
		AccountID:      req.AccountID,
		Kind:           kind,
		Quantity:       quantity,
		IsFree:         req.IsFree,
		PendingCharge:  !req.IsFree,
		SubscriptionID: strings.TrimSpace(req.SubscriptionID),
		Metadata:       req.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := s.usagerepo.Create(ctx, event); err != nil {
		return nil, err
	}

	s.log.Info("usage recorded",
		zap.String("event_id", event.ID.String()),
		zap.String("account_id", event.AccountID.String()),
		zap.String("kind", event.Kind),
		zap.Bool("is_free", event.IsFree),
	)
	return event, nil
}

// MarkSynced attaches the provider's usage record id to the event and clears
// the pending flag. The external id is written at most once: a repeated call
// with the same id is a no-op, a different id is rejected.
func (s *Service) MarkSynced(ctx context.Context, eventID snowflake.ID, externalRecordID string) error {
	externalRecordID = strings.TrimSpace(externalRecordID)
	if eventID == 0 || externalRecordID == "" {
		return ledgerdomain.ErrInvalidUsage
	}

	result := s.db.WithContext(ctx).
		Model(&ledgerdomain.UsageEvent{}).
		Where("id = ? AND external_usage_record_id IS NULL", eventID).
		Updates(map[string]any{
			"external_usage_record_id": externalRecordID,
			"pending_charge":           false,
			"updated_at":               s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	event, err := s.usagerepo.FindOne(ctx, &ledgerdomain.UsageEvent{ID: eventID})
	if err != nil {
		return err
	}
	if event == nil {
		return ledgerdomain.ErrUsageNotFound
	}
	if event.ExternalUsageRecordID != nil && *event.ExternalUsageRecordID == externalRecordID {
		return nil
	}
	return ledgerdomain.ErrExternalMismatch
}

func (s *Service) ClearExternalLinks(ctx context.Context, req ledgerdomain.ClearExternalLinksRequest) (int64, error) {
	if req.AccountID == 0 {
		return 0, ledgerdomain.ErrInvalidUsage
	}

	result := s.db.WithContext(ctx).
		Model(&ledgerdomain.UsageEvent{}).
		Where("account_id = ? AND is_free = ?", req.AccountID, false).
		Updates(map[string]any{
			"external_usage_record_id": nil,
			"pending_charge":           true,
			"subscription_id":          strings.TrimSpace(req.SubscriptionID),
			"updated_at":               s.clock.Now(),
		})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		s.log.Info("usage external links cleared",
			zap.String("account_id", req.AccountID.String()),
			zap.Int64("events", result.RowsAffected),
		)
	}
	return result.RowsAffected, nil
}

func (s *Service) ListPending(ctx context.Context, limit int) ([]*ledgerdomain.UsageEvent, error) {
	opts := []option.QueryOption{option.WithOrder("created_at ASC")}
	if limit > 0 {
		opts = append(opts, option.WithLimit(limit))
	}
	return s.usagerepo.Find(ctx, &ledgerdomain.UsageEvent{PendingCharge: true}, opts...)
}

func (s *Service) ListByAccount(ctx context.Context, accountID snowflake.ID) ([]*ledgerdomain.UsageEvent, error) {
	return s.usagerepo.Find(ctx, &ledgerdomain.UsageEvent{AccountID: accountID},
		option.WithOrder("created_at ASC"))
}

func (s *Service) GetByID(ctx context.Context, eventID snowflake.ID) (*ledgerdomain.UsageEvent, error) {
	return s.usagerepo.FindOne(ctx, &ledgerdomain.UsageEvent{ID: eventID})
}

func (s *Service) CountByKind(ctx context.Context, accountID snowflake.ID, kind string) (int64, error) {
	return s.usagerepo.Count(ctx, &ledgerdomain.UsageEvent{AccountID: accountID, Kind: kind})
}

func (s *Service) CountAll(ctx context.Context, accountID snowflake.ID) (int64, error) {
	return s.usagerepo.Count(ctx, &ledgerdomain.UsageEvent{AccountID: accountID})
}

func (s *Service) Delete(ctx context.Context, eventID snowflake.ID) error {
	return s.usagerepo.Delete(ctx, eventID.String())
}
