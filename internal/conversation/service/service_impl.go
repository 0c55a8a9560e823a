package service

import (
	"context"

	"github.com/aicollections/billingbot/internal/clock"
	"github.com/aicollections/billingbot/internal/conversation"
	conversationdomain "github.com/aicollections/billingbot/internal/conversation/domain"
	"github.com/aicollections/billingbot/pkg/repository"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock

	staterepo repository.Repository[conversationdomain.ConversationState]
}

func NewService(p ServiceParam) conversationdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("conversation.service"),
		clock: p.Clock,

		staterepo: repository.ProvideStore[conversationdomain.ConversationState](p.DB),
	}
}

func (s *Service) Get(ctx context.Context, accountID snowflake.ID) (conversation.State, error) {
	row, err := s.staterepo.FindOne(ctx, &conversationdomain.ConversationState{AccountID: accountID})
	if err != nil {
		return conversation.Default(), err
	}
	if row == nil {
		return conversation.Default(), nil
	}
	return conversation.ParseTag(row.StateTag), nil
}

func (s *Service) Set(ctx context.Context, accountID snowflake.ID, state conversation.State) error {
	if state.IsDefault() {
		return s.Clear(ctx, accountID)
	}

	now := s.clock.Now()
	row := &conversationdomain.ConversationState{
		AccountID: accountID,
		StateTag:  state.Tag(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state_tag", "updated_at"}),
		}).
		Create(row).Error
}

func (s *Service) Clear(ctx context.Context, accountID snowflake.ID) error {
	return s.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Delete(&conversationdomain.ConversationState{}).Error
}
