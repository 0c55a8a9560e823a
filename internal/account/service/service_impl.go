package service

import (
	"context"
	"strings"

	accountdomain "github.com/aicollections/billingbot/internal/account/domain"
	"github.com/aicollections/billingbot/internal/clock"
	"github.com/aicollections/billingbot/pkg/db"
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

	genID       *snowflake.Node
	accountrepo repository.Repository[accountdomain.Account]
}

func NewService(p ServiceParam) accountdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("account.service"),
		clock: p.Clock,

		genID:       p.GenID,
		accountrepo: repository.ProvideStore[accountdomain.Account](p.DB),
	}
}

func (s *Service) Register(ctx context.Context, req accountdomain.RegisterRequest) (*accountdomain.Account, error) {
	chatUserID := strings.TrimSpace(req.ChatUserID)
	if chatUserID == "" {
		return nil, accountdomain.ErrInvalidChatUser
	}

	now := s.clock.Now()
	account := &accountdomain.Account{
		ID:                     s.genID.Generate(),
		ChatUserID:             chatUserID,
		ExternalCustomerID:     strings.TrimSpace(req.ExternalCustomerID),
		ExternalSubscriptionID: strings.TrimSpace(req.ExternalSubscriptionID),
		CreatedAt:              now,
		UpdatedAt:              now,
	}

	if err := s.accountrepo.Create(ctx, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, accountdomain.ErrDuplicateAccount
		}
		return nil, err
	}

	s.log.Info("account registered",
		zap.String("account_id", account.ID.String()),
		zap.String("chat_user_id", chatUserID),
	)
	return account, nil
}

func (s *Service) GetByChatUserID(ctx context.Context, chatUserID string) (*accountdomain.Account, error) {
	chatUserID = strings.TrimSpace(chatUserID)
	if chatUserID == "" {
		return nil, accountdomain.ErrInvalidChatUser
	}
	return s.accountrepo.FindOne(ctx, &accountdomain.Account{ChatUserID: chatUserID})
}

func (s *Service) GetByCustomerID(ctx context.Context, customerID string) (*accountdomain.Account, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, nil
	}
	return s.accountrepo.FindOne(ctx, &accountdomain.Account{ExternalCustomerID: customerID})
}

func (s *Service) Link(ctx context.Context, req accountdomain.LinkRequest) (*accountdomain.Account, error) {
	account, err := s.GetByChatUserID(ctx, req.ChatUserID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return s.Register(ctx, accountdomain.RegisterRequest{
			ChatUserID:             req.ChatUserID,
			ExternalCustomerID:     req.ExternalCustomerID,
			ExternalSubscriptionID: req.ExternalSubscriptionID,
		})
	}

	updates := map[string]any{"updated_at": s.clock.Now()}
	if customerID := strings.TrimSpace(req.ExternalCustomerID); customerID != "" {
		updates["external_customer_id"] = customerID
		account.ExternalCustomerID = customerID
	}
	if subscriptionID := strings.TrimSpace(req.ExternalSubscriptionID); subscriptionID != "" {
		updates["external_subscription_id"] = subscriptionID
		account.ExternalSubscriptionID = subscriptionID
	}
	if err := s.accountrepo.Update(ctx, account.ID.String(), updates); err != nil {
		return nil, err
	}

	s.log.Info("account linked",
		zap.String("account_id", account.ID.String()),
		zap.String("external_customer_id", account.ExternalCustomerID),
	)
	return account, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (*accountdomain.Account, error) {
	parsed, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil || parsed == 0 {
		return nil, accountdomain.ErrAccountNotFound
	}
	return s.accountrepo.FindOne(ctx, &accountdomain.Account{ID: parsed})
}

func (s *Service) Unlink(ctx context.Context, chatUserID string) error {
	account, err := s.GetByChatUserID(ctx, chatUserID)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}
	return s.accountrepo.Delete(ctx, account.ID.String())
}
