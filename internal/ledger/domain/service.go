package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type RecordUsageRequest struct {
	AccountID      snowflake.ID      `json:"account_id"`
	Kind           string            `json:"kind"`
	Quantity       int64             `json:"quantity"`
	IsFree         bool              `json:"is_free"`
	SubscriptionID string            `json:"subscription_id"`
	Metadata       datatypes.JSONMap `json:"metadata"`
}

type ClearExternalLinksRequest struct {
	AccountID      snowflake.ID `json:"account_id"`
	SubscriptionID string       `json:"subscription_id"`
}

type Service interface {
	// WithTrx rebinds the service to a running transaction so callers can
	// compose ledger writes with their own.
	WithTrx(tx *gorm.DB) Service
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*UsageEvent, error)
	MarkSynced(ctx context.Context, eventID snowflake.ID, externalRecordID string) error
	// ClearExternalLinks detaches every synced paid event of the account from
	// its external usage record, repoints it at subscriptionID, and returns it
	// to the pending queue. Returns the number of events reverted.
	ClearExternalLinks(ctx context.Context, req ClearExternalLinksRequest) (int64, error)
	ListPending(ctx context.Context, limit int) ([]*UsageEvent, error)
	ListByAccount(ctx context.Context, accountID snowflake.ID) ([]*UsageEvent, error)
	GetByID(ctx context.Context, eventID snowflake.ID) (*UsageEvent, error)
	CountByKind(ctx context.Context, accountID snowflake.ID, kind string) (int64, error)
	CountAll(ctx context.Context, accountID snowflake.ID) (int64, error)
	Delete(ctx context.Context, eventID snowflake.ID) error
}

var (
	ErrInvalidUsage     = errors.New("invalid_usage")
	ErrUsageNotFound    = errors.New("usage_not_found")
	ErrAlreadySynced    = errors.New("usage_already_synced")
	ErrExternalMismatch = errors.New("usage_external_record_mismatch")
)
