// Package domain contains persistence models for the usage ledger.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// UsageEvent is one recorded unit of metered content consumption. Paid events
// start with PendingCharge set and no external record id; the reconciliation
// engine flips them to synced exactly once. Free events never carry an
// external id.
type UsageEvent struct {
	ID                    snowflake.ID      `gorm:"primaryKey"`
	AccountID             snowflake.ID      `gorm:"not null;index"`
	Kind                  string            `gorm:"type:text;not null"`
	Quantity              int64             `gorm:"not null;default:1"`
	IsFree                bool              `gorm:"not null;default:false"`
	PendingCharge         bool              `gorm:"not null;default:false;index"`
	ExternalUsageRecordID *string           `gorm:"type:text"`
	SubscriptionID        string            `gorm:"type:text"`
	Metadata              datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageEvent) TableName() string { return "usage_events" }

// Synced reports whether the event has been acknowledged by the billing
// provider.
func (e *UsageEvent) Synced() bool {
	return e.ExternalUsageRecordID != nil && *e.ExternalUsageRecordID != ""
}
