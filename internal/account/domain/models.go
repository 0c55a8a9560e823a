// Package domain contains persistence models for subscriber accounts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Account links a chat-platform user to the billing provider's customer and
// subscription. An account holds at most one active subscription id; the
// reconciliation engine repoints it atomically when the provider-side
// subscription is replaced.
type Account struct {
	ID                     snowflake.ID `gorm:"primaryKey"`
	ChatUserID             string       `gorm:"type:text;not null;uniqueIndex"`
	ExternalCustomerID     string       `gorm:"type:text"`
	ExternalSubscriptionID string       `gorm:"type:text"`
	CreatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt              time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Account) TableName() string { return "accounts" }
