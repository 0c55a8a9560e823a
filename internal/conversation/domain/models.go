// Package domain contains the persisted dialogue state row.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// ConversationState is the single durable dialogue position per account. An
// absent row means the default state.
type ConversationState struct {
	AccountID snowflake.ID `gorm:"primaryKey"`
	StateTag  string       `gorm:"type:text;not null"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (ConversationState) TableName() string { return "conversation_states" }
