package domain

import (
	"context"

	"github.com/aicollections/billingbot/internal/conversation"
	"github.com/bwmarrin/snowflake"
)

// Service stores one dialogue state per account. Get returns the default
// state when no row exists; Set with the default state clears the row.
type Service interface {
	Get(ctx context.Context, accountID snowflake.ID) (conversation.State, error)
	Set(ctx context.Context, accountID snowflake.ID, state conversation.State) error
	// Clear removes the account's state row, returning it to the default.
	Clear(ctx context.Context, accountID snowflake.ID) error
}
