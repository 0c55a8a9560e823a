package domain

import (
	"context"
	"errors"
)

type RegisterRequest struct {
	ChatUserID             string `json:"chat_user_id"`
	ExternalCustomerID     string `json:"external_customer_id"`
	ExternalSubscriptionID string `json:"external_subscription_id"`
}

type LinkRequest struct {
	ChatUserID             string `json:"chat_user_id"`
	ExternalCustomerID     string `json:"external_customer_id"`
	ExternalSubscriptionID string `json:"external_subscription_id"`
}

type Service interface {
	Register(ctx context.Context, req RegisterRequest) (*Account, error)
	GetByChatUserID(ctx context.Context, chatUserID string) (*Account, error)
	GetByCustomerID(ctx context.Context, customerID string) (*Account, error)
	GetByID(ctx context.Context, id string) (*Account, error)
	// Link attaches billing identifiers to the chat user's account,
	// registering the account first if none exists.
	Link(ctx context.Context, req LinkRequest) (*Account, error)
	Unlink(ctx context.Context, chatUserID string) error
}

var (
	ErrInvalidChatUser  = errors.New("invalid_chat_user")
	ErrAccountNotFound  = errors.New("account_not_found")
	ErrDuplicateAccount = errors.New("duplicate_account")
)
