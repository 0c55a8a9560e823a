package dialogue

import (
	"context"
	"errors"
	"testing"

	accountdomain "github.com/aicollections/billingbot/internal/account/domain"
	accountservice "github.com/aicollections/billingbot/internal/account/service"
	"github.com/aicollections/billingbot/internal/catalog"
	"github.com/aicollections/billingbot/internal/clock"
	"github.com/aicollections/billingbot/internal/conversation"
	conversationdomain "github.com/aicollections/billingbot/internal/conversation/domain"
	conversationservice "github.com/aicollections/billingbot/internal/conversation/service"
	ledgerdomain "github.com/aicollections/billingbot/internal/ledger/domain"
	ledgerservice "github.com/aicollections/billingbot/internal/ledger/service"
	"github.com/aicollections/billingbot/internal/providers/messaging"
	reconciledomain "github.com/aicollections/billingbot/internal/reconcile/domain"
	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// -- Mocks --

type reconcileMock struct {
	mock.Mock
}

func (m *reconcileMock) ClassifyAndRecord(ctx context.Context, req reconciledomain.ClassifyAndRecordRequest) (*reconciledomain.ClassifyAndRecordResponse, error) {
	args := m.Called(ctx, req)
	resp := args.Get(0)
	if resp == nil {
		return nil, args.Error(1)
	}
	return resp.(*reconciledomain.ClassifyAndRecordResponse), args.Error(1)
}

func (m *reconcileMock) IsChargeEligible(ctx context.Context, account *accountdomain.Account) (reconciledomain.Eligibility, error) {
	return reconciledomain.Eligibility{}, nil
}

func (m *reconcileMock) Resync(ctx context.Context, account *accountdomain.Account, newSubscriptionID string) (int64, error) {
	return 0, nil
}

func (m *reconcileMock) RetryPending(ctx context.Context, limit int) (reconciledomain.RetryReport, error) {
	return reconciledomain.RetryReport{}, nil
}

func (m *reconcileMock) CancelUsage(ctx context.Context, account *accountdomain.Account, listIndex int) (*ledgerdomain.UsageEvent, error) {
	args := m.Called(ctx, account, listIndex)
	event := args.Get(0)
	if event == nil {
		return nil, args.Error(1)
	}
	return event.(*ledgerdomain.UsageEvent), args.Error(1)
}

func (m *reconcileMock) StatusSummary(ctx context.Context, account *accountdomain.Account) (*reconciledomain.StatusSummary, error) {
	args := m.Called(ctx, account)
	summary := args.Get(0)
	if summary == nil {
		return nil, args.Error(1)
	}
	return summary.(*reconciledomain.StatusSummary), args.Error(1)
}

type messengerRecorder struct {
	sent []string
}

func (m *messengerRecorder) SendMessage(ctx context.Context, chatUserID string, content string) error {
	m.sent = append(m.sent, content)
	return nil
}

type failingStateStore struct{}

func (failingStateStore) Get(ctx context.Context, accountID snowflake.ID) (conversation.State, error) {
	return conversation.State{Name: conversation.StateConfirmPending, Selection: 2}, nil
}

func (failingStateStore) Set(ctx context.Context, accountID snowflake.ID, state conversation.State) error {
	return errors.New("disk full")
}

func (failingStateStore) Clear(ctx context.Context, accountID snowflake.ID) error {
	return errors.New("disk full")
}

// -- Fixture --

type fixture struct {
	orch       *Orchestrator
	reconcile  *reconcileMock
	messenger  *messengerRecorder
	stateSvc   conversationdomain.Service
	accountSvc accountdomain.Service
	ledgerSvc  ledgerdomain.Service
	node       *snowflake.Node
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&accountdomain.Account{},
		&ledgerdomain.UsageEvent{},
		&conversationdomain.ConversationState{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	accountSvc := accountservice.NewService(accountservice.ServiceParam{DB: db, Log: zap.NewNop(), Clock: clock.SystemClock{}, GenID: node})
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{DB: db, Log: zap.NewNop(), Clock: clock.SystemClock{}, GenID: node})
	stateSvc := conversationservice.NewService(conversationservice.ServiceParam{DB: db, Log: zap.NewNop(), Clock: clock.SystemClock{}})

	rec := new(reconcileMock)
	sender := &messengerRecorder{}

	orch := New(Params{
		Log:          zap.NewNop(),
		Machine:      conversation.NewMachine(catalog.Default()),
		Catalog:      catalog.Default(),
		AccountSvc:   accountSvc,
		StateSvc:     stateSvc,
		LedgerSvc:    ledgerSvc,
		ReconcileSvc: rec,
		Messenger:    sender,
	})

	return &fixture{
		orch:       orch,
		reconcile:  rec,
		messenger:  sender,
		stateSvc:   stateSvc,
		accountSvc: accountSvc,
		ledgerSvc:  ledgerSvc,
		node:       node,
	}
}

func (f *fixture) mustAccount(t *testing.T, chatUserID string) *accountdomain.Account {
	t.Helper()
	account, err := f.accountSvc.GetByChatUserID(context.Background(), chatUserID)
	require.NoError(t, err)
	require.NotNil(t, account)
	return account
}

// -- Tests --

func TestHandle_RegistersUnknownUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventFollow})
	require.NoError(t, err)

	account := f.mustAccount(t, "u1")
	state, err := f.stateSvc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateWelcomeSent, state.Name)
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "Thanks for adding me")
}

func TestHandle_AddFlowPersistsEachStep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "add"}))
	account := f.mustAccount(t, "u1")

	state, err := f.stateSvc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateAddSelect, state.Name)

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "2"}))
	state, err = f.stateSvc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.State{Name: conversation.StateConfirmPending, Selection: 2}, state)
}

// A confirmation answered after a process restart must act on the persisted
// selection: the state row alone decides which item gets charged.
func TestHandle_ConfirmationSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.accountSvc.Register(ctx, accountdomain.RegisterRequest{ChatUserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, f.stateSvc.Set(ctx, account.ID, conversation.State{Name: conversation.StateConfirmPending, Selection: 2}))

	f.reconcile.On("ClassifyAndRecord", mock.Anything, mock.MatchedBy(func(req reconciledomain.ClassifyAndRecordRequest) bool {
		return req.Kind == "ai_accounting" && req.Account.ID == account.ID
	})).Return(&reconciledomain.ClassifyAndRecordResponse{IsFree: false, Synced: true}, nil)

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "yes"}))

	f.reconcile.AssertExpectations(t)
	state, err := f.stateSvc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, state.IsDefault())
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "AI Accounting Assistant")
	assert.Contains(t, f.messenger.sent[0], "billed")
}

func TestHandle_FreeOutcomeMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.accountSvc.Register(ctx, accountdomain.RegisterRequest{ChatUserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, f.stateSvc.Set(ctx, account.ID, conversation.State{Name: conversation.StateConfirmPending, Selection: 1}))

	f.reconcile.On("ClassifyAndRecord", mock.Anything, mock.Anything).
		Return(&reconciledomain.ClassifyAndRecordResponse{IsFree: true, FreeReason: reconciledomain.FreeReasonAllowance, Synced: true}, nil)

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "yes"}))

	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "no charge")
}

func TestHandle_IneligibleUserToldToSubscribe(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.accountSvc.Register(ctx, accountdomain.RegisterRequest{ChatUserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, f.stateSvc.Set(ctx, account.ID, conversation.State{Name: conversation.StateConfirmPending, Selection: 1}))

	f.reconcile.On("ClassifyAndRecord", mock.Anything, mock.Anything).
		Return(nil, reconciledomain.ErrNotEligible)

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "yes"}))

	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "subscribe")

	// Even a failed effect leaves the persisted state advanced.
	state, err := f.stateSvc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, state.IsDefault())
}

// If the state write fails the turn is aborted before any effect runs.
func TestHandle_PersistFailureRunsNoEffects(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.accountSvc.Register(ctx, accountdomain.RegisterRequest{ChatUserID: "u1"})
	require.NoError(t, err)

	failing := New(Params{
		Log:          zap.NewNop(),
		Machine:      conversation.NewMachine(catalog.Default()),
		Catalog:      catalog.Default(),
		AccountSvc:   f.accountSvc,
		StateSvc:     failingStateStore{},
		LedgerSvc:    f.ledgerSvc,
		ReconcileSvc: f.reconcile,
		Messenger:    f.messenger,
	})

	err = failing.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "yes"})
	require.Error(t, err)

	f.reconcile.AssertNotCalled(t, "ClassifyAndRecord", mock.Anything, mock.Anything)
	assert.Empty(t, f.messenger.sent)
}

func TestHandle_StatusRendersSummary(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.reconcile.On("StatusSummary", mock.Anything, mock.Anything).Return(&reconciledomain.StatusSummary{
		Eligibility:  reconciledomain.Eligibility{Eligible: true, Reason: reconciledomain.ReasonActive},
		CountsByKind: map[string]int64{"ai_schedule": 2, "ai_accounting": 0, "ai_task": 1},
		Total:        3,
	}, nil)

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "status"}))

	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "Subscription: active")
	assert.Contains(t, f.messenger.sent[0], "AI Schedule Assistant: 2")
}

func TestHandle_CancelFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.accountSvc.Register(ctx, accountdomain.RegisterRequest{ChatUserID: "u1"})
	require.NoError(t, err)
	event, err := f.ledgerSvc.RecordUsage(ctx, ledgerdomain.RecordUsageRequest{AccountID: account.ID, Kind: "ai_task", IsFree: true})
	require.NoError(t, err)

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "cancel"}))
	state, err := f.stateSvc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateCancelSelect, state.Name)
	require.Len(t, f.messenger.sent, 1)
	assert.Contains(t, f.messenger.sent[0], "1. AI Task Concierge")

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "1"}))

	f.reconcile.On("CancelUsage", mock.Anything, mock.MatchedBy(func(a *accountdomain.Account) bool {
		return a.ID == account.ID
	}), 1).Return(event, nil)

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventMessage, Text: "yes"}))
	f.reconcile.AssertExpectations(t)
	assert.Contains(t, f.messenger.sent[len(f.messenger.sent)-1], "cancelled")
}

func TestHandle_UnfollowForUnknownUserIsNoop(t *testing.T) {
	f := newFixture(t)

	err := f.orch.Handle(context.Background(), messaging.Inbound{ChatUserID: "ghost", EventType: messaging.EventUnfollow})
	require.NoError(t, err)
	assert.Empty(t, f.messenger.sent)
}

func TestHandle_UnfollowRemovesStateAndAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	account, err := f.accountSvc.Register(ctx, accountdomain.RegisterRequest{ChatUserID: "u1"})
	require.NoError(t, err)
	require.NoError(t, f.stateSvc.Set(ctx, account.ID, conversation.State{Name: conversation.StateAddSelect}))

	require.NoError(t, f.orch.Handle(ctx, messaging.Inbound{ChatUserID: "u1", EventType: messaging.EventUnfollow}))

	state, err := f.stateSvc.Get(ctx, account.ID)
	require.NoError(t, err)
	assert.True(t, state.IsDefault())

	gone, err := f.accountSvc.GetByChatUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
