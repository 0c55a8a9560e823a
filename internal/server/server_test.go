package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	accountdomain "github.com/aicollections/billingbot/internal/account/domain"
	accountservice "github.com/aicollections/billingbot/internal/account/service"
	"github.com/aicollections/billingbot/internal/catalog"
	"github.com/aicollections/billingbot/internal/clock"
	"github.com/aicollections/billingbot/internal/config"
	"github.com/aicollections/billingbot/internal/conversation"
	conversationdomain "github.com/aicollections/billingbot/internal/conversation/domain"
	conversationservice "github.com/aicollections/billingbot/internal/conversation/service"
	"github.com/aicollections/billingbot/internal/dialogue"
	ledgerdomain "github.com/aicollections/billingbot/internal/ledger/domain"
	ledgerservice "github.com/aicollections/billingbot/internal/ledger/service"
	"github.com/aicollections/billingbot/internal/providers/billing"
	"github.com/aicollections/billingbot/internal/providers/messaging"
	reconciledomain "github.com/aicollections/billingbot/internal/reconcile/domain"
	reconcileservice "github.com/aicollections/billingbot/internal/reconcile/service"
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type providerMock struct {
	mock.Mock
}

func (m *providerMock) GetSubscription(ctx context.Context, id string) (billing.Subscription, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(billing.Subscription), args.Error(1)
}

func (m *providerMock) SubmitUsage(ctx context.Context, itemID string, quantity int64, idempotencyKey string) (string, error) {
	args := m.Called(ctx, itemID, quantity, idempotencyKey)
	return args.String(0), args.Error(1)
}

func (m *providerMock) ListInvoiceItems(ctx context.Context, customerID string) ([]billing.InvoiceItem, error) {
	return nil, nil
}

func (m *providerMock) VoidUsageRecord(ctx context.Context, externalRecordID string) error {
	args := m.Called(ctx, externalRecordID)
	return args.Error(0)
}

type testStack struct {
	server       *Server
	provider     *providerMock
	accountSvc   accountdomain.Service
	ledgerSvc    ledgerdomain.Service
	stateSvc     conversationdomain.Service
	reconcileSvc reconciledomain.Service
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)

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

	cfg := config.Config{}
	cfg.Billing.ProviderTimeout = time.Second

	log := zap.NewNop()
	provider := new(providerMock)
	cat := catalog.Default()

	fake := clock.NewFakeClock(time.Date(2025, time.August, 20, 0, 0, 0, 0, time.UTC))
	accountSvc := accountservice.NewService(accountservice.ServiceParam{DB: db, Log: log, Clock: fake, GenID: node})
	ledgerSvc := ledgerservice.NewService(ledgerservice.ServiceParam{DB: db, Log: log, Clock: fake, GenID: node})
	stateSvc := conversationservice.NewService(conversationservice.ServiceParam{DB: db, Log: log, Clock: fake})
	reconcileSvc := reconcileservice.NewService(reconcileservice.ServiceParam{
		DB:         db,
		Log:        log,
		Cfg:        cfg,
		Clock:      clock.NewFakeClock(time.Date(2025, time.August, 20, 0, 0, 0, 0, time.UTC)),
		Provider:   provider,
		Catalog:    cat,
		AccountSvc: accountSvc,
		LedgerSvc:  ledgerSvc,
	})
	orch := dialogue.New(dialogue.Params{
		Log:          log,
		Machine:      conversation.NewMachine(cat),
		Catalog:      cat,
		AccountSvc:   accountSvc,
		StateSvc:     stateSvc,
		LedgerSvc:    ledgerSvc,
		ReconcileSvc: reconcileSvc,
		Messenger:    messaging.NoOpMessenger{},
	})

	srv := NewServer(ServerParams{
		Gin:          NewEngine(cfg, log),
		Log:          log,
		Orchestrator: orch,
		AccountSvc:   accountSvc,
		ReconcileSvc: reconcileSvc,
	})

	return &testStack{
		server:       srv,
		provider:     provider,
		accountSvc:   accountSvc,
		ledgerSvc:    ledgerSvc,
		stateSvc:     stateSvc,
		reconcileSvc: reconcileSvc,
	}
}

func (ts *testStack) post(t *testing.T, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	ts := newTestStack(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Delivery-Id"))
}

func TestChatWebhook_FollowRegistersAccount(t *testing.T) {
	ts := newTestStack(t)

	w := ts.post(t, "/webhooks/chat", map[string]any{
		"events": []map[string]any{
			{"chat_user_id": "u1", "event_type": "follow"},
		},
	})

	assert.Equal(t, http.StatusOK, w.Code)

	account, err := ts.accountSvc.GetByChatUserID(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, account)

	state, err := ts.stateSvc.Get(context.Background(), account.ID)
	require.NoError(t, err)
	assert.Equal(t, conversation.StateWelcomeSent, state.Name)
}

func TestChatWebhook_InvalidPayload(t *testing.T) {
	ts := newTestStack(t)

	req := httptest.NewRequest(http.MethodPost, "/webhooks/chat", bytes.NewReader([]byte("not json")))
	w := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingWebhook_SubscriptionCreatedLinksAccount(t *testing.T) {
	ts := newTestStack(t)

	w := ts.post(t, "/webhooks/billing", billingWebhookRequest{
		Type:           "subscription.created",
		ChatUserID:     "u1",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})

	assert.Equal(t, http.StatusOK, w.Code)

	account, err := ts.accountSvc.GetByChatUserID(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, account)
	assert.Equal(t, "cus_1", account.ExternalCustomerID)
	assert.Equal(t, "sub_1", account.ExternalSubscriptionID)
}

func TestBillingWebhook_SubscriptionReplacedResyncs(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	account, err := ts.accountSvc.Register(ctx, accountdomain.RegisterRequest{
		ChatUserID:             "u1",
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_old",
	})
	require.NoError(t, err)

	event, err := ts.ledgerSvc.RecordUsage(ctx, ledgerdomain.RecordUsageRequest{
		AccountID:      account.ID,
		Kind:           "ai_schedule",
		SubscriptionID: "sub_old",
	})
	require.NoError(t, err)
	require.NoError(t, ts.ledgerSvc.MarkSynced(ctx, event.ID, "ur_1"))

	w := ts.post(t, "/webhooks/billing", billingWebhookRequest{
		Type:           "subscription.replaced",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_new",
	})
	assert.Equal(t, http.StatusOK, w.Code)

	stored, err := ts.accountSvc.GetByChatUserID(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "sub_new", stored.ExternalSubscriptionID)

	got, err := ts.ledgerSvc.GetByID(ctx, event.ID)
	require.NoError(t, err)
	assert.Nil(t, got.ExternalUsageRecordID)
	assert.True(t, got.PendingCharge)
	assert.Equal(t, "sub_new", got.SubscriptionID)
}

func TestBillingWebhook_UnchangedSubscriptionIsNoop(t *testing.T) {
	ts := newTestStack(t)
	ctx := context.Background()

	_, err := ts.accountSvc.Register(ctx, accountdomain.RegisterRequest{
		ChatUserID:             "u1",
		ExternalCustomerID:     "cus_1",
		ExternalSubscriptionID: "sub_1",
	})
	require.NoError(t, err)

	w := ts.post(t, "/webhooks/billing", billingWebhookRequest{
		Type:           "subscription.updated",
		CustomerID:     "cus_1",
		SubscriptionID: "sub_1",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unchanged")
}

func TestBillingWebhook_UnknownAccountIgnored(t *testing.T) {
	ts := newTestStack(t)

	w := ts.post(t, "/webhooks/billing", billingWebhookRequest{
		Type:           "subscription.updated",
		CustomerID:     "cus_ghost",
		SubscriptionID: "sub_x",
	})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}

func TestBillingWebhook_UnknownEventTypeIgnored(t *testing.T) {
	ts := newTestStack(t)

	w := ts.post(t, "/webhooks/billing", billingWebhookRequest{Type: "invoice.finalized"})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ignored")
}
