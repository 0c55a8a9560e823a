// Package server exposes the webhook surface: chat platform deliveries feed
// the dialogue orchestrator, billing provider events feed the reconciliation
// engine.
package server

import (
	"context"
	"net/http"
	"time"

	accountdomain "github.com/aicollections/billingbot/internal/account/domain"
	"github.com/aicollections/billingbot/internal/config"
	"github.com/aicollections/billingbot/internal/dialogue"
	"github.com/aicollections/billingbot/internal/providers/messaging"
	reconciledomain "github.com/aicollections/billingbot/internal/reconcile/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(cfg config.Config, log *zap.Logger) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(deliveryLogger(log.Named("http")))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// deliveryLogger tags every request with a delivery id so a webhook's full
// processing can be traced through the logs.
func deliveryLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		deliveryID := c.GetHeader("X-Delivery-Id")
		if deliveryID == "" {
			deliveryID = uuid.NewString()
		}
		c.Set("delivery_id", deliveryID)
		c.Header("X-Delivery-Id", deliveryID)

		start := time.Now()
		c.Next()

		log.Info("request",
			zap.String("delivery_id", deliveryID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

type Server struct {
	engine       *gin.Engine
	log          *zap.Logger
	orchestrator *dialogue.Orchestrator
	accountSvc   accountdomain.Service
	reconcileSvc reconciledomain.Service
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Log          *zap.Logger
	Orchestrator *dialogue.Orchestrator
	AccountSvc   accountdomain.Service
	ReconcileSvc reconciledomain.Service
}

func NewServer(p ServerParams) *Server {
	s := &Server{
		engine:       p.Gin,
		log:          p.Log.Named("server"),
		orchestrator: p.Orchestrator,
		accountSvc:   p.AccountSvc,
		reconcileSvc: p.ReconcileSvc,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	webhooks := s.engine.Group("/webhooks")

	webhooks.POST("/chat", s.HandleChatWebhook)
	webhooks.POST("/billing", s.HandleBillingWebhook)
}

type chatWebhookRequest struct {
	Events []messaging.Inbound `json:"events"`
}

// HandleChatWebhook processes a batch of normalized chat events. Any failure
// returns 500 so the platform redelivers the batch; processing is idempotent
// enough to absorb the replay.
func (s *Server) HandleChatWebhook(c *gin.Context) {
	var req chatWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	for _, event := range req.Events {
		if event.ChatUserID == "" {
			continue
		}
		if err := s.orchestrator.Handle(c.Request.Context(), event); err != nil {
			s.log.Error("chat event failed",
				zap.String("delivery_id", c.GetString("delivery_id")),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "event_failed"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"processed": len(req.Events)})
}

type billingWebhookRequest struct {
	Type           string `json:"type"`
	ChatUserID     string `json:"chat_user_id"`
	CustomerID     string `json:"customer_id"`
	SubscriptionID string `json:"subscription_id"`
}

// HandleBillingWebhook reacts to provider-side subscription lifecycle events.
// A subscription swap triggers a resync: the account is repointed and every
// charged event reverts to pending so it lands on the new subscription.
func (s *Server) HandleBillingWebhook(c *gin.Context) {
	var req billingWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_payload"})
		return
	}

	ctx := c.Request.Context()
	switch req.Type {
	case "subscription.created":
		if req.ChatUserID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing_chat_user_id"})
			return
		}
		if _, err := s.accountSvc.Link(ctx, accountdomain.LinkRequest{
			ChatUserID:             req.ChatUserID,
			ExternalCustomerID:     req.CustomerID,
			ExternalSubscriptionID: req.SubscriptionID,
		}); err != nil {
			s.log.Error("account link failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "link_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "linked"})

	case "subscription.updated", "subscription.replaced":
		account, err := s.resolveAccount(ctx, req)
		if err != nil {
			s.log.Error("account lookup failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup_failed"})
			return
		}
		if account == nil {
			// Not ours; acknowledge so the provider stops retrying.
			c.JSON(http.StatusOK, gin.H{"status": "ignored"})
			return
		}
		if req.SubscriptionID == "" || account.ExternalSubscriptionID == req.SubscriptionID {
			c.JSON(http.StatusOK, gin.H{"status": "unchanged"})
			return
		}

		reverted, err := s.reconcileSvc.Resync(ctx, account, req.SubscriptionID)
		if err != nil {
			s.log.Error("resync failed",
				zap.String("account_id", account.ID.String()),
				zap.Error(err),
			)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "resync_failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "resynced", "events_reverted": reverted})

	default:
		c.JSON(http.StatusOK, gin.H{"status": "ignored"})
	}
}

func (s *Server) resolveAccount(ctx context.Context, req billingWebhookRequest) (*accountdomain.Account, error) {
	if req.ChatUserID != "" {
		if account, err := s.accountSvc.GetByChatUserID(ctx, req.ChatUserID); err != nil || account != nil {
			return account, err
		}
	}
	return s.accountSvc.GetByCustomerID(ctx, req.CustomerID)
}

func run(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, s *Server) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Engine(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}
