// Package dialogue drives conversations: it loads the account's durable
// state, asks the machine for the transition, persists the successor state,
// and only then runs the transition's effects. A crash after the persist
// leaves the user in a consistent position; effects are retried by the user
// naturally re-sending their message.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	accountdomain "github.com/aicollections/billingbot/internal/account/domain"
	"github.com/aicollections/billingbot/internal/catalog"
	"github.com/aicollections/billingbot/internal/conversation"
	conversationdomain "github.com/aicollections/billingbot/internal/conversation/domain"
	ledgerdomain "github.com/aicollections/billingbot/internal/ledger/domain"
	obsmetrics "github.com/aicollections/billingbot/internal/observability/metrics"
	"github.com/aicollections/billingbot/internal/providers/messaging"
	reconciledomain "github.com/aicollections/billingbot/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log          *zap.Logger
	Machine      *conversation.Machine
	Catalog      catalog.Catalog
	AccountSvc   accountdomain.Service
	StateSvc     conversationdomain.Service
	LedgerSvc    ledgerdomain.Service
	ReconcileSvc reconciledomain.Service
	Messenger    messaging.Messenger
}

type Orchestrator struct {
	log          *zap.Logger
	machine      *conversation.Machine
	catalog      catalog.Catalog
	accountSvc   accountdomain.Service
	stateSvc     conversationdomain.Service
	ledgerSvc    ledgerdomain.Service
	reconcileSvc reconciledomain.Service
	messenger    messaging.Messenger
}

func New(p Params) *Orchestrator {
	return &Orchestrator{
		log:          p.Log.Named("dialogue"),
		machine:      p.Machine,
		catalog:      p.Catalog,
		accountSvc:   p.AccountSvc,
		stateSvc:     p.StateSvc,
		ledgerSvc:    p.LedgerSvc,
		reconcileSvc: p.ReconcileSvc,
		messenger:    p.Messenger,
	}
}

// Handle processes one inbound chat event end to end. The returned error
// covers state resolution and persistence only; effect failures are logged
// and reported to the user where possible, never bubbled up to the webhook.
func (o *Orchestrator) Handle(ctx context.Context, in messaging.Inbound) error {
	account, err := o.resolveAccount(ctx, in)
	if err != nil {
		return err
	}
	if account == nil {
		return nil
	}

	state, err := o.stateSvc.Get(ctx, account.ID)
	if err != nil {
		return err
	}

	ev := conversation.Event{
		Type: conversation.EventType(in.EventType),
		Text: in.Text,
	}
	if ev.Type == conversation.EventMessage {
		count, err := o.ledgerSvc.CountAll(ctx, account.ID)
		if err != nil {
			return err
		}
		ev.UsageCount = int(count)
	}

	next, effects := o.machine.Next(state, ev)

	// The state write must land before any effect runs.
	if err := o.stateSvc.Set(ctx, account.ID, next); err != nil {
		return fmt.Errorf("persist dialogue state: %w", err)
	}
	obsmetrics.Engine().IncTransition(stateLabel(state), stateLabel(next))

	for _, effect := range effects {
		o.runEffect(ctx, account, effect)
	}
	return nil
}

func (o *Orchestrator) resolveAccount(ctx context.Context, in messaging.Inbound) (*accountdomain.Account, error) {
	account, err := o.accountSvc.GetByChatUserID(ctx, in.ChatUserID)
	if err != nil {
		return nil, err
	}
	if account != nil {
		return account, nil
	}
	if in.EventType == messaging.EventUnfollow {
		return nil, nil
	}

	account, err = o.accountSvc.Register(ctx, accountdomain.RegisterRequest{ChatUserID: in.ChatUserID})
	if err != nil {
		// Lost the race against a concurrent delivery; the row exists now.
		if errors.Is(err, accountdomain.ErrDuplicateAccount) {
			return o.accountSvc.GetByChatUserID(ctx, in.ChatUserID)
		}
		return nil, err
	}
	return account, nil
}

func (o *Orchestrator) runEffect(ctx context.Context, account *accountdomain.Account, effect conversation.Effect) {
	switch e := effect.(type) {
	case conversation.ReplyEffect:
		o.reply(ctx, account, e.Text)
	case conversation.RecordUsageEffect:
		o.recordUsage(ctx, account, e.ItemIndex)
	case conversation.CancelUsageEffect:
		o.cancelUsage(ctx, account, e.ListIndex)
	case conversation.ShowStatusEffect:
		o.showStatus(ctx, account)
	case conversation.ShowCancelMenuEffect:
		o.showCancelMenu(ctx, account)
	case conversation.UnlinkEffect:
		if err := o.accountSvc.Unlink(ctx, account.ChatUserID); err != nil {
			o.log.Warn("unlink failed", zap.String("account_id", account.ID.String()), zap.Error(err))
		}
	default:
		o.log.Warn("unknown effect", zap.String("effect", fmt.Sprintf("%T", effect)))
	}
}

func (o *Orchestrator) recordUsage(ctx context.Context, account *accountdomain.Account, itemIndex int) {
	item, ok := o.catalog.ByIndex(itemIndex)
	if !ok {
		o.reply(ctx, account, "That content is no longer available.")
		return
	}

	resp, err := o.reconcileSvc.ClassifyAndRecord(ctx, reconciledomain.ClassifyAndRecordRequest{
		Account: account,
		Kind:    item.Kind,
	})
	if err != nil {
		if errors.Is(err, reconciledomain.ErrNotEligible) {
			o.reply(ctx, account, "You need an active subscription to add contents. Please subscribe first.")
			return
		}
		o.log.Error("record usage failed",
			zap.String("account_id", account.ID.String()),
			zap.String("kind", item.Kind),
			zap.Error(err),
		)
		o.reply(ctx, account, "Something went wrong, please try again.")
		return
	}

	if resp.IsFree {
		o.reply(ctx, account, fmt.Sprintf("%s added. This one is included at no charge.", item.Name))
		return
	}
	o.reply(ctx, account, fmt.Sprintf("%s added. %d will be billed on your next invoice.", item.Name, item.MonthlyPrice))
}

func (o *Orchestrator) cancelUsage(ctx context.Context, account *accountdomain.Account, listIndex int) {
	cancelled, err := o.reconcileSvc.CancelUsage(ctx, account, listIndex)
	if err != nil {
		if errors.Is(err, reconciledomain.ErrInvalidCancelIndex) {
			o.reply(ctx, account, "That item is no longer on your list.")
			return
		}
		o.log.Error("cancel usage failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
		o.reply(ctx, account, "Something went wrong, please try again.")
		return
	}

	name := cancelled.Kind
	if item, ok := o.catalog.ByKind(cancelled.Kind); ok {
		name = item.Name
	}
	o.reply(ctx, account, fmt.Sprintf("%s has been cancelled.", name))
}

func (o *Orchestrator) showStatus(ctx context.Context, account *accountdomain.Account) {
	summary, err := o.reconcileSvc.StatusSummary(ctx, account)
	if err != nil {
		o.log.Error("status summary failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
		o.reply(ctx, account, "Something went wrong, please try again.")
		return
	}

	var b strings.Builder
	if summary.Eligibility.Eligible {
		fmt.Fprintf(&b, "Subscription: %s\n", summary.Eligibility.Reason)
		if !summary.Period.Start.IsZero() {
			fmt.Fprintf(&b, "Current period: %s to %s\n",
				summary.Period.Start.Format("2006-01-02"),
				summary.Period.End.Format("2006-01-02"),
			)
		}
	} else {
		b.WriteString("Subscription: none\n")
	}
	b.WriteString("Usage this far:\n")
	for _, item := range o.catalog.Items() {
		fmt.Fprintf(&b, "  %s: %d\n", item.Name, summary.CountsByKind[item.Kind])
	}
	o.reply(ctx, account, strings.TrimRight(b.String(), "\n"))
}

func (o *Orchestrator) showCancelMenu(ctx context.Context, account *accountdomain.Account) {
	events, err := o.ledgerSvc.ListByAccount(ctx, account.ID)
	if err != nil {
		o.log.Error("list usage failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
		o.reply(ctx, account, "Something went wrong, please try again.")
		return
	}

	var b strings.Builder
	b.WriteString("Which item would you like to cancel?\n")
	for i, event := range events {
		name := event.Kind
		if item, ok := o.catalog.ByKind(event.Kind); ok {
			name = item.Name
		}
		fmt.Fprintf(&b, "%d. %s (%s)\n", i+1, name, event.CreatedAt.Format("2006-01-02"))
	}
	b.WriteString("Reply with a number, or back to return.")
	o.reply(ctx, account, b.String())
}

func (o *Orchestrator) reply(ctx context.Context, account *accountdomain.Account, text string) {
	if err := o.messenger.SendMessage(ctx, account.ChatUserID, text); err != nil {
		o.log.Warn("reply failed",
			zap.String("account_id", account.ID.String()),
			zap.Error(err),
		)
	}
}

func stateLabel(s conversation.State) string {
	if s.IsDefault() {
		return conversation.StateDefault
	}
	return s.Name
}
