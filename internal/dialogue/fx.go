package dialogue

import (
	conversationservice "github.com/aicollections/billingbot/internal/conversation/service"
	"go.uber.org/fx"
)

// Module wires the orchestrator together with the durable state store it
// drives.
var Module = fx.Module("dialogue",
	fx.Provide(
		conversationservice.NewService,
		New,
	),
)
