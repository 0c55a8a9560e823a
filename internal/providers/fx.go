package providers

import (
	"github.com/aicollections/billingbot/internal/providers/billing"
	"github.com/aicollections/billingbot/internal/providers/messaging"
	"go.uber.org/fx"
)

// Module provides default collaborator implementations. Deployments swap
// these for real clients with fx.Replace.
var Module = fx.Module("providers",
	fx.Provide(
		func() billing.Provider { return billing.NoOpProvider{} },
		func() messaging.Messenger { return messaging.NoOpMessenger{} },
	),
)
