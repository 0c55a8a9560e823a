package catalog

import "go.uber.org/fx"

// Module provides the content catalog.
var Module = fx.Module("catalog",
	fx.Provide(FromConfig),
)
