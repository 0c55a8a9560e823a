package conversation

import "go.uber.org/fx"

// Module provides the dialogue state machine. The state store lives in the
// service subpackage and is wired by the dialogue module.
var Module = fx.Module("conversation",
	fx.Provide(NewMachine),
)
