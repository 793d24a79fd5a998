package evaluation

import "go.uber.org/fx"

var Module = fx.Module("evaluation.engine",
	fx.Provide(New),
)
