//go:build wireinject

package app

import (
	"github.com/google/wire"

	"quantra/internal/config"
)

func buildAppWithWire(cfg *config.Config) (*App, error) {
	wire.Build(
		NewAppBuilder,
		provideAppFromBuilder,
	)
	return nil, nil
}
