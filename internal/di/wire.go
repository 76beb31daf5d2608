//go:build wireinject
// +build wireinject

package di

import (
	"github.com/Wayy-Research/wrdata/pkg/config"
	"github.com/Wayy-Research/wrdata/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Detection
		ProvideDetector,

		// Stream pipeline
		ProvideStreamProviders,
		ProvideStreamManager,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,

		// Repositories
		ProvideStorage,
		ProvidePublisher,
		ProvideAlertCache,

		// Use cases
		ProvideAlertRouter,

		// HTTP surface
		ProvideAPIHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
