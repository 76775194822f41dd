//go:build wireinject
// +build wireinject

package di

import (
	"github.com/google/wire"

	"github.com/victorescoto/fiap-ml-finance/pkg/config"
	"github.com/victorescoto/fiap-ml-finance/pkg/server"
)

var infraSet = wire.NewSet(
	ProvideLogger,
	ProvideKafkaProducer,
	ProvideMetrics,
	ProvideObjectStores,
	ProvideClickHouseClient,
	ProvideRedisCache,
)

var repositorySet = wire.NewSet(
	ProvideCandleStore,
	ProvideModelStore,
	ProvideMarketData,
	ProvideCandleMirror,
	ProvideEventPublisher,
)

var pipelineSet = wire.NewSet(
	ProvideClassifier,
	ProvideIngestor,
	ProvideTrainer,
	ProvideJobRunner,
)

// InitializeApp wires up the serving process.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		infraSet,
		repositorySet,
		pipelineSet,
		ProvideLatestCache,
		ProvideModelCache,
		ProvideServing,
		ProvideRateLimiter,
		ProvideHTTPHandler,
		ProvideKafkaConsumer,
		ProvideStoreEventsHandler,
		ProvideJobWorker,
		ProvideApp,
	)
	return &server.App{}, nil
}

// InitializeJobs wires up the batch jobs.
func InitializeJobs(cfg *config.Config) (*Jobs, error) {
	wire.Build(
		infraSet,
		repositorySet,
		pipelineSet,
		ProvideJobs,
	)
	return &Jobs{}, nil
}
