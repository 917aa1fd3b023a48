//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"
)

func InitializeApp(configPath ConfigPath) (*App, error) {
	wire.Build(
		// 基础设施
		provideConfig,
		provideLogger,

		// Store
		provideStore,
		provideContentStore,

		// 代理池与消费者
		provideProxyManager,
		provideScheduler,
		provideFetcher,
		provideEventHub,
		provideConsumer,

		// Services
		provideTaskService,
		provideProxyService,
		provideStatusService,

		// Server
		provideServer,
		NewApp,
	)
	return nil, nil
}
