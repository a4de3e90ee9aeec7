package main

import (
	"context"
	"log"

	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"creatorloyalty/pkg/config"
	"creatorloyalty/pkg/db"
	"creatorloyalty/pkg/gen"
	"creatorloyalty/pkg/logger"
	"creatorloyalty/pkg/otelcol"
	"creatorloyalty/pkg/otelcol/exporters"
	"creatorloyalty/pkg/redis"
	"creatorloyalty/pkg/task"
	"creatorloyalty/services/activity"
	"creatorloyalty/services/catalog"
	"creatorloyalty/services/feed"
	"creatorloyalty/services/progress"
	"creatorloyalty/services/raffle"
	"creatorloyalty/services/redemption"
	"creatorloyalty/services/tenant"
	"creatorloyalty/services/tier"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		redis.Module,
		gen.Module,
		fx.Provide(
			exporters.ProvideGrpc,
			provideTracerProvider,
		),
		fx.Invoke(registerTracerProvider),
		task.Client,
		task.Server,
		tenant.Module,
		tier.Module,
		activity.Module,
		catalog.Module,
		redemption.Module,
		progress.Module,
		raffle.Module,
		feed.Module,
		fx.Invoke(registerHandlers),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

func registerHandlers(mux *asynq.ServeMux, progressSvc *progress.Service, redemptionSvc *redemption.Service) {
	progressSvc.RegisterHandlers(mux)
	redemptionSvc.RegisterHandlers(mux)
}

func provideTracerProvider(exporter *otlptrace.Exporter) *sdktrace.TracerProvider {
	return otelcol.ProvideTrace(exporter)
}

func registerTracerProvider(lc fx.Lifecycle, tp *sdktrace.TracerProvider) {
	otel.SetTracerProvider(tp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})
}
