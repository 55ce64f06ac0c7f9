package observability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tokengate/tokengate/internal/config"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

type AppMetrics struct {
	claimCounter        metric.Int64Counter
	sweepCounter        metric.Int64Counter
	sweepRemovedCounter metric.Int64Counter
	noticeCounter       metric.Int64Counter
	adminCounter        metric.Int64Counter
	repoCounter         metric.Int64Counter
	authCounter         metric.Int64Counter
	rateLimitCounter    metric.Int64Counter
}

var (
	metricsMu  sync.RWMutex
	appMetrics *AppMetrics
)

func InitMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sdkmetric.MeterProvider, error) {
	if !cfg.OTELMetricsEnabled {
		mp := sdkmetric.NewMeterProvider()
		otel.SetMeterProvider(mp)
		logger.Info("otel metrics disabled")
		return mp, nil
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTELExporterOTLPEndpoint)}
	if cfg.OTELExporterOTLPInsecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp metric exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.OTELServiceName),
			attribute.String("deployment.environment", cfg.OTELEnvironment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create metric resource: %w", err)
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(cfg.OTELMetricsExportInterval))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("tokengate")
	claimCounter, err := meter.Int64Counter("claim.attempts")
	if err != nil {
		return nil, err
	}
	sweepCounter, err := meter.Int64Counter("reaper.sweeps")
	if err != nil {
		return nil, err
	}
	sweepRemovedCounter, err := meter.Int64Counter("reaper.tokens.removed")
	if err != nil {
		return nil, err
	}
	noticeCounter, err := meter.Int64Counter("cooldown.notices")
	if err != nil {
		return nil, err
	}
	adminCounter, err := meter.Int64Counter("admin.pool.mutations")
	if err != nil {
		return nil, err
	}
	repoCounter, err := meter.Int64Counter("repository.operations")
	if err != nil {
		return nil, err
	}
	authCounter, err := meter.Int64Counter("auth.token.validations")
	if err != nil {
		return nil, err
	}
	rateLimitCounter, err := meter.Int64Counter("ratelimit.decisions")
	if err != nil {
		return nil, err
	}

	metricsMu.Lock()
	appMetrics = &AppMetrics{
		claimCounter:        claimCounter,
		sweepCounter:        sweepCounter,
		sweepRemovedCounter: sweepRemovedCounter,
		noticeCounter:       noticeCounter,
		adminCounter:        adminCounter,
		repoCounter:         repoCounter,
		authCounter:         authCounter,
		rateLimitCounter:    rateLimitCounter,
	}
	metricsMu.Unlock()

	logger.Info("otel metrics initialized", "endpoint", cfg.OTELExporterOTLPEndpoint)
	return mp, nil
}

func current() *AppMetrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return appMetrics
}

// RecordClaimAttempt counts one pass through the claim sequence, labelled
// with the requested pool alias and the terminal outcome.
func RecordClaimAttempt(ctx context.Context, alias, outcome string) {
	m := current()
	if m == nil {
		return
	}
	m.claimCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("alias", alias),
			attribute.String("outcome", outcome),
		),
	)
}

// RecordSweep counts one reaper cycle and the tokens it removed.
func RecordSweep(ctx context.Context, removed int, ok bool) {
	m := current()
	if m == nil {
		return
	}
	status := "success"
	if !ok {
		status = "error"
	}
	m.sweepCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
	if removed > 0 {
		m.sweepRemovedCounter.Add(ctx, int64(removed))
	}
}

func RecordCooldownNotice(ctx context.Context) {
	m := current()
	if m == nil {
		return
	}
	m.noticeCounter.Add(ctx, 1)
}

func RecordAdminMutation(ctx context.Context, action, status string) {
	m := current()
	if m == nil {
		return
	}
	m.adminCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}

func RecordRepositoryOperation(ctx context.Context, entity, op, status string) {
	m := current()
	if m == nil {
		return
	}
	m.repoCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("entity", entity),
			attribute.String("operation", op),
			attribute.String("status", status),
		),
	)
}

func RecordAccessTokenValidation(ctx context.Context, status, source string) {
	m := current()
	if m == nil {
		return
	}
	m.authCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("status", status),
			attribute.String("source", source),
		),
	)
}

func RecordRateLimitDecision(ctx context.Context, scope, decision string) {
	m := current()
	if m == nil {
		return
	}
	m.rateLimitCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("scope", scope),
			attribute.String("decision", decision),
		),
	)
}
