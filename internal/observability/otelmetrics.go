package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/railzwaylabs/membership/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const metricExportInterval = 30 * time.Second

// NewMeterProvider pushes the billing counters over OTLP when otel.endpoint
// is set. Prometheus stays the source of truth; /metrics is unaffected.
func NewMeterProvider(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, m *Metrics) (metric.MeterProvider, error) {
	endpoint := strings.TrimSpace(cfg.OTel.Endpoint)
	if endpoint == "" {
		return noop.NewMeterProvider(), nil
	}

	exporter, err := newMetricExporter(cfg.OTel)
	if err != nil {
		return nil, fmt.Errorf("otlp metric exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(metricExportInterval))),
		sdkmetric.WithResource(serviceResource(cfg)),
	)
	if err := MirrorCounters(mp.Meter(metricsNamespace), m); err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}
	otel.SetMeterProvider(mp)

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			if err := mp.Shutdown(ctx); err != nil {
				log.Warn("meter provider shutdown failed", zap.Error(err))
			}
			return nil
		},
	})
	log.Info("otel metrics enabled", zap.String("endpoint", endpoint), zap.String("protocol", cfg.OTel.Protocol))
	return mp, nil
}

func newMetricExporter(cfg config.OTelConfig) (sdkmetric.Exporter, error) {
	ctx := context.Background()
	if cfg.Protocol == config.OTelProtocolGRPC {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)
	}
	opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}
	return otlpmetrichttp.New(ctx, opts...)
}

// MirrorCounters registers one observable counter per billing counter family
// and reports the current Prometheus values on every collection.
func MirrorCounters(meter metric.Meter, m *Metrics) error {
	names := make([]string, 0, len(m.counterHelp))
	for name := range m.counterHelp {
		names = append(names, name)
	}
	sort.Strings(names)

	instruments := make(map[string]metric.Float64ObservableCounter, len(names))
	observables := make([]metric.Observable, 0, len(names))
	for _, name := range names {
		inst, err := meter.Float64ObservableCounter(name, metric.WithDescription(m.counterHelp[name]))
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
		instruments[name] = inst
		observables = append(observables, inst)
	}

	_, err := meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		families, err := m.Registry.Gather()
		if err != nil {
			return err
		}
		for _, family := range families {
			inst, ok := instruments[family.GetName()]
			if !ok || family.GetType() != dto.MetricType_COUNTER {
				continue
			}
			for _, sample := range family.GetMetric() {
				o.ObserveFloat64(inst, sample.GetCounter().GetValue(), metric.WithAttributes(labelAttributes(sample)...))
			}
		}
		return nil
	}, observables...)
	return err
}

func labelAttributes(sample *dto.Metric) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(sample.GetLabel()))
	for _, label := range sample.GetLabel() {
		attrs = append(attrs, attribute.String(label.GetName(), label.GetValue()))
	}
	return attrs
}
