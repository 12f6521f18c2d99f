package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names
const (
	MetricPricingCyclesTotal    = "p2pmaker_pricing_cycles_total"
	MetricPricingSkipsTotal     = "p2pmaker_pricing_skips_total"
	MetricAdPublishesTotal      = "p2pmaker_ad_publishes_total"
	MetricPublishedPrice        = "p2pmaker_published_price"
	MetricQualifiedCompetitors  = "p2pmaker_qualified_competitors"
	MetricDispatchesActive      = "p2pmaker_dispatches_active"
	MetricDispatchAttemptsTotal = "p2pmaker_dispatch_attempts_total"
	MetricDispatchDeadTotal     = "p2pmaker_dispatch_dead_total"
	MetricSyncPassesTotal       = "p2pmaker_sync_passes_total"
	MetricSyncAnomaliesTotal    = "p2pmaker_sync_anomalies_total"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	PricingCyclesTotal    metric.Int64Counter
	PricingSkipsTotal     metric.Int64Counter
	AdPublishesTotal      metric.Int64Counter
	PublishedPrice        metric.Float64ObservableGauge
	QualifiedCompetitors  metric.Int64ObservableGauge
	DispatchesActive      metric.Int64ObservableGauge
	DispatchAttemptsTotal metric.Int64Counter
	DispatchDeadTotal     metric.Int64Counter
	SyncPassesTotal       metric.Int64Counter
	SyncAnomaliesTotal    metric.Int64Counter

	// State for observable gauges, keyed by tuple or merchant
	mu                  sync.RWMutex
	publishedPriceMap   map[string]float64
	qualifiedCountMap   map[string]int64
	activeDispatchesMap map[string]int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			publishedPriceMap:   make(map[string]float64),
			qualifiedCountMap:   make(map[string]int64),
			activeDispatchesMap: make(map[string]int64),
		}
		// Noop instruments until InitMetrics binds the real meter, so
		// components can record before telemetry is set up (and in tests).
		_ = globalMetrics.InitMetrics(noop.NewMeterProvider().Meter("p2pmaker"))
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.PricingCyclesTotal, err = meter.Int64Counter(MetricPricingCyclesTotal, metric.WithDescription("Total completed pricing cycles"))
	if err != nil {
		return err
	}

	m.PricingSkipsTotal, err = meter.Int64Counter(MetricPricingSkipsTotal, metric.WithDescription("Pricing cycles skipped (hysteresis or no market data)"))
	if err != nil {
		return err
	}

	m.AdPublishesTotal, err = meter.Int64Counter(MetricAdPublishesTotal, metric.WithDescription("Total ad price publishes"))
	if err != nil {
		return err
	}

	m.DispatchAttemptsTotal, err = meter.Int64Counter(MetricDispatchAttemptsTotal, metric.WithDescription("Total dispatch placement attempts"))
	if err != nil {
		return err
	}

	m.DispatchDeadTotal, err = meter.Int64Counter(MetricDispatchDeadTotal, metric.WithDescription("Dispatches that reached the DEAD state"))
	if err != nil {
		return err
	}

	m.SyncPassesTotal, err = meter.Int64Counter(MetricSyncPassesTotal, metric.WithDescription("Total synchronizer passes"))
	if err != nil {
		return err
	}

	m.SyncAnomaliesTotal, err = meter.Int64Counter(MetricSyncAnomaliesTotal, metric.WithDescription("Venue responses rejected for violating status monotonicity"))
	if err != nil {
		return err
	}

	// Observables
	m.PublishedPrice, err = meter.Float64ObservableGauge(MetricPublishedPrice, metric.WithDescription("Last published ad price per tuple"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for tuple, val := range m.publishedPriceMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("tuple", tuple)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.QualifiedCompetitors, err = meter.Int64ObservableGauge(MetricQualifiedCompetitors, metric.WithDescription("Qualified competitors in the last cycle per tuple"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for tuple, val := range m.qualifiedCountMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("tuple", tuple)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.DispatchesActive, err = meter.Int64ObservableGauge(MetricDispatchesActive, metric.WithDescription("Non-terminal dispatches per merchant"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for merchant, val := range m.activeDispatchesMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("merchant", merchant)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Helpers to update observable state

func (m *MetricsHolder) SetPublishedPrice(tuple string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publishedPriceMap[tuple] = price
}

func (m *MetricsHolder) SetQualifiedCompetitors(tuple string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.qualifiedCountMap[tuple] = count
}

func (m *MetricsHolder) SetActiveDispatches(merchant string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeDispatchesMap[merchant] = count
}

func (m *MetricsHolder) GetPublishedPrices() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]float64)
	for k, v := range m.publishedPriceMap {
		res[k] = v
	}
	return res
}
