package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("call-metrics")

// CallMetrics provides metrics collection for outbound actions and inbound
// events.
type CallMetrics struct {
	callsInitiatedCounter metric.Int64Counter
	smsSentCounter        metric.Int64Counter
	eventsReceivedCounter metric.Int64Counter
	waitDurationHistogram metric.Float64Histogram
	trackersActiveGauge   metric.Int64UpDownCounter
}

// NewCallMetrics creates a new call metrics collector.
func NewCallMetrics() (*CallMetrics, error) {
	callsInitiatedCounter, err := meter.Int64Counter(
		"telephony.calls.initiated",
		metric.WithDescription("Total number of outbound voice calls initiated"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, err
	}

	smsSentCounter, err := meter.Int64Counter(
		"telephony.sms.sent",
		metric.WithDescription("Total number of SMS messages accepted by the provider"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	eventsReceivedCounter, err := meter.Int64Counter(
		"telephony.events.received",
		metric.WithDescription("Total number of callback events stored"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}

	waitDurationHistogram, err := meter.Float64Histogram(
		"telephony.wait.duration",
		metric.WithDescription("Duration of blocking waits for correlated results in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	trackersActiveGauge, err := meter.Int64UpDownCounter(
		"telephony.trackers.active",
		metric.WithDescription("Number of currently live call trackers"),
		metric.WithUnit("{tracker}"),
	)
	if err != nil {
		return nil, err
	}

	return &CallMetrics{
		callsInitiatedCounter: callsInitiatedCounter,
		smsSentCounter:        smsSentCounter,
		eventsReceivedCounter: eventsReceivedCounter,
		waitDurationHistogram: waitDurationHistogram,
		trackersActiveGauge:   trackersActiveGauge,
	}, nil
}

// RecordCallInitiated records a new outbound call and its live tracker.
func (cm *CallMetrics) RecordCallInitiated(ctx context.Context, withInput bool) {
	cm.callsInitiatedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("call.with_input", withInput)),
	)
	cm.trackersActiveGauge.Add(ctx, 1)
}

// RecordTrackersEvicted records trackers removed by the reaper.
func (cm *CallMetrics) RecordTrackersEvicted(ctx context.Context, count int) {
	cm.trackersActiveGauge.Add(ctx, -int64(count))
}

// RecordSMSSent records an accepted outbound SMS.
func (cm *CallMetrics) RecordSMSSent(ctx context.Context) {
	cm.smsSentCounter.Add(ctx, 1)
}

// RecordEventReceived records a stored callback event.
func (cm *CallMetrics) RecordEventReceived(ctx context.Context, parseError bool) {
	cm.eventsReceivedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.Bool("event.parse_error", parseError)),
	)
}

// RecordWait records the duration and outcome of a blocking wait.
func (cm *CallMetrics) RecordWait(ctx context.Context, kind string, duration time.Duration, timedOut bool) {
	cm.waitDurationHistogram.Record(ctx, duration.Seconds(),
		metric.WithAttributes(
			attribute.String("wait.kind", kind),
			attribute.Bool("wait.timed_out", timedOut),
		),
	)
}
