// Package metrics emits operational telemetry for the notification
// pipeline to CloudWatch. Emission is best effort: a metrics failure is
// logged and never propagated, because telemetry must not affect delivery.
package metrics

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"castline/internal/types"
)

// Namespace is the CloudWatch namespace for all castline metrics.
const Namespace = "Castline/Notifications"

// Metric and dimension names.
const (
	metricJobOutcome  = "JobOutcome"
	metricTickLatency = "DispatchTickLatency"
	metricFanout      = "DailyFanoutEnqueued"

	dimKind    = "Kind"
	dimOutcome = "Outcome"
)

// Emitter is the telemetry surface used by the dispatcher and scheduler.
type Emitter interface {
	// JobOutcome records one terminal-or-requeued job transition.
	JobOutcome(ctx context.Context, kind types.JobKind, outcome types.JobStatus)
	// TickLatency records how long one dispatch tick took end to end.
	TickLatency(ctx context.Context, d time.Duration)
	// FanoutEnqueued records how many jobs a daily fan-out created.
	FanoutEnqueued(ctx context.Context, count int)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Compile-time assertions.
var (
	_ Emitter = (*CloudWatchEmitter)(nil)
	_ Emitter = NopEmitter{}
)

// CloudWatchEmitter implements Emitter against CloudWatch.
type CloudWatchEmitter struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

// NewCloudWatchEmitter creates an emitter publishing to the castline
// namespace.
func NewCloudWatchEmitter(client CloudWatchClient, logger types.Logger) *CloudWatchEmitter {
	return &CloudWatchEmitter{client: client, namespace: Namespace, logger: logger}
}

// JobOutcome implements Emitter.
func (m *CloudWatchEmitter) JobOutcome(ctx context.Context, kind types.JobKind, outcome types.JobStatus) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricJobOutcome),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String(dimKind), Value: aws.String(string(kind))},
			{Name: aws.String(dimOutcome), Value: aws.String(string(outcome))},
		},
	})
}

// TickLatency implements Emitter.
func (m *CloudWatchEmitter) TickLatency(ctx context.Context, d time.Duration) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricTickLatency),
		Value:      aws.Float64(float64(d.Milliseconds())),
		Unit:       cwtypes.StandardUnitMilliseconds,
	})
}

// FanoutEnqueued implements Emitter.
func (m *CloudWatchEmitter) FanoutEnqueued(ctx context.Context, count int) {
	m.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metricFanout),
		Value:      aws.Float64(float64(count)),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (m *CloudWatchEmitter) put(ctx context.Context, datum cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.logger.Error("failed to put metric data",
			"error", err.Error(),
			"metric", aws.ToString(datum.MetricName),
		)
	}
}

// NopEmitter discards all metrics. Used in tests and local runs.
type NopEmitter struct{}

func (NopEmitter) JobOutcome(context.Context, types.JobKind, types.JobStatus) {}
func (NopEmitter) TickLatency(context.Context, time.Duration)                 {}
func (NopEmitter) FanoutEnqueued(context.Context, int)                        {}
