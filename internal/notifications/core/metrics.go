package core

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"forwardgate/internal/types"
)

// Metric names and dimensions emitted by ConsentMetrics.
const (
	MetricResolution      = "ConsentResolution"
	MetricDecision        = "ConsentDecision"
	MetricDecisionFanOut  = "ConsentDecisionChannels"
	MetricDispatchFailure = "ConfirmationDispatchFailure"
	MetricGateOutcome     = "ChannelGateOutcome"

	DimMode     = "Mode"
	DimDecision = "Decision"
	DimOutcome  = "Outcome"
)

// ConsentMetrics is what the ledger, the gate and the dispatchers report.
type ConsentMetrics interface {
	RecordResolution(ctx context.Context, mode types.EffectiveMode)
	RecordDecision(ctx context.Context, decision types.ConsentMode, channels int)
	RecordDispatchFailure(ctx context.Context)
	RecordOutcome(ctx context.Context, outcome types.GateOutcome)
}

// CloudWatchClient is the PutMetricData subset of *cloudwatch.Client.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchConsentMetrics publishes each event as a PutMetricData call.
// Publish failures are logged and otherwise ignored.
type CloudWatchConsentMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    types.Logger
}

func NewCloudWatchConsentMetrics(client CloudWatchClient, namespace string, logger types.Logger) *CloudWatchConsentMetrics {
	return &CloudWatchConsentMetrics{client: client, namespace: namespace, logger: logger}
}

func (m *CloudWatchConsentMetrics) RecordResolution(ctx context.Context, mode types.EffectiveMode) {
	m.put(ctx, count(MetricResolution, 1, dim(DimMode, string(mode))))
}

func (m *CloudWatchConsentMetrics) RecordDecision(ctx context.Context, decision types.ConsentMode, channels int) {
	m.put(ctx,
		count(MetricDecision, 1, dim(DimDecision, string(decision))),
		count(MetricDecisionFanOut, float64(channels), dim(DimDecision, string(decision))),
	)
}

func (m *CloudWatchConsentMetrics) RecordDispatchFailure(ctx context.Context) {
	m.put(ctx, count(MetricDispatchFailure, 1))
}

func (m *CloudWatchConsentMetrics) RecordOutcome(ctx context.Context, outcome types.GateOutcome) {
	m.put(ctx, count(MetricGateOutcome, 1, dim(DimOutcome, string(outcome))))
}

func (m *CloudWatchConsentMetrics) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(m.namespace),
		MetricData: data,
	})
	if err != nil {
		m.logger.Error("failed to publish metric",
			"metric", aws.ToString(data[0].MetricName),
			"error", err,
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func count(name string, v float64, dims ...cwtypes.Dimension) cwtypes.MetricDatum {
	return cwtypes.MetricDatum{
		MetricName: aws.String(name),
		Value:      aws.Float64(v),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	}
}

// NoopMetrics discards everything. It is used when METRICS_ENABLED is false.
type NoopMetrics struct{}

func (NoopMetrics) RecordResolution(context.Context, types.EffectiveMode)  {}
func (NoopMetrics) RecordDecision(context.Context, types.ConsentMode, int) {}
func (NoopMetrics) RecordDispatchFailure(context.Context)                  {}
func (NoopMetrics) RecordOutcome(context.Context, types.GateOutcome)       {}

var (
	_ ConsentMetrics = (*CloudWatchConsentMetrics)(nil)
	_ ConsentMetrics = NoopMetrics{}
)
