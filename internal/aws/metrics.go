package aws

import (
	"context"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/phuslu/log"
)

// Metric names emitted by the worker runtime, the breaker and the pipeline.
const (
	MetricJobCompleted        = "JobCompleted"
	MetricJobFailed           = "JobFailed"
	MetricJobRetried          = "JobRetried"
	MetricDeadLetter          = "DeadLetter"
	MetricBreakerTransition   = "BreakerTransition"
	MetricVocabularyViolation = "VocabularyViolation"
	MetricIdempotencyReplay   = "IdempotencyReplay"
	MetricCoordDegraded       = "CoordinationDegraded"
)

// Recorder counts events. Implementations must not block callers for long
// and must never fail the operation being measured.
type Recorder interface {
	Incr(ctx context.Context, name string, dims map[string]string)
}

// NopRecorder discards every metric.
type NopRecorder struct{}

func (NopRecorder) Incr(context.Context, string, map[string]string) {}

// CloudWatchRecorder publishes count metrics to a CloudWatch namespace.
type CloudWatchRecorder struct {
	client    CloudWatchAPI
	namespace string
	logger    *log.Logger
	timeout   time.Duration
}

func NewCloudWatchRecorder(client CloudWatchAPI, namespace string, logger *log.Logger) *CloudWatchRecorder {
	return &CloudWatchRecorder{
		client:    client,
		namespace: namespace,
		logger:    logger,
		timeout:   2 * time.Second,
	}
}

func (r *CloudWatchRecorder) Incr(ctx context.Context, name string, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: sdkaws.String(name),
		Unit:       cwtypes.StandardUnitCount,
		Value:      sdkaws.Float64(1),
		Timestamp:  sdkaws.Time(time.Now().UTC()),
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{
			Name:  sdkaws.String(k),
			Value: sdkaws.String(v),
		})
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		r.logger.Warn().Err(err).Str("metric", name).Msg("put metric data failed")
	}
}
