package aws

import (
	"context"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
}

func (f *fakeCloudWatch) PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	f.inputs = append(f.inputs, in)
	return &cloudwatch.PutMetricDataOutput{}, nil
}

func TestRecordCount_Enabled(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := NewMetricsClientWithAPI(fake, "", true)

	require.NoError(t, m.RecordCount(context.Background(), MetricSubscriptionCharged, map[string]string{"Service": "billing"}))
	require.Len(t, fake.inputs, 1)
	assert.Equal(t, "FirewoodMarketplace", sdkaws.ToString(fake.inputs[0].Namespace))
	assert.Equal(t, MetricSubscriptionCharged, sdkaws.ToString(fake.inputs[0].MetricData[0].MetricName))
	assert.Len(t, fake.inputs[0].MetricData[0].Dimensions, 1)
}

func TestRecordCount_DisabledAndNil(t *testing.T) {
	fake := &fakeCloudWatch{}
	m := NewMetricsClientWithAPI(fake, "ns", false)
	require.NoError(t, m.RecordCount(context.Background(), MetricHTTPRequests, nil))
	assert.Empty(t, fake.inputs)

	var nilClient *MetricsClient
	assert.NoError(t, nilClient.RecordCount(context.Background(), MetricHTTPRequests, nil))
	assert.False(t, nilClient.IsEnabled())
}
