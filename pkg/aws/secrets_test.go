package aws

import (
	"context"
	"testing"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSecrets struct {
	calls  int
	values map[string]*string
}

func (f *fakeSecrets) GetSecretValue(ctx context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	return &secretsmanager.GetSecretValueOutput{SecretString: f.values[sdkaws.ToString(in.SecretId)]}, nil
}

func TestGetSecret_CachesValue(t *testing.T) {
	fake := &fakeSecrets{values: map[string]*string{"billing/STRIPE_API_KEY": sdkaws.String("sk_test")}}
	client := NewSecretsClientWithAPI(fake)

	for i := 0; i < 3; i++ {
		v, err := client.GetSecret(context.Background(), "billing/STRIPE_API_KEY")
		require.NoError(t, err)
		assert.Equal(t, "sk_test", v)
	}
	assert.Equal(t, 1, fake.calls)
}

func TestGetSecret_NoStringValue(t *testing.T) {
	client := NewSecretsClientWithAPI(&fakeSecrets{values: map[string]*string{}})
	_, err := client.GetSecret(context.Background(), "missing")
	assert.ErrorContains(t, err, "has no string value")
}
