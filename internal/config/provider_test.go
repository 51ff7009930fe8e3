package config

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSSM struct {
	mock.Mock
}

func (m *mockSSM) GetParameters(ctx context.Context, params *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*ssm.GetParametersOutput)
	return out, args.Error(1)
}

type echoSSM struct {
	batches [][]string
}

func (e *echoSSM) GetParameters(_ context.Context, in *ssm.GetParametersInput, _ ...func(*ssm.Options)) (*ssm.GetParametersOutput, error) {
	e.batches = append(e.batches, in.Names)
	out := &ssm.GetParametersOutput{}
	if !aws.ToBool(in.WithDecryption) {
		return out, nil
	}
	for _, name := range in.Names {
		out.Parameters = append(out.Parameters, ssmtypes.Parameter{
			Name:  aws.String(name),
			Value: aws.String("v:" + name),
		})
	}
	return out, nil
}

func TestSSMProvider_BatchesOfTen(t *testing.T) {
	client := &echoSSM{}
	keys := make([]string, 23)
	for i := range keys {
		keys[i] = fmt.Sprintf("/dev/forwardgate/k%02d", i)
	}

	p := newSSMProviderWithClient("us-east-1", client)
	got, err := p.GetParametersBatch(context.Background(), keys)
	require.NoError(t, err)

	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 10)
	assert.Len(t, client.batches[2], 3)
	assert.Len(t, got, 23)
	assert.Equal(t, "v:/dev/forwardgate/k05", got["/dev/forwardgate/k05"])
}

func TestSSMProvider_InvalidParameters(t *testing.T) {
	client := &mockSSM{}
	client.On("GetParameters", mock.Anything, mock.Anything).
		Return(&ssm.GetParametersOutput{InvalidParameters: []string{"/dev/missing"}}, nil)

	p := newSSMProviderWithClient("us-east-1", client)
	_, err := p.GetParametersBatch(context.Background(), []string{"/dev/missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/dev/missing")
}

func TestSSMProvider_APIError(t *testing.T) {
	client := &mockSSM{}
	boom := errors.New("AccessDenied")
	client.On("GetParameters", mock.Anything, mock.Anything).Return(nil, boom)

	p := newSSMProviderWithClient("us-east-1", client)
	_, err := p.GetParametersBatch(context.Background(), []string{"/dev/a"})
	assert.ErrorIs(t, err, boom)
}

func TestSSMProvider_EmptyAndCancelled(t *testing.T) {
	client := &mockSSM{}
	p := newSSMProviderWithClient("us-east-1", client)

	got, err := p.GetParametersBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.GetParametersBatch(ctx, []string{"/dev/a"})
	assert.ErrorIs(t, err, context.Canceled)
	client.AssertNotCalled(t, "GetParameters", mock.Anything, mock.Anything)
}

func TestEnvVarProvider(t *testing.T) {
	p := &EnvVarProvider{lookup: func(k string) (string, bool) {
		if k == "PRESENT" {
			return "yes", true
		}
		return "", false
	}}

	got, err := p.GetParametersBatch(context.Background(), []string{"PRESENT", "ABSENT"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"PRESENT": "yes"}, got)

	var _ SecretProvider = NewEnvVarProvider()
	var _ SecretProvider = NewSSMProvider("us-east-1")
}
