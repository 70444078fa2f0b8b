package awsboot

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSSM struct {
	value *string
	err   error
	got   *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.got = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &ssmtypes.Parameter{Value: f.value}}, nil
}

func TestLoadParameter(t *testing.T) {
	fake := &fakeSSM{value: aws.String("abc123")}
	v, err := LoadParameter(context.Background(), fake, "/erasebg/token")
	require.NoError(t, err)
	assert.Equal(t, "abc123", v)
	assert.Equal(t, "/erasebg/token", aws.ToString(fake.got.Name))
	assert.True(t, aws.ToBool(fake.got.WithDecryption))
}

func TestLoadParameter_Empty(t *testing.T) {
	_, err := LoadParameter(context.Background(), &fakeSSM{value: aws.String("")}, "/p")
	assert.ErrorIs(t, err, ErrEmptyParameter)
}

func TestLoadParameter_Error(t *testing.T) {
	boom := errors.New("access denied")
	_, err := LoadParameter(context.Background(), &fakeSSM{err: boom}, "/p")
	assert.ErrorIs(t, err, boom)
}

func TestInitDynamo_RequiresTable(t *testing.T) {
	_, err := InitDynamo(aws.Config{}, "", "default")
	assert.Error(t, err)
}
