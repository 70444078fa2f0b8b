// Package awsboot loads the shared AWS configuration and builds the
// clients the relay uses: DynamoDB for the shared key-value store and SSM
// Parameter Store for importing a credential token.
package awsboot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/erasebg-relay/internal/store"
)

// ErrEmptyParameter is returned when an SSM parameter exists but has no value.
var ErrEmptyParameter = errors.New("parameter has no value")

// Clients holds the core AWS SDK clients.
type Clients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) (Clients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return Clients{}, fmt.Errorf("load AWS config: %w", err)
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return Clients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// InitDynamo creates a DynamoDB-backed store for the given table and namespace.
func InitDynamo(cfg aws.Config, tableName, namespace string) (*store.DynamoStore, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName, namespace), nil
}

// ParameterAPI is the subset of the SSM client used to read parameters.
type ParameterAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadParameter reads a (possibly SecureString) parameter value.
func LoadParameter(ctx context.Context, client ParameterAPI, name string) (string, error) {
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("read parameter %s: %w", name, err)
	}
	if result.Parameter == nil || aws.ToString(result.Parameter.Value) == "" {
		return "", fmt.Errorf("read parameter %s: %w", name, ErrEmptyParameter)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Parameter loaded from SSM")
	return aws.ToString(result.Parameter.Value), nil
}
