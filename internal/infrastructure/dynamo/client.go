package dynamo

import (
	"context"

	"github.com/741g/vperfetto/internal/config"
	"github.com/741g/vperfetto/internal/infrastructure/awscfg"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// NewClient creates a DynamoDB client for the merge ledger. Against LocalStack
// every call goes to cfg.AWSEndpointURL.
func NewClient(cfg *config.Config) (*dynamodb.Client, error) {
	awsCfg, err := awscfg.Load(context.Background(), cfg, "")
	if err != nil {
		return nil, err
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		o.BaseEndpoint = awscfg.Endpoint(cfg)
	}), nil
}
