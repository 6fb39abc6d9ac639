// Package storage builds clients for the AWS services backing the
// analytics pipeline.
package storage

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/cygnusb2b/fortnight-graph/internal/config"
)

// AWS holds the loaded SDK config and the endpoint override, if any.
type AWS struct {
	Config   aws.Config
	endpoint string
}

// LoadAWS resolves AWS credentials. Static keys win over a named profile,
// which wins over the default chain.
func LoadAWS(ctx context.Context, c config.AWSConfig) (*AWS, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(c.Region)}
	switch {
	case c.AccessKey != "" && c.SecretKey != "":
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKey, c.SecretKey, ""),
		))
	case c.Profile != "":
		opts = append(opts, awsconfig.WithSharedConfigProfile(c.Profile))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	return &AWS{Config: cfg, endpoint: c.Endpoint}, nil
}

// SQS returns an SQS client.
func (a *AWS) SQS() *sqs.Client {
	return sqs.NewFromConfig(a.Config, func(o *sqs.Options) {
		if a.endpoint != "" {
			o.BaseEndpoint = aws.String(a.endpoint)
		}
	})
}

// DynamoDB returns a DynamoDB client.
func (a *AWS) DynamoDB() *dynamodb.Client {
	return dynamodb.NewFromConfig(a.Config, func(o *dynamodb.Options) {
		if a.endpoint != "" {
			o.BaseEndpoint = aws.String(a.endpoint)
		}
	})
}
