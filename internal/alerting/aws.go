package alerting

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// AWSClients bundles the SES and SNS clients sharing one credential chain.
type AWSClients struct {
	SES *sesv2.Client
	SNS *sns.Client
}

// NewAWSClients loads the default credential chain for region. A non-empty
// endpoint overrides service routing, e.g. for a local emulator.
func NewAWSClients(ctx context.Context, region, endpoint string) (*AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	ses := sesv2.NewFromConfig(cfg, func(o *sesv2.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	snsClient := sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})

	return &AWSClients{SES: ses, SNS: snsClient}, nil
}

var (
	_ SESAPI = (*sesv2.Client)(nil)
	_ SNSAPI = (*sns.Client)(nil)
)
