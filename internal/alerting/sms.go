package alerting

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/rs/zerolog"
)

// SNSAPI is the subset of the SNS client used for text alerts.
type SNSAPI interface {
	Publish(ctx context.Context, in *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier publishes alert texts to one phone number.
type SNSNotifier struct {
	api         SNSAPI
	phoneNumber string
	logger      zerolog.Logger
}

// NewSNSNotifier wraps an SNS client.
func NewSNSNotifier(api SNSAPI, phoneNumber string, logger zerolog.Logger) *SNSNotifier {
	return &SNSNotifier{
		api:         api,
		phoneNumber: phoneNumber,
		logger:      logger.With().Str("component", "alert_sms").Logger(),
	}
}

// Name identifies the channel in cycle results.
func (n *SNSNotifier) Name() string { return "sms" }

// Notify publishes the alert text.
func (n *SNSNotifier) Notify(ctx context.Context, event AlertEvent) error {
	out, err := n.api.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(n.phoneNumber),
		Message:     aws.String(SMSMessage(event)),
	})
	if err != nil {
		return fmt.Errorf("publish alert sms: %w", err)
	}

	n.logger.Info().Str("asset", event.Asset).
		Str("label", event.Band.Label).
		Str("message_id", aws.ToString(out.MessageId)).
		Msg("alert sms published")
	return nil
}

var _ Notifier = (*SNSNotifier)(nil)
