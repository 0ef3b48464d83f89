package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

const (
	templateSubject = "{{slug}} entered the {{threshold}} band"
	templateText    = "{{slug}} is trading in the {{threshold}} band ({{min}} - {{max}} USD)."
	templateHTML    = "<p><strong>{{slug}}</strong> is trading in the <strong>{{threshold}}</strong> band ({{min}} - {{max}} USD).</p>"
)

// SESAPI is the subset of the SES v2 client used for alert emails.
type SESAPI interface {
	GetEmailTemplate(ctx context.Context, in *sesv2.GetEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.GetEmailTemplateOutput, error)
	CreateEmailTemplate(ctx context.Context, in *sesv2.CreateEmailTemplateInput, optFns ...func(*sesv2.Options)) (*sesv2.CreateEmailTemplateOutput, error)
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// EmailOptions configure the SES notifier.
type EmailOptions struct {
	TemplateName      string
	Sender            string
	Recipient         string
	SenderIdentityARN string
}

// SESNotifier sends templated alert emails to a fixed recipient.
type SESNotifier struct {
	api    SESAPI
	opts   EmailOptions
	logger zerolog.Logger

	mu          sync.Mutex
	provisioned bool
}

// NewSESNotifier wraps an SES client.
func NewSESNotifier(api SESAPI, opts EmailOptions, logger zerolog.Logger) *SESNotifier {
	return &SESNotifier{
		api:    api,
		opts:   opts,
		logger: logger.With().Str("component", "alert_email").Logger(),
	}
}

// Name identifies the channel in cycle results.
func (n *SESNotifier) Name() string { return "email" }

// EnsureTemplate creates the alert template when SES does not know it yet.
// A successful check is remembered for the notifier's lifetime.
func (n *SESNotifier) EnsureTemplate(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.provisioned {
		return nil
	}

	_, err := n.api.GetEmailTemplate(ctx, &sesv2.GetEmailTemplateInput{
		TemplateName: aws.String(n.opts.TemplateName),
	})
	switch {
	case err == nil:
		n.logger.Debug().Str("template", n.opts.TemplateName).Msg("email template present")
	case isNotFound(err):
		if _, err := n.api.CreateEmailTemplate(ctx, &sesv2.CreateEmailTemplateInput{
			TemplateName: aws.String(n.opts.TemplateName),
			TemplateContent: &types.EmailTemplateContent{
				Subject: aws.String(templateSubject),
				Text:    aws.String(templateText),
				Html:    aws.String(templateHTML),
			},
		}); err != nil {
			return fmt.Errorf("create email template %s: %w", n.opts.TemplateName, err)
		}
		n.logger.Info().Str("template", n.opts.TemplateName).Msg("email template created")
	default:
		return fmt.Errorf("get email template %s: %w", n.opts.TemplateName, err)
	}

	n.provisioned = true
	return nil
}

// Notify sends one templated email for the event.
func (n *SESNotifier) Notify(ctx context.Context, event AlertEvent) error {
	if n.opts.Sender == "" || n.opts.Recipient == "" {
		return errors.New("email sender and recipient must be configured")
	}
	if err := n.EnsureTemplate(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(templateData{
		Slug:      event.Asset,
		Threshold: event.Band.Label,
		Min:       event.Band.Min.String(),
		Max:       event.Band.Max.String(),
	})
	if err != nil {
		return fmt.Errorf("marshal template data: %w", err)
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.opts.Sender),
		Destination: &types.Destination{
			ToAddresses: []string{n.opts.Recipient},
		},
		Content: &types.EmailContent{
			Template: &types.Template{
				TemplateName: aws.String(n.opts.TemplateName),
				TemplateData: aws.String(string(data)),
			},
		},
	}
	if n.opts.SenderIdentityARN != "" {
		input.FromEmailAddressIdentityArn = aws.String(n.opts.SenderIdentityARN)
	}

	out, err := n.api.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("send alert email: %w", err)
	}

	n.logger.Info().Str("asset", event.Asset).
		Str("label", event.Band.Label).
		Str("message_id", aws.ToString(out.MessageId)).
		Msg("alert email sent")
	return nil
}

type templateData struct {
	Slug      string `json:"slug"`
	Threshold string `json:"threshold"`
	Min       string `json:"min"`
	Max       string `json:"max"`
}

func isNotFound(err error) bool {
	var nf *types.NotFoundException
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == "NotFoundException"
}

var _ Notifier = (*SESNotifier)(nil)
