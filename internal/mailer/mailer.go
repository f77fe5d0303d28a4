// Package mailer sends digest emails through Amazon SES.
package mailer

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"golang.org/x/time/rate"

	logx "notifyd/pkg/logx"
)

// ErrNotConfigured is returned by Send when no SES client was provided.
var ErrNotConfigured = errors.New("mailer: not configured")

const DefaultFrom = "Audius <notify@audius.co>"

// SESAPI is the slice of the SES client used here.
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// Message is one outgoing email.
type Message struct {
	From    string
	To      string
	BCC     []string
	Subject string
	HTML    string
}

type Config struct {
	Region     string
	Endpoint   string
	From       string
	RatePerSec int
}

type Mailer struct {
	api     SESAPI
	from    string
	limiter *rate.Limiter
	log     logx.Logger
}

// NewSESClient builds an SES client from the default credential chain.
func NewSESClient(ctx context.Context, region, endpoint string) (*ses.Client, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return ses.NewFromConfig(cfg, func(o *ses.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// New returns a Mailer. A nil api yields a Mailer whose Send fails with ErrNotConfigured.
func New(api SESAPI, cfg Config, log logx.Logger) *Mailer {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.From == "" {
		cfg.From = DefaultFrom
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 14
	}
	return &Mailer{
		api:     api,
		from:    cfg.From,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
}

func (m *Mailer) Configured() bool { return m != nil && m.api != nil }

// Send delivers msg and returns the provider message id.
func (m *Mailer) Send(ctx context.Context, msg Message) (string, error) {
	if !m.Configured() {
		return "", ErrNotConfigured
	}
	if msg.To == "" {
		return "", errors.New("mailer: recipient is required")
	}
	if err := m.limiter.Wait(ctx); err != nil {
		return "", err
	}
	from := msg.From
	if from == "" {
		from = m.from
	}
	out, err := m.api.SendEmail(ctx, &ses.SendEmailInput{
		Source: aws.String(from),
		Destination: &types.Destination{
			ToAddresses:  []string{msg.To},
			BccAddresses: msg.BCC,
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body: &types.Body{
				Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("ses send: %w", err)
	}
	id := aws.ToString(out.MessageId)
	m.log.Debug("email sent", logx.String("message_id", id), logx.String("subject", msg.Subject))
	return id, nil
}
