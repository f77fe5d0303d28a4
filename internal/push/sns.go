package push

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"golang.org/x/time/rate"

	"notifyd/internal/notification"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// SNSAPI is the slice of the SNS client used here.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// DeviceStore resolves and prunes SNS platform endpoints.
type DeviceStore interface {
	Devices(ctx context.Context, userID int64, types ...storage.DeviceType) ([]storage.Device, error)
	RemoveDevice(ctx context.Context, endpointARN string) error
}

// BadgeCounter tracks the unread count shown on the app icon.
type BadgeCounter interface {
	IncrementBadge(ctx context.Context, userID int64) (int, error)
}

// NewSNSClient builds an SNS client from the default credential chain.
// A non-empty endpoint overrides the service URL (e.g. localstack).
func NewSNSClient(ctx context.Context, region, endpoint string) (*sns.Client, error) {
	cfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return sns.NewFromConfig(cfg, func(o *sns.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

// SNSConfig configures the SNS based transports.
type SNSConfig struct {
	// Sandbox publishes APNS payloads under APNS_SANDBOX.
	Sandbox    bool
	RatePerSec int
}

type snsSender struct {
	api     SNSAPI
	devices DeviceStore
	limiter *rate.Limiter
	log     logx.Logger
}

func newSNSSender(api SNSAPI, devices DeviceStore, rps int, log logx.Logger) snsSender {
	if rps <= 0 {
		rps = 50
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return snsSender{api: api, devices: devices, limiter: rate.NewLimiter(rate.Limit(rps), rps), log: log}
}

// publish sends msg to arn. Disabled endpoints are removed from the registry.
func (s snsSender) publish(ctx context.Context, arn, msg string) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	_, err := s.api.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(arn),
		Message:          aws.String(msg),
		MessageStructure: aws.String("json"),
	})
	if err == nil {
		return nil
	}
	var disabled *types.EndpointDisabledException
	if errors.As(err, &disabled) {
		s.log.Info("sns endpoint disabled; removing device", logx.String("arn", arn))
		if rerr := s.devices.RemoveDevice(ctx, arn); rerr != nil {
			s.log.Warn("remove disabled device failed", logx.String("arn", arn), logx.Err(rerr))
		}
	}
	return fmt.Errorf("sns publish %s: %w", arn, err)
}

// SNSMobile delivers to iOS and Android app endpoints.
type SNSMobile struct {
	snsSender
	badges  BadgeCounter
	sandbox bool
}

func NewSNSMobile(api SNSAPI, devices DeviceStore, badges BadgeCounter, cfg SNSConfig, log logx.Logger) *SNSMobile {
	return &SNSMobile{snsSender: newSNSSender(api, devices, cfg.RatePerSec, log), badges: badges, sandbox: cfg.Sandbox}
}

func (m *SNSMobile) Name() string { return "mobile" }

func (m *SNSMobile) Send(ctx context.Context, env notification.Envelope) (int, error) {
	devices, err := m.devices.Devices(ctx, env.UserID, storage.DeviceIOS, storage.DeviceAndroid)
	if err != nil {
		return 0, fmt.Errorf("lookup devices: %w", err)
	}
	if len(devices) == 0 {
		return 0, nil
	}

	badge := 0
	if m.badges != nil {
		if badge, err = m.badges.IncrementBadge(ctx, env.UserID); err != nil {
			m.log.Debug("badge increment failed", logx.Int64("user_id", env.UserID), logx.Err(err))
		}
	}

	var (
		sent int
		errs []error
	)
	for _, d := range devices {
		var (
			msg string
			err error
		)
		switch d.Type {
		case storage.DeviceIOS:
			platform := "APNS"
			if m.sandbox {
				platform = "APNS_SANDBOX"
			}
			msg, err = snsMessage(platform, mobileAPNS(env, badge, env.PlaySound))
		case storage.DeviceAndroid:
			msg, err = snsMessage("GCM", mobileGCM(env))
		default:
			continue
		}
		if err == nil {
			err = m.publish(ctx, d.EndpointARN, msg)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return sent, nil
}

// SNSSafari delivers to Safari web push endpoints registered through SNS.
type SNSSafari struct {
	snsSender
	sandbox bool
}

func NewSNSSafari(api SNSAPI, devices DeviceStore, cfg SNSConfig, log logx.Logger) *SNSSafari {
	return &SNSSafari{snsSender: newSNSSender(api, devices, cfg.RatePerSec, log), sandbox: cfg.Sandbox}
}

func (s *SNSSafari) Name() string { return "safari" }

func (s *SNSSafari) Send(ctx context.Context, env notification.Envelope) (int, error) {
	devices, err := s.devices.Devices(ctx, env.UserID, storage.DeviceSafari)
	if err != nil {
		return 0, fmt.Errorf("lookup safari devices: %w", err)
	}
	if len(devices) == 0 {
		return 0, nil
	}
	platform := "APNS"
	if s.sandbox {
		platform = "APNS_SANDBOX"
	}
	msg, err := snsMessage(platform, safariAPNS(env))
	if err != nil {
		return 0, err
	}

	var (
		sent int
		errs []error
	)
	for _, d := range devices {
		if err := s.publish(ctx, d.EndpointARN, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		sent++
	}
	if sent == 0 && len(errs) > 0 {
		return 0, errors.Join(errs...)
	}
	return sent, nil
}
