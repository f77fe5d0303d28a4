package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"notifyd/internal/notification"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// SubscriptionStore resolves and prunes browser push subscriptions.
type SubscriptionStore interface {
	BrowserSubscriptions(ctx context.Context, userID int64) ([]storage.BrowserSubscription, error)
	RemoveBrowserSubscription(ctx context.Context, endpoint string) error
}

// WebPushConfig holds the VAPID identity.
type WebPushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             time.Duration
	RatePerSec      int
	HTTPClient      *http.Client
}

// WebPush delivers to standards-based browser subscriptions (VAPID).
type WebPush struct {
	cfg     WebPushConfig
	subs    SubscriptionStore
	limiter *rate.Limiter
	log     logx.Logger
}

func NewWebPush(cfg WebPushConfig, subs SubscriptionStore, log logx.Logger) *WebPush {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 50
	}
	return &WebPush{
		cfg:     cfg,
		subs:    subs,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		log:     log,
	}
}

func (w *WebPush) Name() string { return "browser" }

func (w *WebPush) Send(ctx context.Context, env notification.Envelope) (int, error) {
	subs, err := w.subs.BrowserSubscriptions(ctx, env.UserID)
	if err != nil {
		return 0, fmt.Errorf("lookup subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return 0, nil
	}
	payload, err := browserPayload(env)
	if err != nil {
		return 0, err
	}

	var (
		sent int
		errs []error
	)
	for _, sub := range subs {
		if err := w.sendOne(ctx, sub, payload); err != nil {
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

func (w *WebPush) sendOne(ctx context.Context, sub storage.BrowserSubscription, payload []byte) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return err
	}
	opts := &webpush.Options{
		Subscriber:      w.cfg.Subscriber,
		VAPIDPublicKey:  w.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: w.cfg.VAPIDPrivateKey,
		TTL:             int(w.cfg.TTL.Seconds()),
	}
	if w.cfg.HTTPClient != nil {
		opts.HTTPClient = w.cfg.HTTPClient
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
	}, opts)
	if err != nil {
		return fmt.Errorf("webpush: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusGone || resp.StatusCode == http.StatusNotFound:
		w.log.Info("browser subscription expired; removing", logx.Int64("user_id", sub.UserID), logx.Int("status", resp.StatusCode))
		if rerr := w.subs.RemoveBrowserSubscription(ctx, sub.Endpoint); rerr != nil {
			w.log.Warn("remove subscription failed", logx.Err(rerr))
		}
		return fmt.Errorf("webpush: subscription gone (%d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		return fmt.Errorf("webpush: unexpected status %d", resp.StatusCode)
	}
	return nil
}
