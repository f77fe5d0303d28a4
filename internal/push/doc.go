// Package push implements the delivery transports used by the notifier:
// SNS platform endpoints for the mobile apps and Safari, and VAPID web
// push for other browsers. Each transport resolves the recipient's
// registrations, sends one message per registration and prunes
// registrations the provider reports as gone.
package push
