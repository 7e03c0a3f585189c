// Package stripe builds the Stripe API client used for PaymentIntents and
// refunds, and holds the webhook signing secret.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

// Mode is the Stripe account mode a key belongs to.
type Mode string

const (
	ModeTest Mode = "test"
	ModeLive Mode = "live"
)

// Secret and restricted keys are both accepted.
var keyPrefixes = map[Mode][]string{
	ModeTest: {"sk_test_", "rk_test_"},
	ModeLive: {"sk_live_", "rk_live_"},
}

type Client struct {
	api           *stripe.Client
	mode          Mode
	signingSecret string
}

// NewClient refuses a key whose prefix does not match the configured mode,
// so a live key never runs in a test deployment or the other way round.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	mode := Mode(cfg.NormalizedMode())
	prefixes, known := keyPrefixes[mode]
	if !known {
		return nil, fmt.Errorf("stripe: unknown environment %q", mode)
	}

	key := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.Secret)
	switch {
	case key == "":
		return nil, errors.New("stripe: api key is required")
	case secret == "":
		return nil, errors.New("stripe: webhook signing secret is required")
	case !slices.ContainsFunc(prefixes, func(p string) bool { return strings.HasPrefix(key, p) }):
		return nil, fmt.Errorf("stripe: %s mode needs a key starting with %s", mode, strings.Join(prefixes, " or "))
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_mode", string(mode)), "stripe client ready")
	}
	return &Client{api: stripe.NewClient(key), mode: mode, signingSecret: secret}, nil
}

// API is nil on a nil Client.
func (c *Client) API() *stripe.Client {
	if c == nil {
		return nil
	}
	return c.api
}

func (c *Client) Mode() Mode {
	if c == nil {
		return ""
	}
	return c.mode
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}
