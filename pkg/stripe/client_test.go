package stripe

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lmdrive/drive-backend/pkg/config"
	"github.com/lmdrive/drive-backend/pkg/logger"
)

func TestNewClientMatchesKeyToMode(t *testing.T) {
	cases := []struct {
		name string
		cfg  config.StripeConfig
		ok   bool
	}{
		{"test key", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1"}, true},
		{"restricted live key", config.StripeConfig{APIKey: "rk_live_123", Secret: "whsec_1", Env: "LIVE"}, true},
		{"live key in test", config.StripeConfig{APIKey: "sk_live_123", Secret: "whsec_1", Env: "test"}, false},
		{"test key in live", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "live"}, false},
		{"missing key", config.StripeConfig{Secret: "whsec_1"}, false},
		{"missing secret", config.StripeConfig{APIKey: "sk_test_123"}, false},
		{"unknown env", config.StripeConfig{APIKey: "sk_test_123", Secret: "whsec_1", Env: "staging"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client, err := NewClient(context.Background(), tc.cfg, logger.Nop())
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, client.API())
			assert.Equal(t, "whsec_1", client.SigningSecret())
		})
	}
}

func TestNilClientAccessors(t *testing.T) {
	var c *Client
	assert.Nil(t, c.API())
	assert.Empty(t, c.SigningSecret())
	assert.Empty(t, c.Mode())
}
