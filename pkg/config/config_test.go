package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "eur", cfg.Stripe.Currency)
	assert.Equal(t, DispatchModeInline, cfg.Dispatch.Mode)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())
	assert.True(t, cfg.IsDevelopment())
	assert.False(t, cfg.UnsignedWebhooksAllowed())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{
			name: "обход подписи разрешён в development",
			cfg: Config{
				App:      AppConfig{Env: "development"},
				Stripe:   StripeConfig{AllowUnsignedWebhooks: true},
				Dispatch: DispatchConfig{Mode: DispatchModeInline},
			},
		},
		{
			name: "обход подписи запрещён в production",
			cfg: Config{
				App:      AppConfig{Env: "production"},
				Stripe:   StripeConfig{AllowUnsignedWebhooks: true, WebhookSecret: "whsec_x"},
				Dispatch: DispatchConfig{Mode: DispatchModeInline},
			},
			wantErr: ErrUnsignedWebhooksInProduction,
		},
		{
			name: "production без секрета вебхука",
			cfg: Config{
				App:      AppConfig{Env: "production"},
				Dispatch: DispatchConfig{Mode: DispatchModeAsync},
			},
			wantErr: ErrWebhookSecretMissing,
		},
		{
			name: "неизвестный режим побочных эффектов",
			cfg: Config{
				App:      AppConfig{Env: "staging"},
				Dispatch: DispatchConfig{Mode: "batch"},
			},
			wantErr: ErrUnknownDispatchMode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestUnsignedWebhooksAllowed(t *testing.T) {
	cfg := Config{
		App:    AppConfig{Env: "production"},
		Stripe: StripeConfig{AllowUnsignedWebhooks: true},
	}
	assert.False(t, cfg.UnsignedWebhooksAllowed())

	cfg.App.Env = "staging"
	assert.True(t, cfg.UnsignedWebhooksAllowed())
}

func TestStripeConfigured(t *testing.T) {
	assert.False(t, StripeConfig{}.Configured())
	assert.False(t, StripeConfig{SecretKey: "sk_test_YOUR_SECRET_KEY_HERE"}.Configured())
	assert.True(t, StripeConfig{SecretKey: "sk_test_51abc"}.Configured())
}
