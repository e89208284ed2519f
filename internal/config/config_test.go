package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		StoreBackend:        "sqlite",
		AnswerEngine:        "echo",
		MaxBatchSize:        10,
		ResolverConcurrency: 2,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "bad store backend",
			mutate:  func(c *Config) { c.StoreBackend = "redis" },
			wantErr: "STORE_BACKEND",
		},
		{
			name:    "azure without account",
			mutate:  func(c *Config) { c.StoreBackend = "azure" },
			wantErr: "AZURE_STORAGE_ACCOUNT",
		},
		{
			name:    "gemini without key",
			mutate:  func(c *Config) { c.AnswerEngine = "gemini" },
			wantErr: "GEMINI_API_KEY",
		},
		{
			name: "gemini with key",
			mutate: func(c *Config) {
				c.AnswerEngine = "gemini"
				c.GeminiAPIKey = "k"
			},
		},
		{
			name:    "operator email without smtp",
			mutate:  func(c *Config) { c.OperatorEmail = "ops@example.com" },
			wantErr: "SMTP",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.MaxBatchSize = 0 },
			wantErr: "MAX_BATCH_SIZE",
		},
		{
			name:    "zero concurrency",
			mutate:  func(c *Config) { c.ResolverConcurrency = 0 },
			wantErr: "RESOLVER_CONCURRENCY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.StoreBackend)
	assert.Equal(t, 10, cfg.MaxBatchSize)
	assert.Equal(t, 2, cfg.ResolverConcurrency)
	assert.Equal(t, 280, cfg.MaxReplyLength)
	assert.Equal(t, "(human) ", cfg.ModeratorPrefix)
	assert.Equal(t, 5*time.Second, cfg.EmptyCycleBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.EmptyCycleMaxDelay)
}
