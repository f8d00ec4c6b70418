package config

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "dev", cfg.Server.Env)
	assert.True(t, cfg.Server.IsDevelopment())
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.TrustedOrigins)

	assert.Equal(t, 30*24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, 24*time.Hour, cfg.Auth.VerificationCodeTTL)
	assert.Equal(t, time.Hour, cfg.Auth.ResetTokenTTL)
	assert.Equal(t, 10, cfg.Auth.BcryptCost)

	assert.Equal(t, "logs", cfg.Log.Dir)
	assert.Equal(t, 1000, cfg.Log.BufferCapacity)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SESSION_TTL", strconv.Itoa(7*24*60*60))
	t.Setenv("TRUSTED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.False(t, cfg.Server.IsDevelopment())
	assert.Equal(t, 7*24*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.TrustedOrigins)
}

func TestLoadSessionTTLRange(t *testing.T) {
	tests := []struct {
		name    string
		seconds int
		wantErr bool
	}{
		{"below minimum", 24 * 60 * 60, true},
		{"at minimum", 7 * 24 * 60 * 60, false},
		{"at maximum", 30 * 24 * 60 * 60, false},
		{"above maximum", 31 * 24 * 60 * 60, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SESSION_TTL", strconv.Itoa(tt.seconds))
			_, err := Load()
			if tt.wantErr {
				assert.ErrorContains(t, err, "SESSION_TTL")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("BCRYPT_COST", "not-a-number")
	t.Setenv("SESSION_TTL", "also-not-a-number")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Auth.BcryptCost)
	assert.Equal(t, 30*24*time.Hour, cfg.Auth.SessionTTL)
}

func TestConnectionString(t *testing.T) {
	db := DatabaseConfig{
		Host:     "dbhost",
		Port:     "5433",
		User:     "svc",
		Password: "secret",
		DBName:   "accounts",
		SSLMode:  "require",
	}

	assert.Equal(t,
		"host=dbhost port=5433 user=svc password=secret dbname=accounts sslmode=require",
		db.ConnectionString(),
	)
}
