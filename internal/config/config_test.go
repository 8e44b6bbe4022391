package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parseServer(t *testing.T, args ...string) (*Server, error) {
	t.Helper()
	cfg := &Server{}
	fs := pflag.NewFlagSet("server", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	if err := ApplyEnv(fs); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func TestServerDefaults(t *testing.T) {
	cfg, err := parseServer(t)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.Addr())
	assert.Equal(t, 5*time.Minute, cfg.GracePeriod)
	assert.Equal(t, logrus.InfoLevel, cfg.Level())
	assert.Empty(t, cfg.RedisAddr, "redis is off unless configured")
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, 24*time.Hour, cfg.ResultsTTL)
}

func TestEnvironmentFillsUnsetFlags(t *testing.T) {
	t.Setenv("TRIVIA_PORT", "9090")
	t.Setenv("TRIVIA_GRACE_PERIOD", "30s")
	t.Setenv("TRIVIA_REDIS_ADDR", "redis:6379")
	t.Setenv("TRIVIA_ORIGIN", "example.com,*.example.org")
	t.Setenv("TRIVIA_LOG_LEVEL", "debug")

	cfg, err := parseServer(t, "--port", "7000")
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Port, "flags win over the environment")
	assert.Equal(t, 30*time.Second, cfg.GracePeriod)
	assert.Equal(t, "redis:6379", cfg.RedisAddr)
	assert.Equal(t, []string{"example.com", "*.example.org"}, cfg.Origins)
	assert.Equal(t, logrus.DebugLevel, cfg.Level())
}

func TestUnderscoreFlagsAreNormalized(t *testing.T) {
	cfg, err := parseServer(t, "--redis_db", "3")
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.RedisDB)
}

func TestInvalidEnvironmentValue(t *testing.T) {
	t.Setenv("TRIVIA_PORT", "eighty")
	_, err := parseServer(t)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TRIVIA_PORT")
}

func TestServerValidate(t *testing.T) {
	cases := []struct {
		name string
		args []string
		want string
	}{
		{"port", []string{"--port", "70000"}, "invalid port"},
		{"level", []string{"--log-level", "loud"}, "not a valid logrus Level"},
		{"grace", []string{"--grace-period", "0s"}, "grace period"},
		{"rate", []string{"--rate-limit", "-1"}, "rate limit"},
		{"keys", []string{"--jwt-private-key", "priv.pem"}, "provided together"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := parseServer(t, tc.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestHistorianConfig(t *testing.T) {
	t.Setenv("TRIVIA_DATABASE_URL", "postgres://localhost/trivia")
	t.Setenv("TRIVIA_BATCH_SIZE", "50")

	cfg := &Historian{}
	fs := pflag.NewFlagSet("historian", pflag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))
	require.NoError(t, ApplyEnv(fs))
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)

	cfg.DatabaseURL = ""
	assert.ErrorContains(t, cfg.Validate(), "--database-url")
}
