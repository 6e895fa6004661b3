package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGetYamlOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
redis_addr: redis:6390
command_stream: orders
starting_balance: "10000"
snapshot_interval: 2s
batch_size: 50
gateway_addr: ":9000"
feed_symbols:
  - BTC_USDC_PERP
`), 0o644))

	cfg, err := getYaml(path)
	require.NoError(t, err)

	assert.Equal(t, "redis:6390", cfg.RedisAddr)
	assert.Equal(t, "orders", cfg.CommandStream)
	assert.True(t, cfg.StartingBalance.Equal(decimal.NewFromInt(10000)))
	assert.Equal(t, 2*time.Second, cfg.SnapshotInterval)
	assert.Equal(t, int64(50), cfg.BatchSize)
	assert.Equal(t, ":9000", cfg.GatewayAddr)
	assert.Equal(t, []string{"BTC_USDC_PERP"}, cfg.FeedSymbols)

	// untouched fields keep their defaults
	assert.Equal(t, "engine-group", cfg.ConsumerGroup)
	assert.Equal(t, "trade_responses", cfg.ResponseStream)
	assert.Equal(t, 10*time.Second, cfg.ResponseTimeout)
}

func TestGetYamlMissingFile(t *testing.T) {
	_, err := getYaml(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestGetYamlInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("redis_addr: [broken"), 0o644))

	_, err := getYaml(path)
	require.Error(t, err)
}

func TestFromTmpRejectsBadBalance(t *testing.T) {
	_, err := fromTmp(configTmp{StartingBalance: "abc"})
	require.Error(t, err)

	_, err = fromTmp(configTmp{StartingBalance: "-1"})
	require.Error(t, err)
}

func TestDefaultsRoundTrip(t *testing.T) {
	// an empty document must yield pure defaults
	var tmp configTmp
	require.NoError(t, yaml.Unmarshal([]byte("{}"), &tmp))

	cfg, err := fromTmp(tmp)
	require.NoError(t, err)
	assert.Equal(t, defaults(), cfg)
}
