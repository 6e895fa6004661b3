package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config carries settings for every binary; each reads the fields it needs.
type Config struct {
	RedisAddr      string
	CommandStream  string
	ConsumerGroup  string
	ConsumerName   string
	ResponseStream string
	PriceChannel   string

	StartingBalance  decimal.Decimal
	SnapshotDir      string
	SnapshotInterval time.Duration
	ReadBlock        time.Duration
	BatchSize        int64
	PriceWindow      int

	GatewayAddr     string
	ResponseTimeout time.Duration

	FeedURL     string
	FeedSymbols []string

	RelayAddr         string
	BroadcastInterval time.Duration
}

type configTmp struct {
	RedisAddr      string `yaml:"redis_addr"`
	CommandStream  string `yaml:"command_stream"`
	ConsumerGroup  string `yaml:"consumer_group"`
	ConsumerName   string `yaml:"consumer_name"`
	ResponseStream string `yaml:"response_stream"`
	PriceChannel   string `yaml:"price_channel"`

	StartingBalance  string        `yaml:"starting_balance,omitempty"`
	SnapshotDir      string        `yaml:"snapshot_dir,omitempty"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval,omitempty"`
	ReadBlock        time.Duration `yaml:"read_block,omitempty"`
	BatchSize        int64         `yaml:"batch_size,omitempty"`
	PriceWindow      int           `yaml:"price_window,omitempty"`

	GatewayAddr     string        `yaml:"gateway_addr,omitempty"`
	ResponseTimeout time.Duration `yaml:"response_timeout,omitempty"`

	FeedURL     string   `yaml:"feed_url,omitempty"`
	FeedSymbols []string `yaml:"feed_symbols,omitempty"`

	RelayAddr         string        `yaml:"relay_addr,omitempty"`
	BroadcastInterval time.Duration `yaml:"broadcast_interval,omitempty"`
}

// Get loads configuration from the yaml file named by --config, falling back
// to flags and defaults.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	redisAddr := flag.String("redis", "localhost:6379", "redis address")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	cfg := defaults()
	cfg.RedisAddr = *redisAddr
	return cfg, nil
}

func getYaml(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}

	var tmp configTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "parse config file")
	}

	return fromTmp(tmp)
}

func fromTmp(tmp configTmp) (Config, error) {
	cfg := defaults()

	if tmp.RedisAddr != "" {
		cfg.RedisAddr = tmp.RedisAddr
	}
	if tmp.CommandStream != "" {
		cfg.CommandStream = tmp.CommandStream
	}
	if tmp.ConsumerGroup != "" {
		cfg.ConsumerGroup = tmp.ConsumerGroup
	}
	if tmp.ConsumerName != "" {
		cfg.ConsumerName = tmp.ConsumerName
	}
	if tmp.ResponseStream != "" {
		cfg.ResponseStream = tmp.ResponseStream
	}
	if tmp.PriceChannel != "" {
		cfg.PriceChannel = tmp.PriceChannel
	}
	if tmp.StartingBalance != "" {
		balance, err := decimal.NewFromString(tmp.StartingBalance)
		if err != nil {
			return Config{}, errors.Wrap(err, "invalid starting_balance")
		}
		if balance.IsNegative() {
			return Config{}, errors.New("starting_balance must not be negative")
		}
		cfg.StartingBalance = balance
	}
	if tmp.SnapshotDir != "" {
		cfg.SnapshotDir = tmp.SnapshotDir
	}
	if tmp.SnapshotInterval > 0 {
		cfg.SnapshotInterval = tmp.SnapshotInterval
	}
	if tmp.ReadBlock > 0 {
		cfg.ReadBlock = tmp.ReadBlock
	}
	if tmp.BatchSize > 0 {
		cfg.BatchSize = tmp.BatchSize
	}
	if tmp.PriceWindow > 0 {
		cfg.PriceWindow = tmp.PriceWindow
	}
	if tmp.GatewayAddr != "" {
		cfg.GatewayAddr = tmp.GatewayAddr
	}
	if tmp.ResponseTimeout > 0 {
		cfg.ResponseTimeout = tmp.ResponseTimeout
	}
	if tmp.FeedURL != "" {
		cfg.FeedURL = tmp.FeedURL
	}
	if len(tmp.FeedSymbols) > 0 {
		cfg.FeedSymbols = tmp.FeedSymbols
	}
	if tmp.RelayAddr != "" {
		cfg.RelayAddr = tmp.RelayAddr
	}
	if tmp.BroadcastInterval > 0 {
		cfg.BroadcastInterval = tmp.BroadcastInterval
	}

	return cfg, nil
}

func defaults() Config {
	return Config{
		RedisAddr:         "localhost:6379",
		CommandStream:     "trades",
		ConsumerGroup:     "engine-group",
		ConsumerName:      "engine-1",
		ResponseStream:    "trade_responses",
		PriceChannel:      "price_updates",
		StartingBalance:   decimal.NewFromInt(5000),
		SnapshotDir:       "./wal/checkpoints",
		SnapshotInterval:  5 * time.Second,
		ReadBlock:         5 * time.Second,
		BatchSize:         10,
		PriceWindow:       1000,
		GatewayAddr:       ":3000",
		ResponseTimeout:   10 * time.Second,
		FeedURL:           "wss://ws.backpack.exchange",
		FeedSymbols:       []string{"SOL_USDC_PERP", "SOL_USDC"},
		RelayAddr:         ":8080",
		BroadcastInterval: 100 * time.Millisecond,
	}
}
