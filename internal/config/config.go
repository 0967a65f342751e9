package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Binance   Binance   `mapstructure:"binance"`
	Redis     Redis     `mapstructure:"redis"`
	Database  Database  `mapstructure:"database"`
	Persister Persister `mapstructure:"persister"`
	Market    Market    `mapstructure:"market"`
	Logger    Logger    `mapstructure:"logger"`
	Server    Server    `mapstructure:"server"`
}

// Binance holds the configuration for the Binance REST API and trade stream.
type Binance struct {
	Testnet        bool     `mapstructure:"testnet"`
	RateLimit      float64  `mapstructure:"rate_limit"`
	RateLimitBurst int      `mapstructure:"rate_limit_burst"`
	StreamURL      string   `mapstructure:"stream_url"`
	Symbols        []string `mapstructure:"symbols"`
	// ReconnectMax caps the backoff between stream reconnect attempts.
	ReconnectMax time.Duration `mapstructure:"reconnect_max"`
}

// Redis holds the connection and key names shared by all processes.
type Redis struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	Channel    string        `mapstructure:"channel"`
	Queue      string        `mapstructure:"queue"`
	RetryQueue string        `mapstructure:"retry_queue"`
	PopTimeout time.Duration `mapstructure:"pop_timeout"`
}

// Database holds the configuration for the trade store.
type Database struct {
	Driver    string `mapstructure:"driver"` // "postgres" or "sqlite"
	DSN       string `mapstructure:"dsn"`
	Timescale bool   `mapstructure:"timescale"`
}

// Persister holds the batching configuration for the trade persister.
type Persister struct {
	BatchSize    int           `mapstructure:"batch_size"`
	FlushTimeout time.Duration `mapstructure:"flush_timeout"`
	RetryRate    float64       `mapstructure:"retry_rate"`
	RetryBurst   int           `mapstructure:"retry_burst"`
}

// Market holds the configuration for the live market state engine.
type Market struct {
	Intervals     []string `mapstructure:"intervals"`
	Spread        float64  `mapstructure:"spread"`
	PriceDecimals int32    `mapstructure:"price_decimals"`
	Shards        int      `mapstructure:"shards"`
	ClientBuffer  int      `mapstructure:"client_buffer"`
}

// Server holds the configuration for the live subscription server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	// Allow environment variables to override config file
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	err = v.ReadInConfig()
	if err != nil {
		return
	}

	err = v.Unmarshal(&config)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("binance.rate_limit", 20)      // requests per second
	v.SetDefault("binance.rate_limit_burst", 5) // burst size
	v.SetDefault("binance.stream_url", "wss://stream.binance.com:9443/stream")
	v.SetDefault("binance.symbols", []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"})
	v.SetDefault("binance.reconnect_max", 30*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.channel", "trade-channel")
	v.SetDefault("redis.queue", "trade-queue")
	v.SetDefault("redis.retry_queue", "trade-retry-queue")
	v.SetDefault("redis.pop_timeout", time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.timescale", true)

	v.SetDefault("persister.batch_size", 1000)
	v.SetDefault("persister.flush_timeout", 5*time.Second)
	v.SetDefault("persister.retry_rate", 500)
	v.SetDefault("persister.retry_burst", 100)

	v.SetDefault("market.intervals", []string{"1m", "5m", "10m", "30m", "1h", "1d"})
	v.SetDefault("market.spread", 0.02)
	v.SetDefault("market.price_decimals", 2)
	v.SetDefault("market.shards", 4)
	v.SetDefault("market.client_buffer", 256)

	v.SetDefault("server.port", 4000)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}
