package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every tunable of the valuation engine. Sources in
// ascending precedence: built-in defaults, an optional config.yaml,
// environment variables.
type Config struct {
	NatsURL     string
	MonitorAddr string

	BaseCurrency       string
	StalenessThreshold time.Duration
	ConflationPeriod   time.Duration
	PersistencePeriod  time.Duration

	ShardIndex int
	ShardTotal int

	WorkerPoolSize   int
	QueueHighWater   int
	MailboxHighWater int

	GraceShutdown    time.Duration
	ConsumerLagAlert int64
	DLQMaxRetries    int

	RedisAddr      string
	RedisPassword  string
	SnapshotPeriod time.Duration

	ColdStoreDSN            string
	ColdStoreAlertThreshold int
	ColdStoreAlertWindow    time.Duration

	LogLevel  string
	LogFormat string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("nats.url", "nats://localhost:4222")
	v.SetDefault("monitor.addr", ":8080")

	v.SetDefault("base.currency", "USD")
	v.SetDefault("staleness.threshold.minutes", 30)
	v.SetDefault("conflation.period.ms", 250)
	v.SetDefault("persistence.period.ms", 1000)

	v.SetDefault("shard.index", 0)
	v.SetDefault("shard.total", 1)

	v.SetDefault("worker.pool.size", 0) // 0 = number of CPUs
	v.SetDefault("queue.high.water", 0) // 0 = 2 x pool size, the admission permit count
	v.SetDefault("mailbox.high.water", 64)

	v.SetDefault("grace.shutdown.ms", 25000)
	v.SetDefault("consumer.lag.alert", 1000)
	v.SetDefault("dlq.max.retries", 3)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("snapshot.period.ms", 60000)

	v.SetDefault("coldstore.dsn", "")
	v.SetDefault("coldstore.alert.threshold", 10000)
	v.SetDefault("coldstore.alert.window.ms", 10000)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from defaults, the given config file (or a
// config.yaml in the working directory when path is empty), and the
// environment. BOOTSTRAP_SERVERS overrides the broker URL.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("nats.url", "BOOTSTRAP_SERVERS", "NATS_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind broker env: %w", err)
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	cfg := &Config{
		NatsURL:     v.GetString("nats.url"),
		MonitorAddr: v.GetString("monitor.addr"),

		BaseCurrency:       strings.ToUpper(v.GetString("base.currency")),
		StalenessThreshold: time.Duration(v.GetInt("staleness.threshold.minutes")) * time.Minute,
		ConflationPeriod:   time.Duration(v.GetInt("conflation.period.ms")) * time.Millisecond,
		PersistencePeriod:  time.Duration(v.GetInt("persistence.period.ms")) * time.Millisecond,

		ShardIndex: v.GetInt("shard.index"),
		ShardTotal: v.GetInt("shard.total"),

		WorkerPoolSize:   v.GetInt("worker.pool.size"),
		QueueHighWater:   v.GetInt("queue.high.water"),
		MailboxHighWater: v.GetInt("mailbox.high.water"),

		GraceShutdown:    time.Duration(v.GetInt("grace.shutdown.ms")) * time.Millisecond,
		ConsumerLagAlert: v.GetInt64("consumer.lag.alert"),
		DLQMaxRetries:    v.GetInt("dlq.max.retries"),

		RedisAddr:      v.GetString("redis.addr"),
		RedisPassword:  v.GetString("redis.password"),
		SnapshotPeriod: time.Duration(v.GetInt("snapshot.period.ms")) * time.Millisecond,

		ColdStoreDSN:            v.GetString("coldstore.dsn"),
		ColdStoreAlertThreshold: v.GetInt("coldstore.alert.threshold"),
		ColdStoreAlertWindow:    time.Duration(v.GetInt("coldstore.alert.window.ms")) * time.Millisecond,

		LogLevel:  v.GetString("log.level"),
		LogFormat: v.GetString("log.format"),
	}

	if cfg.WorkerPoolSize <= 0 {
		cfg.WorkerPoolSize = runtime.NumCPU()
	}
	if cfg.QueueHighWater <= 0 {
		cfg.QueueHighWater = 2 * cfg.WorkerPoolSize
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.BaseCurrency) != 3 {
		return fmt.Errorf("invalid base currency %q", c.BaseCurrency)
	}
	if c.ShardTotal < 1 {
		return fmt.Errorf("shard total must be >= 1, got %d", c.ShardTotal)
	}
	if c.ShardIndex < 0 || c.ShardIndex >= c.ShardTotal {
		return fmt.Errorf("shard index %d outside [0,%d)", c.ShardIndex, c.ShardTotal)
	}
	if c.StalenessThreshold <= 0 {
		return fmt.Errorf("staleness threshold must be positive, got %s", c.StalenessThreshold)
	}
	if c.ConflationPeriod <= 0 {
		return fmt.Errorf("conflation period must be positive, got %s", c.ConflationPeriod)
	}
	if c.PersistencePeriod <= 0 {
		return fmt.Errorf("persistence period must be positive, got %s", c.PersistencePeriod)
	}
	if c.GraceShutdown <= 0 {
		return fmt.Errorf("shutdown grace must be positive, got %s", c.GraceShutdown)
	}
	if c.DLQMaxRetries < 0 {
		return fmt.Errorf("dlq max retries must be >= 0, got %d", c.DLQMaxRetries)
	}
	return nil
}
