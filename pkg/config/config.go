package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const EnvPrefix = "livecount"

type Config struct {
	App    AppConfig
	Redis  RedisConfig
	MySQL  MySQLConfig
	Engine EngineConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return &cfg, nil
}

type AppConfig struct {
	LogLevel   string `envconfig:"LIVECOUNT_LOG_LEVEL" default:"info"`
	LogConsole bool   `envconfig:"LIVECOUNT_LOG_CONSOLE" default:"false"`
}

type RedisConfig struct {
	Addr     string `envconfig:"LIVECOUNT_REDIS_ADDR" default:"localhost:6379"`
	Password string `envconfig:"LIVECOUNT_REDIS_PASSWORD"`
	DB       int    `envconfig:"LIVECOUNT_REDIS_DB" default:"0"`
	PoolSize int    `envconfig:"LIVECOUNT_REDIS_POOL_SIZE" default:"100"`
}

type MySQLConfig struct {
	DSN             string        `envconfig:"LIVECOUNT_MYSQL_DSN" default:"root:root@tcp(localhost:3306)/livecount?parseTime=true"`
	MaxOpenConns    int           `envconfig:"LIVECOUNT_MYSQL_MAX_OPEN_CONNS" default:"50"`
	MaxIdleConns    int           `envconfig:"LIVECOUNT_MYSQL_MAX_IDLE_CONNS" default:"25"`
	ConnMaxLifetime time.Duration `envconfig:"LIVECOUNT_MYSQL_CONN_MAX_LIFETIME" default:"5m"`
}

type EngineConfig struct {
	TransactRetries  int           `envconfig:"LIVECOUNT_TRANSACT_RETRIES" default:"16"`
	SnapshotCacheTTL time.Duration `envconfig:"LIVECOUNT_SNAPSHOT_CACHE_TTL" default:"2m"`
	RetentionWindow  time.Duration `envconfig:"LIVECOUNT_RETENTION_WINDOW" default:"720h"`
	RetentionSweep   time.Duration `envconfig:"LIVECOUNT_RETENTION_SWEEP" default:"1h"`
	ArchiveQueueSize int           `envconfig:"LIVECOUNT_ARCHIVE_QUEUE_SIZE" default:"10000"`
	ArchiveWorkers   int           `envconfig:"LIVECOUNT_ARCHIVE_WORKERS" default:"4"`
}
