package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	App      App      `yaml:"app"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
	Auth     Auth     `yaml:"auth"`
	Postgres Postgres `yaml:"postgres"`
	Redis    Redis    `yaml:"redis"`
	Kafka    Kafka    `yaml:"kafka"`
	Worker   Worker   `yaml:"worker"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"weft-ingest"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Auth struct {
	// Maximum allowed clock skew between device and server, in seconds.
	// Applied symmetrically to past and future timestamps.
	SkewSeconds int `yaml:"skew_seconds" env:"AUTH_SKEW_SECONDS" env-default:"300"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"weft_db"`
}

type Redis struct {
	Addr string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"rfid-read-summaries"`
}

type Worker struct {
	Group             string `yaml:"group" env:"WORKER_GROUP" env-default:"ingest-workers"`
	ConsumerID        string `yaml:"consumer_id" env:"WORKER_CONSUMER_ID"`
	BatchSize         int    `yaml:"batch_size" env:"WORKER_BATCH_SIZE" env-default:"100"`
	BlockMS           int    `yaml:"block_ms" env:"WORKER_BLOCK_MS" env-default:"1000"`
	ReclaimIdleMS     int    `yaml:"reclaim_idle_ms" env:"WORKER_RECLAIM_IDLE_MS" env-default:"60000"`
	ReclaimIntervalMS int    `yaml:"reclaim_interval_ms" env:"WORKER_RECLAIM_INTERVAL_MS" env-default:"30000"`
	ReclaimLimit      int    `yaml:"reclaim_limit" env:"WORKER_RECLAIM_LIMIT" env-default:"1000"`
	MetricsPort       string `yaml:"metrics_port" env:"WORKER_METRICS_PORT" env-default:"9091"`
}

func New() (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	} else {
		// Allow env vars to override config file
		cleanenv.ReadEnv(cfg)
	}

	return cfg, nil
}
