package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a config file or environment variables.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Ingest    IngestConfig
	Extractor ExtractorConfig
	Sources   SourcesConfig
}

// ServerConfig defines the HTTP/websocket listener settings.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// DatabaseConfig defines the database connection settings.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// IngestConfig defines the order queue and batch worker settings.
type IngestConfig struct {
	QueueCapacity int           `mapstructure:"queue_capacity"`
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	Workers       int           `mapstructure:"workers"`
}

// ExtractorConfig defines the fallback extraction capability. An empty
// BaseURL disables the fallback tier.
type ExtractorConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
}

// SourcesConfig defines the inbound chat-event sources. Sources with empty
// settings are not started.
type SourcesConfig struct {
	Kafka KafkaSourceConfig `mapstructure:"kafka"`
	Poll  PollSourceConfig  `mapstructure:"poll"`
}

// KafkaSourceConfig defines the chat-event topic consumer.
type KafkaSourceConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

// PollSourceConfig defines the HTTP events poller.
type PollSourceConfig struct {
	URL      string        `mapstructure:"url"`
	Interval time.Duration `mapstructure:"interval"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")

	viper.SetDefault("server.addr", ":8080")
	viper.SetDefault("ingest.queue_capacity", 10000)
	viper.SetDefault("ingest.batch_size", 500)
	viper.SetDefault("ingest.flush_interval", 500*time.Millisecond)
	viper.SetDefault("ingest.workers", 2)
	viper.SetDefault("extractor.model", "gpt-4o-mini")
	viper.SetDefault("sources.poll.interval", 5*time.Second)

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
