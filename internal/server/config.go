package server

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// Config holds the HTTP server configuration.
type Config struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	DevMode bool   `mapstructure:"dev_mode"`

	RateLimitRPS   float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// LoadConfig reads configuration from file and environment variables.
// An empty configPath searches ., ./configs and /etc/twinhub for
// twinhub.yaml; a missing file is not an error.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.dev_mode", false)
	v.SetDefault("server.rate_limit_rps", 100)
	v.SetDefault("server.rate_limit_burst", 200)
	v.SetDefault("database.path", "./data/twinhub.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 50)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("pairing.secret", "")
	v.SetDefault("pairing.token_ttl", "12h")
	v.SetDefault("ws.sensor_rate", 240)
	v.SetDefault("ws.sensor_burst", 480)

	// Detection defaults mirror telemetry.DefaultDetectionConfig so that the
	// plugins.detect section exists even without a config file.
	v.SetDefault("plugins.detect.confidence_threshold", 0.7)
	v.SetDefault("plugins.detect.severity_threshold", "medium")
	v.SetDefault("plugins.detect.sliding_window_size", 5000)
	v.SetDefault("plugins.detect.update_interval", 1000)
	v.SetDefault("plugins.detect.anomaly_retention", "168h")
	v.SetDefault("plugins.detect.maintenance_interval", "1h")
	v.SetDefault("plugins.detect.baseline_refresh_interval", "0s")
	v.SetDefault("plugins.detect.default_device_id", "default")
	v.SetDefault("plugins.detect.max_devices", 256)
	v.SetDefault("plugins.detect.device_idle_timeout", "24h")
	v.SetDefault("plugins.detect.require_ingest_token", false)

	v.SetDefault("plugins.mqtt.broker_url", "") // empty disables the bridge
	v.SetDefault("plugins.mqtt.client_id", "twinhub")
	v.SetDefault("plugins.mqtt.topic_prefix", "twinhub")
	v.SetDefault("plugins.mqtt.qos", 1)
	v.SetDefault("plugins.mqtt.retain", false)
	v.SetDefault("plugins.mqtt.timeout", "10s")
	v.SetDefault("plugins.mqtt.ingest", true)
	v.SetDefault("plugins.mqtt.ha_discovery", false)
	v.SetDefault("plugins.mqtt.ha_discovery_prefix", "homeassistant")

	v.SetDefault("plugins.webhook.url", "")
	v.SetDefault("plugins.webhook.secret", "")
	v.SetDefault("plugins.webhook.enabled", true)
	v.SetDefault("plugins.webhook.timeout", "10s")
	v.SetDefault("plugins.webhook.min_severity", "high")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("twinhub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/twinhub")
	}

	// TWINHUB_SERVER_PORT=9090 overrides server.port.
	v.SetEnvPrefix("TWINHUB")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	return v, nil
}

// ServerConfig extracts the server section of v. Keys are read one by one
// so environment overrides apply.
func ServerConfig(v *viper.Viper) Config {
	return Config{
		Host:           v.GetString("server.host"),
		Port:           v.GetInt("server.port"),
		DevMode:        v.GetBool("server.dev_mode"),
		RateLimitRPS:   v.GetFloat64("server.rate_limit_rps"),
		RateLimitBurst: v.GetInt("server.rate_limit_burst"),
	}
}
