// Package config binds the daemon's configuration surface onto
// a concrete struct, loaded via viper from a TOML/YAML file plus
// environment overrides. Grounded on dbehnke-allstar-nexus's go.mod,
// the pack manifest that pulls the full viper dependency chain.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full configuration surface for a running node.
type Config struct {
	NodeID       int32  `mapstructure:"node_id"`
	NodeName     string `mapstructure:"node_name"`
	NodeIP       string `mapstructure:"node_ip"`
	NodePriority int32  `mapstructure:"node_priority"`
	RalePort     int    `mapstructure:"rale_port"`
	DStorePort   int    `mapstructure:"dstore_port"`

	DBPath string `mapstructure:"db_path"`

	LogDestination  string `mapstructure:"raled_log_destination"`
	LogFile         string `mapstructure:"raled_log_file"`
	LogLevel        string `mapstructure:"raled_log_level"`
	LogRotationSize int64  `mapstructure:"raled_log_rotation_size"`
	LogRotationAge  int64  `mapstructure:"raled_log_rotation_age"`

	DStoreKeepAliveIntervalSeconds int `mapstructure:"dstore_keep_alive_interval"`
	DStoreKeepAliveTimeoutSeconds  int `mapstructure:"dstore_keep_alive_timeout"`

	CommunicationProtocol   string `mapstructure:"communication_protocol"`
	CommunicationSocket     string `mapstructure:"communication_socket"`
	CommunicationTimeout    int    `mapstructure:"communication_timeout"`
	CommunicationMaxRetries int    `mapstructure:"communication_max_retries"`
}

// Defaults returns the baseline timing (1s heartbeat / 5s election
// timeout derived from a 5s keepalive timeout) plus sane paths.
func Defaults() Config {
	return Config{
		DBPath:                         "./data",
		LogDestination:                 "stderr",
		LogLevel:                       "info",
		DStoreKeepAliveIntervalSeconds: 1,
		DStoreKeepAliveTimeoutSeconds:  5,
		CommunicationProtocol:          "tcp",
		CommunicationSocket:            "/tmp/raled.sock",
		CommunicationTimeout:           5,
		CommunicationMaxRetries:        3,
	}
}

// Load reads configuration from path (if non-empty) merged over
// Defaults(), with RALE_-prefixed environment variable overrides.
func Load(path string) (Config, error) {
	v := viper.New()
	def := Defaults()
	v.SetDefault("db_path", def.DBPath)
	v.SetDefault("raled_log_destination", def.LogDestination)
	v.SetDefault("raled_log_level", def.LogLevel)
	v.SetDefault("dstore_keep_alive_interval", def.DStoreKeepAliveIntervalSeconds)
	v.SetDefault("dstore_keep_alive_timeout", def.DStoreKeepAliveTimeoutSeconds)
	v.SetDefault("communication_protocol", def.CommunicationProtocol)
	v.SetDefault("communication_socket", def.CommunicationSocket)
	v.SetDefault("communication_timeout", def.CommunicationTimeout)
	v.SetDefault("communication_max_retries", def.CommunicationMaxRetries)

	v.SetEnvPrefix("RALE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return def, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return def, fmt.Errorf("decoding config: %w", err)
	}
	return cfg, nil
}
