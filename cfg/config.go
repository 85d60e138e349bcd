package cfg

import (
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/logtide/logtide/id"
)

// ProxyConfiguration points the client at a log proxy endpoint
type ProxyConfiguration struct {
	Address          string `toml:"address"`
	ConnectTimeoutMS int    `toml:"connect_timeout_ms"`
	ClientID         string `toml:"client_id"` // empty = auto-generate
}

// StreamConfiguration controls the decoding engine and reconnect policy
type StreamConfiguration struct {
	ProtocolVersion          int  `toml:"protocol_version"`
	IdleTimeoutSeconds       int  `toml:"idle_timeout_seconds"`        // no bytes in this window triggers reconnect
	ReconnectIntervalMS      int  `toml:"reconnect_interval_ms"`       // initial backoff
	MaxBackoffSeconds        int  `toml:"max_backoff_seconds"`         // backoff ceiling
	MaxReconnectAttempts     int  `toml:"max_reconnect_attempts"`      // 0 = unlimited
	QueueSize                int  `toml:"queue_size"`                  // delivery queue bound
	DiscardAfterReads        int  `toml:"discard_after_reads"`         // feeds before buffer compaction
	IgnoreUnknownRecordTypes bool `toml:"ignore_unknown_record_types"` // skip undecodable records instead of failing
	ReadBufferKB             int  `toml:"read_buffer_kb"`
	SchemaCacheSize          int  `toml:"schema_cache_size"`
	EnableMonitor            bool `toml:"enable_monitor"` // ask the proxy to track this stream
}

// SubscriptionConfiguration describes what the proxy should stream
type SubscriptionConfiguration struct {
	Source         string            `toml:"source"`          // upstream kind: mysql, mariadb, oceanbase, ...
	StartTimestamp int64             `toml:"start_timestamp"` // unix seconds, 0 = from now
	TableWhitelist []string          `toml:"table_whitelist"` // database.table patterns
	TableBlacklist []string          `toml:"table_blacklist"`
	Extra          map[string]string `toml:"extra"` // passed through to the proxy verbatim
}

// ConfigString serializes subscription parameters into the key=value
// form the proxy expects inside the handshake body.
func (s *SubscriptionConfiguration) ConfigString() string {
	parts := []string{
		"source=" + s.Source,
		fmt.Sprintf("first_start_timestamp=%d", s.StartTimestamp),
	}
	if len(s.TableWhitelist) > 0 {
		parts = append(parts, "tb_white_list="+strings.Join(s.TableWhitelist, "|"))
	}
	if len(s.TableBlacklist) > 0 {
		parts = append(parts, "tb_black_list="+strings.Join(s.TableBlacklist, "|"))
	}
	keys := make([]string, 0, len(s.Extra))
	for k := range s.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+s.Extra[k])
	}
	return strings.Join(parts, ";")
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics and the monitor HTTP endpoint
type PrometheusConfiguration struct {
	Enabled   bool   `toml:"enabled"`
	Address   string `toml:"address"`
	Port      int    `toml:"port"`
	AuthToken string `toml:"auth_token"` // empty = admin endpoints open
}

// IsAdminAuthEnabled reports whether the admin endpoints require a token
func IsAdminAuthEnabled() bool {
	return Config.Prometheus.AuthToken != ""
}

// GetAdminAuthToken returns the configured admin token
func GetAdminAuthToken() string {
	return Config.Prometheus.AuthToken
}

// SinkConfiguration describes one downstream publisher target
type SinkConfiguration struct {
	Name        string `toml:"name"`
	Type        string `toml:"type"`   // "nats" or "kafka"
	Format      string `toml:"format"` // "json" or "msgpack"
	TopicPrefix string `toml:"topic_prefix"`

	// NATS
	NatsURL string `toml:"nats_url"`

	// Kafka
	Brokers          []string `toml:"brokers"`
	RequiredAcks     int      `toml:"required_acks"`
	AutoCreateTopics bool     `toml:"auto_create_topics"`
	BatchBytes       int64    `toml:"batch_bytes"`

	BatchSize   int      `toml:"batch_size"`
	BufferSize  int      `toml:"buffer_size"` // fan-out queue bound per worker
	Compression string   `toml:"compression"` // "none" or "zstd"
	FilterDBs   []string `toml:"filter_databases"`
	FilterTabs  []string `toml:"filter_tables"`

	RetryInitialMS  int     `toml:"retry_initial_ms"`
	RetryMaxMS      int     `toml:"retry_max_ms"`
	RetryMultiplier float64 `toml:"retry_multiplier"`
	MaxRetries      int     `toml:"max_retries"` // attempts before a record is dropped, 0 = default
}

// Configuration is the main configuration structure
type Configuration struct {
	Proxy        ProxyConfiguration        `toml:"proxy"`
	Stream       StreamConfiguration       `toml:"stream"`
	Subscription SubscriptionConfiguration `toml:"subscription"`
	Logging      LoggingConfiguration      `toml:"logging"`
	Prometheus   PrometheusConfiguration   `toml:"prometheus"`
	Sinks        []SinkConfiguration       `toml:"sinks"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	ProxyFlag      = flag.String("proxy", "", "Log proxy address (overrides config)")
	ClientIDFlag   = flag.String("client-id", "", "Client ID (overrides config, empty=auto)")
	StartTSFlag    = flag.Int64("start-ts", 0, "Subscription start timestamp (overrides config)")
	VerboseFlag    = flag.Bool("verbose", false, "Enable debug logging")
)

// Default configuration
var Config = &Configuration{
	Proxy: ProxyConfiguration{
		Address:          "127.0.0.1:2983",
		ConnectTimeoutMS: 5000,
		ClientID:         "", // Auto-generate
	},

	Stream: StreamConfiguration{
		ProtocolVersion:          2,
		IdleTimeoutSeconds:       15,
		ReconnectIntervalMS:      1000,
		MaxBackoffSeconds:        60,
		MaxReconnectAttempts:     0, // retry forever
		QueueSize:                20000,
		DiscardAfterReads:        16,
		IgnoreUnknownRecordTypes: false,
		ReadBufferKB:             64,
		SchemaCacheSize:          512,
		EnableMonitor:            false,
	},

	Subscription: SubscriptionConfiguration{
		Source:         "mysql",
		StartTimestamp: 0,
		TableWhitelist: []string{"*.*"},
		TableBlacklist: []string{},
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *ProxyFlag != "" {
		Config.Proxy.Address = *ProxyFlag
	}
	if *ClientIDFlag != "" {
		Config.Proxy.ClientID = *ClientIDFlag
	}
	if *StartTSFlag != 0 {
		Config.Subscription.StartTimestamp = *StartTSFlag
	}
	if *VerboseFlag {
		Config.Logging.Verbose = true
	}

	// Auto-generate client ID if not set
	if Config.Proxy.ClientID == "" {
		Config.Proxy.ClientID = id.ClientID()
		log.Info().Str("client_id", Config.Proxy.ClientID).Msg("Auto-generated client ID")
	}

	return nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Proxy.Address == "" {
		return fmt.Errorf("proxy address is required")
	}

	if Config.Proxy.ConnectTimeoutMS < 1 {
		return fmt.Errorf("connect timeout must be >= 1ms")
	}

	v := Config.Stream.ProtocolVersion
	if v < 0 || v > 2 {
		return fmt.Errorf("unsupported protocol version: %d", v)
	}

	if Config.Stream.IdleTimeoutSeconds < 1 {
		return fmt.Errorf("idle timeout must be >= 1 second")
	}

	if Config.Stream.ReconnectIntervalMS < 1 {
		return fmt.Errorf("reconnect interval must be >= 1ms")
	}

	if Config.Stream.MaxBackoffSeconds < 1 {
		return fmt.Errorf("max backoff must be >= 1 second")
	}

	if Config.Stream.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max reconnect attempts must be >= 0")
	}

	if Config.Stream.QueueSize < 1 {
		return fmt.Errorf("queue size must be >= 1")
	}

	if Config.Stream.DiscardAfterReads < 1 {
		return fmt.Errorf("discard after reads must be >= 1")
	}

	if Config.Stream.ReadBufferKB < 1 {
		return fmt.Errorf("read buffer must be >= 1KB")
	}

	if Config.Subscription.Source == "" {
		return fmt.Errorf("subscription source is required")
	}

	if Config.Subscription.StartTimestamp < 0 {
		return fmt.Errorf("start timestamp must be >= 0")
	}

	if Config.Prometheus.Enabled && (Config.Prometheus.Port < 1 || Config.Prometheus.Port > 65535) {
		return fmt.Errorf("invalid prometheus port: %d", Config.Prometheus.Port)
	}

	names := map[string]bool{}
	for i := range Config.Sinks {
		s := &Config.Sinks[i]
		if s.Name == "" {
			return fmt.Errorf("sink %d: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate sink name: %s", s.Name)
		}
		names[s.Name] = true
		switch s.Type {
		case "nats", "kafka":
		default:
			return fmt.Errorf("sink %s: unknown type %q", s.Name, s.Type)
		}
		switch s.Format {
		case "", "json", "msgpack":
		default:
			return fmt.Errorf("sink %s: unknown format %q", s.Name, s.Format)
		}
		switch s.Compression {
		case "", "none", "zstd":
		default:
			return fmt.Errorf("sink %s: unknown compression %q", s.Name, s.Compression)
		}
	}

	return nil
}
