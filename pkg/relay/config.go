package relay

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obscura-relay/relay/pkg/cryptokit"
	"github.com/obscura-relay/relay/pkg/deaddrop"
	"github.com/obscura-relay/relay/pkg/directory"
	"github.com/obscura-relay/relay/pkg/mixengine"
	"github.com/obscura-relay/relay/pkg/temporal"
)

// Config is the relay runtime's YAML configuration, shaped like the
// teacher's nested Config (TLS/rate-limit/dead-drop/mix sub-configs)
// extended with the layer/location/mix_strategy/cover_traffic/temporal
// keys the packet-layer and mix-engine components need.
type Config struct {
	Layer          int                   `yaml:"layer"`
	Address        string                `yaml:"address"`
	WireAddress    string                `yaml:"wire_address"`
	Location       directory.GeoLocation `yaml:"location"`
	NumLayers      int                   `yaml:"num_layers"`
	PrivateKeyFile string                `yaml:"private_key_file"`

	MixStrategy  MixStrategyConfig  `yaml:"mix_strategy"`
	CoverTraffic CoverTrafficConfig `yaml:"cover_traffic"`
	Temporal     TemporalConfig     `yaml:"temporal"`
	DeadDrop     DeadDropConfig     `yaml:"dead_drop"`

	TLS       TLSConfig       `yaml:"tls"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
}

type MixStrategyConfig struct {
	BatchSize int           `yaml:"batch_size"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	MinDelay  time.Duration `yaml:"min_delay"`
}

type CoverTrafficConfig struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`
	Jitter  float64 `yaml:"jitter"`
}

type TemporalConfig struct {
	Mean     time.Duration `yaml:"mean"`
	MinDelay time.Duration `yaml:"min_delay"`
	MaxDelay time.Duration `yaml:"max_delay"`
}

type DeadDropConfig struct {
	MessageTTL   time.Duration `yaml:"message_ttl"`
	MaxMessages  int           `yaml:"max_messages"`
	PollInterval time.Duration `yaml:"poll_interval"`

	// Backend selects the dead-drop persistence layer: "memory" (the
	// default, ephemeral) or "rocksdb" (persistent, requires the relay
	// binary be built with -tags rocksdb and Path set).
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	Burst             int `yaml:"burst"`
}

// DefaultConfig mirrors the defaults scattered through the original's
// per-component config structs (mixnet.rs, temporal.rs, dead_drop.rs,
// cover_traffic.rs).
func DefaultConfig() Config {
	return Config{
		NumLayers:   5,
		WireAddress: "127.0.0.1:9090",
		MixStrategy: MixStrategyConfig{
			BatchSize: 10,
			MaxDelay:  30 * time.Second,
			MinDelay:  100 * time.Millisecond,
		},
		CoverTraffic: CoverTrafficConfig{
			Enabled: true,
			Rate:    10.0,
			Jitter:  0.1,
		},
		Temporal: TemporalConfig{
			Mean:     5 * time.Second,
			MinDelay: 100 * time.Millisecond,
			MaxDelay: 60 * time.Second,
		},
		DeadDrop: DeadDropConfig{
			MessageTTL:   24 * time.Hour,
			MaxMessages:  100,
			PollInterval: 5 * time.Second,
			Backend:      "memory",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
		},
		MaintenanceInterval: 5 * time.Second,
	}
}

// LoadConfig reads and unmarshals a YAML config file, matching the
// teacher's loadConfig idiom.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("relay: read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("relay: parse config: %w", err)
	}
	return &cfg, nil
}

// LoadOrGeneratePrivateKey loads the relay's X25519 private key from
// filename, generating and persisting a fresh one on first run. The key
// is never logged.
func LoadOrGeneratePrivateKey(filename string) ([cryptokit.KeySize]byte, error) {
	var key [cryptokit.KeySize]byte

	data, err := os.ReadFile(filename)
	if err != nil {
		pair, genErr := cryptokit.GenerateKeyPair()
		if genErr != nil {
			return key, fmt.Errorf("relay: generate private key: %w", genErr)
		}
		if writeErr := os.WriteFile(filename, pair.Private[:], 0600); writeErr != nil {
			return key, fmt.Errorf("relay: persist private key: %w", writeErr)
		}
		return pair.Private, nil
	}

	if len(data) != cryptokit.KeySize {
		return key, fmt.Errorf("relay: invalid private key size: %d", len(data))
	}
	copy(key[:], data)
	return key, nil
}

func (c *Config) mixStrategy() mixengine.Strategy {
	return mixengine.Strategy{
		BatchSize: c.MixStrategy.BatchSize,
		MaxDelay:  c.MixStrategy.MaxDelay,
		MinDelay:  c.MixStrategy.MinDelay,
	}
}

func (c *Config) temporalConfig() temporal.DelayConfig {
	return temporal.DelayConfig{
		Mean:     c.Temporal.Mean,
		MinDelay: c.Temporal.MinDelay,
		MaxDelay: c.Temporal.MaxDelay,
	}
}

func (c *Config) coverConfig() temporal.CoverConfig {
	return temporal.CoverConfig{Rate: c.CoverTraffic.Rate, Jitter: c.CoverTraffic.Jitter}
}

func (c *Config) deadDropConfig() deaddrop.Config {
	return deaddrop.Config{
		MessageTTL:   c.DeadDrop.MessageTTL,
		MaxMessages:  c.DeadDrop.MaxMessages,
		PollInterval: c.DeadDrop.PollInterval,
	}
}
