package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	RPCURL                string             `yaml:"rpc_url"`
	ChainID               uint64             `yaml:"chain_id,omitempty"`         // Overrides the chain id reported by the RPC endpoint
	PrivateKey            string             `yaml:"private_key,omitempty"`      // Hex encoded, with or without 0x
	PrivateKeyFile        string             `yaml:"private_key_file,omitempty"` // File holding a hex encoded key
	Relayer               RelayerConfig      `yaml:"relayer"`
	Deployments           []DeploymentConfig `yaml:"deployments,omitempty"`     // Extra or overriding chain deployments
	DecryptionDays        int                `yaml:"decryption_days,omitempty"` // Validity window for decryption signatures (fallback: 365)
	RequestTimeoutSeconds int                `yaml:"request_timeout_seconds,omitempty"`
	PollIntervalSeconds   int                `yaml:"poll_interval_seconds,omitempty"`
	StartBlock            uint64             `yaml:"start_block,omitempty"`
	HomeAssistant         HAConfig           `yaml:"home_assistant,omitempty"`
	MQTT                  MQTTConfig         `yaml:"mqtt,omitempty"`
	NATS                  NATSConfig         `yaml:"nats,omitempty"`
	MetricsAddr           string             `yaml:"metrics_addr,omitempty"`
	ListenAddr            string             `yaml:"listen_addr,omitempty"`
	LogLevel              string             `yaml:"log_level,omitempty"`
	LogFormat             string             `yaml:"log_format,omitempty"` // "console" or "json"
}

// RelayerConfig holds the FHE relayer endpoint and EIP-712 domain parameters
type RelayerConfig struct {
	URL               string `yaml:"url"`
	APIKey            string `yaml:"api_key,omitempty"`
	GatewayChainID    uint64 `yaml:"gateway_chain_id,omitempty"`
	VerifyingContract string `yaml:"verifying_contract,omitempty"` // Decryption verifier used in the EIP-712 domain
	TimeoutSeconds    int    `yaml:"timeout_seconds,omitempty"`
}

// DeploymentConfig maps a chain to a SecurePeakData deployment
type DeploymentConfig struct {
	ChainID   uint64 `yaml:"chain_id"`
	ChainName string `yaml:"chain_name"`
	Address   string `yaml:"address"`
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`       // e.g., "http://yourdomain.local:5050"
	Token    string `yaml:"token"`     // Long-lived access token
	EntityID string `yaml:"entity_id"` // e.g., "sensor.securepeak_consumption"
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// NATSConfig holds the event forwarding configuration
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix,omitempty"`
}

// Load reads the config file
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// Return empty config if file doesn't exist
			return &Config{}, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return &cfg, nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// GetDecryptionDays returns the decryption signature validity with a default of 365 days
func (c *Config) GetDecryptionDays() int {
	if c.DecryptionDays <= 0 {
		return 365
	}
	return c.DecryptionDays
}

// GetRequestTimeout bounds a single flow (encrypt, submit, wait for receipt)
func (c *Config) GetRequestTimeout() time.Duration {
	if c.RequestTimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// GetPollInterval returns the event polling interval with a default of 5 seconds
func (c *Config) GetPollInterval() time.Duration {
	if c.PollIntervalSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// GetRelayerTimeout returns the HTTP timeout for relayer calls
func (c *Config) GetRelayerTimeout() time.Duration {
	if c.Relayer.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Relayer.TimeoutSeconds) * time.Second
}

// GetListenAddr returns the API listen address
func (c *Config) GetListenAddr() string {
	if c.ListenAddr == "" {
		return ":8080"
	}
	return c.ListenAddr
}

// GetMQTTTopicPrefix returns the MQTT topic prefix, falling back to "securepeak"
func (c *Config) GetMQTTTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return "securepeak"
	}
	return c.MQTT.TopicPrefix
}

// GetNATSSubjectPrefix returns the NATS subject prefix, falling back to "securepeak.records"
func (c *Config) GetNATSSubjectPrefix() string {
	if c.NATS.SubjectPrefix == "" {
		return "securepeak.records"
	}
	return c.NATS.SubjectPrefix
}

// GetPrivateKeyHex returns the configured signing key, reading PrivateKeyFile when set.
// An empty string means no signer is configured (read-only mode).
func (c *Config) GetPrivateKeyHex() (string, error) {
	if c.PrivateKey != "" {
		return strings.TrimSpace(c.PrivateKey), nil
	}
	if c.PrivateKeyFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.PrivateKeyFile)
	if err != nil {
		return "", fmt.Errorf("reading private key file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
