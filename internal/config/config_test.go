package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rpc_url: [unterminated"), 0600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config file")
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg := &Config{
		RPCURL: "http://127.0.0.1:8545",
		Relayer: RelayerConfig{
			URL:            "https://relayer.example",
			GatewayChainID: 55815,
		},
		Deployments: []DeploymentConfig{
			{ChainID: 11155111, ChainName: "sepolia", Address: "0x1111111111111111111111111111111111111111"},
		},
		MQTT: MQTTConfig{Enabled: true, Broker: "localhost:1883"},
	}

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestDefaults(t *testing.T) {
	cfg := &Config{}

	assert.Equal(t, 365, cfg.GetDecryptionDays())
	assert.Equal(t, 5*time.Minute, cfg.GetRequestTimeout())
	assert.Equal(t, 5*time.Second, cfg.GetPollInterval())
	assert.Equal(t, 60*time.Second, cfg.GetRelayerTimeout())
	assert.Equal(t, ":8080", cfg.GetListenAddr())
	assert.Equal(t, "securepeak", cfg.GetMQTTTopicPrefix())
	assert.Equal(t, "securepeak.records", cfg.GetNATSSubjectPrefix())

	key, err := cfg.GetPrivateKeyHex()
	require.NoError(t, err)
	assert.Empty(t, key)
}

func TestOverrides(t *testing.T) {
	cfg := &Config{
		DecryptionDays:        7,
		RequestTimeoutSeconds: 30,
		PollIntervalSeconds:   2,
		ListenAddr:            "127.0.0.1:9000",
		Relayer:               RelayerConfig{TimeoutSeconds: 15},
		MQTT:                  MQTTConfig{TopicPrefix: "home/energy"},
		NATS:                  NATSConfig{SubjectPrefix: "energy.records"},
	}

	assert.Equal(t, 7, cfg.GetDecryptionDays())
	assert.Equal(t, 30*time.Second, cfg.GetRequestTimeout())
	assert.Equal(t, 2*time.Second, cfg.GetPollInterval())
	assert.Equal(t, 15*time.Second, cfg.GetRelayerTimeout())
	assert.Equal(t, "127.0.0.1:9000", cfg.GetListenAddr())
	assert.Equal(t, "home/energy", cfg.GetMQTTTopicPrefix())
	assert.Equal(t, "energy.records", cfg.GetNATSSubjectPrefix())
}

func TestGetPrivateKeyHex(t *testing.T) {
	t.Run("inline key wins", func(t *testing.T) {
		cfg := &Config{PrivateKey: " 0xabc \n", PrivateKeyFile: "/does/not/exist"}
		key, err := cfg.GetPrivateKeyHex()
		require.NoError(t, err)
		assert.Equal(t, "0xabc", key)
	})

	t.Run("key file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "key")
		require.NoError(t, os.WriteFile(path, []byte("deadbeef\n"), 0600))

		cfg := &Config{PrivateKeyFile: path}
		key, err := cfg.GetPrivateKeyHex()
		require.NoError(t, err)
		assert.Equal(t, "deadbeef", key)
	})

	t.Run("missing key file", func(t *testing.T) {
		cfg := &Config{PrivateKeyFile: filepath.Join(t.TempDir(), "nope")}
		_, err := cfg.GetPrivateKeyHex()
		require.Error(t, err)
	})
}
