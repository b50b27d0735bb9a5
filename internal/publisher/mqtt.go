package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/jgoulah/securepeak/internal/config"
	"github.com/jgoulah/securepeak/internal/metrics"
	"github.com/jgoulah/securepeak/pkg/models"
)

// Publisher pushes decrypted readings to Home Assistant and/or MQTT
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
	haConfig    config.HAConfig
	httpClient  *http.Client
}

// New creates a new publisher (supports both MQTT and HA HTTP API)
func New(mqttCfg config.MQTTConfig, haCfg config.HAConfig) (*Publisher, error) {
	if err := validateHA(haCfg); err != nil {
		return nil, err
	}

	var client mqtt.Client
	var topicPrefix string

	if mqttCfg.Enabled {
		if mqttCfg.Broker == "" {
			return nil, fmt.Errorf("MQTT broker address is required when enabled")
		}

		topicPrefix = mqttCfg.TopicPrefix
		if topicPrefix == "" {
			topicPrefix = "securepeak"
		}

		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", mqttCfg.Broker))
		opts.SetClientID("securepeak")
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)

		if mqttCfg.Username != "" {
			opts.SetUsername(mqttCfg.Username)
		}
		if mqttCfg.Password != "" {
			opts.SetPassword(mqttCfg.Password)
		}

		client = mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
		}
	}

	return NewWithClient(client, topicPrefix, haCfg), nil
}

// NewWithClient wraps an already connected MQTT client (nil disables MQTT)
func NewWithClient(client mqtt.Client, topicPrefix string, haCfg config.HAConfig) *Publisher {
	if topicPrefix == "" {
		topicPrefix = "securepeak"
	}
	return &Publisher{
		client:      client,
		topicPrefix: topicPrefix,
		haConfig:    haCfg,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
	}
}

func validateHA(haCfg config.HAConfig) error {
	if !haCfg.Enabled {
		return nil
	}
	if haCfg.URL == "" {
		return fmt.Errorf("Home Assistant URL is required when enabled")
	}
	if haCfg.Token == "" {
		return fmt.Errorf("Home Assistant token is required when enabled")
	}
	if haCfg.EntityID == "" {
		return fmt.Errorf("Home Assistant entity_id is required when enabled")
	}
	return nil
}

// Enabled reports whether at least one target is configured
func (p *Publisher) Enabled() bool {
	return p.haConfig.Enabled || p.client != nil
}

// HAPayload matches the Home Assistant backfill service call data
type HAPayload struct {
	EntityID    string            `json:"entity_id"`
	State       string            `json:"state"`
	LastChanged string            `json:"last_changed"`
	LastUpdated string            `json:"last_updated"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// MQTTPayload is the retained message published per record
type MQTTPayload struct {
	ChainID     uint64 `json:"chain_id"`
	Contract    string `json:"contract"`
	RecordID    uint64 `json:"record_id"`
	Consumption uint32 `json:"consumption"`
	Peak        bool   `json:"peak"`
	RecordedAt  string `json:"recorded_at,omitempty"`
}

// Publish sends a reading to every enabled target
func (p *Publisher) Publish(reading models.DecryptedReading) error {
	if !p.Enabled() {
		return fmt.Errorf("no publish target is enabled in config")
	}
	if p.haConfig.Enabled {
		if err := p.PublishHA(reading); err != nil {
			return fmt.Errorf("home assistant: %w", err)
		}
	}
	if p.client != nil {
		if err := p.PublishMQTT(reading); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}
	return nil
}

// Topic returns the MQTT topic of a record
func (p *Publisher) Topic(recordID uint64) string {
	return fmt.Sprintf("%s/records/%d", p.topicPrefix, recordID)
}

// PublishMQTT publishes a retained JSON message for the reading
func (p *Publisher) PublishMQTT(reading models.DecryptedReading) error {
	if p.client == nil {
		return fmt.Errorf("MQTT publishing is not enabled in config")
	}

	payload := MQTTPayload{
		ChainID:     reading.ChainID,
		Contract:    reading.Contract,
		RecordID:    reading.RecordID,
		Consumption: reading.Consumption,
		Peak:        reading.Peak,
	}
	if !reading.RecordedAt.IsZero() {
		payload.RecordedAt = reading.RecordedAt.Format(time.RFC3339)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	token := p.client.Publish(p.Topic(reading.RecordID), 1, true, body)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("timed out publishing record %d", reading.RecordID)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing record %d: %w", reading.RecordID, err)
	}

	metrics.ReadingsPublished.WithLabelValues("mqtt").Inc()
	return nil
}

// PublishHA sends a reading to Home Assistant via the AppDaemon backfill endpoint
func (p *Publisher) PublishHA(reading models.DecryptedReading) error {
	if !p.haConfig.Enabled {
		return fmt.Errorf("Home Assistant publishing is not enabled in config")
	}

	apiURL := fmt.Sprintf("%s/api/appdaemon/backfill_state", p.haConfig.URL)

	// Determine timestamp to use for last_changed and last_updated
	var timestamp string
	if !reading.RecordedAt.IsZero() {
		timestamp = reading.RecordedAt.Format(time.RFC3339)
	} else {
		timestamp = reading.DecryptedAt.Format(time.RFC3339)
	}

	peak := "false"
	if reading.Peak {
		peak = "true"
	}
	payload := HAPayload{
		EntityID:    p.haConfig.EntityID,
		State:       fmt.Sprintf("%d", reading.Consumption),
		LastChanged: timestamp,
		LastUpdated: timestamp,
		Attributes: map[string]string{
			"record_id": fmt.Sprintf("%d", reading.RecordID),
			"peak":      peak,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	if _, err := p.post(context.Background(), apiURL, body, p.httpClient); err != nil {
		return err
	}

	metrics.ReadingsPublished.WithLabelValues("home_assistant").Inc()
	return nil
}

// StatsResult is the AppDaemon generate_statistics response
type StatsResult struct {
	Inserted   int `json:"inserted"`
	Updated    int `json:"updated"`
	TotalHours int `json:"total_hours"`
}

// GenerateStatistics asks AppDaemon to compile statistics from the backfilled states
func (p *Publisher) GenerateStatistics(ctx context.Context) (StatsResult, error) {
	if !p.haConfig.Enabled {
		return StatsResult{}, fmt.Errorf("Home Assistant publishing is not enabled in config")
	}

	apiURL := fmt.Sprintf("%s/api/appdaemon/generate_statistics", p.haConfig.URL)
	body, err := json.Marshal(map[string]string{"entity_id": p.haConfig.EntityID})
	if err != nil {
		return StatsResult{}, fmt.Errorf("encoding payload: %w", err)
	}

	// Longer timeout for statistics generation
	client := &http.Client{Timeout: 60 * time.Second, Transport: p.httpClient.Transport}
	respBody, err := p.post(ctx, apiURL, body, client)
	if err != nil {
		return StatsResult{}, err
	}

	var result StatsResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return StatsResult{}, fmt.Errorf("parsing response: %w", err)
	}
	return result, nil
}

func (p *Publisher) post(ctx context.Context, url string, body []byte, client *http.Client) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.haConfig.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error: status %d, response: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
