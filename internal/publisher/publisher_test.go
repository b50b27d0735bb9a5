package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/securepeak/internal/config"
	"github.com/jgoulah/securepeak/internal/database"
	"github.com/jgoulah/securepeak/pkg/models"
)

const testContract = "0x5fbdb2315678afecb367f032d93f642f64180aa3"

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool { return true }

func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }

func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

func (t *fakeToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakeClient records publishes; other mqtt.Client methods are not used
type fakeClient struct {
	mqtt.Client

	mu           sync.Mutex
	messages     []published
	err          error
	disconnected bool
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, published{topic: topic, qos: qos, retained: retained, payload: payload.([]byte)})
	return &fakeToken{err: c.err}
}

func (c *fakeClient) IsConnected() bool { return !c.disconnected }

func (c *fakeClient) Disconnect(uint) { c.disconnected = true }

type haServer struct {
	*httptest.Server

	mu       sync.Mutex
	backfill []HAPayload
	stats    int
	fail     bool
}

func newHAServer(t *testing.T) *haServer {
	t.Helper()
	s := &haServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/appdaemon/backfill_state", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.fail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var p HAPayload
		if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&p)) {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		s.backfill = append(s.backfill, p)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/appdaemon/generate_statistics", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.stats++
		s.mu.Unlock()
		_, _ = w.Write([]byte(`{"inserted": 3, "updated": 1, "total_hours": 4}`))
	})
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func haConfig(url string) config.HAConfig {
	return config.HAConfig{Enabled: true, URL: url, Token: "secret", EntityID: "sensor.securepeak_consumption"}
}

func reading(id uint64, kwh uint32, peak bool) models.DecryptedReading {
	return models.DecryptedReading{
		ChainID:     31337,
		Contract:    testContract,
		RecordID:    id,
		Consumption: kwh,
		Peak:        peak,
		RecordedAt:  time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		DecryptedAt: time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	tests := []struct {
		name string
		ha   config.HAConfig
		mq   config.MQTTConfig
	}{
		{name: "ha without url", ha: config.HAConfig{Enabled: true, Token: "t", EntityID: "e"}},
		{name: "ha without token", ha: config.HAConfig{Enabled: true, URL: "u", EntityID: "e"}},
		{name: "ha without entity", ha: config.HAConfig{Enabled: true, URL: "u", Token: "t"}},
		{name: "mqtt without broker", mq: config.MQTTConfig{Enabled: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.mq, tt.ha)
			require.Error(t, err)
		})
	}

	p, err := New(config.MQTTConfig{}, config.HAConfig{})
	require.NoError(t, err)
	assert.False(t, p.Enabled())
	require.Error(t, p.Publish(reading(0, 1, false)))
}

func TestPublishHA(t *testing.T) {
	srv := newHAServer(t)
	p := NewWithClient(nil, "", haConfig(srv.URL))

	require.NoError(t, p.Publish(reading(4, 920, true)))

	require.Len(t, srv.backfill, 1)
	got := srv.backfill[0]
	assert.Equal(t, "sensor.securepeak_consumption", got.EntityID)
	assert.Equal(t, "920", got.State)
	assert.Equal(t, "2024-03-01T14:30:00Z", got.LastChanged)
	assert.Equal(t, got.LastChanged, got.LastUpdated)
	assert.Equal(t, map[string]string{"record_id": "4", "peak": "true"}, got.Attributes)

	srv.mu.Lock()
	srv.fail = true
	srv.mu.Unlock()
	err := p.PublishHA(reading(5, 1, false))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestPublishMQTT(t *testing.T) {
	client := &fakeClient{}
	p := NewWithClient(client, "home/energy", config.HAConfig{})

	require.NoError(t, p.Publish(reading(2, 420, false)))

	require.Len(t, client.messages, 1)
	msg := client.messages[0]
	assert.Equal(t, "home/energy/records/2", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var payload MQTTPayload
	require.NoError(t, json.Unmarshal(msg.payload, &payload))
	assert.Equal(t, MQTTPayload{
		ChainID:     31337,
		Contract:    testContract,
		RecordID:    2,
		Consumption: 420,
		RecordedAt:  "2024-03-01T14:30:00Z",
	}, payload)

	client.err = errors.New("not connected")
	require.Error(t, p.PublishMQTT(reading(3, 1, false)))

	p.Close()
	assert.True(t, client.disconnected)
}

func TestGenerateStatistics(t *testing.T) {
	srv := newHAServer(t)
	p := NewWithClient(nil, "", haConfig(srv.URL))

	res, err := p.GenerateStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatsResult{Inserted: 3, Updated: 1, TotalHours: 4}, res)
	assert.Equal(t, 1, srv.stats)

	_, err = NewWithClient(nil, "", config.HAConfig{}).GenerateStatistics(context.Background())
	require.Error(t, err)
}

func TestPublishPending(t *testing.T) {
	db, err := database.New(":memory:")
	require.NoError(t, err)
	defer db.Close()

	for _, r := range []models.DecryptedReading{reading(0, 100, false), reading(1, 200, true), reading(2, 300, false)} {
		r := r
		require.NoError(t, db.SaveDecrypted(&r))
	}

	client := &fakeClient{}
	p := NewWithClient(client, "", config.HAConfig{})

	var progress []int
	report, err := p.PublishPending(db, PendingOptions{
		ChainID:  31337,
		Contract: testContract,
		Limit:    2,
		Progress: func(i, total int, _ models.DecryptedReading, err error) {
			assert.NoError(t, err)
			assert.Equal(t, 2, total)
			progress = append(progress, i)
		},
	})
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 2, Published: 2}, report)
	assert.Equal(t, []int{1, 2}, progress)

	report, err = p.PublishPending(db, PendingOptions{ChainID: 31337, Contract: testContract})
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 1, Published: 1}, report)
	assert.Equal(t, "securepeak/records/2", client.messages[2].topic)

	client.err = errors.New("broker down")
	report, err = p.PublishPending(db, PendingOptions{ChainID: 31337, Contract: testContract, All: true})
	require.NoError(t, err)
	assert.Equal(t, Report{Total: 3, Failed: 3}, report)
}
