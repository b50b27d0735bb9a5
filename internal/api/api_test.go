package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/securepeak/internal/contract"
	"github.com/jgoulah/securepeak/internal/contract/contracttest"
	"github.com/jgoulah/securepeak/internal/fhe"
	"github.com/jgoulah/securepeak/internal/fhe/fhetest"
	"github.com/jgoulah/securepeak/internal/peakdata"
	"github.com/jgoulah/securepeak/internal/wallet"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	chain    *contracttest.Chain
	instance *fhetest.Instance
	session  *peakdata.Session
	router   *gin.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	signer, err := wallet.FromHex("ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80")
	require.NoError(t, err)

	chain := contracttest.NewChain(31337, common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"))
	instance := fhetest.NewInstance()
	session := peakdata.NewSession(31337, peakdata.Options{
		Backend:     chain,
		Instance:    instance,
		Signer:      signer,
		Storage:     fhe.NewMemoryStorage(),
		ReceiptPoll: time.Millisecond,
		Logger:      zerolog.Nop(),
	})
	return &testEnv{
		chain:    chain,
		instance: instance,
		session:  session,
		router:   NewRouter(session, Options{Logger: zerolog.Nop()}),
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	var out map[string]interface{}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	}
	return w, out
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])

	w, _ = env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRecordLifecycle(t *testing.T) {
	env := newTestEnv(t)

	w, body := env.do(t, http.MethodPost, "/api/records", map[string]interface{}{"consumption": 420, "peak": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "completed", body["outcome"])
	assert.Equal(t, float64(0), body["record_id"])
	assert.Equal(t, float64(1), body["receipt_status"])

	w, body = env.do(t, http.MethodGet, "/api/records", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = env.do(t, http.MethodPost, "/api/records/0/decrypt", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(420), body["consumption"])
	assert.Equal(t, true, body["peak"])

	w, body = env.do(t, http.MethodGet, "/api/graph", nil)
	require.Equal(t, http.StatusOK, w.Code)
	points := body["points"].([]interface{})
	require.Len(t, points, 1)
	assert.Equal(t, float64(420), points[0].(map[string]interface{})["consumption"])

	w, _ = env.do(t, http.MethodPost, "/api/records/0/consumption", map[string]interface{}{"consumption": 99})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = env.do(t, http.MethodPost, "/api/records/0/peak", map[string]interface{}{"peak": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, _ = env.do(t, http.MethodPost, "/api/records/0/grant", map[string]interface{}{"auditor": "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Len(t, env.chain.Auditors[0], 1)

	w, body = env.do(t, http.MethodGet, "/api/records?mine=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	w, body = env.do(t, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["deployed"])
	assert.Equal(t, float64(31337), body["chain_id"])
}

func TestRefreshEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.chain.AddRecord(contracttest.Record{Timestamp: time.Now(), Exists: true})

	w, body := env.do(t, http.MethodPost, "/api/records/refresh", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(1), body["count"])

	env.chain.Errors[contract.MethodGetRecordCount] = assert.AnError
	w, body = env.do(t, http.MethodPost, "/api/records/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, body["error"], "Failed to fetch records")
}

func TestBadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		path string
		body interface{}
	}{
		{name: "missing consumption", path: "/api/records", body: map[string]interface{}{"peak": true}},
		{name: "bad record id", path: "/api/records/abc/decrypt"},
		{name: "bad auditor", path: "/api/records/0/grant", body: map[string]interface{}{"auditor": "nope"}},
		{name: "missing peak", path: "/api/records/0/peak", body: map[string]interface{}{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestPreconditionStatus(t *testing.T) {
	env := newTestEnv(t)
	env.session.SetSigner(nil)

	w, body := env.do(t, http.MethodPost, "/api/records", map[string]interface{}{"consumption": 1})
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "Wallet signer not available. Please connect your wallet.", body["message"])

	w, _ = env.do(t, http.MethodGet, "/api/records?mine=true", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	env.session.SwitchChain(11155111)
	w, _ = env.do(t, http.MethodPost, "/api/records/0/decrypt", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)

	// no decryption signature can be built for the wallet
	env = newTestEnv(t)
	env.chain.AddRecord(contracttest.Record{
		Timestamp:         time.Now(),
		Exists:            true,
		ConsumptionHandle: env.instance.Seed(5),
		IsPeakHandle:      env.instance.Seed(0),
	})
	env.instance.KeypairErr = errors.New("no entropy")
	w, body = env.do(t, http.MethodPost, "/api/records/0/decrypt", nil)
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Equal(t, "Unable to build FHEVM decryption signature", body["message"])
}

func TestBusyAndStaleStatus(t *testing.T) {
	env := newTestEnv(t)
	env.chain.AddRecord(contracttest.Record{
		Timestamp:         time.Now(),
		Exists:            true,
		ConsumptionHandle: env.instance.Seed(5),
		IsPeakHandle:      env.instance.Seed(0),
	})

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	env.instance.BeforeDecrypt = func() {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	done := make(chan int)
	go func() {
		req := httptest.NewRequest(http.MethodPost, "/api/records/0/decrypt", nil)
		w := httptest.NewRecorder()
		env.router.ServeHTTP(w, req)
		done <- w.Code
	}()
	<-entered

	w, body := env.do(t, http.MethodPost, "/api/records/0/decrypt", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "busy", body["outcome"])

	close(release)
	assert.Equal(t, http.StatusOK, <-done)

	// A session whose chain changes after the flow started reports a conflict
	env2 := newTestEnv(t)
	env2.chain.AddRecord(contracttest.Record{
		Timestamp:         time.Now(),
		Exists:            true,
		ConsumptionHandle: env2.instance.Seed(5),
		IsPeakHandle:      env2.instance.Seed(0),
	})
	env2.instance.BeforeDecrypt = func() { env2.session.SwitchChain(0) }
	w, body = env2.do(t, http.MethodPost, "/api/records/0/decrypt", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "stale", body["outcome"])
}
