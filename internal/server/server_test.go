package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartdevs17/contract-observer/internal/abiresolver"
	"github.com/smartdevs17/contract-observer/internal/blockfeed"
	"github.com/smartdevs17/contract-observer/internal/config"
	"github.com/smartdevs17/contract-observer/internal/connection"
	"github.com/smartdevs17/contract-observer/internal/contract"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

const (
	testToken   = "0x6B175474E89094C44Da98b954EedeAC495271d0F"
	testAccount = "0x742d35Cc6634C0532925a3b844Bc454e4438f44e"
)

// offlineConnection satisfies connection.Manager without a live node
type offlineConnection struct {
	clientErr error
}

func (c *offlineConnection) GetClient() (*ethclient.Client, error) { return nil, c.clientErr }

func (c *offlineConnection) GetClientWithContext(ctx context.Context) (*ethclient.Client, error) {
	return nil, c.clientErr
}

func (c *offlineConnection) Signer() *bind.TransactOpts { return nil }

func (c *offlineConnection) SetSigner(opts *bind.TransactOpts) {}

func (c *offlineConnection) HealthCheck() error { return nil }

func (c *offlineConnection) HealthCheckWithContext(ctx context.Context) error { return nil }

func (c *offlineConnection) GetNetworkID() (uint64, error) { return 1, nil }

func (c *offlineConnection) GetLatestBlockNumber() (uint64, error) { return 100, nil }

func (c *offlineConnection) IsConnected() bool { return true }

func (c *offlineConnection) Close() error { return nil }

func (c *offlineConnection) Stats() connection.ConnectionStats { return connection.ConnectionStats{} }

type testEnv struct {
	server  *HTTPServer
	service *contract.Service
	tracker *contract.Tracker
	feed    *blockfeed.Feed
}

func newTestEnv(t *testing.T, conn connection.Manager) *testEnv {
	t.Helper()

	registry, err := contract.NewOverrideRegistry(nil)
	require.NoError(t, err)

	directory := contract.NewDirectory()
	service := contract.NewService(conn, abiresolver.NewStaticResolver(), registry, directory, nil)

	tracker := contract.NewTracker(&config.TrackerConfig{
		BlockThreshold: 4,
		Debounce:       20 * time.Millisecond,
		RefreshTimeout: time.Second,
	}, service, directory, nil)
	service.BindTracker(tracker)
	t.Cleanup(tracker.Stop)

	feed := blockfeed.NewFeed(conn, EventBus.New(), time.Hour)
	require.NoError(t, feed.SubscribeBump(tracker.Bump))

	srv, err := NewHTTPServer(&config.ServerConfig{
		Host:         "127.0.0.1",
		Port:         0,
		EnableHealth: true,
	}, service, tracker, feed, conn, nil, "test")
	require.NoError(t, err)

	return &testEnv{server: srv, service: service, tracker: tracker, feed: feed}
}

func (e *testEnv) request(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("{}")
	} else {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	recorder := httptest.NewRecorder()
	e.server.router.ServeHTTP(recorder, req)

	decoded := map[string]interface{}{}
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder, decoded
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	recorder, body := env.request(t, "GET", "/api/v1/health", "")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "test", body["version"])
}

func TestDetailedHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	recorder, body := env.request(t, "GET", "/api/v1/health/detailed", "")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Contains(t, body, "components")
}

func TestTrackBalanceEndpoint(t *testing.T) {
	// The failing client keeps the immediate read offline
	env := newTestEnv(t, &offlineConnection{
		clientErr: utils.NewAppError(utils.ErrCodeConnection, "No client", ""),
	})

	recorder, body := env.request(t, "POST", "/api/v1/track/balance",
		`{"token":"`+testToken+`","account":"`+testAccount+`"}`)

	assert.Equal(t, http.StatusAccepted, recorder.Code)
	assert.Equal(t, contract.BalanceKey(testToken, testAccount), body["key"])

	assert.Contains(t, env.tracker.TrackedKeys(), body["key"])
}

func TestTrackBalanceEndpointInvalidAddress(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	recorder, _ := env.request(t, "POST", "/api/v1/track/balance",
		`{"token":"bogus","account":"`+testAccount+`"}`)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestTrackCallEndpoint(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	// transfer is state-changing; without a signer the immediate
	// evaluation fails in the background while tracking succeeds
	recorder, body := env.request(t, "POST", "/api/v1/track/call",
		`{"address":"`+testToken+`","function":"transfer","args":["`+testAccount+`","1000"]}`)

	assert.Equal(t, http.StatusAccepted, recorder.Code)
	key, ok := body["key"].(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(key, "call|"), "Tracked calls use call-family keys")

	assert.Contains(t, env.tracker.TrackedKeys(), key)
}

func TestTrackCallEndpointUnknownFunction(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	recorder, _ := env.request(t, "POST", "/api/v1/track/call",
		`{"address":"`+testToken+`","function":"mint","args":[]}`)

	assert.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestTrackCallEndpointArityMismatch(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	recorder, _ := env.request(t, "POST", "/api/v1/track/call",
		`{"address":"`+testToken+`","function":"transfer","args":["`+testAccount+`"]}`)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestRefreshEndpointBumpsScheduler(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{
		clientErr: utils.NewAppError(utils.ErrCodeConnection, "No client", ""),
	})

	recorder, body := env.request(t, "POST", "/api/v1/refresh", `{"block":42}`)

	assert.Equal(t, http.StatusAccepted, recorder.Code)
	assert.Equal(t, float64(42), body["block"])

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if env.tracker.Stats().RefreshCycles >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, env.tracker.Stats().RefreshCycles, uint64(1),
		"A refresh request forces a cycle through the bump path")
}

func TestRefreshEndpointRejectedBeforeFirstBlock(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{
		clientErr: utils.NewAppError(utils.ErrCodeConnection, "No client", ""),
	})

	// The feed has not published yet, so an empty request has no block
	// to fall back on and must not rewind the scheduler to 0.
	recorder, body := env.request(t, "POST", "/api/v1/refresh", `{}`)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, "No block observed yet", body["error"])

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(0), env.tracker.Stats().RefreshCycles,
		"A rejected refresh request must not schedule a cycle")
}

func TestCacheResetEndpoint(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	_, err := env.service.GetHandle(context.Background(), testToken, "")
	require.NoError(t, err)
	require.Equal(t, 1, env.service.CachedHandles())

	recorder, _ := env.request(t, "POST", "/api/v1/cache/reset", "")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, 0, env.service.CachedHandles())
}

func TestGetContractEndpoint(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	recorder, body := env.request(t, "GET", "/api/v1/contracts/"+testToken, "")

	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "fallback", body["abi_source"])
	assert.Contains(t, body["functions"], "balanceOf")

	recorder, _ = env.request(t, "GET", "/api/v1/contracts/bogus", "")
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

func TestSubjectEndpoints(t *testing.T) {
	env := newTestEnv(t, &offlineConnection{})

	env.service.Directory().Subject("demo").Publish("value")

	recorder, body := env.request(t, "GET", "/api/v1/subjects", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, float64(1), body["total"])

	recorder, body = env.request(t, "GET", "/api/v1/subjects/demo", "")
	assert.Equal(t, http.StatusOK, recorder.Code)
	assert.Equal(t, "value", body["value"])
	assert.Equal(t, true, body["has_value"])
}
