package contract

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-observer/internal/config"
	"github.com/smartdevs17/contract-observer/internal/metrics"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// Evaluator re-evaluates tracked entries during a refresh cycle.
// Implemented by the Service.
type Evaluator interface {
	ReadBalance(ctx context.Context, token, account string) (*big.Int, error)
	InvokeFunction(ctx context.Context, entry *TrackedFunctionEntry) ([]interface{}, error)
}

// TrackedFunctionEntry is a standing subscription to one call
// signature's result. Re-tracking the identical key overwrites the
// stored parameters; the stream stays stable per key.
type TrackedFunctionEntry struct {
	Address      string         `json:"address"`
	FunctionName string         `json:"function"`
	Args         []interface{}  `json:"args"`
	Overrides    *CallOverrides `json:"overrides,omitempty"`
}

// TrackerStats describes the scheduler's current working set
type TrackerStats struct {
	TrackedBalances  int    `json:"tracked_balances"`
	TrackedFunctions int    `json:"tracked_functions"`
	LastTarget       uint64 `json:"last_target_block"`
	PendingTimer     bool   `json:"pending_timer"`
	RefreshCycles    uint64 `json:"refresh_cycles"`
}

// Tracker maintains the working set of tracked subscriptions and
// re-evaluates every entry on a debounced block-advance signal.
//
// Block advances arm a refresh only when the new block exceeds the
// last scheduled target by more than the threshold; bump signals
// always re-arm. Either way at most one timer is pending at any
// instant, so bursts coalesce into a single refresh cycle.
type Tracker struct {
	evaluator Evaluator
	directory *Directory
	metrics   *metrics.Manager
	logger    *logrus.Logger

	threshold      uint64
	debounce       time.Duration
	refreshTimeout time.Duration

	mu        sync.RWMutex
	balances  map[string]struct{}
	functions map[string]*TrackedFunctionEntry

	cursorMu      sync.Mutex
	lastTarget    uint64
	timer         *time.Timer
	refreshCycles uint64
}

// NewTracker creates a tracking scheduler
func NewTracker(cfg *config.TrackerConfig, evaluator Evaluator, directory *Directory, metricsManager *metrics.Manager) *Tracker {
	threshold := cfg.BlockThreshold
	if threshold == 0 {
		threshold = 4
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	refreshTimeout := cfg.RefreshTimeout
	if refreshTimeout <= 0 {
		refreshTimeout = defaultCallTimeout
	}

	return &Tracker{
		evaluator:      evaluator,
		directory:      directory,
		metrics:        metricsManager,
		logger:         utils.GetLogger(),
		threshold:      threshold,
		debounce:       debounce,
		refreshTimeout: refreshTimeout,
		balances:       make(map[string]struct{}),
		functions:      make(map[string]*TrackedFunctionEntry),
	}
}

// TrackBalance adds a balance key to the working set. Entries are
// never removed; they are re-evaluated every refresh cycle for the
// process lifetime.
func (t *Tracker) TrackBalance(key string) {
	t.mu.Lock()
	t.balances[key] = struct{}{}
	count := len(t.balances)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.GetPrometheusMetrics().UpdateTrackedBalances(count)
	}
}

// TrackFunction registers or overwrites the tracked entry under key
func (t *Tracker) TrackFunction(key string, entry *TrackedFunctionEntry) {
	t.mu.Lock()
	t.functions[key] = entry
	count := len(t.functions)
	t.mu.Unlock()

	if t.metrics != nil {
		t.metrics.GetPrometheusMetrics().UpdateTrackedFunctions(count)
	}
}

// TrackedFunction returns the stored entry for key, if any
func (t *Tracker) TrackedFunction(key string) (*TrackedFunctionEntry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.functions[key]
	return entry, ok
}

// TrackedKeys returns all keys in the working set
func (t *Tracker) TrackedKeys() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	keys := make([]string, 0, len(t.balances)+len(t.functions))
	for key := range t.balances {
		keys = append(keys, key)
	}
	for key := range t.functions {
		keys = append(keys, key)
	}
	return keys
}

// OnBlock handles a plain block-number advance. A refresh is armed
// only when the block exceeds the last scheduled target by more than
// the threshold, so reconnect replays and bursts do not cause a
// refresh storm.
func (t *Tracker) OnBlock(blockNumber uint64) {
	t.cursorMu.Lock()
	defer t.cursorMu.Unlock()

	if blockNumber <= t.lastTarget+t.threshold {
		return
	}
	t.arm(blockNumber, "block")
}

// Bump handles a forced refresh signal. It always re-arms the timer,
// regardless of the threshold, cancelling any pending one.
func (t *Tracker) Bump(blockNumber uint64) {
	t.cursorMu.Lock()
	defer t.cursorMu.Unlock()

	t.arm(blockNumber, "bump")
}

// arm cancels the pending timer, if any, and starts a fresh debounce
// window targeting blockNumber. Callers hold cursorMu.
func (t *Tracker) arm(blockNumber uint64, reason string) {
	if t.timer != nil {
		t.timer.Stop()
	}
	t.lastTarget = blockNumber
	t.timer = time.AfterFunc(t.debounce, t.refresh)

	if t.metrics != nil {
		t.metrics.GetPrometheusMetrics().RecordDebounceArm(reason)
		t.metrics.GetPrometheusMetrics().UpdateLatestObservedBlock(blockNumber)
	}

	t.logger.Debug("Refresh timer armed",
		"block", blockNumber, "reason", reason, "debounce", t.debounce)
}

// Stop cancels any pending refresh timer
func (t *Tracker) Stop() {
	t.cursorMu.Lock()
	defer t.cursorMu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

// Stats returns the scheduler's current state
func (t *Tracker) Stats() TrackerStats {
	t.mu.RLock()
	balances := len(t.balances)
	functions := len(t.functions)
	t.mu.RUnlock()

	t.cursorMu.Lock()
	defer t.cursorMu.Unlock()
	return TrackerStats{
		TrackedBalances:  balances,
		TrackedFunctions: functions,
		LastTarget:       t.lastTarget,
		PendingTimer:     t.timer != nil,
		RefreshCycles:    t.refreshCycles,
	}
}

// refresh re-evaluates every tracked entry. Each entry is dispatched
// on its own goroutine; one entry's failure never blocks or cancels
// the others, and the scheduler returns to idle as soon as all entries
// have been launched.
func (t *Tracker) refresh() {
	t.cursorMu.Lock()
	t.timer = nil
	t.refreshCycles++
	target := t.lastTarget
	t.cursorMu.Unlock()

	t.mu.RLock()
	balanceKeys := make([]string, 0, len(t.balances))
	for key := range t.balances {
		balanceKeys = append(balanceKeys, key)
	}
	entries := make(map[string]*TrackedFunctionEntry, len(t.functions))
	for key, entry := range t.functions {
		entries[key] = entry
	}
	t.mu.RUnlock()

	if t.metrics != nil {
		t.metrics.GetPrometheusMetrics().RecordRefreshCycle()
	}

	t.logger.Debug("Refresh cycle dispatched",
		"target_block", target,
		"balances", len(balanceKeys),
		"functions", len(entries))

	for _, key := range balanceKeys {
		token, account, err := ParseBalanceKey(key)
		if err != nil {
			// Malformed keys are skipped but never removed
			t.logger.Warn("Skipping malformed balance key", "key", key, "error", err)
			t.recordRefreshEntry("balance", false)
			continue
		}
		go t.refreshBalance(key, token, account)
	}

	for key, entry := range entries {
		go t.refreshFunction(key, entry)
	}
}

// refreshBalance re-reads one tracked balance and republishes it
func (t *Tracker) refreshBalance(key, token, account string) {
	ctx, cancel := context.WithTimeout(context.Background(), t.refreshTimeout)
	defer cancel()

	balance, err := t.evaluator.ReadBalance(ctx, token, account)
	if err != nil {
		t.logger.Warn("Tracked balance refresh failed",
			"token", token, "account", account, "error", err)
		t.recordRefreshEntry("balance", false)
		return
	}

	t.directory.Subject(key).Publish(balance.String())
	t.recordRefreshEntry("balance", true)
}

// refreshFunction re-invokes one tracked call and republishes its
// result
func (t *Tracker) refreshFunction(key string, entry *TrackedFunctionEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), t.refreshTimeout)
	defer cancel()

	results, err := t.evaluator.InvokeFunction(ctx, entry)
	if err != nil {
		t.logger.Warn("Tracked function refresh failed",
			"key", key, "function", entry.FunctionName, "error", err)
		t.recordRefreshEntry("function", false)
		return
	}

	publishResults(t.directory.Subject(key), results)
	t.recordRefreshEntry("function", true)
}

// recordRefreshEntry updates per-entry refresh metrics
func (t *Tracker) recordRefreshEntry(kind string, success bool) {
	if t.metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	t.metrics.GetPrometheusMetrics().RecordRefreshEntry(kind, status)
}
