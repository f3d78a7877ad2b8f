package contract

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/smartdevs17/contract-observer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEvaluator counts evaluations and serves canned results
type fakeEvaluator struct {
	mu            sync.Mutex
	balanceReads  int
	functionCalls int
	balance       *big.Int
	results       []interface{}
}

func newFakeEvaluator() *fakeEvaluator {
	return &fakeEvaluator{
		balance: big.NewInt(1000),
		results: []interface{}{"ok"},
	}
}

func (f *fakeEvaluator) ReadBalance(ctx context.Context, token, account string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceReads++
	return f.balance, nil
}

func (f *fakeEvaluator) InvokeFunction(ctx context.Context, entry *TrackedFunctionEntry) ([]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.functionCalls++
	return f.results, nil
}

func (f *fakeEvaluator) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceReads, f.functionCalls
}

func newTestTracker(evaluator Evaluator, directory *Directory) *Tracker {
	return NewTracker(&config.TrackerConfig{
		BlockThreshold: 4,
		Debounce:       30 * time.Millisecond,
		RefreshTimeout: time.Second,
	}, evaluator, directory, nil)
}

func waitForCycles(t *testing.T, tracker *Tracker, want uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tracker.Stats().RefreshCycles >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Expected %d refresh cycles, got %d", want, tracker.Stats().RefreshCycles)
}

func TestTrackerBlockBurstCoalesces(t *testing.T) {
	evaluator := newFakeEvaluator()
	directory := NewDirectory()
	tracker := newTestTracker(evaluator, directory)
	defer tracker.Stop()

	tracker.TrackBalance(BalanceKey(testToken, testAccount))

	// A burst of consecutive blocks inside the debounce window
	for block := uint64(100); block <= 110; block++ {
		tracker.OnBlock(block)
	}

	waitForCycles(t, tracker, 1)
	time.Sleep(100 * time.Millisecond)

	stats := tracker.Stats()
	assert.Equal(t, uint64(1), stats.RefreshCycles, "A block burst coalesces into one refresh cycle")
	assert.False(t, stats.PendingTimer)

	reads, _ := evaluator.counts()
	assert.Equal(t, 1, reads)
}

func TestTrackerThresholdSuppressesNearbyBlocks(t *testing.T) {
	evaluator := newFakeEvaluator()
	tracker := newTestTracker(evaluator, NewDirectory())
	defer tracker.Stop()

	tracker.OnBlock(100)
	waitForCycles(t, tracker, 1)

	// Within threshold of the last target; must not arm
	tracker.OnBlock(103)
	tracker.OnBlock(104)
	time.Sleep(100 * time.Millisecond)

	stats := tracker.Stats()
	assert.Equal(t, uint64(1), stats.RefreshCycles)
	assert.Equal(t, uint64(100), stats.LastTarget)

	// Past the threshold; arms again
	tracker.OnBlock(105)
	waitForCycles(t, tracker, 2)
	assert.Equal(t, uint64(105), tracker.Stats().LastTarget)
}

func TestTrackerBumpAlwaysArms(t *testing.T) {
	evaluator := newFakeEvaluator()
	tracker := newTestTracker(evaluator, NewDirectory())
	defer tracker.Stop()

	tracker.OnBlock(100)
	waitForCycles(t, tracker, 1)

	// Same block again would be suppressed as a plain advance
	tracker.Bump(100)
	waitForCycles(t, tracker, 2)
}

func TestTrackerBumpReplacesPendingTimer(t *testing.T) {
	evaluator := newFakeEvaluator()
	tracker := NewTracker(&config.TrackerConfig{
		BlockThreshold: 4,
		Debounce:       80 * time.Millisecond,
		RefreshTimeout: time.Second,
	}, evaluator, NewDirectory(), nil)
	defer tracker.Stop()

	tracker.OnBlock(100)
	time.Sleep(20 * time.Millisecond)
	tracker.Bump(101)

	// The original timer would have fired by now if it were still live
	time.Sleep(70 * time.Millisecond)
	assert.Equal(t, uint64(0), tracker.Stats().RefreshCycles,
		"Re-arming restarts the debounce window")

	waitForCycles(t, tracker, 1)
	time.Sleep(50 * time.Millisecond)

	stats := tracker.Stats()
	assert.Equal(t, uint64(1), stats.RefreshCycles, "At most one timer is ever pending")
	assert.Equal(t, uint64(101), stats.LastTarget)
}

func TestTrackerRefreshPublishesToSubjects(t *testing.T) {
	evaluator := newFakeEvaluator()
	directory := NewDirectory()
	tracker := newTestTracker(evaluator, directory)
	defer tracker.Stop()

	balanceKey := BalanceKey(testToken, testAccount)
	tracker.TrackBalance(balanceKey)

	functionKey := FunctionKey(testToken, "symbol", nil, nil)
	tracker.TrackFunction(functionKey, &TrackedFunctionEntry{
		Address:      testToken,
		FunctionName: "symbol",
	})

	balances, cancelBalances := directory.Subject(balanceKey).Subscribe()
	defer cancelBalances()
	symbols, cancelSymbols := directory.Subject(functionKey).Subscribe()
	defer cancelSymbols()

	tracker.Bump(1)

	assert.Equal(t, "1000", receiveWithin(t, balances, 2*time.Second),
		"Balances are published as decimal strings")
	assert.Equal(t, "ok", receiveWithin(t, symbols, 2*time.Second),
		"Single-value results are published unwrapped")
}

func TestTrackerSkipsMalformedBalanceKey(t *testing.T) {
	evaluator := newFakeEvaluator()
	tracker := newTestTracker(evaluator, NewDirectory())
	defer tracker.Stop()

	malformed := "balance|bogus|entry"
	tracker.TrackBalance(malformed)
	tracker.TrackBalance(BalanceKey(testToken, testAccount))

	tracker.Bump(1)
	waitForCycles(t, tracker, 1)
	time.Sleep(100 * time.Millisecond)

	reads, _ := evaluator.counts()
	assert.Equal(t, 1, reads, "Only well-formed keys are evaluated")
	assert.Contains(t, tracker.TrackedKeys(), malformed,
		"Malformed entries are skipped, never removed")
}

func TestTrackerTrackFunctionOverwrites(t *testing.T) {
	tracker := newTestTracker(newFakeEvaluator(), NewDirectory())
	defer tracker.Stop()

	key := FunctionKey(testToken, "balanceOf", []interface{}{testAccount}, nil)

	first := &TrackedFunctionEntry{Address: testToken, FunctionName: "balanceOf"}
	second := &TrackedFunctionEntry{Address: testToken, FunctionName: "balanceOf", Args: []interface{}{testAccount}}

	tracker.TrackFunction(key, first)
	tracker.TrackFunction(key, second)

	entry, ok := tracker.TrackedFunction(key)
	require.True(t, ok)
	assert.Same(t, second, entry, "Re-tracking a key overwrites the stored entry")
	assert.Equal(t, 1, tracker.Stats().TrackedFunctions)
}

func TestTrackerStopCancelsPendingTimer(t *testing.T) {
	evaluator := newFakeEvaluator()
	tracker := newTestTracker(evaluator, NewDirectory())

	tracker.OnBlock(100)
	tracker.Stop()

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, uint64(0), tracker.Stats().RefreshCycles)
	assert.False(t, tracker.Stats().PendingTimer)
}
