// File: internal/blockfeed/feed.go
package blockfeed

import (
	"context"
	"sync"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-observer/internal/connection"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// Topics published on the feed's bus. TopicBlock carries plain
// block-number advances; TopicBump carries forced refresh signals.
const (
	TopicBlock = "chain:block"
	TopicBump  = "chain:bump"
)

// Feed polls the chain head and publishes monotonically non-decreasing
// block numbers on an event bus
type Feed struct {
	conn     connection.Manager
	bus      EventBus.Bus
	interval time.Duration
	logger   *logrus.Logger

	mu            sync.Mutex
	lastPublished uint64
	running       bool
	stopChan      chan struct{}
	stopOnce      sync.Once
	wg            sync.WaitGroup
}

// NewFeed creates a block feed polling at the given interval
func NewFeed(conn connection.Manager, bus EventBus.Bus, interval time.Duration) *Feed {
	return &Feed{
		conn:     conn,
		bus:      bus,
		interval: interval,
		logger:   utils.GetLogger(),
		stopChan: make(chan struct{}),
	}
}

// Bus returns the bus block events are published on
func (f *Feed) Bus() EventBus.Bus {
	return f.bus
}

// Subscribe attaches a handler to plain block advances
func (f *Feed) Subscribe(handler func(blockNumber uint64)) error {
	return f.bus.Subscribe(TopicBlock, handler)
}

// SubscribeBump attaches a handler to forced refresh signals
func (f *Feed) SubscribeBump(handler func(blockNumber uint64)) error {
	return f.bus.Subscribe(TopicBump, handler)
}

// Start begins polling for new blocks
func (f *Feed) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.running {
		return utils.NewAppError(utils.ErrCodeInternal, "Block feed already running", "")
	}
	f.running = true

	f.wg.Add(1)
	go f.pollLoop(ctx)

	f.logger.Info("Block feed started", "interval", f.interval)
	return nil
}

// Stop halts polling
func (f *Feed) Stop() {
	f.mu.Lock()
	f.running = false
	f.mu.Unlock()

	f.stopOnce.Do(func() {
		close(f.stopChan)
	})
	f.wg.Wait()

	f.logger.Info("Block feed stopped")
}

// Bump publishes a forced refresh signal for blockNumber
func (f *Feed) Bump(blockNumber uint64) {
	f.bus.Publish(TopicBump, blockNumber)
	f.logger.Debug("Bump signal published", "block", blockNumber)
}

// LastPublished returns the highest block number published so far
func (f *Feed) LastPublished() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastPublished
}

// pollLoop reads the chain head on a ticker and publishes advances
func (f *Feed) pollLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.logger.Info("Block feed stopped by context")
			return
		case <-f.stopChan:
			return
		case <-ticker.C:
			f.poll()
		}
	}
}

// poll publishes the current head if it advanced. The monotonicity
// guard keeps reconnect replays from emitting stale numbers.
func (f *Feed) poll() {
	blockNumber, err := f.conn.GetLatestBlockNumber()
	if err != nil {
		f.logger.Warn("Failed to poll latest block", "error", err)
		return
	}

	f.mu.Lock()
	advanced := blockNumber > f.lastPublished
	if advanced {
		f.lastPublished = blockNumber
	}
	f.mu.Unlock()

	if advanced {
		f.bus.Publish(TopicBlock, blockNumber)
		f.logger.Debug("Block advance published", "block", blockNumber)
	}
}
