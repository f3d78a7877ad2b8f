package blockfeed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/asaskevich/EventBus"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/smartdevs17/contract-observer/internal/connection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedConnection replays a fixed sequence of head block numbers
type scriptedConnection struct {
	mu     sync.Mutex
	blocks []uint64
	index  int
}

func (s *scriptedConnection) GetLatestBlockNumber() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index < len(s.blocks)-1 {
		s.index++
	}
	return s.blocks[s.index], nil
}

func (s *scriptedConnection) GetClient() (*ethclient.Client, error) { return nil, nil }

func (s *scriptedConnection) GetClientWithContext(ctx context.Context) (*ethclient.Client, error) {
	return nil, nil
}

func (s *scriptedConnection) Signer() *bind.TransactOpts { return nil }

func (s *scriptedConnection) SetSigner(opts *bind.TransactOpts) {}

func (s *scriptedConnection) HealthCheck() error { return nil }

func (s *scriptedConnection) HealthCheckWithContext(ctx context.Context) error { return nil }

func (s *scriptedConnection) GetNetworkID() (uint64, error) { return 1, nil }

func (s *scriptedConnection) IsConnected() bool { return true }

func (s *scriptedConnection) Close() error { return nil }

func (s *scriptedConnection) Stats() connection.ConnectionStats { return connection.ConnectionStats{} }

// collect gathers published block numbers behind a mutex
type collect struct {
	mu     sync.Mutex
	blocks []uint64
}

func (c *collect) handler(blockNumber uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, blockNumber)
}

func (c *collect) snapshot() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.blocks...)
}

func TestFeedPublishesMonotonicAdvances(t *testing.T) {
	// Index 0 is skipped by the first poll; 4 after 5 must be suppressed
	conn := &scriptedConnection{blocks: []uint64{0, 5, 5, 4, 6, 6}}
	feed := NewFeed(conn, EventBus.New(), 10*time.Millisecond)

	published := &collect{}
	require.NoError(t, feed.Subscribe(published.handler))

	require.NoError(t, feed.Start(context.Background()))
	defer feed.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(published.snapshot()) >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	assert.Equal(t, []uint64{5, 6}, published.snapshot(),
		"Only strictly increasing head numbers are published")
	assert.Equal(t, uint64(6), feed.LastPublished())
}

func TestFeedBumpBypassesMonotonicGuard(t *testing.T) {
	feed := NewFeed(&scriptedConnection{blocks: []uint64{100}}, EventBus.New(), time.Hour)

	bumps := &collect{}
	require.NoError(t, feed.SubscribeBump(bumps.handler))

	feed.Bump(42)
	feed.Bump(42)

	assert.Equal(t, []uint64{42, 42}, bumps.snapshot(),
		"Bump signals are forwarded unconditionally")
}

func TestFeedStartTwice(t *testing.T) {
	feed := NewFeed(&scriptedConnection{blocks: []uint64{1}}, EventBus.New(), time.Hour)

	require.NoError(t, feed.Start(context.Background()))
	defer feed.Stop()

	assert.Error(t, feed.Start(context.Background()))
}
