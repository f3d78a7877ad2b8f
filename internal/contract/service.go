package contract

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-observer/internal/abiresolver"
	"github.com/smartdevs17/contract-observer/internal/connection"
	"github.com/smartdevs17/contract-observer/internal/metrics"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// defaultCallTimeout bounds fire-and-forget evaluations that outlive
// their caller's context
const defaultCallTimeout = 30 * time.Second

// Registrar receives tracked keys from the service and its function
// wrappers. Implemented by the Tracker.
type Registrar interface {
	TrackBalance(key string)
	TrackFunction(key string, entry *TrackedFunctionEntry)
}

// Service owns the contract handle cache and builds proxied handles
// bound to the connection manager's current provider/signer state
type Service struct {
	conn        connection.Manager
	resolver    abiresolver.Resolver
	registry    *OverrideRegistry
	directory   *Directory
	metrics     *metrics.Manager
	logger      *logrus.Logger
	callTimeout time.Duration

	mu      sync.RWMutex
	handles map[string]*Handle

	tracker Registrar
}

// NewService creates a contract service. The tracker is attached
// afterwards via BindTracker since it depends on the service for
// evaluation.
func NewService(
	conn connection.Manager,
	resolver abiresolver.Resolver,
	registry *OverrideRegistry,
	directory *Directory,
	metricsManager *metrics.Manager,
) *Service {
	return &Service{
		conn:        conn,
		resolver:    resolver,
		registry:    registry,
		directory:   directory,
		metrics:     metricsManager,
		logger:      utils.GetLogger(),
		callTimeout: defaultCallTimeout,
		handles:     make(map[string]*Handle),
	}
}

// BindTracker attaches the tracking scheduler that receives tracked
// keys
func (s *Service) BindTracker(tracker Registrar) {
	s.tracker = tracker
}

// Directory returns the service's subject directory
func (s *Service) Directory() *Directory {
	return s.directory
}

// Registry returns the override registry handles are built against
func (s *Service) Registry() *OverrideRegistry {
	return s.registry
}

// GetHandle returns the handle for a contract address, constructing
// and caching it on first access. Supplying an explicit ABI bypasses
// the cache entirely: the result is built fresh and never stored, so
// a non-default interface cannot poison the shared handle.
func (s *Service) GetHandle(ctx context.Context, address string, abiJSON string) (*Handle, error) {
	if !utils.IsValidAddress(address) {
		return nil, utils.NewAppError(utils.ErrCodeInvalidAddress, "Invalid contract address", address)
	}

	key := utils.NormalizeAddress(address)
	explicit := abiJSON != ""

	if !explicit {
		s.mu.RLock()
		handle, ok := s.handles[key]
		s.mu.RUnlock()
		if ok {
			s.recordCacheHit(true)
			return handle, nil
		}
		s.recordCacheHit(false)
	}

	contractABI, source, err := s.resolveABI(ctx, address, abiJSON)
	if err != nil {
		return nil, err
	}

	// The client and signer are read fresh on every construction so a
	// wallet switch takes effect without cache invalidation.
	client, err := s.conn.GetClientWithContext(ctx)
	if err != nil {
		return nil, err
	}
	signer := s.conn.Signer()

	handle := newHandle(s, common.HexToAddress(address), contractABI, source, client, signer)

	if !explicit {
		// Concurrent constructions for the same address race benignly;
		// last writer wins and each handle is independently functional.
		s.mu.Lock()
		s.handles[key] = handle
		cached := len(s.handles)
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.GetPrometheusMetrics().UpdateHandlesCached(cached)
		}
	}

	s.logger.Debug("Contract handle constructed",
		"address", key,
		"abi_source", string(source),
		"functions", len(handle.Functions),
		"cached", !explicit)

	return handle, nil
}

// resolveABI picks the interface definition for a handle: explicit
// JSON if supplied, then the lookup service, then the standard-token
// fallback. Lookup failure never fails the operation.
func (s *Service) resolveABI(ctx context.Context, address, abiJSON string) (*abi.ABI, ABISource, error) {
	if abiJSON != "" {
		parsed, err := abi.JSON(strings.NewReader(abiJSON))
		if err != nil {
			return nil, "", utils.NewAppError(utils.ErrCodeValidation, "Invalid ABI JSON", err.Error())
		}
		return &parsed, ABISourceExplicit, nil
	}

	if s.resolver != nil {
		resolved, err := s.resolver.Lookup(ctx, address)
		if err == nil {
			return resolved, ABISourceResolved, nil
		}
		s.logger.Warn("ABI lookup failed, falling back to standard token ABI",
			"address", address, "error", err)
	}

	fallback, err := ERC20ABI()
	if err != nil {
		return nil, "", utils.NewAppError(utils.ErrCodeInternal, "Failed to parse fallback ABI", err.Error())
	}
	return &fallback, ABISourceFallback, nil
}

// ResetCache clears the address to handle mapping. Tracked balances
// and functions persist; they re-resolve handles lazily on the next
// scheduled refresh.
func (s *Service) ResetCache() {
	s.mu.Lock()
	s.handles = make(map[string]*Handle)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.GetPrometheusMetrics().UpdateHandlesCached(0)
	}
	s.logger.Info("Contract handle cache reset")
}

// CachedHandles returns the number of handles currently cached
func (s *Service) CachedHandles() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}

// TrackBalance registers a standing balance subscription for a
// (token, account) pair, evaluates it once immediately and returns the
// stream the stringified balance is published on.
func (s *Service) TrackBalance(ctx context.Context, token, account string) (*Subject, error) {
	if !utils.IsValidAddress(token) {
		return nil, utils.NewAppError(utils.ErrCodeInvalidAddress, "Invalid token address", token)
	}
	if !utils.IsValidAddress(account) {
		return nil, utils.NewAppError(utils.ErrCodeInvalidAddress, "Invalid account address", account)
	}

	key := BalanceKey(token, account)
	if s.tracker != nil {
		s.tracker.TrackBalance(key)
	}
	subject := s.directory.Subject(key)

	// Immediate one-shot read; failures are visible in logs only
	go func() {
		callCtx, cancel := context.WithTimeout(context.Background(), s.callTimeout)
		defer cancel()

		balance, err := s.ReadBalance(callCtx, token, account)
		if err != nil {
			s.logger.Warn("Initial balance read failed",
				"token", token, "account", account, "error", err)
			return
		}
		subject.Publish(balance.String())
	}()

	return subject, nil
}

// ReadBalance reads the ERC20 balance of account on token through the
// handle cache, so registered overrides for balanceOf apply
func (s *Service) ReadBalance(ctx context.Context, token, account string) (*big.Int, error) {
	handle, err := s.GetHandle(ctx, token, "")
	if err != nil {
		return nil, err
	}

	fn, ok := handle.Function("balanceOf")
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeUnknownFunction,
			"Token contract does not declare balanceOf", token)
	}

	results, err := fn.Call(ctx, common.HexToAddress(account))
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "balanceOf returned no value", token)
	}

	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "balanceOf returned unexpected type", token)
	}
	return balance, nil
}

// InvokeFunction re-invokes a tracked call with its stored arguments
// and overrides, resolving the handle by address
func (s *Service) InvokeFunction(ctx context.Context, entry *TrackedFunctionEntry) ([]interface{}, error) {
	handle, err := s.GetHandle(ctx, entry.Address, "")
	if err != nil {
		return nil, err
	}

	fn, ok := handle.Function(entry.FunctionName)
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeUnknownFunction,
			"Tracked function no longer declared on contract", entry.FunctionName)
	}

	return fn.invoke(ctx, entry.Overrides, entry.Args)
}

// trackFunction forwards a tracked entry to the scheduler, if one is
// attached
func (s *Service) trackFunction(key string, entry *TrackedFunctionEntry) {
	if s.tracker != nil {
		s.tracker.TrackFunction(key, entry)
	}
}

// recordCacheHit updates handle cache metrics
func (s *Service) recordCacheHit(hit bool) {
	if s.metrics == nil {
		return
	}
	if hit {
		s.metrics.GetPrometheusMetrics().RecordHandleCacheHit()
	} else {
		s.metrics.GetPrometheusMetrics().RecordHandleCacheMiss()
	}
}

// recordCall updates contract call metrics
func (s *Service) recordCall(address, function string, success bool) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	s.metrics.GetPrometheusMetrics().RecordContractCall(utils.NormalizeAddress(address), function, status)
}
