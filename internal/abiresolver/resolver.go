// File: internal/abiresolver/resolver.go
package abiresolver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/sirupsen/logrus"
	"github.com/smartdevs17/contract-observer/internal/config"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// Resolver looks up a contract's interface definition by address
type Resolver interface {
	Lookup(ctx context.Context, address string) (*abi.ABI, error)
}

// HTTPResolver resolves ABIs from an etherscan-compatible API
type HTTPResolver struct {
	config *config.ABIConfig
	client *http.Client
	logger *logrus.Logger

	mu    sync.RWMutex
	cache map[string]*abi.ABI
}

// lookupResponse is the etherscan-style envelope around an ABI string
type lookupResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Result  string `json:"result"`
}

// NewHTTPResolver creates an ABI resolver against the configured
// lookup endpoint
func NewHTTPResolver(cfg *config.ABIConfig) *HTTPResolver {
	return &HTTPResolver{
		config: cfg,
		client: &http.Client{Timeout: cfg.LookupTimeout},
		logger: utils.GetLogger(),
		cache:  make(map[string]*abi.ABI),
	}
}

// Lookup fetches and parses the ABI for address. Successful lookups
// are cached for the process lifetime; verified source does not change
// under an address.
func (r *HTTPResolver) Lookup(ctx context.Context, address string) (*abi.ABI, error) {
	if !utils.IsValidAddress(address) {
		return nil, utils.NewAppError(utils.ErrCodeInvalidAddress, "Invalid contract address", address)
	}

	key := utils.NormalizeAddress(address)

	r.mu.RLock()
	cached, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	abiStr, err := r.fetchABIString(ctx, address)
	if err != nil {
		return nil, err
	}

	parsed, err := abi.JSON(strings.NewReader(abiStr))
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeABILookup, "Lookup returned unparseable ABI", err.Error())
	}

	r.mu.Lock()
	r.cache[key] = &parsed
	r.mu.Unlock()

	r.logger.Debug("ABI resolved", "address", key, "methods", len(parsed.Methods))
	return &parsed, nil
}

// fetchABIString queries the lookup endpoint for the verified ABI
func (r *HTTPResolver) fetchABIString(ctx context.Context, address string) (string, error) {
	query := url.Values{}
	query.Set("module", "contract")
	query.Set("action", "getabi")
	query.Set("address", address)
	if r.config.APIKey != "" {
		query.Set("apikey", r.config.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.config.LookupURL+"?"+query.Encode(), nil)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeABILookup, "Failed to build lookup request", err.Error())
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeABILookup, "ABI lookup request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", utils.NewAppError(utils.ErrCodeABILookup,
			"ABI lookup returned non-OK status", fmt.Sprintf("%d", resp.StatusCode))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeABILookup, "Failed to read lookup response", err.Error())
	}

	var envelope lookupResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", utils.NewAppError(utils.ErrCodeABILookup, "Malformed lookup response", err.Error())
	}

	if envelope.Status != "1" {
		return "", utils.NewAppError(utils.ErrCodeABILookup,
			"ABI not available for address", envelope.Message)
	}

	return envelope.Result, nil
}

// StaticResolver serves ABIs from an in-memory table. Used in tests
// and offline deployments.
type StaticResolver struct {
	mu   sync.RWMutex
	abis map[string]*abi.ABI
}

// NewStaticResolver creates an empty static resolver
func NewStaticResolver() *StaticResolver {
	return &StaticResolver{abis: make(map[string]*abi.ABI)}
}

// Register parses and stores an ABI for address
func (r *StaticResolver) Register(address, abiJSON string) error {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeValidation, "Invalid ABI JSON", err.Error())
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.abis[utils.NormalizeAddress(address)] = &parsed
	return nil
}

// Lookup returns the registered ABI for address, if any
func (r *StaticResolver) Lookup(_ context.Context, address string) (*abi.ABI, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if parsed, ok := r.abis[utils.NormalizeAddress(address)]; ok {
		return parsed, nil
	}
	return nil, utils.NewAppError(utils.ErrCodeNotFound, "No ABI registered for address", address)
}
