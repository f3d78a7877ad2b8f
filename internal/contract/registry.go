package contract

import (
	"github.com/smartdevs17/contract-observer/internal/config"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// OverrideRegistry is the static, address+function-keyed table of
// default call parameters. It is loaded once at startup and read-only
// afterwards. Address lookup is case-insensitive; function lookup is
// case-sensitive.
type OverrideRegistry struct {
	rules map[string]map[string]*CallOverrides
}

// NewOverrideRegistry builds a registry from static configuration
func NewOverrideRegistry(cfg map[string]map[string]config.Overrides) (*OverrideRegistry, error) {
	rules := make(map[string]map[string]*CallOverrides, len(cfg))

	for address, functions := range cfg {
		if !utils.IsValidAddress(address) {
			return nil, utils.NewAppError(utils.ErrCodeInvalidAddress,
				"Invalid address in override configuration", address)
		}

		normalized := utils.NormalizeAddress(address)
		byFunction := make(map[string]*CallOverrides, len(functions))
		for function, record := range functions {
			overrides, err := OverridesFromConfig(record)
			if err != nil {
				return nil, err
			}
			byFunction[function] = overrides
		}
		rules[normalized] = byFunction
	}

	return &OverrideRegistry{rules: rules}, nil
}

// Lookup returns the registered overrides for (address, function), if any
func (r *OverrideRegistry) Lookup(address, function string) (*CallOverrides, bool) {
	byFunction, ok := r.rules[utils.NormalizeAddress(address)]
	if !ok {
		return nil, false
	}
	overrides, ok := byFunction[function]
	return overrides, ok
}

// Functions returns the function names with registered overrides for
// an address
func (r *OverrideRegistry) Functions(address string) []string {
	byFunction, ok := r.rules[utils.NormalizeAddress(address)]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byFunction))
	for name := range byFunction {
		names = append(names, name)
	}
	return names
}

// Len returns the number of addresses with registered overrides
func (r *OverrideRegistry) Len() int {
	return len(r.rules)
}
