package contract

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/contract-observer/internal/config"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// CallOverrides is a partial set of call parameters merged into a
// contract call's trailing argument slot. Nil fields are "not set".
type CallOverrides struct {
	From        *common.Address `json:"from,omitempty"`
	GasLimit    *uint64         `json:"gas_limit,omitempty"`
	GasPrice    *big.Int        `json:"gas_price,omitempty"`
	GasFeeCap   *big.Int        `json:"gas_fee_cap,omitempty"`
	GasTipCap   *big.Int        `json:"gas_tip_cap,omitempty"`
	Value       *big.Int        `json:"value,omitempty"`
	Nonce       *uint64         `json:"nonce,omitempty"`
	BlockNumber *big.Int        `json:"block_number,omitempty"`
	Pending     *bool           `json:"pending,omitempty"`
}

// MergeOverrides combines two override sets; fields set in extra win
// over fields set in base. Either side may be nil.
func MergeOverrides(base, extra *CallOverrides) *CallOverrides {
	if base == nil && extra == nil {
		return nil
	}

	merged := &CallOverrides{}
	for _, src := range []*CallOverrides{base, extra} {
		if src == nil {
			continue
		}
		if src.From != nil {
			merged.From = src.From
		}
		if src.GasLimit != nil {
			merged.GasLimit = src.GasLimit
		}
		if src.GasPrice != nil {
			merged.GasPrice = src.GasPrice
		}
		if src.GasFeeCap != nil {
			merged.GasFeeCap = src.GasFeeCap
		}
		if src.GasTipCap != nil {
			merged.GasTipCap = src.GasTipCap
		}
		if src.Value != nil {
			merged.Value = src.Value
		}
		if src.Nonce != nil {
			merged.Nonce = src.Nonce
		}
		if src.BlockNumber != nil {
			merged.BlockNumber = src.BlockNumber
		}
		if src.Pending != nil {
			merged.Pending = src.Pending
		}
	}
	return merged
}

// OverridesFromConfig converts a configuration record into runtime
// call overrides. Zero-valued config fields stay unset.
func OverridesFromConfig(cfg config.Overrides) (*CallOverrides, error) {
	overrides := &CallOverrides{}

	if cfg.From != "" {
		if !utils.IsValidAddress(cfg.From) {
			return nil, utils.NewAppError(utils.ErrCodeInvalidAddress, "Invalid override sender address", cfg.From)
		}
		from := common.HexToAddress(cfg.From)
		overrides.From = &from
	}
	if cfg.GasLimit > 0 {
		limit := cfg.GasLimit
		overrides.GasLimit = &limit
	}

	for _, field := range []struct {
		raw  string
		dest **big.Int
		name string
	}{
		{cfg.GasPrice, &overrides.GasPrice, "gas_price"},
		{cfg.GasFeeCap, &overrides.GasFeeCap, "gas_fee_cap"},
		{cfg.GasTipCap, &overrides.GasTipCap, "gas_tip_cap"},
		{cfg.Value, &overrides.Value, "value"},
	} {
		if field.raw == "" {
			continue
		}
		parsed, ok := new(big.Int).SetString(field.raw, 10)
		if !ok {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration,
				"Invalid override value", fmt.Sprintf("%s: %q", field.name, field.raw))
		}
		*field.dest = parsed
	}

	if cfg.BlockNumber > 0 {
		overrides.BlockNumber = big.NewInt(cfg.BlockNumber)
	}
	if cfg.Pending {
		pending := cfg.Pending
		overrides.Pending = &pending
	}

	return overrides, nil
}

// canonical returns the set fields as a string map for deterministic
// key derivation; json.Marshal sorts the map keys.
func (o *CallOverrides) canonical() map[string]string {
	fields := make(map[string]string)
	if o == nil {
		return fields
	}
	if o.From != nil {
		fields["from"] = utils.NormalizeAddress(o.From.Hex())
	}
	if o.GasLimit != nil {
		fields["gas_limit"] = fmt.Sprintf("%d", *o.GasLimit)
	}
	if o.GasPrice != nil {
		fields["gas_price"] = o.GasPrice.String()
	}
	if o.GasFeeCap != nil {
		fields["gas_fee_cap"] = o.GasFeeCap.String()
	}
	if o.GasTipCap != nil {
		fields["gas_tip_cap"] = o.GasTipCap.String()
	}
	if o.Value != nil {
		fields["value"] = o.Value.String()
	}
	if o.Nonce != nil {
		fields["nonce"] = fmt.Sprintf("%d", *o.Nonce)
	}
	if o.BlockNumber != nil {
		fields["block_number"] = o.BlockNumber.String()
	}
	if o.Pending != nil {
		fields["pending"] = fmt.Sprintf("%t", *o.Pending)
	}
	return fields
}

// IsEmpty reports whether no field is set
func (o *CallOverrides) IsEmpty() bool {
	return o == nil || len(o.canonical()) == 0
}

// CallOpts converts the overrides into read-call options
func (o *CallOverrides) CallOpts(ctx context.Context) *bind.CallOpts {
	opts := &bind.CallOpts{Context: ctx}
	if o == nil {
		return opts
	}
	if o.From != nil {
		opts.From = *o.From
	}
	if o.BlockNumber != nil {
		opts.BlockNumber = o.BlockNumber
	}
	if o.Pending != nil {
		opts.Pending = *o.Pending
	}
	return opts
}

// TransactOpts layers the overrides onto a copy of the signer's base
// transact options
func (o *CallOverrides) TransactOpts(ctx context.Context, base *bind.TransactOpts) *bind.TransactOpts {
	opts := *base
	opts.Context = ctx
	if o == nil {
		return &opts
	}
	if o.From != nil {
		opts.From = *o.From
	}
	if o.GasLimit != nil {
		opts.GasLimit = *o.GasLimit
	}
	if o.GasPrice != nil {
		opts.GasPrice = o.GasPrice
	}
	if o.GasFeeCap != nil {
		opts.GasFeeCap = o.GasFeeCap
	}
	if o.GasTipCap != nil {
		opts.GasTipCap = o.GasTipCap
	}
	if o.Value != nil {
		opts.Value = o.Value
	}
	if o.Nonce != nil {
		opts.Nonce = new(big.Int).SetUint64(*o.Nonce)
	}
	return &opts
}

// InjectOverrides validates a positional argument list against the
// function's declared arity and computes the effective overrides for
// the call. Registered overrides are appended after the last declared
// parameter; a caller-supplied trailing CallOverrides is merged on top
// with caller values winning. Overrides are appended, never
// substituted for a required argument.
func InjectOverrides(contractABI *abi.ABI, function string, args []interface{}, registered *CallOverrides) ([]interface{}, *CallOverrides, error) {
	method, ok := contractABI.Methods[function]
	if !ok {
		return nil, nil, utils.NewAppError(utils.ErrCodeUnknownFunction,
			"Function not declared on contract interface", function)
	}

	arity := len(method.Inputs)
	if len(args) < arity {
		return nil, nil, utils.NewAppError(utils.ErrCodeArgumentCount,
			"Too few arguments for function",
			fmt.Sprintf("%s wants %d, got %d", function, arity, len(args)))
	}

	effective := registered
	if len(args) > arity {
		if trailing, ok := args[arity].(*CallOverrides); ok {
			// Caller-supplied parameters take precedence over registered ones
			effective = MergeOverrides(registered, trailing)
		}
		// Anything past the declared parameters other than a trailing
		// overrides record is replaced by the registered overrides.
	}

	return args[:arity], effective, nil
}
