package contract

import (
	"context"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// Function wraps one callable exposed by a contract binding. Calls are
// routed through override injection whenever a rule is registered for
// (address, name); tracking registers the call for block-driven
// refresh.
type Function struct {
	service *Service
	handle  *Handle
	name    string
	method  abi.Method
}

// Name returns the function's ABI name
func (f *Function) Name() string {
	return f.name
}

// Arity returns the function's declared parameter count
func (f *Function) Arity() int {
	return len(f.method.Inputs)
}

// IsConstant reports whether the function is a read (view/pure)
func (f *Function) IsConstant() bool {
	return f.method.IsConstant()
}

// Call invokes the contract function. Registered overrides for
// (address, name) are applied transparently; a trailing *CallOverrides
// argument is merged on top with caller values winning.
func (f *Function) Call(ctx context.Context, args ...interface{}) ([]interface{}, error) {
	registered, _ := f.service.registry.Lookup(f.handle.Address.Hex(), f.name)

	positional, effective, err := InjectOverrides(f.handle.ABI, f.name, args, registered)
	if err != nil {
		return nil, err
	}

	return f.invoke(ctx, effective, positional)
}

// Track registers this call invocation for block-driven refresh and
// returns the stream its results are published on. The effective
// overrides merge any registered rule with callerOverrides, caller
// values winning. Tracking the identical key again overwrites the
// stored entry but returns the same stream instance.
func (f *Function) Track(ctx context.Context, callerOverrides *CallOverrides, args ...interface{}) (*Subject, error) {
	registered, _ := f.service.registry.Lookup(f.handle.Address.Hex(), f.name)
	effective := MergeOverrides(registered, callerOverrides)

	positional, effective, err := InjectOverrides(f.handle.ABI, f.name, args, effective)
	if err != nil {
		return nil, err
	}

	address := utils.NormalizeAddress(f.handle.Address.Hex())
	key := FunctionKey(address, f.name, positional, effective)

	entry := &TrackedFunctionEntry{
		Address:      address,
		FunctionName: f.name,
		Args:         positional,
		Overrides:    effective,
	}
	f.service.trackFunction(key, entry)

	subject := f.service.directory.Subject(key)

	// Immediate one-shot evaluation; failures are visible in logs only
	go func() {
		callCtx, cancel := context.WithTimeout(context.Background(), f.service.callTimeout)
		defer cancel()

		results, err := f.invoke(callCtx, effective, positional)
		if err != nil {
			f.service.logger.Warn("Initial tracked call failed",
				"key", key, "function", f.name, "error", err)
			return
		}
		publishResults(subject, results)
	}()

	return subject, nil
}

// invoke dispatches the call to the underlying binding. Reads go
// through eth_call with the overrides as call options; writes require
// the signer the handle was constructed with.
func (f *Function) invoke(ctx context.Context, overrides *CallOverrides, args []interface{}) ([]interface{}, error) {
	if f.method.IsConstant() {
		var results []interface{}
		if err := f.handle.bound.Call(overrides.CallOpts(ctx), &results, f.name, args...); err != nil {
			f.service.recordCall(f.handle.Address.Hex(), f.name, false)
			return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Contract call failed", err.Error())
		}
		f.service.recordCall(f.handle.Address.Hex(), f.name, true)
		return results, nil
	}

	if f.handle.signer == nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation,
			"No signer available for state-changing call", f.name)
	}

	tx, err := f.handle.bound.Transact(overrides.TransactOpts(ctx, f.handle.signer), f.name, args...)
	if err != nil {
		f.service.recordCall(f.handle.Address.Hex(), f.name, false)
		return nil, utils.NewAppError(utils.ErrCodeBlockchain, "Contract transaction failed", err.Error())
	}
	f.service.recordCall(f.handle.Address.Hex(), f.name, true)
	return []interface{}{tx.Hash().Hex()}, nil
}

// publishResults publishes a call's result to a subject, unwrapping
// single-value results
func publishResults(subject *Subject, results []interface{}) {
	if len(results) == 1 {
		subject.Publish(results[0])
		return
	}
	subject.Publish(results)
}
