package contract

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// ABISource records how a handle's interface definition was obtained
type ABISource string

const (
	ABISourceExplicit ABISource = "explicit"
	ABISourceResolved ABISource = "resolved"
	ABISourceFallback ABISource = "fallback"
)

// Handle is the cached, function-table-augmented binding to one
// contract address. The callable surface is enumerated once at
// construction time; every entry in Functions routes through override
// interception.
type Handle struct {
	Address   common.Address
	Source    ABISource
	ABI       *abi.ABI
	Functions map[string]*Function

	bound  *bind.BoundContract
	signer *bind.TransactOpts
}

// newHandle binds a contract at address against the given client and
// signer snapshot and wraps its callable surface
func newHandle(service *Service, address common.Address, contractABI *abi.ABI, source ABISource, caller bind.ContractBackend, signer *bind.TransactOpts) *Handle {
	handle := &Handle{
		Address: address,
		Source:  source,
		ABI:     contractABI,
		bound:   bind.NewBoundContract(address, *contractABI, caller, caller, caller),
		signer:  signer,
	}

	handle.Functions = make(map[string]*Function, len(contractABI.Methods))
	for name, method := range contractABI.Methods {
		handle.Functions[name] = &Function{
			service: service,
			handle:  handle,
			name:    name,
			method:  method,
		}
	}

	return handle
}

// Function returns the wrapped callable for name, if the contract
// declares it
func (h *Handle) Function(name string) (*Function, bool) {
	fn, ok := h.Functions[name]
	return fn, ok
}

// FunctionNames returns the names of all callables exposed by the
// handle
func (h *Handle) FunctionNames() []string {
	names := make([]string, 0, len(h.Functions))
	for name := range h.Functions {
		names = append(names, name)
	}
	return names
}

// Bound exposes the raw contract binding for callers that need to
// bypass interception
func (h *Handle) Bound() *bind.BoundContract {
	return h.bound
}
