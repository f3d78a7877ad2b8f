package contract

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/smartdevs17/contract-observer/pkg/utils"
)

// CoerceArgs converts loosely typed argument values (as decoded from
// JSON) into the Go types the function's ABI inputs require. Numbers
// may arrive as JSON numbers or decimal/hex strings.
func CoerceArgs(contractABI *abi.ABI, function string, raw []interface{}) ([]interface{}, error) {
	method, ok := contractABI.Methods[function]
	if !ok {
		return nil, utils.NewAppError(utils.ErrCodeUnknownFunction,
			"Function not declared on contract interface", function)
	}
	if len(raw) != len(method.Inputs) {
		return nil, utils.NewAppError(utils.ErrCodeArgumentCount,
			"Argument count mismatch",
			fmt.Sprintf("%s wants %d, got %d", function, len(method.Inputs), len(raw)))
	}

	args := make([]interface{}, len(raw))
	for i, input := range method.Inputs {
		coerced, err := coerceArg(input.Type, raw[i])
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeValidation,
				"Cannot coerce argument",
				fmt.Sprintf("%s arg %d (%s): %v", function, i, input.Type.String(), err))
		}
		args[i] = coerced
	}
	return args, nil
}

func coerceArg(typ abi.Type, value interface{}) (interface{}, error) {
	switch typ.T {
	case abi.AddressTy:
		str, ok := value.(string)
		if !ok || !utils.IsValidAddress(str) {
			return nil, fmt.Errorf("expected address string, got %v", value)
		}
		return common.HexToAddress(str), nil

	case abi.UintTy, abi.IntTy:
		number, err := coerceBigInt(value)
		if err != nil {
			return nil, err
		}
		return sizeInteger(typ, number), nil

	case abi.BoolTy:
		b, ok := value.(bool)
		if !ok {
			return nil, fmt.Errorf("expected bool, got %v", value)
		}
		return b, nil

	case abi.StringTy:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %v", value)
		}
		return str, nil

	case abi.BytesTy:
		str, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("expected hex string, got %v", value)
		}
		return common.FromHex(str), nil

	case abi.FixedBytesTy:
		if typ.Size == 32 {
			str, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("expected hex string, got %v", value)
			}
			return common.HexToHash(str), nil
		}
		return nil, fmt.Errorf("unsupported fixed bytes size %d", typ.Size)

	default:
		return nil, fmt.Errorf("unsupported argument type %s", typ.String())
	}
}

// coerceBigInt accepts JSON numbers and decimal or 0x-prefixed strings
func coerceBigInt(value interface{}) (*big.Int, error) {
	switch v := value.(type) {
	case float64:
		return big.NewInt(int64(v)), nil
	case int:
		return big.NewInt(int64(v)), nil
	case int64:
		return big.NewInt(v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case *big.Int:
		return v, nil
	case string:
		parsed, ok := new(big.Int).SetString(v, 0)
		if !ok {
			return nil, fmt.Errorf("cannot parse integer %q", v)
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("expected integer, got %T", value)
	}
}

// sizeInteger narrows a big integer to the Go type the ABI packer
// expects for sizes up to 64 bits
func sizeInteger(typ abi.Type, number *big.Int) interface{} {
	if typ.T == abi.UintTy {
		switch typ.Size {
		case 8:
			return uint8(number.Uint64())
		case 16:
			return uint16(number.Uint64())
		case 32:
			return uint32(number.Uint64())
		case 64:
			return number.Uint64()
		}
		return number
	}

	switch typ.Size {
	case 8:
		return int8(number.Int64())
	case 16:
		return int16(number.Int64())
	case 32:
		return int32(number.Int64())
	case 64:
		return number.Int64()
	}
	return number
}
