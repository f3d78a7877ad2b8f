package contract

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smartdevs17/contract-observer/pkg/utils"
)

const (
	balanceKeyPrefix  = "balance"
	functionKeyPrefix = "call"
	keySeparator      = "|"
)

// BalanceKey derives the tracking key for a (token, account) pair.
// The key is injective over normalized address pairs and invertible
// via ParseBalanceKey.
func BalanceKey(token, account string) string {
	return strings.Join([]string{
		balanceKeyPrefix,
		utils.NormalizeAddress(token),
		utils.NormalizeAddress(account),
	}, keySeparator)
}

// ParseBalanceKey splits a balance key back into its (token, account)
// pair. It fails on keys with the wrong shape or components that are
// not valid addresses.
func ParseBalanceKey(key string) (token, account string, err error) {
	parts := strings.Split(key, keySeparator)
	if len(parts) != 3 || parts[0] != balanceKeyPrefix {
		return "", "", utils.NewAppError(utils.ErrCodeValidation, "Malformed balance key", key)
	}
	token, account = parts[1], parts[2]
	if !utils.IsValidAddress(token) {
		return "", "", utils.NewAppError(utils.ErrCodeInvalidAddress, "Invalid token address in balance key", token)
	}
	if !utils.IsValidAddress(account) {
		return "", "", utils.NewAppError(utils.ErrCodeInvalidAddress, "Invalid account address in balance key", account)
	}
	return token, account, nil
}

// taggedArg carries an argument value together with its Go type so
// that semantically distinct arguments ("1" vs 1) never collide.
type taggedArg struct {
	T string `json:"t"`
	V string `json:"v"`
}

// FunctionKey derives a deterministic key for a tracked function call.
// Equal (address, function, args, overrides) tuples always yield the
// same key. The key is not invertible; the scheduler keeps the
// structured entry alongside it.
func FunctionKey(address, function string, args []interface{}, overrides *CallOverrides) string {
	tagged := make([]taggedArg, len(args))
	for i, arg := range args {
		tagged[i] = taggedArg{
			T: fmt.Sprintf("%T", arg),
			V: fmt.Sprintf("%v", arg),
		}
	}

	// json.Marshal sorts map keys, so both encodings are canonical.
	argsJSON, _ := json.Marshal(tagged)
	overridesJSON, _ := json.Marshal(overrides.canonical())

	digest := utils.HashPayload(append(argsJSON, overridesJSON...))

	return strings.Join([]string{
		functionKeyPrefix,
		utils.NormalizeAddress(address),
		function,
		digest,
	}, keySeparator)
}

// IsBalanceKey reports whether key belongs to the balance key family
func IsBalanceKey(key string) bool {
	return strings.HasPrefix(key, balanceKeyPrefix+keySeparator)
}
