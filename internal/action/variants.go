package action

import (
	"math/big"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/R3E-Network/cycle_runner/internal/errors"
)

const (
	VariantRubic = "rubic"
	VariantIzumi = "izumi"
	VariantMagma = "magma"

	wrapGasLimit    = 500_000
	stakeGasLimit   = 500_000
	unstakeGasLimit = 800_000
)

var (
	DefaultWMONAddress  = common.HexToAddress("0x760AfE86e5de5fa0Ee542fc7B7B713e1c5425701")
	DefaultMagmaAddress = common.HexToAddress("0x2c9C959516e9AAEdB2C748224a41249202ca8BE7")

	magmaStakeSelector   = common.FromHex("0xd5575982")
	magmaUnstakeSelector = common.FromHex("0x6fed1ea7")
)

const wmonABIJSON = `[
	{"type":"function","name":"deposit","stateMutability":"payable","inputs":[],"outputs":[]},
	{"type":"function","name":"withdraw","stateMutability":"nonpayable","inputs":[{"name":"amount","type":"uint256"}],"outputs":[]}
]`

var (
	wmonABI    abi.ABI
	uint256Arg abi.Arguments
)

func init() {
	parsed, err := abi.JSON(strings.NewReader(wmonABIJSON))
	if err != nil {
		panic(err)
	}
	wmonABI = parsed

	uint256Ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(err)
	}
	uint256Arg = abi.Arguments{{Name: "amount", Type: uint256Ty}}

	Register(VariantRubic, wrapPair)
	Register(VariantIzumi, wrapPair)
	Register(VariantMagma, magmaPair)
}

// Builder constructs a Pair from the configured contract addresses.
type Builder func(Contracts) Pair

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

// Register makes a variant available to Lookup. Registering a name twice
// replaces the earlier builder.
func Register(name string, build Builder) {
	mu.Lock()
	defer mu.Unlock()
	builders[name] = build
}

// Lookup returns the pair registered under name.
func Lookup(name string, contracts Contracts) (Pair, error) {
	mu.RLock()
	build, ok := builders[name]
	mu.RUnlock()
	if !ok {
		return Pair{}, errors.Configurationf("lookup variant", "unknown variant %q", name)
	}
	pair := build(contracts)
	pair.Name = name
	return pair, nil
}

// Known reports whether name is registered.
func Known(name string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := builders[name]
	return ok
}

// Variants lists the registered names in order.
func Variants() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(builders))
	for name := range builders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func passValue(amount *big.Int) *big.Int {
	return new(big.Int).Set(amount)
}

// wrapPair wraps native MON into WMON and unwraps the same amount.
func wrapPair(c Contracts) Pair {
	return Pair{
		Commit: Action{
			Name:   "wrap",
			Target: c.WMON,
			Calldata: func(*big.Int) ([]byte, error) {
				return wmonABI.Pack("deposit")
			},
			Value:    passValue,
			GasLimit: wrapGasLimit,
		},
		Compensate: Action{
			Name:   "unwrap",
			Target: c.WMON,
			Calldata: func(amount *big.Int) ([]byte, error) {
				return wmonABI.Pack("withdraw", amount)
			},
			GasLimit: wrapGasLimit,
		},
	}
}

// magmaPair stakes MON for gMON and unstakes the same amount.
func magmaPair(c Contracts) Pair {
	return Pair{
		Commit: Action{
			Name:   "stake",
			Target: c.Magma,
			Calldata: func(*big.Int) ([]byte, error) {
				return common.CopyBytes(magmaStakeSelector), nil
			},
			Value:    passValue,
			GasLimit: stakeGasLimit,
		},
		Compensate: Action{
			Name:   "unstake",
			Target: c.Magma,
			Calldata: func(amount *big.Int) ([]byte, error) {
				packed, err := uint256Arg.Pack(amount)
				if err != nil {
					return nil, err
				}
				return append(common.CopyBytes(magmaUnstakeSelector), packed...), nil
			},
			GasLimit: unstakeGasLimit,
		},
		PauseBetweenLegs: true,
	}
}
