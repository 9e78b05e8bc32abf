package contract

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Stash is a relay chain account identifier (32-byte public key). On the
// parachain side it travels as bytes32.
type Stash [32]byte

func (s Stash) Hex() string {
	return "0x" + hex.EncodeToString(s[:])
}

// Stake status codes as the OracleMaster expects them.
const (
	StakeStatusIdle      uint8 = 0
	StakeStatusNominator uint8 = 1
	StakeStatusValidator uint8 = 2
	StakeStatusNone      uint8 = 3
)

// UnlockChunk is one pending unbonding amount of a staking ledger.
type UnlockChunk struct {
	Balance *big.Int
	Era     uint64
}

// StakingParameters is the per-stash tuple read from the relay chain for one
// era. Immutable once read; the report for the era is derived from it alone.
type StakingParameters struct {
	Stash          Stash
	Controller     Stash
	StakeStatus    uint8
	ActiveBalance  *big.Int
	TotalBalance   *big.Int
	Unlocking      []UnlockChunk
	ClaimedRewards []uint32
	StashBalance   *big.Int
	SlashingSpans  uint32
}

// OracleMaster ABI: the four functions the oracle consumes.
const oracleMasterABI = `[
	{
		"inputs": [],
		"name": "getCurrentEraId",
		"outputs": [{"internalType": "uint64", "name": "", "type": "uint64"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "getStashAccounts",
		"outputs": [{"internalType": "bytes32[]", "name": "", "type": "bytes32[]"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "oracleMember", "type": "address"},
			{"internalType": "bytes32", "name": "stashAccount", "type": "bytes32"}
		],
		"name": "isReportedLastEra",
		"outputs": [
			{"internalType": "uint64", "name": "lastEra", "type": "uint64"},
			{"internalType": "bool", "name": "isReported", "type": "bool"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint64", "name": "eraId", "type": "uint64"},
			{
				"components": [
					{"internalType": "bytes32", "name": "stashAccount", "type": "bytes32"},
					{"internalType": "bytes32", "name": "controllerAccount", "type": "bytes32"},
					{"internalType": "uint8", "name": "stakeStatus", "type": "uint8"},
					{"internalType": "uint128", "name": "activeBalance", "type": "uint128"},
					{"internalType": "uint128", "name": "totalBalance", "type": "uint128"},
					{
						"components": [
							{"internalType": "uint128", "name": "balance", "type": "uint128"},
							{"internalType": "uint64", "name": "era", "type": "uint64"}
						],
						"internalType": "struct Types.UnlockingChunk[]",
						"name": "unlocking",
						"type": "tuple[]"
					},
					{"internalType": "uint32[]", "name": "claimedRewards", "type": "uint32[]"},
					{"internalType": "uint128", "name": "stashBalance", "type": "uint128"},
					{"internalType": "uint32", "name": "slashingSpans", "type": "uint32"}
				],
				"internalType": "struct Types.OracleData",
				"name": "report",
				"type": "tuple"
			}
		],
		"name": "reportRelay",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(oracleMasterABI))
	if err != nil {
		panic(fmt.Sprintf("contract: invalid OracleMaster ABI: %v", err))
	}
	return parsed
}()

// ABI returns the parsed OracleMaster ABI.
func ABI() *abi.ABI {
	return &parsedABI
}

// oracleData mirrors the Types.OracleData tuple for ABI packing.
type oracleData struct {
	StashAccount      [32]byte
	ControllerAccount [32]byte
	StakeStatus       uint8
	ActiveBalance     *big.Int
	TotalBalance      *big.Int
	Unlocking         []unlockingChunk
	ClaimedRewards    []uint32
	StashBalance      *big.Int
	SlashingSpans     uint32
}

type unlockingChunk struct {
	Balance *big.Int
	Era     uint64
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

// PackReportRelay encodes the reportRelay calldata for one (era, stash)
// report. Pure function of its inputs: identical inputs produce identical
// bytes.
func PackReportRelay(eraID uint64, p StakingParameters) ([]byte, error) {
	data := oracleData{
		StashAccount:      p.Stash,
		ControllerAccount: p.Controller,
		StakeStatus:       p.StakeStatus,
		ActiveBalance:     orZero(p.ActiveBalance),
		TotalBalance:      orZero(p.TotalBalance),
		Unlocking:         make([]unlockingChunk, 0, len(p.Unlocking)),
		ClaimedRewards:    p.ClaimedRewards,
		StashBalance:      orZero(p.StashBalance),
		SlashingSpans:     p.SlashingSpans,
	}
	if data.ClaimedRewards == nil {
		data.ClaimedRewards = []uint32{}
	}
	for _, chunk := range p.Unlocking {
		data.Unlocking = append(data.Unlocking, unlockingChunk{
			Balance: orZero(chunk.Balance),
			Era:     chunk.Era,
		})
	}
	return parsedABI.Pack("reportRelay", eraID, data)
}

// PackGetCurrentEraID encodes the getCurrentEraId call.
func PackGetCurrentEraID() ([]byte, error) {
	return parsedABI.Pack("getCurrentEraId")
}

// UnpackCurrentEraID decodes the getCurrentEraId result.
func UnpackCurrentEraID(result []byte) (uint64, error) {
	values, err := parsedABI.Methods["getCurrentEraId"].Outputs.UnpackValues(result)
	if err != nil {
		return 0, fmt.Errorf("unpack getCurrentEraId: %w", err)
	}
	if len(values) != 1 {
		return 0, fmt.Errorf("unpack getCurrentEraId: got %d values", len(values))
	}
	era, ok := values[0].(uint64)
	if !ok {
		return 0, fmt.Errorf("unpack getCurrentEraId: unexpected type %T", values[0])
	}
	return era, nil
}

// PackGetStashAccounts encodes the getStashAccounts call.
func PackGetStashAccounts() ([]byte, error) {
	return parsedABI.Pack("getStashAccounts")
}

// UnpackStashAccounts decodes the getStashAccounts result.
func UnpackStashAccounts(result []byte) ([]Stash, error) {
	values, err := parsedABI.Methods["getStashAccounts"].Outputs.UnpackValues(result)
	if err != nil {
		return nil, fmt.Errorf("unpack getStashAccounts: %w", err)
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("unpack getStashAccounts: got %d values", len(values))
	}
	raw, ok := values[0].([][32]byte)
	if !ok {
		return nil, fmt.Errorf("unpack getStashAccounts: unexpected type %T", values[0])
	}
	stashes := make([]Stash, len(raw))
	for i, b := range raw {
		stashes[i] = Stash(b)
	}
	return stashes, nil
}

// PackIsReportedLastEra encodes the isReportedLastEra call for one oracle
// member and stash.
func PackIsReportedLastEra(oracle common.Address, stash Stash) ([]byte, error) {
	return parsedABI.Pack("isReportedLastEra", oracle, [32]byte(stash))
}

// UnpackIsReportedLastEra decodes the isReportedLastEra result.
func UnpackIsReportedLastEra(result []byte) (uint64, bool, error) {
	values, err := parsedABI.Methods["isReportedLastEra"].Outputs.UnpackValues(result)
	if err != nil {
		return 0, false, fmt.Errorf("unpack isReportedLastEra: %w", err)
	}
	if len(values) != 2 {
		return 0, false, fmt.Errorf("unpack isReportedLastEra: got %d values", len(values))
	}
	era, ok := values[0].(uint64)
	if !ok {
		return 0, false, fmt.Errorf("unpack isReportedLastEra: unexpected era type %T", values[0])
	}
	reported, ok := values[1].(bool)
	if !ok {
		return 0, false, fmt.Errorf("unpack isReportedLastEra: unexpected flag type %T", values[1])
	}
	return era, reported, nil
}
