package report

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/NimbusTA/oracle-service/internal/contract"
)

func sampleParams() contract.StakingParameters {
	var stash, controller contract.Stash
	stash[0] = 0xaa
	controller[0] = 0xbb
	return contract.StakingParameters{
		Stash:         stash,
		Controller:    controller,
		StakeStatus:   contract.StakeStatusValidator,
		ActiveBalance: big.NewInt(1_000_000_000_000),
		TotalBalance:  big.NewInt(1_500_000_000_000),
		Unlocking: []contract.UnlockChunk{
			{Balance: big.NewInt(500_000_000_000), Era: 101},
		},
		ClaimedRewards: []uint32{98, 99, 100},
		StashBalance:   big.NewInt(2_000_000_000_000),
		SlashingSpans:  1,
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	first, err := Build(100, sampleParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	second, err := Build(100, sampleParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !bytes.Equal(first.Calldata, second.Calldata) {
		t.Fatal("identical inputs produced different calldata")
	}
}

func TestBuildUsesReportRelaySelector(t *testing.T) {
	rep, err := Build(100, sampleParams())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	selector := contract.ABI().Methods["reportRelay"].ID
	if len(rep.Calldata) < 4 || !bytes.Equal(rep.Calldata[:4], selector) {
		t.Fatalf("calldata does not start with the reportRelay selector")
	}
	if rep.Era != 100 {
		t.Fatalf("Era = %d, want 100", rep.Era)
	}
}

func TestBuildToleratesEmptyLedger(t *testing.T) {
	var stash contract.Stash
	stash[31] = 0x01
	params := contract.StakingParameters{
		Stash:       stash,
		Controller:  stash,
		StakeStatus: contract.StakeStatusNone,
	}
	rep, err := Build(7, params)
	if err != nil {
		t.Fatalf("Build with nil balances: %v", err)
	}
	if len(rep.Calldata) == 0 {
		t.Fatal("empty calldata for a none-status report")
	}
}
