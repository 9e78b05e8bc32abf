package relay

import (
	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
)

// Era is one observation of Staking.ActiveEra.
type Era struct {
	Index uint32
	// Start is the era start timestamp in milliseconds, when the chain has
	// recorded one.
	Start uint64
}

// activeEraInfo mirrors pallet_staking::ActiveEraInfo for SCALE decoding.
type activeEraInfo struct {
	Index types.U32
	Start types.OptionU64
}

// stakingLedger mirrors pallet_staking::StakingLedger.
type stakingLedger struct {
	Stash          types.AccountID
	Total          types.UCompact
	Active         types.UCompact
	Unlocking      []unlockChunk
	ClaimedRewards []types.U32
}

type unlockChunk struct {
	Value types.UCompact
	Era   types.UCompact
}

// slashingSpans mirrors pallet_staking::slashing::SlashingSpans. Only the
// number of prior spans matters for the report.
type slashingSpans struct {
	SpanIndex        types.U32
	LastStart        types.U32
	LastNonzeroSlash types.U32
	Prior            []types.U32
}

// nominations mirrors pallet_staking::Nominations. Decoded only to prove the
// storage entry exists.
type nominations struct {
	Targets     []types.AccountID
	SubmittedIn types.U32
	Suppressed  types.Bool
}
