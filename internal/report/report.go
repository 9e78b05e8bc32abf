package report

import (
	"fmt"

	"github.com/NimbusTA/oracle-service/internal/contract"
)

// Report is one fully encoded reportRelay submission for a single stash.
type Report struct {
	Era      uint64
	Stash    contract.Stash
	Calldata []byte
}

// Build encodes the staking parameters of one stash into reportRelay
// calldata. Pure: the same era and parameters always yield the same bytes,
// and a report is never rebuilt from newer chain state after a failure.
func Build(eraID uint64, params contract.StakingParameters) (Report, error) {
	calldata, err := contract.PackReportRelay(eraID, params)
	if err != nil {
		return Report{}, fmt.Errorf("pack report for stash %s era %d: %w", params.Stash.Hex(), eraID, err)
	}
	return Report{
		Era:      eraID,
		Stash:    params.Stash,
		Calldata: calldata,
	}, nil
}
