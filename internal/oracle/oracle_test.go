package oracle

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/centrifuge/go-substrate-rpc-client/v4/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/NimbusTA/oracle-service/internal/contract"
	"github.com/NimbusTA/oracle-service/internal/pool"
	"github.com/NimbusTA/oracle-service/internal/relay"
	"github.com/NimbusTA/oracle-service/internal/report"
	"github.com/NimbusTA/oracle-service/internal/stall"
	"github.com/NimbusTA/oracle-service/internal/submitter"
)

type fakeRelay struct {
	era relay.Era
}

func (f *fakeRelay) ActiveEra() (relay.Era, error) { return f.era, nil }

func (f *fakeRelay) FindLastEraBlock(context.Context, uint32, uint64) (types.Hash, uint64, error) {
	return types.Hash{0x01}, 500, nil
}

func (f *fakeRelay) WaitFinalized(context.Context, types.Hash, uint64) error { return nil }

func (f *fakeRelay) StakingParameters(stash contract.Stash, _ types.Hash) (contract.StakingParameters, error) {
	return contract.StakingParameters{
		Stash:       stash,
		Controller:  stash,
		StakeStatus: contract.StakeStatusValidator,
	}, nil
}

func (f *fakeRelay) SS58Address(stash contract.Stash) string { return stash.Hex() }

type fakePara struct {
	stashes  []contract.Stash
	reported map[contract.Stash]uint64
}

func (f *fakePara) CurrentEraID(context.Context) (uint64, error) {
	return uint64(0), nil
}

func (f *fakePara) StashAccounts(context.Context) ([]contract.Stash, error) {
	return f.stashes, nil
}

func (f *fakePara) IsReportedLastEra(_ context.Context, _ common.Address, stash contract.Stash) (uint64, bool, error) {
	era, ok := f.reported[stash]
	return era, ok, nil
}

func (f *fakePara) Balance(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(1_000_000_000_000_000_000), nil
}

type fakeSubmitter struct {
	outcomes map[contract.Stash]submitter.Outcome
	errs     map[contract.Stash]error
	submits  []report.Report
}

func (f *fakeSubmitter) Submit(_ context.Context, rep report.Report) (submitter.Outcome, error) {
	f.submits = append(f.submits, rep)
	if out, ok := f.outcomes[rep.Stash]; ok {
		return out, f.errs[rep.Stash]
	}
	return submitter.OutcomeConfirmed, nil
}

func (f *fakeSubmitter) From() common.Address {
	return common.HexToAddress("0x47e9b3B3e1f3cD972dEf26a87aB2Ad31E5f20a7E")
}

type fakeDetector struct {
	eraChanges int
	reports    int
}

func (f *fakeDetector) ObserveEraChange() { f.eraChanges++ }
func (f *fakeDetector) ObserveReport()    { f.reports++ }
func (f *fakeDetector) Mode() stall.Mode  { return stall.ModeNormal }

func stashN(n byte) contract.Stash {
	var s contract.Stash
	s[0] = n
	return s
}

func newTestOracle(fr *fakeRelay, fp *fakePara, fs *fakeSubmitter, fd *fakeDetector) *Oracle {
	cfg := Config{
		Frequency:         time.Minute,
		EraDurationBlocks: 600,
		ConnectTimeout:    time.Second,
	}
	relayPool := pool.New("relay", []string{"ws://relay"})
	paraPool := pool.New("para", []string{"ws://para"})
	return New(fr, fp, fs, fd, nil, relayPool, paraPool, cfg)
}

func TestCycleWithNoStashesSubmitsNothing(t *testing.T) {
	fr := &fakeRelay{era: relay.Era{Index: 100}}
	fp := &fakePara{}
	fs := &fakeSubmitter{}
	fd := &fakeDetector{}
	o := newTestOracle(fr, fp, fs, fd)

	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(fs.submits) != 0 {
		t.Fatalf("submits = %d, want 0 with an empty stash set", len(fs.submits))
	}
	if fd.eraChanges != 1 {
		t.Fatalf("era changes observed = %d, want 1", fd.eraChanges)
	}
	if o.prevEra != -1 {
		t.Fatalf("prevEra = %d, an era with no stashes must not settle", o.prevEra)
	}
}

func TestCycleSkipsStashesTheContractAlreadyHas(t *testing.T) {
	done, pending := stashN(1), stashN(2)
	fr := &fakeRelay{era: relay.Era{Index: 100}}
	fp := &fakePara{
		stashes:  []contract.Stash{done, pending},
		reported: map[contract.Stash]uint64{done: 99},
	}
	fs := &fakeSubmitter{}
	fd := &fakeDetector{}
	o := newTestOracle(fr, fp, fs, fd)

	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(fs.submits) != 1 {
		t.Fatalf("submits = %d, want 1 (only the pending stash)", len(fs.submits))
	}
	if fs.submits[0].Stash != pending {
		t.Fatalf("submitted stash = %s, want the pending one", fs.submits[0].Stash.Hex())
	}
	if fs.submits[0].Era != 99 {
		t.Fatalf("submitted era = %d, want 99 (active era minus one)", fs.submits[0].Era)
	}
	if o.prevEra != 100 {
		t.Fatalf("prevEra = %d, want 100 once every stash settled", o.prevEra)
	}
}

func TestCyclePartialFailureLeavesEraUnsettled(t *testing.T) {
	ok, failing := stashN(1), stashN(2)
	fr := &fakeRelay{era: relay.Era{Index: 100}}
	fp := &fakePara{stashes: []contract.Stash{ok, failing}}
	fs := &fakeSubmitter{
		outcomes: map[contract.Stash]submitter.Outcome{failing: submitter.OutcomeTimeout},
		errs:     map[contract.Stash]error{failing: errors.New("no receipt")},
	}
	fd := &fakeDetector{}
	o := newTestOracle(fr, fp, fs, fd)

	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(fs.submits) != 2 {
		t.Fatalf("submits = %d, want 2 (failure must not stop the loop)", len(fs.submits))
	}
	if o.prevEra != -1 {
		t.Fatalf("prevEra = %d, a timed-out stash must keep the era unsettled", o.prevEra)
	}
	if fd.reports != 1 {
		t.Fatalf("reports observed = %d, want 1 (only the confirmed stash)", fd.reports)
	}

	// next tick retries only the unsettled stash
	fs.outcomes = nil
	fs.errs = nil
	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(fs.submits) != 3 {
		t.Fatalf("submits = %d, want 3 (one retry)", len(fs.submits))
	}
	if fs.submits[2].Stash != failing {
		t.Fatalf("retried stash = %s, want the failed one", fs.submits[2].Stash.Hex())
	}
	if o.prevEra != 100 {
		t.Fatalf("prevEra = %d, want 100 after the retry confirmed", o.prevEra)
	}
}

func TestUnsettledEraIsObservedOnce(t *testing.T) {
	fr := &fakeRelay{era: relay.Era{Index: 100}}
	fp := &fakePara{} // empty stash set keeps the era unsettled
	fs := &fakeSubmitter{}
	fd := &fakeDetector{}
	o := newTestOracle(fr, fp, fs, fd)

	for i := 0; i < 3; i++ {
		if err := o.cycle(context.Background()); err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
	}
	if fd.eraChanges != 1 {
		t.Fatalf("era changes observed = %d over one stuck era, want 1", fd.eraChanges)
	}

	// a real era advance is observed again
	fr.era = relay.Era{Index: 101}
	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("cycle after advance: %v", err)
	}
	if fd.eraChanges != 2 {
		t.Fatalf("era changes observed = %d after a real advance, want 2", fd.eraChanges)
	}
}

func TestCycleRevertIsTerminal(t *testing.T) {
	rejected := stashN(3)
	fr := &fakeRelay{era: relay.Era{Index: 50}}
	fp := &fakePara{stashes: []contract.Stash{rejected}}
	fs := &fakeSubmitter{
		outcomes: map[contract.Stash]submitter.Outcome{rejected: submitter.OutcomeReverted},
		errs:     map[contract.Stash]error{rejected: errors.New("execution reverted")},
	}
	fd := &fakeDetector{}
	o := newTestOracle(fr, fp, fs, fd)

	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if o.prevEra != 50 {
		t.Fatalf("prevEra = %d, want 50 (a revert settles the stash)", o.prevEra)
	}
	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if len(fs.submits) != 1 {
		t.Fatalf("submits = %d, want 1 (reverted calldata is never retried)", len(fs.submits))
	}
}

func TestCycleIgnoresUnchangedAndBackwardsEras(t *testing.T) {
	fr := &fakeRelay{era: relay.Era{Index: 100}}
	fp := &fakePara{stashes: []contract.Stash{stashN(1)}}
	fs := &fakeSubmitter{}
	fd := &fakeDetector{}
	o := newTestOracle(fr, fp, fs, fd)

	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	submitted := len(fs.submits)

	// unchanged era
	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("unchanged cycle: %v", err)
	}
	// backwards era
	fr.era = relay.Era{Index: 99}
	if err := o.cycle(context.Background()); err != nil {
		t.Fatalf("backwards cycle: %v", err)
	}

	if len(fs.submits) != submitted {
		t.Fatalf("submits grew from %d to %d on unchanged/backwards eras", submitted, len(fs.submits))
	}
	if fd.eraChanges != 1 {
		t.Fatalf("era changes observed = %d, want 1", fd.eraChanges)
	}
}

func TestRestoreStateSeedsWatermarks(t *testing.T) {
	seeded := stashN(7)
	fr := &fakeRelay{era: relay.Era{Index: 100}}
	fp := &fakePara{
		stashes:  []contract.Stash{seeded},
		reported: map[contract.Stash]uint64{seeded: 99},
	}
	fs := &fakeSubmitter{}
	o := newTestOracle(fr, fp, fs, &fakeDetector{})

	if err := o.restoreState(context.Background()); err != nil {
		t.Fatalf("restoreState: %v", err)
	}
	if got := o.lastReported[seeded]; got != 99 {
		t.Fatalf("restored watermark = %d, want 99", got)
	}
}
