package metrics

import (
	"math/big"

	"github.com/prometheus/client_golang/prometheus"
)

// Exporter holds every metric the oracle exposes. The metric names are part
// of the operator contract and must not change.
//
// A nil *Exporter is valid: every method is a no-op, so components under test
// can run without a registry.
type Exporter struct {
	activeEraID          prometheus.Gauge
	eraUpdateDelayed     prometheus.Gauge
	isRecoveryModeActive prometheus.Gauge
	lastEraReported      prometheus.Gauge
	lastFailedEra        prometheus.Gauge
	oracleBalance        *prometheus.GaugeVec
	paraExceptions       prometheus.Counter
	relayExceptions      prometheus.Counter
	prevEraChangeBlock   prometheus.Gauge
	txRevert             prometheus.Histogram
	txSuccess            prometheus.Histogram
}

// NewExporter creates and registers the metric set under the given prefix.
func NewExporter(prefix string, reg prometheus.Registerer) *Exporter {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	e := &Exporter{
		activeEraID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "active_era_id",
			Help:      "active era index",
		}),
		eraUpdateDelayed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "era_update_delayed",
			Help:      "1 if the era has not been updated for a long time",
		}),
		isRecoveryModeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "is_recovery_mode_active",
			Help:      "1, if the recovery mode, otherwise - the default mode",
		}),
		lastEraReported: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "last_era_reported",
			Help:      "the last era that the Oracle has reported",
		}),
		lastFailedEra: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "last_failed_era",
			Help:      "the last era for which sending the report ended with a revert",
		}),
		oracleBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "oracle_balance",
			Help:      "the balance of the Oracle in wei",
		}, []string{"address"}),
		paraExceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "para_exceptions_count",
			Help:      "parachain exceptions count",
		}),
		relayExceptions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: prefix,
			Name:      "relay_exceptions_count",
			Help:      "relay chain exceptions count",
		}),
		prevEraChangeBlock: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: prefix,
			Name:      "previous_era_change_block_number",
			Help:      "the number of the block of the previous era change",
		}),
		txRevert: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: prefix,
			Name:      "tx_revert",
			Help:      "reverted transactions",
		}),
		txSuccess: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: prefix,
			Name:      "tx_success",
			Help:      "successful transactions",
		}),
	}

	reg.MustRegister(
		e.activeEraID,
		e.eraUpdateDelayed,
		e.isRecoveryModeActive,
		e.lastEraReported,
		e.lastFailedEra,
		e.oracleBalance,
		e.paraExceptions,
		e.relayExceptions,
		e.prevEraChangeBlock,
		e.txRevert,
		e.txSuccess,
	)

	return e
}

func boolToGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

func (e *Exporter) SetActiveEraID(era uint64) {
	if e == nil {
		return
	}
	e.activeEraID.Set(float64(era))
}

func (e *Exporter) SetEraUpdateDelayed(delayed bool) {
	if e == nil {
		return
	}
	e.eraUpdateDelayed.Set(boolToGauge(delayed))
}

func (e *Exporter) SetRecoveryModeActive(active bool) {
	if e == nil {
		return
	}
	e.isRecoveryModeActive.Set(boolToGauge(active))
}

func (e *Exporter) SetLastEraReported(era uint64) {
	if e == nil {
		return
	}
	e.lastEraReported.Set(float64(era))
}

func (e *Exporter) SetLastFailedEra(era uint64) {
	if e == nil {
		return
	}
	e.lastFailedEra.Set(float64(era))
}

func (e *Exporter) SetOracleBalance(address string, wei *big.Int) {
	if e == nil || wei == nil {
		return
	}
	balance, _ := new(big.Float).SetInt(wei).Float64()
	e.oracleBalance.With(prometheus.Labels{"address": address}).Set(balance)
}

func (e *Exporter) IncParaExceptions() {
	if e == nil {
		return
	}
	e.paraExceptions.Inc()
}

func (e *Exporter) IncRelayExceptions() {
	if e == nil {
		return
	}
	e.relayExceptions.Inc()
}

func (e *Exporter) SetPreviousEraChangeBlockNumber(block uint64) {
	if e == nil {
		return
	}
	e.prevEraChangeBlock.Set(float64(block))
}

func (e *Exporter) ObserveTxRevert() {
	if e == nil {
		return
	}
	e.txRevert.Observe(1)
}

func (e *Exporter) ObserveTxSuccess() {
	if e == nil {
		return
	}
	e.txSuccess.Observe(1)
}
