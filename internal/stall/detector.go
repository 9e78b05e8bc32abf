package stall

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/NimbusTA/oracle-service/internal/alerts"
	"github.com/NimbusTA/oracle-service/internal/logger"
	"github.com/NimbusTA/oracle-service/internal/metrics"
)

// Mode is the oracle's operating mode.
type Mode int32

const (
	ModeNormal Mode = iota
	ModeRecovery
)

func (m Mode) String() string {
	if m == ModeRecovery {
		return "RECOVERY"
	}
	return "NORMAL"
}

// Detector watches two clocks: time since the last observed era change and
// time since the last confirmed report. When either stalls past its
// threshold it flags the condition, and a fresh observation clears it.
type Detector struct {
	eraTimeout    time.Duration
	reportTimeout time.Duration
	exporter      *metrics.Exporter
	notifier      alerts.Notifier
	now           func() time.Time

	mu            sync.Mutex
	lastEraChange time.Time
	lastReport    time.Time
	mode          Mode
	eraDelayed    bool
}

func New(eraTimeout, reportTimeout time.Duration, exporter *metrics.Exporter, notifier alerts.Notifier) *Detector {
	d := &Detector{
		eraTimeout:    eraTimeout,
		reportTimeout: reportTimeout,
		exporter:      exporter,
		notifier:      notifier,
		now:           time.Now,
	}
	// Both clocks start at construction so a freshly launched oracle gets a
	// full timeout window before anything can fire.
	start := d.now()
	d.lastEraChange = start
	d.lastReport = start
	return d
}

// ObserveEraChange records a new active era. Progress on the era clock also
// clears recovery mode: the chain is moving and reports will follow.
func (d *Detector) ObserveEraChange() {
	d.mu.Lock()
	now := d.now()
	d.lastEraChange = now
	wasDelayed := d.eraDelayed
	d.eraDelayed = false
	wasRecovery := d.mode == ModeRecovery
	if wasRecovery {
		d.mode = ModeNormal
		d.lastReport = now
	}
	d.mu.Unlock()

	if wasDelayed {
		d.exporter.SetEraUpdateDelayed(false)
		d.fire(alerts.RuleEraUpdateDelayed, alerts.AlertResolved, "Era updates resumed", "A new active era was observed")
	}
	if wasRecovery {
		d.exitRecovery()
	}
}

// ObserveReport records a confirmed report submission.
func (d *Detector) ObserveReport() {
	d.mu.Lock()
	now := d.now()
	d.lastReport = now
	wasRecovery := d.mode == ModeRecovery
	if wasRecovery {
		d.mode = ModeNormal
		d.lastEraChange = now
		d.eraDelayed = false
	}
	d.mu.Unlock()

	if wasRecovery {
		d.exporter.SetEraUpdateDelayed(false)
		d.exitRecovery()
	}
}

// Mode returns the current operating mode.
func (d *Detector) Mode() Mode {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mode
}

// Run evaluates the stall clocks on a fixed interval until ctx ends.
func (d *Detector) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.evaluate(d.now())
		}
	}
}

func (d *Detector) evaluate(now time.Time) {
	d.mu.Lock()
	eraElapsed := now.Sub(d.lastEraChange)
	reportElapsed := now.Sub(d.lastReport)

	fireDelayed := eraElapsed > d.eraTimeout && !d.eraDelayed
	if fireDelayed {
		d.eraDelayed = true
	}
	stalled := eraElapsed > d.eraTimeout || reportElapsed > d.reportTimeout
	enterRecovery := stalled && d.mode == ModeNormal
	if enterRecovery {
		d.mode = ModeRecovery
	}
	d.mu.Unlock()

	if fireDelayed {
		d.exporter.SetEraUpdateDelayed(true)
		logger.Warn("STALL", "No era change for %s (threshold %s)", eraElapsed.Round(time.Second), d.eraTimeout)
		d.fire(alerts.RuleEraUpdateDelayed, alerts.AlertFiring, "Era update delayed",
			fmt.Sprintf("No era change observed for %s", eraElapsed.Round(time.Second)))
	}
	if enterRecovery {
		cause := fmt.Sprintf("no confirmed report for %s", reportElapsed.Round(time.Second))
		if eraElapsed > d.eraTimeout {
			cause = fmt.Sprintf("no era change for %s", eraElapsed.Round(time.Second))
		}
		d.exporter.SetRecoveryModeActive(true)
		logger.Warn("STALL", "Entering recovery mode: %s", cause)
		d.fire(alerts.RuleRecoveryMode, alerts.AlertFiring, "Recovery mode active", cause)
	}
}

func (d *Detector) exitRecovery() {
	d.exporter.SetRecoveryModeActive(false)
	logger.Info("STALL", "Leaving recovery mode")
	d.fire(alerts.RuleRecoveryMode, alerts.AlertResolved, "Recovery mode cleared", "Oracle progress resumed")
}

func (d *Detector) fire(rule alerts.RuleID, status alerts.AlertStatus, title, message string) {
	if d.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	event := alerts.AlertEvent{
		Key:       string(rule),
		RuleID:    rule,
		Status:    status,
		Severity:  "critical",
		Title:     title,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
	if err := d.notifier.Notify(ctx, event); err != nil {
		logger.Warn("STALL", "Alert delivery failed: %v", err)
	}
}
