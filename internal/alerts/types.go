package alerts

import "time"

type RuleID string

const (
	RuleEraUpdateDelayed RuleID = "era_update_delayed"
	RuleRecoveryMode     RuleID = "recovery_mode"
	RuleReportFailed     RuleID = "report_failed"
	RuleEndpointsDown    RuleID = "endpoints_down"
)

type AlertStatus string

const (
	AlertFiring   AlertStatus = "firing"
	AlertResolved AlertStatus = "resolved"
)

type AlertEvent struct {
	Key       string
	RuleID    RuleID
	Status    AlertStatus
	Severity  string
	Title     string
	Message   string
	Details   []AlertDetail
	Timestamp time.Time
}

type AlertDetail struct {
	Label string
	Value string
}
