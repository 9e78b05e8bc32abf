package alerts

import (
	"strings"
	"testing"
	"time"
)

func sampleEvent(status AlertStatus) AlertEvent {
	return AlertEvent{
		Key:      "era_update_delayed",
		RuleID:   RuleEraUpdateDelayed,
		Status:   status,
		Severity: "critical",
		Title:    "Era update delayed",
		Message:  "No era change observed for 12m",
		Details: []AlertDetail{
			{Label: "Last era", Value: "1042"},
		},
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestDiscordEmbedColorsTrackStatus(t *testing.T) {
	firing := formatDiscordEmbed(sampleEvent(AlertFiring))
	if firing.Embeds[0].Color != 0xFF0000 {
		t.Fatalf("firing color = %#x, want red", firing.Embeds[0].Color)
	}
	resolved := formatDiscordEmbed(sampleEvent(AlertResolved))
	if resolved.Embeds[0].Color != 0x00FF00 {
		t.Fatalf("resolved color = %#x, want green", resolved.Embeds[0].Color)
	}
}

func TestTelegramMessageCarriesDetails(t *testing.T) {
	msg := formatTelegramHTML(sampleEvent(AlertFiring))
	if !strings.Contains(msg, "Era update delayed") {
		t.Fatalf("message missing title: %q", msg)
	}
	if !strings.Contains(msg, "Last era") || !strings.Contains(msg, "1042") {
		t.Fatalf("message missing details: %q", msg)
	}
}

func TestSlackBlocksIncludeRule(t *testing.T) {
	payload := formatSlackBlocks(sampleEvent(AlertFiring))
	if len(payload.Blocks) != 2 {
		t.Fatalf("blocks = %d, want 2", len(payload.Blocks))
	}
	found := false
	for _, field := range payload.Blocks[1].Fields {
		if strings.Contains(field.Text, string(RuleEraUpdateDelayed)) {
			found = true
		}
	}
	if !found {
		t.Fatal("section fields missing rule id")
	}
}
