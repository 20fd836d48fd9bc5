package prompts

import (
	"strings"
	"testing"
	"time"
)

func TestTaskAssistantStampsDate(t *testing.T) {
	now := time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC)
	prompt := TaskAssistant(now)

	if !strings.Contains(prompt, "March 14, 2026") {
		t.Errorf("prompt missing date: %q", prompt)
	}
	if !strings.Contains(prompt, "list_tasks") {
		t.Error("prompt missing tool guidance")
	}
}
