package tui

import (
	"strings"
	"testing"

	"github.com/tturner/cipsession/internal/config"
	"github.com/tturner/cipsession/internal/session"
)

func TestViewWithoutSessions(t *testing.T) {
	orch := session.New(config.Default(), nil, nil)
	m := NewModel(orch)
	m.reload()

	view := m.View()
	if !strings.Contains(view, "CIP Sessions") {
		t.Fatalf("missing title:\n%s", view)
	}
	if !strings.Contains(view, "no open sessions") {
		t.Fatalf("missing empty-state line:\n%s", view)
	}
}
