package ui

import (
	"bytes"
	"testing"
)

func TestSilent(t *testing.T) {
	var u UI = Silent{}
	// Should not panic
	u.UpdateStatus("indexing")
	u.UpdateProgress(1, 3)
	u.Log("")
}

func TestPlain(t *testing.T) {
	buf := &bytes.Buffer{}
	var u UI = NewPlain(buf)

	u.UpdateStatus("Re-indexing 2 entries")
	u.UpdateProgress(1, 2)
	u.Log("2025-12-14: 3 chunks")

	want := "Re-indexing 2 entries\n[1/2]\n  2025-12-14: 3 chunks\n"
	if buf.String() != want {
		t.Errorf("expected %q, got %q", want, buf.String())
	}
}

// MockUI records updates for tests of callers.
type MockUI struct {
	StatusUpdates []string
	Progress      [][2]int
	LogMessages   []string
}

func (m *MockUI) UpdateStatus(status string)     { m.StatusUpdates = append(m.StatusUpdates, status) }
func (m *MockUI) UpdateProgress(done, total int) { m.Progress = append(m.Progress, [2]int{done, total}) }
func (m *MockUI) Log(msg string)                 { m.LogMessages = append(m.LogMessages, msg) }

func TestUI_InterfaceMethods(t *testing.T) {
	uis := []UI{Silent{}, &MockUI{}, NewPlain(&bytes.Buffer{})}
	for _, u := range uis {
		u.UpdateStatus("test")
		u.UpdateProgress(1, 1)
		u.Log("test")
	}
}
