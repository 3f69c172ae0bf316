package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

func TestPlainThemeHasNoEscapes(t *testing.T) {
	theme := New(&bytes.Buffer{}, false)

	for _, s := range []string{
		theme.RenderStatus(types.ConnConnected),
		theme.RenderStatus(types.ConnUnknown),
		theme.RenderSyncStatus(types.SyncPending),
	} {
		if strings.Contains(s, "\x1b[") {
			t.Errorf("plain theme rendered escape codes: %q", s)
		}
	}
	if got := theme.RenderStatus(types.ConnConnecting); got != "CONNECTING" {
		t.Errorf("RenderStatus() = %q, want CONNECTING", got)
	}
}

func TestTable(t *testing.T) {
	theme := New(&bytes.Buffer{}, false)
	out := theme.Table([]string{"Backend", "Status"}, [][]string{
		{"LOCAL_CACHE", "CONNECTED"},
		{"SCANNER_EXPORT", "DISCONNECTED"},
	})
	for _, want := range []string{"Backend", "LOCAL_CACHE", "SCANNER_EXPORT", "DISCONNECTED"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
}
