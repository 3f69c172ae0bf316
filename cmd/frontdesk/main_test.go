package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/frontdesk-ops/frontdesk/internal/types"
)

func TestCheckFormat(t *testing.T) {
	for _, in := range []string{"table", "JSON", "yaml"} {
		if _, err := checkFormat(in); err != nil {
			t.Errorf("checkFormat(%q) error = %v", in, err)
		}
	}
	if _, err := checkFormat("xml"); err == nil {
		t.Error("checkFormat(xml) should fail")
	}
}

func TestWriteStructured_YAML(t *testing.T) {
	report := statusReport{
		Backends: []types.ConnectionState{
			{Backend: types.BackendLocalCache, Status: types.ConnConnected},
		},
		Sync: map[types.SyncStatus]int{types.SyncPending: 2},
	}

	var buf bytes.Buffer
	if err := writeStructured(&buf, formatYAML, report); err != nil {
		t.Fatalf("writeStructured() error = %v", err)
	}

	var decoded struct {
		Backends []struct {
			Backend string `yaml:"backend"`
			Status  string `yaml:"status"`
		} `yaml:"backends"`
		Sync map[string]int `yaml:"sync"`
	}
	if err := yaml.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, buf.String())
	}
	if len(decoded.Backends) != 1 || decoded.Backends[0].Status != "CONNECTED" {
		t.Errorf("backends = %+v", decoded.Backends)
	}
	if decoded.Sync["PENDING"] != 2 {
		t.Errorf("sync = %+v", decoded.Sync)
	}
}

func TestCollectStatus_LocalOnlySetup(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "frontdesk.yaml")
	cfgYAML := strings.Join([]string{
		"cache:",
		"  path: " + filepath.Join(dir, "cache.db"),
		"timeclock:",
		"  discover: false",
		"log:",
		"  level: error",
		"  format: json",
	}, "\n")
	if err := os.WriteFile(cfgPath, []byte(cfgYAML), 0644); err != nil {
		t.Fatal(err)
	}

	app, err := newApp(cfgPath, rootCmd)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer app.Close()

	report, err := collectStatus(context.Background(), app)
	if err != nil {
		t.Fatalf("collectStatus() error = %v", err)
	}

	want := map[types.BackendID]types.ConnectionStatus{
		types.BackendRemoteDirectory: types.ConnDisconnected,
		types.BackendLocalCache:      types.ConnConnected,
		types.BackendScannerExport:   types.ConnDisconnected,
		types.BackendTimeClockStore:  types.ConnDisconnected,
	}
	if len(report.Backends) != len(want) {
		t.Fatalf("got %d backends, want %d", len(report.Backends), len(want))
	}
	for _, s := range report.Backends {
		if s.Status != want[s.Backend] {
			t.Errorf("%s = %s, want %s (%s)", s.Backend, s.Status, want[s.Backend], s.LastError)
		}
	}
	if report.CheckedAt.IsZero() {
		t.Error("CheckedAt not set after a full round")
	}
	if report.Sync == nil {
		t.Error("sync counts missing")
	}
}
