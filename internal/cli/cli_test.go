package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/willibrandon/ChronoState/pkg/replay"
)

func writeConfig(t *testing.T, backend string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "chronostate.yaml")
	storePath := filepath.Join(dir, "snapshots")
	if backend == "sqlite" {
		storePath = filepath.Join(dir, "snapshots.db")
	}
	cfg := fmt.Sprintf(`store:
  backend: %s
  path: %s
validation:
  policy: all
  log: false
`, backend, storePath)
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func decodeSummary(t *testing.T, out string) replay.Summary {
	t.Helper()
	var s replay.Summary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decode summary %q: %v", out, err)
	}
	return s
}

func TestCaptureThenValidate(t *testing.T) {
	for _, backend := range []string{"file", "sqlite"} {
		t.Run(backend, func(t *testing.T) {
			cfg := writeConfig(t, backend)

			out, err := run(t, "capture", "--config", cfg, "--session", "s1", "--steps", "40")
			if err != nil {
				t.Fatalf("capture failed: %v", err)
			}
			captured := decodeSummary(t, out)
			if captured.Session != "s1" || captured.Steps != 40 {
				t.Errorf("capture summary = %+v", captured)
			}

			out, err = run(t, "validate", "--config", cfg, "--session", "s1")
			if err != nil {
				t.Fatalf("validate failed: %v", err)
			}
			validated := decodeSummary(t, out)
			if !validated.Clean() || validated.Steps != 40 {
				t.Errorf("validate summary = %+v", validated)
			}
		})
	}
}

func TestValidateInjectedDivergence(t *testing.T) {
	cfg := writeConfig(t, "file")
	if _, err := run(t, "capture", "--config", cfg, "--session", "s1", "--steps", "20"); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	out, err := run(t, "validate", "--config", cfg, "--session", "s1", "--inject-step", "7", "--inject-body", "3")
	if !errors.Is(err, ErrDivergence) {
		t.Fatalf("validate error = %v, want ErrDivergence", err)
	}
	s := decodeSummary(t, out)
	if s.Divergences != 1 || s.First == nil || s.First.Pass != 7 || s.First.Object != "body 3" {
		t.Errorf("summary = %+v", s)
	}

	if _, err := run(t, "validate", "--config", cfg, "--session", "s1", "--inject-step", "7", "--inject-body", "99"); err == nil {
		t.Error("expected error for unknown inject body")
	}
}

func TestValidateHumanOutput(t *testing.T) {
	cfg := writeConfig(t, "file")
	if _, err := run(t, "capture", "--config", cfg, "--session", "s1", "--steps", "10"); err != nil {
		t.Fatalf("capture failed: %v", err)
	}
	out, err := run(t, "validate", "--config", cfg, "--session", "s1", "--json=false", "--inject-step", "3")
	if !errors.Is(err, ErrDivergence) {
		t.Fatalf("validate error = %v, want ErrDivergence", err)
	}
	for _, want := range []string{"Validated session s1", "body 2", "First divergence at step 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateRequiresSession(t *testing.T) {
	cfg := writeConfig(t, "file")
	if _, err := run(t, "validate", "--config", cfg); err == nil {
		t.Error("expected error without --session")
	}
	if _, err := run(t, "validate", "--config", cfg, "--session", "nope"); err == nil {
		t.Error("expected error for unknown session")
	}
}

func TestCheck(t *testing.T) {
	cfg := writeConfig(t, "memory")
	out, err := run(t, "check", "--config", cfg, "--steps", "30")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	var res struct {
		Steps  int               `json:"steps"`
		Failed []json.RawMessage `json:"failed"`
	}
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Steps != 30 || len(res.Failed) != 0 {
		t.Errorf("check result = %s", out)
	}

	if _, err := run(t, "check", "--config", cfg, "--bodies", "0"); err == nil {
		t.Error("expected error for zero bodies")
	}
}

func TestInspect(t *testing.T) {
	cfg := writeConfig(t, "file")
	if _, err := run(t, "capture", "--config", cfg, "--session", "s1", "--steps", "3"); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	out, err := run(t, "inspect", "--config", cfg)
	if err != nil {
		t.Fatalf("inspect failed: %v", err)
	}
	if !strings.Contains(out, `"s1"`) {
		t.Errorf("sessions output = %s", out)
	}

	out, err = run(t, "inspect", "--config", cfg, "--session", "s1", "--json=false")
	if err != nil {
		t.Fatalf("inspect session failed: %v", err)
	}
	if strings.Count(out, "ok") != 4 {
		t.Errorf("expected 4 ok steps:\n%s", out)
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, "version", "--config", writeConfig(t, "memory"))
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if info["version"] == "" || info["platform"] == "" {
		t.Errorf("version output = %s", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.yaml")
	if _, err := run(t, "config", "init", path, "--config", writeConfig(t, "memory")); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	out, err := run(t, "config", "show", "--config", path, "--json=false")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "backend: file") {
		t.Errorf("config show output:\n%s", out)
	}
}

func TestBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(path, []byte("store:\n  backend: tape\n"), 0o644)
	if _, err := run(t, "version", "--config", path); err == nil {
		t.Error("expected error for invalid config")
	}
}

func TestServeShutsDownWithContext(t *testing.T) {
	cfg := writeConfig(t, "file")
	if _, err := run(t, "capture", "--config", cfg, "--session", "s1", "--steps", "5"); err != nil {
		t.Fatalf("capture failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"serve", "--config", cfg, "--addr", "127.0.0.1:0", "--session", "s1"})
	if err := cmd.ExecuteContext(ctx); err != nil {
		t.Fatalf("serve failed: %v", err)
	}
	if !strings.Contains(out.String(), "listening on 127.0.0.1:") {
		t.Errorf("serve output = %q", out.String())
	}
}
