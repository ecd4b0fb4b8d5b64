package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRoot creates a fresh cobra root command wired to all subcommands.
// Each test gets an isolated command tree to avoid shared state.
func newTestRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "mailcycle",
		SilenceUsage: true,
	}
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewOnceCmd())
	root.AddCommand(NewStatusCmd())
	return root
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

func writeTestConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mailcycle.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

// portalStub is a WebDriver remote endpoint backing a portal where the
// account is connected and every control resolves.
type portalStub struct {
	mu        sync.Mutex
	connected bool
}

func (p *portalStub) handler() http.Handler {
	writeValue := func(w http.ResponseWriter, v any) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"value": v})
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, map[string]any{"ready": true})
	})
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, map[string]any{"sessionId": "sess-1"})
	})
	mux.HandleFunc("DELETE /session/{sid}", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, nil)
	})
	mux.HandleFunc("POST /session/{sid}/url", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, nil)
	})
	mux.HandleFunc("POST /session/{sid}/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, nil)
	})
	mux.HandleFunc("POST /session/{sid}/elements", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Value string `json:"value"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)

		p.mu.Lock()
		connected := p.connected
		p.mu.Unlock()

		var ids []string
		switch {
		case strings.Contains(body.Value, "Disconnect"):
			if connected {
				ids = []string{"el-disconnect"}
			}
		case strings.Contains(body.Value, "Last 20 min"):
			ids = []string{"el-filter"}
		case strings.Contains(body.Value, "Scan"):
			ids = []string{"el-scan"}
		}
		refs := make([]map[string]string, 0, len(ids))
		for _, id := range ids {
			refs = append(refs, map[string]string{"element-6066-11e4-a52e-4f735466cecf": id})
		}
		writeValue(w, refs)
	})
	mux.HandleFunc("POST /session/{sid}/element/{id}/click", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, nil)
	})
	mux.HandleFunc("GET /session/{sid}/element/{id}/text", func(w http.ResponseWriter, r *http.Request) {
		writeValue(w, "")
	})
	return mux
}

func TestOnceCommand_SuccessfulCycle(t *testing.T) {
	stub := &portalStub{connected: true}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	stdout, _, err := executeCommand(newTestRoot(),
		"once",
		"--portal-url", "http://portal.test/app",
		"--driver-endpoint", srv.URL,
	)
	if err != nil {
		t.Fatalf("once: %v", err)
	}

	var rec struct {
		Outcome     string `json:"outcome"`
		CycleNumber int    `json:"cycle_number"`
	}
	if err := json.Unmarshal([]byte(stdout), &rec); err != nil {
		t.Fatalf("decode record: %v\noutput: %s", err, stdout)
	}
	if rec.Outcome != "success" || rec.CycleNumber != 1 {
		t.Fatalf("record = %+v", rec)
	}
}

func TestOnceCommand_FailedCycleExitCode(t *testing.T) {
	stub := &portalStub{connected: false}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	_, _, err := executeCommand(newTestRoot(),
		"once",
		"--portal-url", "http://portal.test/app",
		"--driver-endpoint", srv.URL,
	)
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.Code != exitCycle {
		t.Fatalf("exit code = %d, want %d", exitErr.Code, exitCycle)
	}
	if !strings.Contains(exitErr.Message, "connection not confirmed") {
		t.Fatalf("message = %q", exitErr.Message)
	}
}

func TestOnceCommand_MissingPortalURL(t *testing.T) {
	_, _, err := executeCommand(newTestRoot(), "once", "--config", writeTestConfig(t, "driver: {}\n"))

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.Code != exitConfig {
		t.Fatalf("exit code = %d, want %d", exitErr.Code, exitConfig)
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	path := writeTestConfig(t, `
interval_minutes: 10
driver:
  portal_url: https://file.example.com/app
`)

	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	addConfigFlags(cmd)
	cmd.SetArgs([]string{
		"--config", path,
		"--portal-url", "https://flag.example.com/app",
		"--interval", "7",
		"--sqlite-path", "/tmp/cycles.db",
	})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Driver.PortalURL != "https://flag.example.com/app" {
		t.Fatalf("PortalURL = %q, want flag value", cfg.Driver.PortalURL)
	}
	if cfg.IntervalMinutes != 7 {
		t.Fatalf("IntervalMinutes = %d, want 7", cfg.IntervalMinutes)
	}
	if cfg.SQLitePath != "/tmp/cycles.db" {
		t.Fatalf("SQLitePath = %q", cfg.SQLitePath)
	}
	// Unflagged values still come from the file or defaults.
	if cfg.RetryDelayMinutes != 5 {
		t.Fatalf("RetryDelayMinutes = %d, want default 5", cfg.RetryDelayMinutes)
	}
}

func TestStatusCommand(t *testing.T) {
	control := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/status":
			_, _ = w.Write([]byte(`{"running":true,"cycle_number":3}`))
		case "/cycles":
			if r.URL.Query().Get("limit") != "2" {
				t.Errorf("limit = %q, want 2", r.URL.Query().Get("limit"))
			}
			_, _ = w.Write([]byte(`{"cycles":[]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer control.Close()

	stdout, _, err := executeCommand(newTestRoot(),
		"status", "--addr", control.URL, "--cycles", "2",
	)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(stdout, `"running"`) {
		t.Fatalf("stdout missing status payload: %s", stdout)
	}
	if !strings.Contains(stdout, `"cycles"`) {
		t.Fatalf("stdout missing cycles payload: %s", stdout)
	}
}

func TestExitError(t *testing.T) {
	err := exitError(exitRuntime, "boom: %d", 7)
	if err.Code != exitRuntime {
		t.Fatalf("Code = %d, want %d", err.Code, exitRuntime)
	}
	if err.Error() != "boom: 7" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
