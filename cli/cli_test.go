package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentdash/client"
	appmodel "agentdash/model"
)

type testEnv struct {
	dataDir    string
	runtimeDir string
}

// newTestEnv points the CLI at srv with a throwaway home, data and runtime
// directory. A nil handler leaves the backend URL at an address nothing
// listens on.
func newTestEnv(t *testing.T, handler http.Handler) testEnv {
	t.Helper()
	home := t.TempDir()
	env := testEnv{
		dataDir:    filepath.Join(home, "data"),
		runtimeDir: filepath.Join(home, "run"),
	}
	t.Setenv("HOME", home)
	t.Setenv("XDG_RUNTIME_DIR", env.runtimeDir)
	t.Setenv("AGENTDASH_DATA_DIR", env.dataDir)
	t.Setenv("AGENTDASH_API_KEY", "")
	t.Setenv("AGENTDASH_DEBUG", "")

	if handler != nil {
		srv := httptest.NewServer(handler)
		t.Cleanup(srv.Close)
		t.Setenv("AGENTDASH_BASE_URL", srv.URL)
	} else {
		srv := httptest.NewServer(http.NotFoundHandler())
		srv.Close()
		t.Setenv("AGENTDASH_BASE_URL", srv.URL)
	}

	oldIn, oldOut := stdinIsTerminal, stdoutIsTerminal
	stdinIsTerminal = func() bool { return false }
	stdoutIsTerminal = func() bool { return false }
	t.Cleanup(func() {
		stdinIsTerminal, stdoutIsTerminal = oldIn, oldOut
		resetFlags(rootCmd)
	})
	return env
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func runCLI(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func writeFrames(w http.ResponseWriter, frames ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for _, f := range frames {
		_, _ = fmt.Fprintf(w, "data: %s\n\n", f)
	}
}

func TestFuzzyFilter(t *testing.T) {
	tools := []client.ToolInfo{{Name: "clone_repository"}, {Name: "run_semgrep"}, {Name: "read_file"}}
	name := func(t client.ToolInfo) string { return t.Name }

	assert.Equal(t, tools, fuzzyFilter("", tools, name))

	got := fuzzyFilter("semg", tools, name)
	require.Len(t, got, 1)
	assert.Equal(t, "run_semgrep", got[0].Name)

	assert.Empty(t, fuzzyFilter("zzz", tools, name))
}

func TestAnalyzeOptions(t *testing.T) {
	t.Cleanup(func() { resetFlags(rootCmd) })

	tests := []struct {
		name     string
		mode     string
		fallback string
		repo     string
		wantMode appmodel.AnalysisMode
		wantErr  string
	}{
		{name: "default full", mode: "full", repo: "https://github.com/acme/api", wantMode: appmodel.ModeFull},
		{name: "verified", mode: "Verified", fallback: "AUTO", repo: "https://github.com/acme/api", wantMode: appmodel.ModeVerified},
		{name: "bad mode", mode: "v9", repo: "x", wantErr: "unknown analysis mode"},
		{name: "bad fallback", mode: "v3", fallback: "retry", repo: "x", wantErr: "--fallback"},
		{name: "blank repo", mode: "v3", repo: "  ", wantErr: "repository URL is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			analyzeMode = tt.mode
			analyzeFallback = tt.fallback
			opts, err := analyzeOptions(tt.repo)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantMode, opts.Mode)
			assert.Equal(t, strings.ToLower(tt.fallback), opts.Fallback)
		})
	}
}

func TestHealthSecuredWithoutKey(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"status":"ok","model":"qwen2.5","secured":true,"capabilities":["analyze","verify"]}`)
	})
	newTestEnv(t, mux)

	out, _, err := runCLI(t, "", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Connected")
	assert.Contains(t, out, "qwen2.5")
	assert.Contains(t, out, "analyze, verify")
	assert.Contains(t, out, "The backend requires an API key.")
}

func TestHealthUnreachable(t *testing.T) {
	newTestEnv(t, nil)

	out, _, err := runCLI(t, "", "health")
	require.Error(t, err)
	assert.ErrorIs(t, err, client.ErrUnreachable)
	assert.Contains(t, out, "Disconnected")
}

func TestAskUsesEnvKeyAndSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/agent", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sk-env", r.Header.Get(client.APIKeyHeader))
		var req client.AgentRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "What is 123 * 456?", req.Task)
		assert.Equal(t, "sess-1", req.SessionID)
		_, _ = fmt.Fprint(w, `{"text":"56088","tool_calls":[],"iterations":1,"session_id":"sess-1","completed":true}`)
	})
	env := newTestEnv(t, mux)
	t.Setenv("AGENTDASH_API_KEY", "sk-env")

	out, errOut, err := runCLI(t, "", "ask", "--session", "sess-1", "What is 123 * 456?")
	require.NoError(t, err)
	assert.Equal(t, "56088\n", out)
	assert.Contains(t, errOut, "sess-1")

	// The env key is never persisted
	assert.NoFileExists(t, filepath.Join(env.runtimeDir, "agentdash", "session.key"))
}

func TestAskIncompleteIsAWarning(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/agent", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"text":"partial","iterations":10,"completed":false}`)
	})
	newTestEnv(t, mux)

	out, errOut, err := runCLI(t, "", "ask", "keep going")
	require.NoError(t, err)
	assert.Equal(t, "partial\n", out)
	assert.Contains(t, errOut, "10 iterations")
}

func TestToolsFilter(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/tools", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"tools":[{"name":"clone_repository","description":"Clone a repo"},{"name":"run_semgrep","description":"Static scan"}]}`)
	})
	newTestEnv(t, mux)

	out, _, err := runCLI(t, "", "tools", "--filter", "semg")
	require.NoError(t, err)
	assert.Contains(t, out, "run_semgrep")
	assert.Contains(t, out, "Static scan")
	assert.NotContains(t, out, "clone_repository")
}

func TestSessionsList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v2/sessions", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `[{"id":"abc-123","turns":4,"last_activity":"2026-10-01T10:00:00Z"}]`)
	})
	newTestEnv(t, mux)

	out, _, err := runCLI(t, "", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "abc-123")
	assert.Contains(t, out, "4 messages")
	assert.Contains(t, out, "updated 2026-10-01T10:00:00Z")
}

func TestAnalyzeWritesReport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/analyze/stream", func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w,
			`{"type":"start","message":"Starting"}`,
			`{"type":"tool_start","tool":"analyze_code","phase":"analysis"}`,
			`{"type":"issue","issue":{"id":"i1","severity":"medium","category":"style","title":"Long function"}}`,
			`{"type":"done","overall_health_score":91,"executive_summary":"Healthy"}`,
		)
	})
	newTestEnv(t, mux)
	outPath := filepath.Join(t.TempDir(), "reports", "api.md")
	htmlPath := filepath.Join(t.TempDir(), "api.html")

	out, errOut, err := runCLI(t, "", "analyze", "https://github.com/acme/api",
		"--mode", "v3", "--output", outPath, "--html", htmlPath)
	require.NoError(t, err)

	assert.Contains(t, out, "# Analysis report: https://github.com/acme/api")
	assert.Contains(t, out, "91/100")
	assert.Contains(t, out, "Long function")
	assert.NotContains(t, out, "Partial results")
	assert.Contains(t, errOut, "✓ Done")
	assert.Contains(t, errOut, "Report saved to")

	saved, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, out, string(saved))

	page, err := os.ReadFile(htmlPath)
	require.NoError(t, err)
	assert.Contains(t, string(page), "Long function")
}

func TestAnalyzeCutStreamKeepsPartialReport(t *testing.T) {
	var asyncCalled bool
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/analyze/stream", func(w http.ResponseWriter, r *http.Request) {
		writeFrames(w,
			`{"type":"tool_start","tool":"analyze_code","phase":"analysis"}`,
			`{"type":"issue","issue":{"id":"i1","title":"Long function"}}`,
		)
	})
	mux.HandleFunc("/v4/analyze/async", func(w http.ResponseWriter, r *http.Request) {
		asyncCalled = true
		w.WriteHeader(http.StatusInternalServerError)
	})
	newTestEnv(t, mux)

	out, _, err := runCLI(t, "", "analyze", "https://github.com/acme/api", "--mode", "v3", "--quiet", "--fallback", "manual")
	var aborted *client.StreamAbortedError
	require.ErrorAs(t, err, &aborted)
	assert.False(t, asyncCalled)
	assert.Contains(t, out, "Partial results")
	assert.Contains(t, out, "Long function")
}

func TestAnalyzeNoStream(t *testing.T) {
	var got client.AnalyzeRequest
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/analyze", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = fmt.Fprint(w, `{"overall_health_score":77,"code_issues":[{"id":"i9","title":"Unchecked error"}]}`)
	})
	newTestEnv(t, mux)

	out, _, err := runCLI(t, "", "analyze", "https://github.com/acme/api",
		"--mode", "v3", "--no-stream", "--branch", "main", "--quiet")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/acme/api", got.RepoURL)
	assert.Equal(t, "main", got.Branch)
	assert.Contains(t, out, "77/100")
	assert.Contains(t, out, "Unchecked error")
	assert.NotContains(t, out, "Partial results")
}

func TestAnalyzeNoStreamNeedsV3(t *testing.T) {
	newTestEnv(t, nil)
	_, _, err := runCLI(t, "", "analyze", "https://github.com/acme/api", "--mode", "full", "--no-stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--no-stream")
}

func TestJobsStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/jobs/job-7", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"job_id":"job-7","status":"running","created_at":"2026-10-01T10:00:00Z","progress":{"percent":40,"phase":"analysis"}}`)
	})
	newTestEnv(t, mux)

	out, _, err := runCLI(t, "", "jobs", "status", "job-7")
	require.NoError(t, err)
	assert.Contains(t, out, "job-7")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "40% analysis")
}

func TestJobsWaitFailedJob(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v4/jobs/job-8", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, `{"job_id":"job-8","status":"failed","error":"clone failed"}`)
	})
	newTestEnv(t, mux)

	_, _, err := runCLI(t, "", "jobs", "wait", "job-8", "--interval", "10ms")
	var agentErr *client.AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "clone failed", agentErr.Message)
}

func TestAuthLoginStatusLogout(t *testing.T) {
	env := newTestEnv(t, http.NotFoundHandler())
	credPath := filepath.Join(env.dataDir, "credentials.toml")

	out, _, err := runCLI(t, "sk-test\n", "auth", "login", "--storage", "local")
	require.NoError(t, err)
	assert.Contains(t, out, "API key saved")
	require.FileExists(t, credPath)
	assert.NoFileExists(t, filepath.Join(env.runtimeDir, "agentdash", "session.key"))

	cfgData, err := os.ReadFile(filepath.Join(env.dataDir, "config.toml"))
	require.NoError(t, err)
	assert.Contains(t, string(cfgData), `storage = "local"`)
	assert.NotContains(t, string(cfgData), "127.0.0.1", "env base URL must not be persisted")

	out, _, err = runCLI(t, "", "auth", "status")
	require.NoError(t, err)
	assert.Contains(t, out, "local")
	assert.Contains(t, out, "stored")

	_, _, err = runCLI(t, "", "auth", "logout")
	require.NoError(t, err)
	assert.NoFileExists(t, credPath)
}

func TestAuthStorageMovesKey(t *testing.T) {
	env := newTestEnv(t, http.NotFoundHandler())
	sessionPath := filepath.Join(env.runtimeDir, "agentdash", "session.key")

	_, _, err := runCLI(t, "sk-move\n", "auth", "login")
	require.NoError(t, err)
	require.FileExists(t, sessionPath)

	_, _, err = runCLI(t, "", "auth", "storage", "local")
	require.NoError(t, err)
	assert.NoFileExists(t, sessionPath)
	assert.FileExists(t, filepath.Join(env.dataDir, "credentials.toml"))

	_, _, err = runCLI(t, "", "auth", "storage", "bogus")
	assert.Error(t, err)
}

func TestAuthStorageKeepsEnvKeyInMemory(t *testing.T) {
	env := newTestEnv(t, http.NotFoundHandler())
	sessionPath := filepath.Join(env.runtimeDir, "agentdash", "session.key")

	_, _, err := runCLI(t, "sk-stored\n", "auth", "login", "--storage", "local")
	require.NoError(t, err)

	t.Setenv("AGENTDASH_API_KEY", "sk-env")
	_, _, err = runCLI(t, "", "auth", "storage", "session")
	require.NoError(t, err)

	data, err := os.ReadFile(sessionPath)
	require.NoError(t, err)
	assert.Equal(t, "sk-stored", string(data))
	assert.NoFileExists(t, filepath.Join(env.dataDir, "credentials.toml"))
}

func TestAuthLoginRejectsMemoryStorage(t *testing.T) {
	newTestEnv(t, http.NotFoundHandler())

	_, _, err := runCLI(t, "sk-x\n", "auth", "login", "--storage", "memory")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AGENTDASH_API_KEY")
}

func TestVersion(t *testing.T) {
	newTestEnv(t, nil)
	out, _, err := runCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "agentdash")
	assert.Contains(t, out, Version)
}
