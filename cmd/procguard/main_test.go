package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/vinayprograms/procguard/config"
	pgerrors "github.com/vinayprograms/procguard/errors"
	"github.com/vinayprograms/procguard/logging"
	"github.com/vinayprograms/procguard/platform"
	"github.com/vinayprograms/procguard/telemetry"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	chdir(t, t.TempDir())

	root, _ := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "procguard dev") {
		t.Errorf("output = %q", out)
	}
}

func TestRootCommand_LogLevelFlag(t *testing.T) {
	root, ctx := newRootCommand()
	chdir(t, t.TempDir())
	root.SetArgs([]string{"--log-level", "debug", "tree"})
	root.SetOut(&bytes.Buffer{})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("execute error: %v", err)
	}
	if ctx.cfg.LogLevel() != logging.LevelDebug {
		t.Errorf("LogLevel = %s, want DEBUG", ctx.cfg.LogLevel())
	}
}

func TestRootCommand_BadLogLevel(t *testing.T) {
	_, err := execute(t, "--log-level", "loud", "tree")
	if !pgerrors.IsConfig(err) {
		t.Errorf("error = %v, want config error", err)
	}
}

func TestRootCommand_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pg.toml")
	if err := os.WriteFile(path, []byte("[liveness]\ncheck_interval = \"0s\"\n"), 0600); err != nil {
		t.Fatal(err)
	}
	_, err := execute(t, "--config", path, "tree")
	if !pgerrors.IsConfig(err) {
		t.Errorf("error = %v, want config error", err)
	}
}

func TestTree_Self(t *testing.T) {
	out, err := execute(t, "tree")
	if err != nil {
		t.Fatalf("tree error: %v", err)
	}
	if !strings.Contains(out, strconv.Itoa(os.Getpid())) {
		t.Errorf("tree output does not mention own pid:\n%s", out)
	}
}

func TestTree_InvalidPID(t *testing.T) {
	for _, arg := range []string{"abc", "0", "-4"} {
		_, err := execute(t, "tree", "--", arg)
		if !pgerrors.IsConfig(err) {
			t.Errorf("tree %s: error = %v, want config error", arg, err)
		}
	}
}

func TestKillTree(t *testing.T) {
	skipOnWindows(t)

	cmd := exec.Command("sh", "-c", "sleep 30 & wait")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	waited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(waited)
	}()
	// Give the shell time to fork its child.
	time.Sleep(100 * time.Millisecond)

	out, err := execute(t, "kill-tree", strconv.Itoa(cmd.Process.Pid))
	if err != nil {
		t.Fatalf("kill-tree error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "root:        "+strconv.Itoa(cmd.Process.Pid)) {
		t.Errorf("report missing root:\n%s", out)
	}

	select {
	case <-waited:
	case <-time.After(5 * time.Second):
		t.Fatal("process survived kill-tree")
	}
}

func newTestRunner(t *testing.T) *runner {
	t.Helper()
	return &runner{
		cfg:    config.Default(),
		logger: logging.Nop(),
		caps:   platform.NewManual(true),
		exit:   func(int) {},
	}
}

func TestRun_ChildSuccess(t *testing.T) {
	skipOnWindows(t)

	r := newTestRunner(t)
	if err := r.run(context.Background(), []string{"sh", "-c", "exit 0"}); err != nil {
		t.Fatalf("run error: %v", err)
	}
	if !r.caps.(*platform.Manual).Released() {
		t.Error("signal bindings should be released after run")
	}
}

func TestRun_ChildExitCode(t *testing.T) {
	skipOnWindows(t)

	r := newTestRunner(t)
	err := r.run(context.Background(), []string{"sh", "-c", "exit 3"})

	var exit *exitError
	if !errors.As(err, &exit) {
		t.Fatalf("error = %v, want exitError", err)
	}
	if exit.code != 3 {
		t.Errorf("exit code = %d, want 3", exit.code)
	}
}

func TestRun_TraceContextInEnv(t *testing.T) {
	skipOnWindows(t)

	prevProp := otel.GetTextMapPropagator()
	prevTracer := telemetry.GetTracer()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	telemetry.SetGlobalTracer(telemetry.NewTracerFromProvider(sdktrace.NewTracerProvider(), "test"))
	t.Cleanup(func() {
		otel.SetTextMapPropagator(prevProp)
		telemetry.SetGlobalTracer(prevTracer)
	})

	out := filepath.Join(t.TempDir(), "env")
	r := newTestRunner(t)
	err := r.run(context.Background(), []string{"sh", "-c", "env > " + out})
	if err != nil {
		t.Fatalf("run error: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("reading env: %v", err)
	}
	if !strings.Contains(string(data), "PATH=") {
		t.Error("child should inherit the environment")
	}
	if !strings.Contains(string(data), "TRACEPARENT=00-") {
		t.Errorf("child env has no TRACEPARENT:\n%s", data)
	}
}

func TestRun_MissingCommand(t *testing.T) {
	r := newTestRunner(t)
	err := r.run(context.Background(), []string{filepath.Join(t.TempDir(), "does-not-exist")})
	if err == nil {
		t.Fatal("expected an error for a missing command")
	}
	var exit *exitError
	if errors.As(err, &exit) {
		t.Errorf("missing command should not map to an exit code: %v", err)
	}
}

func TestRun_InvalidLivenessConfig(t *testing.T) {
	r := newTestRunner(t)
	r.cfg.Liveness.Enabled = true
	r.cfg.Liveness.CheckInterval = 0

	err := r.run(context.Background(), []string{"sh", "-c", "exit 0"})
	if !pgerrors.IsConfig(err) {
		t.Errorf("error = %v, want config error", err)
	}
}

// chdir changes the working directory for the duration of the test,
// like testing.T.Chdir in Go 1.24+.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatalf("restore working directory: %v", err)
		}
	})
}
