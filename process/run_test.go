package process

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kbukum/e2ekit/logger"
)

func TestRunEcho(t *testing.T) {
	result, err := Run(context.Background(), Command{
		Binary: "echo",
		Args:   []string{"hello", "world"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", result.ExitCode)
	}
	if out := strings.TrimSpace(string(result.Stdout)); out != "hello world" {
		t.Fatalf("expected 'hello world', got %q", out)
	}
}

func TestRunForwardsOutputToLogger(t *testing.T) {
	var buf bytes.Buffer
	log := logger.NewWithWriter(&buf, &logger.Config{Level: "debug", Format: "json"}, "test")
	_, err := Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "echo building; echo warn >&2"},
	}, log)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"message":"building"`) || !strings.Contains(out, `"message":"warn"`) {
		t.Errorf("expected both lines forwarded, got %s", out)
	}
}

func TestRunExitCode(t *testing.T) {
	result, err := Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "exit 42"},
	}, nil)
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if result.ExitCode != 42 {
		t.Fatalf("expected exit code 42, got %d", result.ExitCode)
	}
}

func TestRunContextCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := Run(ctx, Command{
		Binary:      "sleep",
		Args:        []string{"60"},
		GracePeriod: time.Second,
	}, nil)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !strings.Contains(err.Error(), "killed by context") {
		t.Fatalf("expected 'killed by context' error, got: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("process took too long to die: %v", elapsed)
	}
}

func TestRunEmptyBinary(t *testing.T) {
	if _, err := Run(context.Background(), Command{}, nil); err == nil {
		t.Fatal("expected error for empty binary")
	}
}

func TestRunEnv(t *testing.T) {
	result, err := Run(context.Background(), Command{
		Binary: "sh",
		Args:   []string{"-c", "echo $E2EKIT_TEST_VAR"},
		Env:    []string{"E2EKIT_TEST_VAR=hello_from_env"},
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out := strings.TrimSpace(string(result.Stdout)); out != "hello_from_env" {
		t.Fatalf("expected 'hello_from_env', got %q", out)
	}
}
