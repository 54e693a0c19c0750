//go:build unix

package e2e

import (
	"bytes"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"
)

// runFbxrules executes the binary with args and returns stdout, stderr and the exit error.
func runFbxrules(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(fbxrulesBinary, args...)
	cmd.Env = append(os.Environ(), "FBXRULES_FREEBOX_APP_TOKEN="+fakeAppToken)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// mustRun runs the binary and asserts a successful exit.
func mustRun(t *testing.T, args ...string) string {
	t.Helper()
	stdout, stderr, err := runFbxrules(t, args...)
	if err != nil {
		t.Fatalf("fbxrules %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}
	return stdout
}

// mustFail runs the binary and asserts a non-zero exit.
func mustFail(t *testing.T, args ...string) (string, string) {
	t.Helper()
	stdout, stderr, err := runFbxrules(t, args...)
	if err == nil {
		t.Fatalf("expected fbxrules %v to fail, but it succeeded\nstdout: %s\nstderr: %s", args, stdout, stderr)
	}
	return stdout, stderr
}

// startDaemon starts the binary in watch mode. The caller stops the process.
func startDaemon(t *testing.T, configPath string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command(fbxrulesBinary, "-c", configPath)
	cmd.Env = append(os.Environ(), "FBXRULES_FREEBOX_APP_TOKEN="+fakeAppToken)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start fbxrules daemon: %v", err)
	}
	return cmd
}

// writeTestConfig writes YAML content to a config file in the given directory.
func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	configPath := filepath.Join(dir, "fbxrules.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return configPath
}

// decodeResult parses a JSON result printed on stdout.
func decodeResult(t *testing.T, stdout string) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal([]byte(stdout), &result); err != nil {
		t.Fatalf("stdout is not a JSON result: %v\n%s", err, stdout)
	}
	return result
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
