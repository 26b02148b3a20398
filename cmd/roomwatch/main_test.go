package main

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestValidateValidConfig(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: "123:abc"
status:
  url: https://status.example.com
watch:
  interval: 20s
`)
	out, err := execute(t, "validate", "-c", path)
	if err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
	for _, want := range []string{"Config is valid!", "https://status.example.com", "20s", "memory"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateInvalidConfig(t *testing.T) {
	path := writeConfig(t, "telegram:\n  token: x\n")
	if _, err := execute(t, "validate", "-c", path); err == nil || !strings.Contains(err.Error(), "status.url") {
		t.Fatalf("expected status.url error, got %v", err)
	}
}

func TestValidateTokenFromEnvFile(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envPath, []byte("RW_CLI_TOKEN=from-env-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("RW_CLI_TOKEN")
		_ = rootCmd.PersistentFlags().Set("env-file", "")
	})

	path := writeConfig(t, `
telegram:
  token_env: RW_CLI_TOKEN
status:
  url: https://status.example.com
`)
	if out, err := execute(t, "validate", "-c", path, "--env-file", envPath); err != nil {
		t.Fatalf("validate: %v\n%s", err, out)
	}
}

func TestCheckPrintsObservation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"server":{"state":"Unstable - high latency"}}`)
	}))
	defer srv.Close()

	path := writeConfig(t, fmt.Sprintf(`
telegram:
  token: "123:abc"
status:
  url: %q
  extractor: "json:server.state"
`, srv.URL))
	out, err := execute(t, "check", "-c", path)
	if err != nil {
		t.Fatalf("check: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Unstable - high latency") {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "roomwatch dev") {
		t.Fatalf("version output: %q", out)
	}
}
