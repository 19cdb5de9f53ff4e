package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	content := `
database:
  driver: sqlite
  dsn: "` + filepath.Join(dir, "quota.db") + `"
quota:
  default_plan: free
  plans:
    free:
      chat_request: 5
      speech_synthesis: 2
    premium:
      chat_request: 50
`
	path := filepath.Join(dir, "tutorquota.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetErr(&buf)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		usageAction = ""
		pruneDays = 0
	})
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error: %v", err)
	}
	if !strings.Contains(out, "tutorquota dev") {
		t.Errorf("output = %q", out)
	}
}

func TestValidateCmd(t *testing.T) {
	path := writeTestConfig(t)

	out, err := execute(t, "--config", path, "validate", "--check-database")
	if err != nil {
		t.Fatalf("validate error: %v\n%s", err, out)
	}
	for _, want := range []string{"Config valid", "free: chat_request=5 speech_synthesis=2", "Database reachable", "quota.plans"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestValidateCmd_MissingFile(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "validate")
	if err == nil {
		t.Fatal("expected error for missing config")
	}
}

func TestUsageStatusAndAssign(t *testing.T) {
	path := writeTestConfig(t)

	out, err := execute(t, "--config", path, "usage", "status", "--user", "student-1")
	if err != nil {
		t.Fatalf("usage status error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "plan free") || !strings.Contains(out, "chat_request") {
		t.Errorf("status output = %q", out)
	}

	out, err = execute(t, "--config", path, "plans", "assign", "--user", "student-1", "--plan", "premium")
	if err != nil {
		t.Fatalf("plans assign error: %v\n%s", err, out)
	}

	out, err = execute(t, "--config", path, "usage", "status", "--user", "student-1", "--action", "chat_request")
	if err != nil {
		t.Fatalf("usage status error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "plan premium") || !strings.Contains(out, "50") {
		t.Errorf("status after assign = %q", out)
	}
}

func TestPlansAssign_UnknownPlan(t *testing.T) {
	path := writeTestConfig(t)

	_, err := execute(t, "--config", path, "plans", "assign", "--user", "student-1", "--plan", "gold")
	if err == nil || !strings.Contains(err.Error(), "unknown plan") {
		t.Errorf("err = %v, want unknown plan", err)
	}
}

func TestUsagePrune(t *testing.T) {
	path := writeTestConfig(t)

	out, err := execute(t, "--config", path, "usage", "prune", "--days", "7")
	if err != nil {
		t.Fatalf("usage prune error: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Deleted 0 usage events") {
		t.Errorf("prune output = %q", out)
	}
}
