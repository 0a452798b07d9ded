package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeGo(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("package q\n\n"+body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestRunFlagsMissingAndDuplicateMarkers(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "const QOne = `--sql 11111111-1111-4111-8111-111111111111\nselect 1`\n")
	writeGo(t, dir, "b.go", "const QTwo = `--sql 11111111-1111-4111-8111-111111111111\nselect 2`\n")
	writeGo(t, dir, "c.go", "const QThree = `update generation_requests set status = $1`\n")
	writeGo(t, dir, "d.go", "const label = \"generation status\"\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 1 {
		t.Fatalf("exit code = %d, want 1", code)
	}
	out := stderr.String()
	if !strings.Contains(out, "marker already used by QOne") {
		t.Fatalf("duplicate not reported:\n%s", out)
	}
	if !strings.Contains(out, "missing or invalid --sql <uuid> marker (QThree)") {
		t.Fatalf("missing marker not reported:\n%s", out)
	}
	if strings.Contains(out, "label") {
		t.Fatalf("non-SQL constant reported:\n%s", out)
	}
}

func TestRunCleanTree(t *testing.T) {
	dir := t.TempDir()
	writeGo(t, dir, "a.go", "const QOne = `--sql 11111111-1111-4111-8111-111111111111\nselect 1`\n")
	writeGo(t, dir, "b.go", "const QTwo = `--sql 22222222-2222-4222-8222-222222222222\ninsert into t values (1)`\n")

	var stderr bytes.Buffer
	if code := run([]string{dir}, &stderr); code != 0 {
		t.Fatalf("exit code = %d, output:\n%s", code, stderr.String())
	}
}

func TestSQLInlineStatementsAreMarked(t *testing.T) {
	var stderr bytes.Buffer
	if code := run([]string{filepath.Join("..", "..", "sqlinline")}, &stderr); code != 0 {
		t.Fatalf("sqlinline has marker problems:\n%s", stderr.String())
	}
}
