package pathutil

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestExpandIsIdempotent(t *testing.T) {
	first, err := Expand("relative/project", "molpro")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	second, err := Expand(first, "molpro")
	if err != nil {
		t.Fatalf("Expand (second pass): %v", err)
	}
	if first != second {
		t.Fatalf("Expand not idempotent: %q != %q", first, second)
	}
	if !filepath.IsAbs(second) {
		t.Fatalf("Expand result not absolute: %q", second)
	}
}

func TestExpandAppendsDefaultSuffix(t *testing.T) {
	got, err := Expand("/tmp/foo", "molpro")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if filepath.Ext(got) != ".molpro" {
		t.Fatalf("expected .molpro suffix, got %q", got)
	}
}

func TestExpandKeepsMatchingSuffix(t *testing.T) {
	got, err := Expand("/tmp/foo.molpro", "molpro")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "/tmp/foo.molpro" {
		t.Fatalf("expected unchanged path, got %q", got)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory available")
	}
	got, err := Expand("~/projects/x", "")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	want := filepath.Join(home, "projects", "x")
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestExpandEnvVar(t *testing.T) {
	t.Setenv("SJEF_TEST_DIR", "/tmp/sjef-test-dir")
	got, err := Expand("${SJEF_TEST_DIR}/p.molpro", "")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "/tmp/sjef-test-dir/p.molpro" {
		t.Fatalf("got %q", got)
	}
}

func TestExpandMissingEnvVar(t *testing.T) {
	os.Unsetenv("SJEF_TEST_UNSET_VAR")
	_, err := Expand("${SJEF_TEST_UNSET_VAR}/p.molpro", "")
	if err == nil {
		t.Fatalf("expected error for unset environment variable")
	}
}

func TestExpandTMPDIRDefault(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("TMPDIR default only applies off Windows")
	}
	os.Unsetenv("TMPDIR")
	got, err := Expand("$TMPDIR/x", "")
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}
	if got != "/tmp/x" {
		t.Fatalf("got %q, want /tmp/x", got)
	}
}
