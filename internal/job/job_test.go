package job

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sjef-go/sjef/internal/backend"
	"github.com/sjef-go/sjef/pkg/sjef/hooks"
)

type fakeProject struct {
	dir  string
	stem string

	mu    sync.Mutex
	props map[string]string
}

func newFakeProject(t *testing.T) *fakeProject {
	t.Helper()
	return &fakeProject{dir: t.TempDir(), stem: "demo", props: map[string]string{}}
}

func (p *fakeProject) Directory() string { return p.dir }
func (p *fakeProject) Stem() string      { return p.stem }

func (p *fakeProject) Property(key string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.props[key]
}

func (p *fakeProject) SetProperty(key, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.props[key] = value
	return nil
}

func (p *fakeProject) Hooks() hooks.Table { return hooks.Default() }

func (p *fakeProject) HookContext() hooks.Context {
	return hooks.Context{Suffix: "test", Property: p.Property}
}

func TestRunDummyBackendWritesCannedOutput(t *testing.T) {
	proj := newFakeProject(t)
	c, err := New(proj, backend.Dummy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	out, err := c.Run(context.Background(), "__dummy__", 0, true)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out != "dummy" {
		t.Fatalf("unexpected Run output: %q", out)
	}

	outFile, err := os.ReadFile(filepath.Join(proj.dir, "demo.out"))
	if err != nil || string(outFile) != "dummy" {
		t.Fatalf(".out file = %q, %v", outFile, err)
	}
	xmlFile, err := os.ReadFile(filepath.Join(proj.dir, "demo.xml"))
	if err != nil || string(xmlFile) != "<?xml version=\"1.0\"?>\n<root/>" {
		t.Fatalf(".xml file = %q, %v", xmlFile, err)
	}

	if got := proj.Property("_status"); got != "3" { // StatusCompleted == 3
		t.Fatalf("expected completed status, got %q", got)
	}
}

func TestClassifyStatusRunningTakesPrecedence(t *testing.T) {
	be := backend.Local()
	out := "  42 S  \n  42 R  \n"
	if got := classifyStatus(out, 42, be); got != StatusRunning {
		t.Fatalf("classifyStatus = %v, want Running", got)
	}
}

func TestClassifyStatusUnmatchedLineIsUnknown(t *testing.T) {
	be := backend.Local()
	if got := classifyStatus("nothing relevant here\n", 99, be); got != StatusUnknown {
		t.Fatalf("classifyStatus = %v, want Unknown", got)
	}
}

func TestGetStatusWithZeroJobNumberIsUnknown(t *testing.T) {
	proj := newFakeProject(t)
	c, err := New(proj, backend.Local())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	status, err := c.GetStatus(context.Background(), 0)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if status != StatusUnknown {
		t.Fatalf("GetStatus = %v, want Unknown", status)
	}
}

func TestKillIsIdempotent(t *testing.T) {
	proj := newFakeProject(t)
	c, err := New(proj, backend.Local())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := c.Kill(context.Background(), 0); err != nil {
		t.Fatalf("first Kill: %v", err)
	}
	if got := proj.Property("_status"); got != "5" { // StatusKilled == 5
		t.Fatalf("expected killed status, got %q", got)
	}

	if err := c.Kill(context.Background(), 0); err != nil {
		t.Fatalf("second Kill should be a no-op, got: %v", err)
	}
	if got := proj.Property("_status"); got != "5" {
		t.Fatalf("status changed on second Kill: %q", got)
	}
}

// TestRemoteCacheGatedOnCacheNotHost covers the localhost-with-separate-
// cache-path scenario: a backend whose host is "localhost" (so Shell never
// spawns a real ssh subprocess) still gets a remote cache directory when
// its Cache field is set, because the push/pull/cleanup cycle is gated on
// the cache directory, not on whether the host happens to be local.
func TestRemoteCacheGatedOnCacheNotHost(t *testing.T) {
	proj := newFakeProject(t)
	be := backend.Local()
	be.Host = "localhost"
	be.Cache = t.TempDir()

	c, err := New(proj, be)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.remoteCache == "" {
		t.Error("remoteCache is empty for a backend with Host=localhost and a non-empty Cache")
	}
	if !strings.HasPrefix(c.remoteCache, be.Cache+"/") {
		t.Errorf("remoteCache = %q, want prefix %q", c.remoteCache, be.Cache+"/")
	}
}

// TestNoRemoteCacheWithoutCacheField covers the ordinary local case: no
// Cache means no remote mirror is set up, regardless of host.
func TestNoRemoteCacheWithoutCacheField(t *testing.T) {
	proj := newFakeProject(t)
	c, err := New(proj, backend.Local())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if c.remoteCache != "" {
		t.Errorf("remoteCache = %q, want empty when Cache is unset", c.remoteCache)
	}
}

// TestManifestDenylist covers SPEC_FULL.md §10 decision 3's denylist: the
// property file and its writer sentinel by exact name, editor swap/backup
// files by suffix, and Finder's metadata file.
func TestManifestDenylist(t *testing.T) {
	cases := []struct {
		name string
		want bool
	}{
		{"Info.plist", true},
		{".Info.plist.writing_object", true},
		{".DS_Store", true},
		{".foo.inp.swp", true},
		{"foo.inp~", true},
		{"foo.inp", false},
		{"demo.out", false},
	}
	for _, c := range cases {
		if got := isManifestDenylisted(c.name); got != c.want {
			t.Errorf("isManifestDenylisted(%q) = %v, want %v", c.name, got, c.want)
		}
	}
}

// TestLocalListingExcludesDenylistedEntries ensures localListing filters
// denylisted filenames out of the manifest before it is compared against
// the remote side in terminalCleanup.
func TestLocalListingExcludesDenylistedEntries(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Info.plist", ".DS_Store", "demo.inp~", "demo.out", "demo.xml"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	got := localListing(dir)
	want := []string{"demo.out", "demo.xml"}
	if len(got) != len(want) {
		t.Fatalf("localListing = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("localListing = %v, want %v", got, want)
		}
	}
}
