package shell

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sjef-go/sjef/internal/sjeferr"
)

func newPipe(t *testing.T) (io.Reader, io.Writer) {
	t.Helper()
	r, w := io.Pipe()
	return r, w
}

func TestRunLocalSynchronousCapturesOutput(t *testing.T) {
	s, err := New("", "sh")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	out, err := s.Run(context.Background(), "echo hello", true, t.TempDir(), 0, "", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out) != "hello" {
		t.Fatalf("unexpected stdout: %q", out)
	}
	if s.JobNumber() == 0 {
		t.Fatalf("expected a job number (pid) to be recorded")
	}
}

func TestRunLocalSynchronousNonZeroExit(t *testing.T) {
	s, err := New("", "sh")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = s.Run(context.Background(), "exit 7", true, t.TempDir(), 0, "", "")
	if err == nil {
		t.Fatalf("expected an error for nonzero exit")
	}
	var execErr *sjeferr.ShellExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *sjeferr.ShellExecError, got %T: %v", err, err)
	}
	if execErr.ExitCode != 7 {
		t.Fatalf("expected exit code 7, got %d", execErr.ExitCode)
	}
}

func TestRunLocalAsynchronousReturnsImmediately(t *testing.T) {
	s, err := New("", "sh")
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	dir := t.TempDir()
	start := time.Now()
	_, err = s.Run(context.Background(), "sleep 2", false, dir, 0, dir+"/out", dir+"/err")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("asynchronous run should return immediately, took %s", time.Since(start))
	}
}

// fakeRemote wires a Shell's stdio to in-process pipes, standing in for a
// real ssh subprocess so the @@@EOF bracketing protocol can be exercised
// without spawning one.
func fakeRemote(t *testing.T) (*Shell, *bufio.Reader, *bufio.Writer, *bufio.Writer) {
	t.Helper()
	stdinR, stdinW := newPipe(t)
	stdoutR, stdoutW := newPipe(t)
	stderrR, stderrW := newPipe(t)

	s := &Shell{host: "remotehost", shell: "bash"}
	s.remote = &session{
		stdin:  stdinW,
		stdout: bufio.NewReader(stdoutR),
		stderr: bufio.NewReader(stderrR),
		close:  func() error { return nil },
	}

	return s, bufio.NewReader(stdinR), bufio.NewWriter(stdoutW), bufio.NewWriter(stderrW)
}

func TestRunRemoteSuccess(t *testing.T) {
	s, stdinR, stdoutW, stderrW := fakeRemote(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			if _, err := stdinR.ReadString('\n'); err != nil {
				return
			}
		}
		stdoutW.WriteString("job output\n")
		stdoutW.WriteString(terminator + "\n")
		stdoutW.Flush()
		stderrW.WriteString(terminator + " 0\n")
		stderrW.Flush()
	}()

	out, err := s.Run(context.Background(), "some-command", true, "/work", 0, "", "")
	<-done
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.TrimSpace(out) != "job output" {
		t.Fatalf("unexpected stdout: %q", out)
	}
}

func TestRunRemoteNonZeroExit(t *testing.T) {
	s, stdinR, stdoutW, stderrW := fakeRemote(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			if _, err := stdinR.ReadString('\n'); err != nil {
				return
			}
		}
		stdoutW.WriteString(terminator + "\n")
		stdoutW.Flush()
		stderrW.WriteString("boom\n")
		stderrW.WriteString(terminator + " 3\n")
		stderrW.Flush()
	}()

	_, err := s.Run(context.Background(), "some-command", true, "/work", 0, "", "")
	<-done
	var execErr *sjeferr.ShellExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *sjeferr.ShellExecError, got %T: %v", err, err)
	}
	if execErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "boom") {
		t.Fatalf("expected stderr to contain %q, got %q", "boom", execErr.Stderr)
	}
}

func TestIsLocal(t *testing.T) {
	cases := map[string]bool{"": true, "localhost": true, "cluster.example.org": false}
	for host, want := range cases {
		if got := IsLocal(host); got != want {
			t.Errorf("IsLocal(%q) = %v, want %v", host, got, want)
		}
	}
}
