// Package shell runs a command locally or on a remote host over a
// persistent SSH session, synchronously or asynchronously, per spec.md
// §4.E. It is modeled on the ownership shape of the teacher's
// internal/api.Client (internal/api/client.go): one long-lived connection
// object, a mutex serializing calls against it, and a rate limiter guarding
// the connection from a runaway caller — except the long-lived connection
// here is a persistent ssh subprocess rather than an *http.Client.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sjef-go/sjef/internal/sjeferr"
)

const (
	terminator   = "@@@EOF"
	jobNumberTag = "@@@JOBNUMBER"
)

var jobNumberPattern = regexp.MustCompile(jobNumberTag + `\s*(\d+)`)

// session is the minimal surface Shell needs from a live remote connection;
// factoring it out lets tests drive the @@@EOF bracketing protocol against
// an in-process pipe instead of a real ssh subprocess.
type session struct {
	stdin  io.Writer
	stdout *bufio.Reader
	stderr *bufio.Reader
	close  func() error
}

// Shell is a persistent local or SSH-tunnelled command session. Only one
// command runs against a given Shell at a time.
type Shell struct {
	host  string
	shell string

	mu sync.Mutex

	remote  *session
	process *exec.Cmd

	lastOut   string
	lastErr   string
	jobNumber int

	localProc *os.Process
}

// IsLocal reports whether this Shell targets the local machine.
func IsLocal(host string) bool { return host == "" || host == "localhost" }

var (
	limiterMu sync.Mutex
	limiters  = map[string]*rate.Limiter{}
)

// limiterFor returns the shared per-host rate limiter, creating one on
// first use. A runaway poll loop cannot open unbounded concurrent SSH
// control-channel connections to the same remote machine.
func limiterFor(host string) *rate.Limiter {
	limiterMu.Lock()
	defer limiterMu.Unlock()
	l, ok := limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Every(100*time.Millisecond), 4)
		limiters[host] = l
	}
	return l
}

// New constructs a Shell. For a non-local host it immediately spawns a
// persistent "ssh host shell -l" subprocess and feeds subsequent commands
// over its stdin.
func New(host, shellProgram string) (*Shell, error) {
	if shellProgram == "" {
		shellProgram = "bash"
	}
	s := &Shell{host: host, shell: shellProgram}

	if IsLocal(host) {
		return s, nil
	}

	cmd := exec.Command("ssh", host, shellProgram, "-l")
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrConfig, "open ssh stdin to "+host, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrConfig, "open ssh stdout from "+host, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrConfig, "open ssh stderr from "+host, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, sjeferr.Wrap(sjeferr.ErrConfig, "spawn ssh session to "+host, err)
	}

	s.process = cmd
	s.remote = &session{
		stdin:  stdin,
		stdout: bufio.NewReader(stdout),
		stderr: bufio.NewReader(stderr),
		close:  func() error { return cmd.Process.Kill() },
	}
	return s, nil
}

// Out returns the stdout captured by the last Run call.
func (s *Shell) Out() string { return s.lastOut }

// Err returns the stderr captured by the last Run call.
func (s *Shell) Err() string { return s.lastErr }

// JobNumber returns the process ID observed by the last Run call. Batch
// scheduler job numbers are not parsed here; callers extract those from
// the Run output themselves.
func (s *Shell) JobNumber() int { return s.jobNumber }

// Run executes command, either synchronously (capturing both streams and
// checking the exit code) or asynchronously (redirecting both streams to
// out/err and returning immediately once the child's PID is known).
func (s *Shell) Run(ctx context.Context, command string, wait bool, directory string, verbosity int, out, errFile string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if out == "" {
		out = os.DevNull
	}
	if errFile == "" {
		errFile = os.DevNull
	}

	pipeline := command
	if !wait {
		if IsLocal(s.host) && !localAsynchronousSupported() {
			return "", sjeferr.Wrap(sjeferr.ErrUnsupported, "asynchronous local execution is not supported on this platform", nil)
		}
		pipeline = fmt.Sprintf("(( %s >%s 2>%s) & echo %s $! 1>&2)", command, out, errFile, jobNumberTag)
	}

	if IsLocal(s.host) {
		return s.runLocal(ctx, command, pipeline, wait, directory, verbosity)
	}

	limiterFor(s.host).Wait(ctx)
	return s.runRemote(command, pipeline, directory, verbosity)
}

func (s *Shell) runLocal(ctx context.Context, command, pipeline string, wait bool, directory string, verbosity int) (string, error) {
	nohup, err := exec.LookPath("nohup")
	if err != nil {
		nohup = "nohup"
	}

	cmd := exec.CommandContext(ctx, nohup, s.shell, "-c", pipeline)
	cmd.Dir = directory

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", sjeferr.Wrap(sjeferr.ErrConfig, "spawn local command", err)
	}
	s.localProc = cmd.Process

	waitErr := cmd.Wait()

	s.lastOut = stdout.String()
	s.lastErr = stderr.String()
	s.jobNumber = 0

	if match := jobNumberPattern.FindStringSubmatch(s.lastErr); match != nil {
		s.jobNumber, _ = strconv.Atoi(match[1])
		s.lastErr = jobNumberPattern.ReplaceAllString(s.lastErr, "")
	} else if wait {
		s.jobNumber = cmd.Process.Pid
	}

	if wait {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			return s.lastOut, &sjeferr.ShellExecError{
				Host:     s.host,
				Command:  command,
				ExitCode: exitErr.ExitCode(),
				Stdout:   s.lastOut,
				Stderr:   s.lastErr,
			}
		}
		if waitErr != nil {
			return s.lastOut, sjeferr.Wrap(sjeferr.ErrConfig, "run local command", waitErr)
		}
		return s.lastOut, nil
	}

	// Asynchronous: the shell backgrounds the real command itself, so our
	// direct child (the `( ... ) &` wrapper) exits almost immediately;
	// waitErr here reflects only that wrapper, not the backgrounded job.
	return "", nil
}

func (s *Shell) runRemote(command, pipeline, directory string, verbosity int) (string, error) {
	if s.remote == nil {
		return "", sjeferr.Wrap(sjeferr.ErrConfig, "remote session to "+s.host+" is not connected", nil)
	}

	fmt.Fprintf(s.remote.stdin, "cd '%s'\n", directory)
	fmt.Fprintln(s.remote.stdin, pipeline)
	fmt.Fprintf(s.remote.stdin, ">&2 echo '%s' $?\n", terminator)
	fmt.Fprintf(s.remote.stdin, "echo '%s'\n", terminator)

	return readBracketed(s.remote.stdout, s.remote.stderr, command, s.host, &s.lastOut, &s.lastErr, &s.jobNumber)
}

// readBracketed implements the remote synchronous-call protocol: read
// stdout until the terminator line, then stderr until the terminator line;
// the trailing integer on the stderr terminator line is the exit code.
func readBracketed(stdout, stderr *bufio.Reader, command, host string, lastOut, lastErr *string, jobNumber *int) (string, error) {
	var out strings.Builder
	for {
		line, err := stdout.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == terminator {
			break
		}
		if trimmed != "" || err == nil {
			out.WriteString(trimmed)
			out.WriteString("\n")
		}
		if err != nil {
			break
		}
	}
	*lastOut = out.String()

	var errBuf strings.Builder
	exitCode := 0
	for {
		line, err := stderr.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if strings.HasPrefix(trimmed, terminator) {
			fields := strings.Fields(trimmed)
			if len(fields) >= 2 {
				exitCode, _ = strconv.Atoi(fields[1])
			}
			break
		}
		if match := jobNumberPattern.FindStringSubmatch(trimmed); match != nil {
			*jobNumber, _ = strconv.Atoi(match[1])
		} else if trimmed != "" {
			errBuf.WriteString(trimmed)
			errBuf.WriteString("\n")
		}
		if err != nil {
			break
		}
	}
	*lastErr = errBuf.String()

	if exitCode != 0 {
		return *lastOut, &sjeferr.ShellExecError{
			Host:     host,
			Command:  command,
			ExitCode: exitCode,
			Stdout:   *lastOut,
			Stderr:   *lastErr,
		}
	}
	return *lastOut, nil
}

// Running reports whether the most recently launched command's process is
// still alive.
func (s *Shell) Running() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if IsLocal(s.host) {
		if s.localProc == nil {
			return false, nil
		}
		return processAlive(s.localProc.Pid), nil
	}

	if s.jobNumber == 0 {
		return false, nil
	}
	out, err := s.runRemote(fmt.Sprintf("ps -p %d", s.jobNumber), fmt.Sprintf("ps -p %d", s.jobNumber), ".", 0)
	if err != nil {
		return false, nil
	}
	return strings.Contains(out, strconv.Itoa(s.jobNumber)), nil
}

// Wait polls Running with exponential backoff capped at maxInterval, until
// the process has exited or ctx is done.
func (s *Shell) Wait(ctx context.Context, maxInterval time.Duration) error {
	interval := time.Millisecond
	for {
		running, err := s.Running()
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		select {
		case <-ctx.Done():
			return sjeferr.Wrap(sjeferr.ErrInterrupted, "wait for shell command", ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}

// Close tears down a remote session, if any.
func (s *Shell) Close() error {
	if s.remote == nil {
		return nil
	}
	return s.remote.close()
}

func localAsynchronousSupported() bool {
	// nohup + "&" backgrounding is unavailable on native Windows shells.
	return filepath.Separator == '/'
}
