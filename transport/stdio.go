package transport

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	defaultStartupGrace  = 500 * time.Millisecond
	defaultShutdownGrace = 2 * time.Second
	stderrTailSize       = 4 * 1024
)

// packageManagerDirs are prepended to PATH so servers installed by npm,
// homebrew and friends resolve even without shell-profile inheritance.
var packageManagerDirs = []string{"/usr/local/bin", "/opt/homebrew/bin"}

// Stdio spawns a server command and frames newline-delimited JSON-RPC over
// its stdin/stdout. Stderr is diagnostic only: it is drained continuously to
// an optional sink and its tail is kept for failure messages.
type Stdio struct {
	command       string
	args          []string
	env           map[string]string
	stderrSink    io.Writer
	startupGrace  time.Duration
	shutdownGrace time.Duration

	mux       sync.Mutex
	writeMux  sync.Mutex
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	messages  chan []byte
	done      chan struct{} // closed when the read loop ends
	closed    chan struct{} // closed on Disconnect
	exited    chan struct{} // closed when the process exits
	readErr   error
	connected bool
	stderr    tailBuffer
}

// StdioOption configures a Stdio transport.
type StdioOption func(*Stdio)

// WithEnv sets extra environment variables for the child process.
func WithEnv(env map[string]string) StdioOption {
	return func(t *Stdio) {
		t.env = env
	}
}

// WithStderrSink streams the child's stderr to sink as it arrives.
func WithStderrSink(sink io.Writer) StdioOption {
	return func(t *Stdio) {
		t.stderrSink = sink
	}
}

// WithStartupGrace overrides how long Connect watches for an early exit.
func WithStartupGrace(grace time.Duration) StdioOption {
	return func(t *Stdio) {
		t.startupGrace = grace
	}
}

// WithShutdownGrace overrides how long Disconnect waits before killing.
func WithShutdownGrace(grace time.Duration) StdioOption {
	return func(t *Stdio) {
		t.shutdownGrace = grace
	}
}

// NewStdio creates a subprocess transport for the given command.
func NewStdio(command string, args []string, options ...StdioOption) *Stdio {
	ret := &Stdio{
		command:       command,
		args:          args,
		startupGrace:  defaultStartupGrace,
		shutdownGrace: defaultShutdownGrace,
	}
	for _, opt := range options {
		opt(ret)
	}
	return ret
}

// Connect spawns the process and fails fast when it exits within the
// startup grace window, reporting the captured stderr.
func (t *Stdio) Connect(ctx context.Context) error {
	t.mux.Lock()
	if t.connected {
		t.mux.Unlock()
		return nil
	}
	cmd := exec.Command(t.command, t.args...)
	cmd.Env = t.environment()
	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.mux.Unlock()
		return err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.mux.Unlock()
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		t.mux.Unlock()
		return err
	}
	if err = cmd.Start(); err != nil {
		t.mux.Unlock()
		return fmt.Errorf("failed to start %s: %w", t.command, err)
	}
	t.cmd = cmd
	t.stdin = stdin
	t.messages = make(chan []byte, 64)
	t.done = make(chan struct{})
	t.closed = make(chan struct{})
	t.exited = make(chan struct{})
	t.connected = true
	exited := t.exited
	t.mux.Unlock()

	go t.drainStderr(stderr)
	go t.readLoop(stdout, t.messages, t.done, t.closed)
	go func() {
		cmd.Wait()
		close(exited)
	}()

	select {
	case <-exited:
		t.mux.Lock()
		t.connected = false
		t.mux.Unlock()
		return fmt.Errorf("%s exited during startup: %s", t.command, t.stderr.String())
	case <-time.After(t.startupGrace):
		return nil
	case <-ctx.Done():
		t.Disconnect(context.Background())
		return ctx.Err()
	}
}

// Send writes one newline-terminated message to the child's stdin.
func (t *Stdio) Send(ctx context.Context, message []byte) error {
	t.mux.Lock()
	stdin, connected := t.stdin, t.connected
	t.mux.Unlock()
	if !connected {
		return ErrNotConnected
	}
	t.writeMux.Lock()
	defer t.writeMux.Unlock()
	if _, err := stdin.Write(append(message, '\n')); err != nil {
		return fmt.Errorf("failed to write to %s: %w", t.command, err)
	}
	return nil
}

// Receive returns the next complete line from the child's stdout, blocking
// until one arrives, the stream ends, or ctx is done.
func (t *Stdio) Receive(ctx context.Context) ([]byte, error) {
	t.mux.Lock()
	messages, done, closed := t.messages, t.done, t.closed
	t.mux.Unlock()
	if messages == nil {
		return nil, ErrNotConnected
	}
	// buffered messages win over a concurrently ended stream
	select {
	case message := <-messages:
		return message, nil
	default:
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case message := <-messages:
		return message, nil
	case <-closed:
		return nil, ErrClosed
	case <-done:
		select {
		case message := <-messages:
			return message, nil
		default:
		}
		return nil, t.streamEndError()
	}
}

// Disconnect closes stdin to signal EOF, waits for a graceful exit, then
// kills the process if it is still running.
func (t *Stdio) Disconnect(ctx context.Context) error {
	t.mux.Lock()
	if !t.connected {
		t.mux.Unlock()
		return nil
	}
	t.connected = false
	stdin, cmd, exited := t.stdin, t.cmd, t.exited
	close(t.closed)
	t.mux.Unlock()

	stdin.Close()
	select {
	case <-exited:
		return nil
	case <-time.After(t.shutdownGrace):
	case <-ctx.Done():
	}
	cmd.Process.Kill()
	<-exited
	return nil
}

func (t *Stdio) environment() []string {
	extra := append([]string{}, packageManagerDirs...)
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		extra = append(extra,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".npm-global", "bin"))
	}
	env := os.Environ()
	prefix := strings.Join(extra, string(os.PathListSeparator)) + string(os.PathListSeparator)
	for i, entry := range env {
		if strings.HasPrefix(entry, "PATH=") {
			env[i] = "PATH=" + prefix + strings.TrimPrefix(entry, "PATH=")
		}
	}
	for key, value := range t.env {
		env = append(env, key+"="+value)
	}
	return env
}

// readLoop works on the channels it was spawned with so a reconnect cannot
// hand a stale goroutine the replacements.
func (t *Stdio) readLoop(stdout io.Reader, messages chan []byte, done, closed chan struct{}) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		message := make([]byte, len(line))
		copy(message, line)
		select {
		case messages <- message:
		case <-closed:
			return
		}
	}
	t.mux.Lock()
	t.readErr = scanner.Err()
	t.mux.Unlock()
	close(done)
}

func (t *Stdio) drainStderr(stderr io.Reader) {
	buf := make([]byte, 4*1024)
	for {
		n, err := stderr.Read(buf)
		if n > 0 {
			t.stderr.Write(buf[:n])
			if t.stderrSink != nil {
				t.stderrSink.Write(buf[:n])
			}
		}
		if err != nil {
			return
		}
	}
}

func (t *Stdio) streamEndError() error {
	t.mux.Lock()
	readErr := t.readErr
	t.mux.Unlock()
	tail := t.stderr.String()
	switch {
	case readErr != nil:
		return fmt.Errorf("%w: read from %s failed: %v", ErrClosed, t.command, readErr)
	case tail != "":
		return fmt.Errorf("%w: %s exited: %s", ErrClosed, t.command, tail)
	default:
		return fmt.Errorf("%w: %s exited", ErrClosed, t.command)
	}
}

// tailBuffer keeps the most recent stderr output for failure messages.
type tailBuffer struct {
	mux sync.Mutex
	buf []byte
}

func (b *tailBuffer) Write(data []byte) (int, error) {
	b.mux.Lock()
	defer b.mux.Unlock()
	b.buf = append(b.buf, data...)
	if len(b.buf) > stderrTailSize {
		b.buf = b.buf[len(b.buf)-stderrTailSize:]
	}
	return len(data), nil
}

func (b *tailBuffer) String() string {
	b.mux.Lock()
	defer b.mux.Unlock()
	return strings.TrimSpace(string(b.buf))
}
