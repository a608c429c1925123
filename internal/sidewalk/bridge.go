package sidewalk

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven-am/see-server/internal/roles"
	"github.com/eleven-am/see-server/internal/vision"
	"golang.org/x/sync/errgroup"
)

const EventDetectSidewalk = "detect_sidewalk"

var ErrSubprocessExited = errors.New("sidewalk: subprocess exited")

type Config struct {
	Command     string
	Args        []string
	Dir         string
	MaxLineSize int
	StopTimeout time.Duration
}

// Bridge feeds every frame to a long-lived detector subprocess over stdin
// and relays each JSON line it prints on stdout to the sidewalk sink.
//
// Frames are handed to a single writer goroutine through an unbuffered
// channel. A frame offered while the writer is still busy with the previous
// one is dropped. The subprocess is not restarted after it exits.
type Bridge struct {
	cfg      Config
	registry *roles.Registry
	logger   *slog.Logger

	frames  chan *vision.Frame
	running atomic.Bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	cmd     *exec.Cmd
	exitErr error
	onExit  []func(error)

	sent      atomic.Uint64
	dropped   atomic.Uint64
	delivered atomic.Uint64
	malformed atomic.Uint64
}

func NewBridge(cfg Config, registry *roles.Registry, logger *slog.Logger) *Bridge {
	if cfg.MaxLineSize <= 0 {
		cfg.MaxLineSize = 1 << 20
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:      cfg,
		registry: registry,
		logger:   logger.With("component", "sidewalk"),
		frames:   make(chan *vision.Frame),
	}
}

// OnExit registers fn to run once the subprocess has exited.
func (b *Bridge) OnExit(fn func(error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onExit = append(b.onExit, fn)
}

func (b *Bridge) Enabled() bool {
	return b.cfg.Command != ""
}

func (b *Bridge) Running() bool {
	return b.running.Load()
}

func (b *Bridge) Start(ctx context.Context) error {
	if !b.Enabled() {
		b.logger.Info("sidewalk detector disabled, no command configured")
		return nil
	}
	if b.running.Load() {
		return fmt.Errorf("sidewalk: already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, b.cfg.Command, b.cfg.Args...)
	cmd.Dir = b.cfg.Dir

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start %s: %w", b.cfg.Command, err)
	}

	b.logger.Info("sidewalk detector started", "command", b.cfg.Command, "pid", cmd.Process.Pid)

	b.mu.Lock()
	b.cmd = cmd
	b.cancel = cancel
	b.done = make(chan struct{})
	b.exitErr = nil
	done := b.done
	b.mu.Unlock()

	b.running.Store(true)

	go func() {
		defer close(done)
		pumpErr := b.pump(runCtx, stdin, stdout, stderr)
		waitErr := cmd.Wait()
		b.exited(runCtx, pumpErr, waitErr)
	}()

	return nil
}

func (b *Bridge) exited(ctx context.Context, pumpErr, waitErr error) {
	b.running.Store(false)

	err := ErrSubprocessExited
	if waitErr != nil {
		err = fmt.Errorf("%w: %v", ErrSubprocessExited, waitErr)
	} else if pumpErr != nil {
		err = fmt.Errorf("%w: %v", ErrSubprocessExited, pumpErr)
	}

	if ctx.Err() != nil {
		b.logger.Info("sidewalk detector stopped")
	} else {
		b.logger.Error("sidewalk detector crashed, not restarting", "error", err)
	}

	b.mu.Lock()
	b.exitErr = err
	callbacks := b.onExit
	b.mu.Unlock()

	for _, fn := range callbacks {
		fn(err)
	}
}

// pump runs the writer, stdout reader and stderr logger until stdout is
// exhausted, a write fails, or ctx is done.
func (b *Bridge) pump(ctx context.Context, stdin io.WriteCloser, stdout, stderr io.Reader) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return b.writeFrames(gctx, stdin)
	})
	g.Go(func() error {
		defer cancel()
		return b.readResults(stdout)
	})
	g.Go(func() error {
		b.logStderr(stderr)
		return nil
	})
	return g.Wait()
}

func (b *Bridge) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	cmd := b.cmd
	b.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()

	select {
	case <-done:
	case <-time.After(b.cfg.StopTimeout):
		b.logger.Warn("sidewalk detector did not exit, killing")
		if cmd != nil && cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
	}
}

// OnFrame offers the frame to the writer without blocking.
func (b *Bridge) OnFrame(frame *vision.Frame) {
	if !b.running.Load() {
		return
	}
	select {
	case b.frames <- frame:
	default:
		b.dropped.Add(1)
	}
}

// EncodeLine renders a frame in the detector's input format:
// "width,height;" followed by the base64 I420 bytes and a newline.
func EncodeLine(frame *vision.Frame) []byte {
	prefix := strconv.Itoa(frame.Width) + "," + strconv.Itoa(frame.Height) + ";"
	n := base64.StdEncoding.EncodedLen(len(frame.Data))

	line := make([]byte, len(prefix)+n+1)
	copy(line, prefix)
	base64.StdEncoding.Encode(line[len(prefix):], frame.Data)
	line[len(line)-1] = '\n'
	return line
}

func (b *Bridge) writeFrames(ctx context.Context, stdin io.WriteCloser) error {
	defer stdin.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case frame := <-b.frames:
			if _, err := stdin.Write(EncodeLine(frame)); err != nil {
				return fmt.Errorf("write frame: %w", err)
			}
			b.sent.Add(1)
		}
	}
}

func (b *Bridge) readResults(stdout io.Reader) error {
	reader := bufio.NewReaderSize(stdout, b.cfg.MaxLineSize)

	for {
		line, err := reader.ReadSlice('\n')
		if errors.Is(err, bufio.ErrBufferFull) {
			for errors.Is(err, bufio.ErrBufferFull) {
				_, err = reader.ReadSlice('\n')
			}
			b.malformed.Add(1)
			b.logger.Debug("dropping oversized detector line")
		} else if len(line) > 0 {
			b.handleLine(line)
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read results: %w", err)
		}
	}
}

func (b *Bridge) handleLine(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if !json.Valid(line) {
		b.malformed.Add(1)
		return
	}

	sink, ok := b.registry.HolderOf(roles.SidewalkSink)
	if !ok {
		return
	}

	payload := make(json.RawMessage, len(line))
	copy(payload, line)
	if err := sink.Emit(EventDetectSidewalk, payload); err != nil {
		b.logger.Warn("failed to deliver sidewalk result", "conn_id", sink.ID(), "error", err)
		return
	}
	b.delivered.Add(1)
}

func (b *Bridge) logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		b.logger.Warn("detector stderr", "line", scanner.Text())
	}
}

type Status struct {
	Enabled   bool   `json:"enabled"`
	Running   bool   `json:"running"`
	ExitError string `json:"exit_error,omitempty"`
	Sent      uint64 `json:"sent"`
	Dropped   uint64 `json:"dropped"`
	Delivered uint64 `json:"delivered"`
	Malformed uint64 `json:"malformed"`
}

func (b *Bridge) Status() Status {
	b.mu.Lock()
	exitErr := b.exitErr
	b.mu.Unlock()

	s := Status{
		Enabled:   b.Enabled(),
		Running:   b.running.Load(),
		Sent:      b.sent.Load(),
		Dropped:   b.dropped.Load(),
		Delivered: b.delivered.Load(),
		Malformed: b.malformed.Load(),
	}
	if exitErr != nil {
		s.ExitError = exitErr.Error()
	}
	return s
}
