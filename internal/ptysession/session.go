package ptysession

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/creack/pty"

	"taskdeck/cli/internal/status"
)

const (
	readChunkSize = 8192
	eventBuffer   = 256
	drainTimeout  = 2 * time.Second
)

// IdleTick is how often an observed session is asked for an idle transition.
var IdleTick = 250 * time.Millisecond

// Observer turns raw output into status changes. Both methods return ok=false
// when the status did not change.
type Observer interface {
	Observe(chunk []byte) (status.Status, bool)
	CheckIdle() (status.Status, bool)
}

type EventKind int

const (
	EventOutput EventKind = iota + 1
	EventStatus
	EventExit
)

// Event is one message on the session channel. Only the field matching Kind
// is meaningful.
type Event struct {
	Kind     EventKind
	Data     string
	Status   status.Status
	ExitCode int
}

// Writer serializes input to the pty.
type Writer struct {
	mu sync.Mutex
	w  *bufio.Writer
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Flush()
}

// Master guards the pty master for resizing and closing.
type Master struct {
	mu     sync.Mutex
	f      *os.File
	closed bool
}

func (m *Master) Resize(rows, cols int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return os.ErrClosed
	}
	ws, err := winsize(rows, cols)
	if err != nil {
		return err
	}
	return pty.Setsize(m.f, ws)
}

func winsize(rows, cols int) (*pty.Winsize, error) {
	if rows <= 0 || cols <= 0 || rows > math.MaxUint16 || cols > math.MaxUint16 {
		return nil, fmt.Errorf("invalid pty size %dx%d", cols, rows)
	}
	return &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}, nil
}

func (m *Master) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.f.Close()
}

// Session is one child process attached to a pseudo-terminal.
type Session struct {
	process *Process
	writer  *Writer
	master  *Master
	running atomic.Bool
	events  chan Event
}

// Start spawns cmd on a new pty of the given size. A nil observer disables
// status detection and the idle ticker.
func Start(cmd *exec.Cmd, rows, cols int, observer Observer) (*Session, error) {
	if cmd == nil {
		return nil, fmt.Errorf("command is required")
	}
	ws, err := winsize(rows, cols)
	if err != nil {
		return nil, err
	}
	f, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return nil, fmt.Errorf("start %s on pty: %w", cmd.Path, err)
	}
	s := &Session{
		process: newProcess(cmd),
		writer:  &Writer{w: bufio.NewWriter(f)},
		master:  &Master{f: f},
		events:  make(chan Event, eventBuffer),
	}
	s.running.Store(true)

	var wg sync.WaitGroup
	readerDone := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(readerDone)
		s.readLoop(f, observer)
	}()
	go func() {
		defer wg.Done()
		s.watchExit(readerDone)
	}()
	if observer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.idleLoop(observer)
		}()
	}
	go func() {
		wg.Wait()
		close(s.events)
	}()
	return s, nil
}

// Events is closed after the reader, idle ticker and exit watcher have all returned.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) Process() *Process {
	return s.process
}

func (s *Session) Writer() *Writer {
	return s.writer
}

func (s *Session) Master() *Master {
	return s.master
}

func (s *Session) Running() bool {
	return s.running.Load()
}

func (s *Session) Kill() error {
	return s.process.Kill()
}

func (s *Session) readLoop(r io.Reader, observer Observer) {
	buf := make([]byte, readChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if observer != nil {
				if next, ok := observer.Observe(chunk); ok {
					s.events <- Event{Kind: EventStatus, Status: next}
				}
			}
			s.events <- Event{Kind: EventOutput, Data: strings.ToValidUTF8(string(chunk), "�")}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) idleLoop(observer Observer) {
	ticker := time.NewTicker(IdleTick)
	defer ticker.Stop()
	for range ticker.C {
		if !s.running.Load() {
			return
		}
		if next, ok := observer.CheckIdle(); ok {
			s.events <- Event{Kind: EventStatus, Status: next}
		}
	}
}

// watchExit lets the reader drain trailing output before closing the master,
// so the exit event follows the last output event.
func (s *Session) watchExit(readerDone <-chan struct{}) {
	<-s.process.Done()
	s.running.Store(false)
	select {
	case <-readerDone:
	case <-time.After(drainTimeout):
	}
	_ = s.master.Close()
	code, _ := s.process.TryWait()
	s.events <- Event{Kind: EventExit, ExitCode: code}
}
