package tracer

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
)

// Logger observes the tracer's activity for debugging: every event the
// Syscall Observer and the Supervisor Loop publish, and the start/end of
// each tracee's injector sequence. Map events from the initial map
// enumeration after a handoff are not passed to it. It never influences
// tracer behaviour.
type Logger interface {
	LogEvent(ev *TraceeEvent)
	LogInjectorStart(id TraceeID)
	LogInjectorDone(id TraceeID, err error)
}

// StreamLogger logs plain lines to an io.Writer, in the vein of the
// teacher's syscall stream logger: one line per thing that happened, with
// the tracee pid left-aligned in a five-column field for scanability.
type StreamLogger struct {
	Out io.Writer
}

// NewStreamLogger returns a Logger writing to out.
func NewStreamLogger(out io.Writer) *StreamLogger {
	return &StreamLogger{Out: out}
}

func (l *StreamLogger) LogEvent(ev *TraceeEvent) {
	switch ev.Kind {
	case EventMap:
		fmt.Fprintf(l.Out, "[mevi] [%-5d] map[%s] [0x%x,0x%x) %s (%s)\n",
			ev.ID, ev.CorrelationID, ev.Region.Start, ev.Region.End, ev.Region.State, humanize.Bytes(uint64(ev.Region.Len())))
	case EventExecve:
		fmt.Fprintf(l.Out, "[mevi] [%-5d] execve[%s]\n", ev.ID, ev.CorrelationID)
	case EventExit:
		fmt.Fprintf(l.Out, "[mevi] [%-5d] exit[%s] code=%d signaled=%v\n", ev.ID, ev.CorrelationID, ev.ExitCode, ev.Signaled)
	}
}

func (l *StreamLogger) LogInjectorStart(id TraceeID) {
	fmt.Fprintf(l.Out, "[mevi] [%-5d] installing userfaultfd\n", id)
}

func (l *StreamLogger) LogInjectorDone(id TraceeID, err error) {
	if err != nil {
		fmt.Fprintf(l.Out, "[mevi] [%-5d] userfaultfd install failed: %v\n", id, err)
		return
	}
	fmt.Fprintf(l.Out, "[mevi] [%-5d] userfaultfd installed\n", id)
}

// FileLogger writes to a file, per the teacher's FileLogger wrapper.
type FileLogger struct {
	*StreamLogger
	file *os.File
}

// NewFileLogger opens (appending, creating if needed) path and returns a
// Logger writing to it.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{StreamLogger: NewStreamLogger(f), file: f}, nil
}

// Close closes the underlying file.
func (l *FileLogger) Close() error {
	return l.file.Close()
}
