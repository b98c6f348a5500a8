package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"mevi/internal/tracer"
)

var (
	socketPath string
	logPath    string
	timeout    time.Duration
	quiet      bool
)

// RootCmd is mevi's entry point: trace a command's memory residency and
// log Map/Execve/Exit events as they happen (to stderr or --log, unless
// --quiet). Map events from the initial map enumeration are not logged.
var RootCmd = &cobra.Command{
	Use:   "mevi -- <command> [args...]",
	Short: "mevi traces a process's memory residency via ptrace and userfaultfd",
	Long: `mevi launches a command under ptrace, watches its mmap/brk/execve
syscalls to classify memory as resident or not-resident, and hands each
tracee a userfaultfd over a local socket so a cooperating consumer can
watch page faults resolve those regions directly.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args)
	},
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	RootCmd.Flags().StringVar(&socketPath, "socket-path", tracer.DefaultSocketPath, "unix socket path used for the userfaultfd SCM_RIGHTS handoff")
	RootCmd.Flags().StringVar(&logPath, "log", "", "write events to this file instead of stderr")
	RootCmd.Flags().DurationVar(&timeout, "timeout", 0, "abort tracing after this long (0 disables the timeout)")
	RootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-event log lines; still drives the backpressure handshake")
	RootCmd.Flags().SetInterspersed(false)
}

func run(args []string) error {
	logger, closeLogger, err := buildLogger()
	if err != nil {
		return err
	}
	if closeLogger != nil {
		defer closeLogger()
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	t := tracer.New(tracer.Config{
		Handoff: tracer.HandoffConfig{SocketPath: socketPath},
		Logger:  logger,
	})

	drained := make(chan struct{})
	go drainEvents(t, drained)

	name := args[0]
	cmdArgs := args[1:]

	var traceErr error
	if isatty.IsTerminal(os.Stdin.Fd()) && isatty.IsTerminal(os.Stdout.Fd()) {
		traceErr = runInteractive(ctx, t, name, cmdArgs)
	} else {
		traceErr = t.TraceCommand(ctx, name, cmdArgs...)
	}

	<-drained

	if traceErr != nil {
		if exitErr, ok := traceErr.(*exec.ExitError); ok {
			os.Exit(exitErr.ExitCode())
		}
		return fmt.Errorf("mevi: %w", traceErr)
	}
	return nil
}

// drainEvents consumes every event the tracer publishes for the lifetime of
// the trace. mevi does not persist residency state of its own (the
// cooperating uffd consumer does), so a Map event's completion token is
// dropped the moment it has been observed here.
func drainEvents(t *tracer.Tracer, done chan<- struct{}) {
	defer close(done)
	for ev := range t.Events() {
		if ev.Kind == tracer.EventMap && ev.Token != nil {
			ev.Token.Drop()
		}
	}
}

// buildLogger constructs the Logger used for per-event log lines, following
// --log/--quiet.
func buildLogger() (tracer.Logger, func(), error) {
	if quiet {
		return nil, nil, nil
	}
	if logPath != "" {
		fl, err := tracer.NewFileLogger(logPath)
		if err != nil {
			return nil, nil, fmt.Errorf("mevi: opening log file: %w", err)
		}
		return fl, func() { fl.Close() }, nil
	}
	return tracer.NewStreamLogger(os.Stderr), nil, nil
}

// runInteractive relays a PTY between the controlling terminal and the
// traced command, the way an interactive shell session would be run.
func runInteractive(ctx context.Context, t *tracer.Tracer, name string, args []string) error {
	c := exec.Command(name, args...)

	ptmx, tty, err := pty.Open()
	if err != nil {
		return fmt.Errorf("opening pty: %w", err)
	}
	defer tty.Close()
	defer ptmx.Close()

	c.Stdin = tty
	c.Stdout = tty
	c.Stderr = tty
	if c.SysProcAttr == nil {
		c.SysProcAttr = &syscall.SysProcAttr{}
	}
	c.SysProcAttr.Setsid = true
	c.SysProcAttr.Setctty = true

	done := make(chan error, 1)
	go func() {
		done <- t.TraceCmd(ctx, c)
		tty.Close()
	}()

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	go func() {
		for range winch {
			pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winch <- syscall.SIGWINCH

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err == nil {
		defer term.Restore(int(os.Stdin.Fd()), oldState)
	}

	go io.Copy(ptmx, os.Stdin)
	go io.Copy(os.Stdout, ptmx)

	return <-done
}
