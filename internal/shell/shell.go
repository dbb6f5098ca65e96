// Package shell is the node's interactive command line. Every object command
// hashes the object's name into the ring and runs the matching DHT operation.
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fatih/color"

	"github.com/zde37/chordfs/internal/chord"
	"github.com/zde37/chordfs/pkg"
)

// ErrUsage reports a malformed command line.
var ErrUsage = errors.New("usage")

const prompt = "chordfs> "

// Options configures a Shell.
type Options struct {
	// WorkDir holds the files that write reads and read produces.
	WorkDir string

	In  io.Reader
	Out io.Writer

	// NoColor disables ANSI colours, for piped output and tests.
	NoColor bool

	Logger *pkg.Logger
}

// Shell reads commands line by line and runs them against a node.
type Shell struct {
	node    *chord.ChordNode
	workDir string
	in      io.Reader
	out     io.Writer
	logger  *pkg.Logger

	title *color.Color
	info  *color.Color
	ok    *color.Color
	fail  *color.Color

	left bool
}

// New creates a shell for node.
func New(node *chord.ChordNode, opts Options) (*Shell, error) {
	if node == nil {
		return nil, fmt.Errorf("node cannot be nil")
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = pkg.NewNop()
	}

	s := &Shell{
		node:    node,
		workDir: opts.WorkDir,
		in:      opts.In,
		out:     opts.Out,
		logger:  opts.Logger.WithFields(pkg.Fields{"component": "shell"}),
		title:   color.New(color.FgHiYellow),
		info:    color.New(color.FgYellow),
		ok:      color.New(color.FgGreen),
		fail:    color.New(color.FgRed),
	}
	if opts.NoColor {
		for _, c := range []*color.Color{s.title, s.info, s.ok, s.fail} {
			c.DisableColor()
		}
	}
	return s, nil
}

// Left reports whether the leave command ran successfully.
func (s *Shell) Left() bool {
	return s.left
}

// Run prints a banner and executes commands until quit, leave, end of input or
// ctx is cancelled. Command failures are printed and do not stop the loop.
func (s *Shell) Run(ctx context.Context) error {
	s.title.Fprintf(s.out, "================================================\n"+
		"  chordfs node %s\n"+
		"  workspace %s\n"+
		"  type help for commands\n"+
		"================================================\n",
		s.node.Address(), s.workDir)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(s.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	for {
		fmt.Fprint(s.out, prompt)

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(s.out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(s.out)
				return <-scanErr
			}
			line = l
		}

		done, err := s.Execute(ctx, line)
		if err != nil {
			s.fail.Fprintf(s.out, "%v\n", err)
		}
		if done {
			s.title.Fprintln(s.out, "=======  Bye")
			return nil
		}
	}
}

// Execute runs one command line. done is true when the shell should exit.
func (s *Shell) Execute(ctx context.Context, line string) (done bool, err error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return false, nil
	}

	cmd, args := strings.ToLower(args[0]), args[1:]
	s.logger.Debug().Str("command", cmd).Strs("args", args).Msg("Executing command")

	switch cmd {
	case "help":
		s.help()
		return false, nil
	case "join":
		return false, s.join(ctx, args)
	case "write":
		return false, s.write(ctx, args)
	case "read":
		return false, s.read(ctx, args)
	case "delete":
		return false, s.remove(ctx, args)
	case "print":
		return false, s.print(ctx, args)
	case "leave":
		if err := s.leave(ctx, args); err != nil {
			return false, err
		}
		return true, nil
	case "quit", "exit":
		return true, nil
	default:
		return false, fmt.Errorf("%s is an invalid command, type help for commands", cmd)
	}
}

func (s *Shell) help() {
	s.info.Fprintf(s.out, "Usage:\n"+
		"\tjoin <host> <port>   join the ring through the node at host:port\n"+
		"\twrite <file>         store %s/<file> in the ring\n"+
		"\tread <file>          fetch <file> from the ring into the workspace\n"+
		"\tdelete <file>        remove <file> from the ring\n"+
		"\tprint                show predecessor, successor and finger table\n"+
		"\tleave                hand local keys to the successor and exit\n"+
		"\tquit                 exit, keeping local keys in the store\n",
		s.workDir)
}

func (s *Shell) join(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: expected arguments <host> and <port>, but received %d args", ErrUsage, len(args))
	}
	port, err := strconv.Atoi(args[1])
	if err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("%w: invalid port %q", ErrUsage, args[1])
	}

	bootstrap := net.JoinHostPort(args[0], strconv.Itoa(port))
	if err := s.node.JoinRing(ctx, bootstrap); err != nil {
		return fmt.Errorf("can't join the ring through %s: %w", bootstrap, err)
	}
	s.ok.Fprintf(s.out, "Joined the ring through %s, successor is %s\n", bootstrap, s.node.Successor())
	return nil
}

// objectName validates a file argument. Names are plain file names inside the
// workspace.
func objectName(args []string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%w: expected argument <file>, but received %d args", ErrUsage, len(args))
	}
	name := args[0]
	if name == "." || name == ".." || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: %q is not a plain file name", ErrUsage, name)
	}
	return name, nil
}

func (s *Shell) write(ctx context.Context, args []string) error {
	name, err := objectName(args)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(s.workDir, name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	key := s.node.Space().Hash(name)
	owner, err := s.node.Write(ctx, key, data)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	s.ok.Fprintf(s.out, "Wrote %s (%s, %d bytes) to %s\n", name, key, len(data), owner)
	return nil
}

func (s *Shell) read(ctx context.Context, args []string) error {
	name, err := objectName(args)
	if err != nil {
		return err
	}

	key := s.node.Space().Hash(name)
	data, owner, err := s.node.Read(ctx, key)
	if errors.Is(err, pkg.ErrKeyNotFound) {
		return fmt.Errorf("%s (%s) is not stored in the ring", name, key)
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	path := filepath.Join(s.workDir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to save %s: %w", name, err)
	}
	s.ok.Fprintf(s.out, "Read %s (%s, %d bytes) from %s into %s\n", name, key, len(data), owner, path)
	return nil
}

func (s *Shell) remove(ctx context.Context, args []string) error {
	name, err := objectName(args)
	if err != nil {
		return err
	}

	key := s.node.Space().Hash(name)
	owner, err := s.node.Remove(ctx, key)
	if errors.Is(err, pkg.ErrKeyNotFound) {
		return fmt.Errorf("%s (%s) is not stored in the ring", name, key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", name, err)
	}
	s.ok.Fprintf(s.out, "Deleted %s (%s) from %s\n", name, key, owner)
	return nil
}

func (s *Shell) print(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: print takes no arguments", ErrUsage)
	}

	state := s.node.State(ctx)
	s.title.Fprintf(s.out, "\nNode: %s\n", state.Self)
	s.info.Fprintf(s.out, "Successor: %s\n", idOrNone(state.Successor))
	s.info.Fprintf(s.out, "Predecessor: %s\n", idOrNone(state.Predecessor))
	s.info.Fprintf(s.out, "Local keys: %d\n", state.KeyCount)
	s.info.Fprintln(s.out, "--- Finger Table ---")
	for i, f := range state.Fingers {
		s.info.Fprintf(s.out, "Finger %d (start %s): %s\n", i, f.Start, idOrNone(f.Node))
	}
	fmt.Fprintln(s.out)
	return nil
}

func idOrNone(addr *chord.NodeAddress) string {
	if addr.IsNil() {
		return "none"
	}
	return addr.ID.String()
}

func (s *Shell) leave(ctx context.Context, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: leave takes no arguments", ErrUsage)
	}
	if err := s.node.Leave(ctx); err != nil {
		return fmt.Errorf("failed to leave the ring: %w", err)
	}
	s.left = true
	s.ok.Fprintln(s.out, "Handed local keys to the successor")
	return nil
}
