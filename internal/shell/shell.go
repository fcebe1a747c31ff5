// Package shell provides an interactive line-oriented console over a
// findb store.
package shell

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"findb/internal/logging"
	"findb/pkg/kv"

	"github.com/google/uuid"
	"golang.org/x/term"
)

const Prompt = "findb> "

var logger = logging.For("shell")

// Shell runs interactive sessions against a single store.
type Shell struct {
	store    kv.Store
	commands *CommandRegistry
}

// New creates a shell with the builtin and store commands registered.
func New(store kv.Store) *Shell {
	commands := NewCommandRegistry()
	commands.RegisterStoreCommands()
	commands.RegisterBuiltins()
	return &Shell{store: store, commands: commands}
}

// Commands returns the registry so that callers can add commands before Run.
func (s *Shell) Commands() *CommandRegistry {
	return s.commands
}

// Run reads commands from rw until quit or EOF. rw is usually a raw-mode
// terminal; lines end on carriage return.
func (s *Shell) Run(rw io.ReadWriter) error {
	s.commands.Freeze()

	id := uuid.NewString()
	logger.Info("shell session started", "session", id)
	defer logger.Info("shell session ended", "session", id)

	terminal := term.NewTerminal(rw, Prompt)
	_, _ = fmt.Fprintln(terminal, "findb shell. Type help for commands.")

	for {
		line, err := terminal.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if s.exec(id, line, terminal) {
			return nil
		}
	}
}

// RunScript executes newline-separated commands from r, writing output to
// w without prompts. Used when input is not a terminal.
func (s *Shell) RunScript(r io.Reader, w io.Writer) error {
	s.commands.Freeze()

	id := uuid.NewString()
	logger.Debug("script session started", "session", id)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if s.exec(id, scanner.Text(), w) {
			break
		}
	}
	return scanner.Err()
}

func (s *Shell) exec(session, line string, out io.Writer) bool {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return false
	}
	logger.Debug("command", "session", session, "line", line)
	return s.commands.Dispatch(line, s.store, out)
}
