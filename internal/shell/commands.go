package shell

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"findb/pkg/findb"
	"findb/pkg/kv"
)

// CommandContext holds the state available to command handlers.
type CommandContext struct {
	Store kv.Store
	Out   io.Writer
	Args  []string
}

// CommandHandler runs one shell command. Returns true if the session
// should end (e.g., quit).
type CommandHandler func(ctx CommandContext) bool

// Command describes a registered shell command.
type Command struct {
	Usage   string // full usage for help (e.g., "get <key>"); defaults to command name
	Help    string
	MinArgs int
	Handler CommandHandler
}

// CommandRegistry maps command names to handlers and produces dynamic help.
// It is safe for concurrent use. Once frozen (via Freeze), no new commands
// can be registered.
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[string]Command
	order    []string // insertion order for stable help output
	frozen   bool
}

// NewCommandRegistry creates an empty registry.
func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]Command),
	}
}

// Register adds a command to the registry. Registering the same name twice
// overwrites the previous entry. Panics if cmd.Handler is nil or if the
// registry is frozen.
func (r *CommandRegistry) Register(name string, cmd Command) {
	if cmd.Handler == nil {
		panic("shell: Register called with nil handler for " + name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic("shell: Register called on frozen registry for " + name)
	}
	if _, exists := r.commands[name]; !exists {
		r.order = append(r.order, name)
	}
	r.commands[name] = cmd
}

// Freeze prevents further command registration. Called when a shell starts.
func (r *CommandRegistry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Dispatch parses a command line and calls the matching handler.
// Command names are case-insensitive. Returns true if the session should end.
func (r *CommandRegistry) Dispatch(line string, store kv.Store, out io.Writer) bool {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return false
	}
	name := strings.ToLower(parts[0])
	args := parts[1:]

	r.mu.RLock()
	cmd, ok := r.commands[name]
	r.mu.RUnlock()

	if !ok {
		_, _ = fmt.Fprintf(out, "Unknown command: %s (try help)\n", parts[0])
		return false
	}
	if len(args) < cmd.MinArgs {
		_, _ = fmt.Fprintf(out, "Usage: %s\n", usage(name, cmd))
		return false
	}

	return cmd.Handler(CommandContext{
		Store: store,
		Out:   out,
		Args:  args,
	})
}

// HelpText returns a formatted help string listing all registered commands
// in registration order.
func (r *CommandRegistry) HelpText() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range r.order {
		cmd := r.commands[name]
		_, _ = fmt.Fprintf(&b, "  %-24s %s\n", usage(name, cmd), cmd.Help)
	}
	return b.String()
}

func usage(name string, cmd Command) string {
	if cmd.Usage != "" {
		return cmd.Usage
	}
	return name
}

// RegisterBuiltins registers help and quit.
func (r *CommandRegistry) RegisterBuiltins() {
	r.Register("help", Command{
		Help: "show this help",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprint(ctx.Out, r.HelpText())
			return false
		},
	})

	quit := Command{
		Help: "leave the shell",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprintln(ctx.Out, "Goodbye.")
			return true
		},
	}
	r.Register("quit", quit)
	r.Register("exit", Command{Help: "alias for quit", Handler: quit.Handler})
}

// RegisterStoreCommands registers one command per store operation.
func (r *CommandRegistry) RegisterStoreCommands() {
	r.Register("get", Command{
		Usage:   "get <key>",
		Help:    "print the value stored at key",
		MinArgs: 1,
		Handler: func(ctx CommandContext) bool {
			v, ok := ctx.Store.Get(ctx.Args[0])
			if !ok {
				_, _ = fmt.Fprintln(ctx.Out, "(nil)")
				return false
			}
			_, _ = fmt.Fprintf(ctx.Out, "%s (%s)\n", v, v.Kind())
			return false
		},
	})

	r.Register("set", Command{
		Usage:   "set <key> <value...>",
		Help:    "store a value (int, float or text, guessed)",
		MinArgs: 2,
		Handler: func(ctx CommandContext) bool {
			v := kv.Parse(strings.Join(ctx.Args[1:], " "))
			if _, err := ctx.Store.Set(ctx.Args[0], v); err != nil {
				printErr(ctx.Out, err)
				return false
			}
			_, _ = fmt.Fprintln(ctx.Out, "OK")
			return false
		},
	})

	r.Register("setx", Command{
		Usage:   "setx <type> <key> <value...>",
		Help:    "store a value of an explicit type (int|text|float|bool|bytes)",
		MinArgs: 3,
		Handler: func(ctx CommandContext) bool {
			v, err := kv.ParseAs(ctx.Args[0], strings.Join(ctx.Args[2:], " "))
			if err != nil {
				printErr(ctx.Out, err)
				return false
			}
			if _, err := ctx.Store.Set(ctx.Args[1], v); err != nil {
				printErr(ctx.Out, err)
				return false
			}
			_, _ = fmt.Fprintln(ctx.Out, "OK")
			return false
		},
	})

	r.Register("del", Command{
		Usage:   "del <key>",
		Help:    "delete a key",
		MinArgs: 1,
		Handler: func(ctx CommandContext) bool {
			if _, err := ctx.Store.Delete(ctx.Args[0]); err != nil {
				printErr(ctx.Out, err)
				return false
			}
			_, _ = fmt.Fprintln(ctx.Out, "OK")
			return false
		},
	})

	r.Register("incr", Command{
		Usage:   "incr <key> [amount]",
		Help:    "increment the integer at key",
		MinArgs: 1,
		Handler: counter(func(s kv.Store, k string, n int64) (int64, error) { return s.IncrBy(k, n) }),
	})

	r.Register("decr", Command{
		Usage:   "decr <key> [amount]",
		Help:    "decrement the integer at key",
		MinArgs: 1,
		Handler: counter(func(s kv.Store, k string, n int64) (int64, error) { return s.DecrBy(k, n) }),
	})

	r.Register("keys", Command{
		Help: "list all keys",
		Handler: func(ctx CommandContext) bool {
			keys := ctx.Store.Keys()
			slices.Sort(keys)
			for _, k := range keys {
				_, _ = fmt.Fprintln(ctx.Out, k)
			}
			_, _ = fmt.Fprintf(ctx.Out, "(%d keys)\n", len(keys))
			return false
		},
	})

	r.Register("dbsize", Command{
		Help: "print the number of keys",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprintln(ctx.Out, ctx.Store.DBSize())
			return false
		},
	})

	r.Register("lastsave", Command{
		Help: "print the time of the last save",
		Handler: func(ctx CommandContext) bool {
			_, _ = fmt.Fprintln(ctx.Out, ctx.Store.LastSave().Format(time.DateTime))
			return false
		},
	})

	r.Register("flushdb", Command{
		Help: "remove every key",
		Handler: func(ctx CommandContext) bool {
			if _, err := ctx.Store.FlushDB(); err != nil {
				printErr(ctx.Out, err)
				return false
			}
			_, _ = fmt.Fprintln(ctx.Out, "OK")
			return false
		},
	})

	r.Register("deletedb", Command{
		Help: "remove the database file",
		Handler: func(ctx CommandContext) bool {
			if err := ctx.Store.DeleteDB(); err != nil {
				printErr(ctx.Out, err)
				return false
			}
			_, _ = fmt.Fprintln(ctx.Out, "OK")
			return false
		},
	})

	r.Register("info", Command{
		Help: "show database and operation statistics",
		Handler: func(ctx CommandContext) bool {
			printInfo(ctx.Out, ctx.Store)
			return false
		},
	})
}

func counter(op func(kv.Store, string, int64) (int64, error)) CommandHandler {
	return func(ctx CommandContext) bool {
		amount := int64(1)
		if len(ctx.Args) > 1 {
			v, err := kv.ParseAs("int", ctx.Args[1])
			if err != nil {
				printErr(ctx.Out, err)
				return false
			}
			amount, _ = v.Int()
		}
		n, err := op(ctx.Store, ctx.Args[0], amount)
		if err != nil {
			printErr(ctx.Out, err)
			return false
		}
		_, _ = fmt.Fprintln(ctx.Out, n)
		return false
	}
}

func printErr(out io.Writer, err error) {
	_, _ = fmt.Fprintf(out, "ERR %v\n", err)
}

type locator interface {
	Location() string
}

type metered interface {
	Metrics() findb.Metrics
}

type unwrapper interface {
	Unwrap() kv.Store
}

func printInfo(out io.Writer, store kv.Store) {
	location := "(memory)"
	inner := store
	if u, ok := store.(unwrapper); ok {
		inner = u.Unwrap()
	}
	if l, ok := inner.(locator); ok && l.Location() != "" {
		location = l.Location()
	}
	_, _ = fmt.Fprintf(out, "location: %s\n", location)
	_, _ = fmt.Fprintf(out, "keys:     %d\n", store.DBSize())
	_, _ = fmt.Fprintf(out, "lastsave: %s\n", store.LastSave().Format(time.DateTime))

	m, ok := store.(metered)
	if !ok {
		return
	}
	stats := m.Metrics()
	rows := []struct {
		name string
		op   findb.OpMetrics
	}{
		{"get", stats.Get},
		{"set", stats.Set},
		{"del", stats.Delete},
		{"incr", stats.Incr},
		{"decr", stats.Decr},
		{"flushdb", stats.Flush},
	}
	for _, row := range rows {
		_, _ = fmt.Fprintf(out, "%-8s  calls=%d avg=%s\n", row.name, row.op.Count, row.op.AvgLatency)
	}
	_, _ = fmt.Fprintf(out, "errors:   %d\n", stats.Errors)
}
