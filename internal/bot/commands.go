package bot

import (
	"context"
	"strings"
)

// CommandFunc handles a command with its already trimmed arguments.
type CommandFunc func(ctx context.Context, ev Event, lang, args string)

// ignoreArgs adapts a handler that takes no arguments.
func ignoreArgs(fn func(ctx context.Context, ev Event, lang string)) CommandFunc {
	return func(ctx context.Context, ev Event, lang, _ string) {
		fn(ctx, ev, lang)
	}
}

// Command describes a registered slash command.
type Command struct {
	Name string
	// UsageKey is the locale key replied when the command needs arguments and got none.
	UsageKey string
	// Limited commands pass the per-user rate limiter before running.
	Limited bool
	Run     CommandFunc
}

// RequiresArgs reports whether the command refuses to run without arguments.
func (c Command) RequiresArgs() bool {
	return c.UsageKey != ""
}

// Registry maps command names to handlers.
type Registry struct {
	commands map[string]Command
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command)}
}

// Register adds or replaces a command.
func (r *Registry) Register(cmd Command) {
	r.commands[strings.ToLower(cmd.Name)] = cmd
}

// Lookup finds a command by name, ignoring case and any "@botname" suffix.
func (r *Registry) Lookup(name string) (Command, bool) {
	name = strings.TrimPrefix(name, "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	cmd, ok := r.commands[strings.ToLower(name)]
	return cmd, ok
}
