// Package router matches incoming /commands to handlers and runs them
// through a middleware chain.
package router

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"github.com/storedesk/ticketbot/core/logger"
)

// ErrCommandNotFound is returned by Dispatch for unregistered commands.
var ErrCommandNotFound = errors.New("command not found")

// Request carries one parsed command invocation.
type Request struct {
	Command   string
	Args      []string
	UserID    int64
	ChatID    int64
	MessageID int
	Text      string
}

// HandlerFunc executes a command.
type HandlerFunc func(ctx context.Context, req *Request) error

// Middleware wraps a handler. It must call next to continue the chain.
type Middleware func(ctx context.Context, req *Request, next HandlerFunc) error

type command struct {
	name        string
	description string
	handler     HandlerFunc
	middleware  []Middleware
}

// Info describes a registered command for help output.
type Info struct {
	Name        string
	Description string
}

// Router is a case-sensitive exact-match command registry. Registration
// happens at startup; Dispatch is safe for concurrent use afterwards.
type Router struct {
	commands map[string]*command
	global   []Middleware
	botName  string
}

func New(botName string) *Router {
	return &Router{
		commands: make(map[string]*command),
		botName:  botName,
	}
}

// Use appends middleware applied to every command.
func (r *Router) Use(mw ...Middleware) {
	r.global = append(r.global, mw...)
}

// Handle registers a command by bare name, without the leading slash.
func (r *Router) Handle(name, description string, h HandlerFunc, mw ...Middleware) {
	r.commands[name] = &command{
		name:        name,
		description: description,
		handler:     h,
		middleware:  mw,
	}
}

// Commands lists registered commands sorted by name.
func (r *Router) Commands() []Info {
	out := make([]Info, 0, len(r.commands))
	for _, c := range r.commands {
		out = append(out, Info{Name: c.name, Description: c.description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch parses text as a command line and runs the matching handler.
// The first whitespace token is the command, the rest are positional
// arguments. A trailing @botname on the command is stripped so commands
// work in group chats.
func (r *Router) Dispatch(ctx context.Context, req *Request) error {
	fields := strings.Fields(req.Text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ErrCommandNotFound
	}
	name := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		if r.botName != "" && !strings.EqualFold(name[at+1:], r.botName) {
			return ErrCommandNotFound
		}
		name = name[:at]
	}

	cmd, ok := r.commands[name]
	if !ok {
		return ErrCommandNotFound
	}

	req.Command = name
	req.Args = fields[1:]

	logger.Debug(ctx, logger.TG, "command.dispatch",
		slog.String("command", name),
		slog.Int("args", len(req.Args)),
		slog.Int64("user_id", req.UserID),
	)

	h := cmd.handler
	chain := make([]Middleware, 0, len(r.global)+len(cmd.middleware))
	chain = append(chain, r.global...)
	chain = append(chain, cmd.middleware...)
	for i := len(chain) - 1; i >= 0; i-- {
		mw, next := chain[i], h
		h = func(ctx context.Context, req *Request) error {
			return mw(ctx, req, next)
		}
	}
	return h(ctx, req)
}
