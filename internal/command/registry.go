// Package command implements the command registry: named handlers with
// permission, scope and cooldown metadata, resolved case-insensitively by
// name or alias at dispatch time.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xpe-hub/xpe-bot/internal/message"
)

var (
	// ErrDuplicateCommand is returned when a name or alias is already taken.
	ErrDuplicateCommand = errors.New("duplicate command")
	// ErrInvalidDefinition is returned for definitions missing a name or handler.
	ErrInvalidDefinition = errors.New("invalid command definition")
)

// HandlerFunc executes a resolved command.
type HandlerFunc func(ctx context.Context, call *Call) error

// Call carries everything a handler needs about one invocation.
type Call struct {
	BotID      string
	ChatID     string
	SenderID   string
	SenderName string
	IsGroup    bool
	Command    string
	Args       []string
	Message    *message.Message

	// Reply sends a text response into the originating conversation.
	Reply func(text string) error
}

// Definition describes one registered command. Read-only after Register.
type Definition struct {
	Name            string
	Aliases         []string
	Handler         HandlerFunc
	RequiresAdmin   bool
	RequiresGroup   bool
	CooldownSeconds int
	Category        string
	Usage           string
}

// Code classifies a dispatch outcome. Rejections are expected control
// flow, not errors.
type Code string

const (
	CodeHandled      Code = "handled"
	CodeUnrecognized Code = "unrecognized"
	CodeRateLimited  Code = "rate_limited"
	CodeForbidden    Code = "forbidden"
	CodeWrongScope   Code = "wrong_scope"
	CodeHandlerError Code = "handler_error"
)

// Result is the structured outcome of a dispatch. Reason is human
// readable; the caller owns any user-facing reply text.
type Result struct {
	Code    Code
	Command string
	Reason  string
	Err     error
}

// AdminChecker answers whether a sender counts as an admin.
type AdminChecker func(senderID string) bool

// Registry maps command names and aliases to definitions.
type Registry struct {
	mu        sync.RWMutex
	defs      map[string]*Definition // primary name -> definition
	aliases   map[string]string      // alias -> primary name
	cooldowns *CooldownTracker
	isAdmin   AdminChecker
}

// NewRegistry creates an empty registry. isAdmin may be nil, in which
// case admin-only commands always reject.
func NewRegistry(isAdmin AdminChecker) *Registry {
	return &Registry{
		defs:      make(map[string]*Definition),
		aliases:   make(map[string]string),
		cooldowns: NewCooldownTracker(),
		isAdmin:   isAdmin,
	}
}

// Register adds a definition. Name and alias collisions are rejected,
// never silently shadowed.
func (r *Registry) Register(def Definition) error {
	name := strings.ToLower(strings.TrimSpace(def.Name))
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidDefinition)
	}
	if def.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalidDefinition, name)
	}
	def.Name = name

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.taken(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateCommand, name)
	}
	normalized := make([]string, 0, len(def.Aliases))
	for _, alias := range def.Aliases {
		alias = strings.ToLower(strings.TrimSpace(alias))
		if alias == "" || alias == name {
			continue
		}
		if r.taken(alias) {
			return fmt.Errorf("%w: alias %s", ErrDuplicateCommand, alias)
		}
		normalized = append(normalized, alias)
	}
	def.Aliases = normalized

	r.defs[name] = &def
	for _, alias := range def.Aliases {
		r.aliases[alias] = name
	}
	return nil
}

func (r *Registry) taken(name string) bool {
	if _, ok := r.defs[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}

// Definitions returns all registered definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, def := range r.defs {
		out = append(out, *def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Resolve finds a definition by name or alias, case-insensitively.
func (r *Registry) Resolve(name string) (*Definition, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	r.mu.RLock()
	defer r.mu.RUnlock()
	if def, ok := r.defs[name]; ok {
		return def, true
	}
	if primary, ok := r.aliases[name]; ok {
		return r.defs[primary], true
	}
	return nil, false
}

// Dispatch parses commandText (already stripped of the prefix), resolves
// the command and runs its handler. Handler failures, including panics,
// never propagate; they come back as CodeHandlerError.
func (r *Registry) Dispatch(ctx context.Context, commandText string, call *Call) Result {
	fields := strings.Fields(commandText)
	if len(fields) == 0 {
		return Result{Code: CodeUnrecognized, Reason: "empty command"}
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	def, ok := r.Resolve(name)
	if !ok {
		return Result{Code: CodeUnrecognized, Command: name, Reason: fmt.Sprintf("command %q not registered", name)}
	}

	if def.RequiresGroup && !call.IsGroup {
		return Result{Code: CodeWrongScope, Command: def.Name, Reason: "command only works in groups"}
	}
	if def.RequiresAdmin {
		if r.isAdmin == nil || !r.isAdmin(call.SenderID) {
			return Result{Code: CodeForbidden, Command: def.Name, Reason: "command requires admin"}
		}
	}
	if def.CooldownSeconds > 0 {
		window := time.Duration(def.CooldownSeconds) * time.Second
		if remaining := r.cooldowns.Remaining(def.Name, call.SenderID, window); remaining > 0 {
			return Result{
				Code:    CodeRateLimited,
				Command: def.Name,
				Reason:  fmt.Sprintf("retry in %s", remaining.Round(time.Second)),
			}
		}
		r.cooldowns.Record(def.Name, call.SenderID, window)
	}

	call.Command = def.Name
	call.Args = args

	if err := r.invoke(ctx, def, call); err != nil {
		return Result{Code: CodeHandlerError, Command: def.Name, Reason: "handler failed", Err: err}
	}
	return Result{Code: CodeHandled, Command: def.Name}
}

func (r *Registry) invoke(ctx context.Context, def *Definition, call *Call) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return def.Handler(ctx, call)
}

// Close releases the cooldown tracker's resources.
func (r *Registry) Close() {
	r.cooldowns.Stop()
}
