package command

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Provisioner creates additional bot identities on demand. Implemented
// by the supervisor; kept as an interface so builtins stay testable.
type Provisioner interface {
	CreateSubIdentity(ctx context.Context) (identity string, err error)
}

// BuiltinDeps carries the runtime facts the builtin commands report on.
type BuiltinDeps struct {
	StartedAt   time.Time
	Version     string
	Provisioner Provisioner
}

// RegisterBuiltins installs the stock command set: ping, menu, info,
// uptime and serbot.
func RegisterBuiltins(r *Registry, deps BuiltinDeps) error {
	defs := []Definition{
		{
			Name:     "ping",
			Aliases:  []string{"p"},
			Category: "system",
			Usage:    "ping - measure response time",
			Handler: func(ctx context.Context, call *Call) error {
				var latency time.Duration
				if call.Message != nil && !call.Message.ReceivedAt.IsZero() {
					latency = time.Since(call.Message.ReceivedAt)
				}
				return call.Reply(fmt.Sprintf("🏓 Pong! %dms", latency.Milliseconds()))
			},
		},
		{
			Name:     "menu",
			Aliases:  []string{"help", "commands"},
			Category: "system",
			Usage:    "menu - list available commands",
			Handler: func(ctx context.Context, call *Call) error {
				return call.Reply(renderMenu(r))
			},
		},
		{
			Name:     "info",
			Category: "system",
			Usage:    "info - show bot details",
			Handler: func(ctx context.Context, call *Call) error {
				var b strings.Builder
				fmt.Fprintf(&b, "🤖 Bot: %s\n", call.BotID)
				fmt.Fprintf(&b, "Version: %s\n", deps.Version)
				fmt.Fprintf(&b, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
				fmt.Fprintf(&b, "Started: %s", deps.StartedAt.Format(time.RFC3339))
				return call.Reply(b.String())
			},
		},
		{
			Name:     "uptime",
			Category: "system",
			Usage:    "uptime - show time since start",
			Handler: func(ctx context.Context, call *Call) error {
				return call.Reply(fmt.Sprintf("⏱️ Uptime: %s", formatUptime(time.Since(deps.StartedAt))))
			},
		},
		{
			Name:            "serbot",
			Aliases:         []string{"subbot"},
			Category:        "system",
			Usage:           "serbot - provision a new linked bot",
			CooldownSeconds: 60,
			Handler: func(ctx context.Context, call *Call) error {
				if deps.Provisioner == nil {
					return call.Reply("Sub-bot provisioning is not enabled on this instance.")
				}
				identity, err := deps.Provisioner.CreateSubIdentity(ctx)
				if err != nil {
					return fmt.Errorf("create sub identity: %w", err)
				}
				return call.Reply(fmt.Sprintf("✅ New bot created: %s\nOpen the panel to scan its QR code.", identity))
			},
		},
	}
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// UnrecognizedReply is the user-facing response for an unknown command.
func UnrecognizedReply(name, prefix string) string {
	return fmt.Sprintf("Command %q not recognized. Use %smenu to see available commands.", name, prefix)
}

func renderMenu(r *Registry) string {
	var b strings.Builder
	b.WriteString("📋 Available commands:\n")
	current := ""
	for _, def := range r.Definitions() {
		if def.Category != current {
			current = def.Category
			fmt.Fprintf(&b, "\n[%s]\n", current)
		}
		usage := def.Usage
		if usage == "" {
			usage = def.Name
		}
		fmt.Fprintf(&b, "• %s\n", usage)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Second)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
