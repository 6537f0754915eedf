// Package visualizer renders transition tables as Mermaid or Graphviz
// diagrams.
//
//nolint:varnamelen // short names idiomatic
package visualizer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/amp-labs/denguebot/statemachine"
)

// Visualizer errors.
var (
	ErrTableNil      = errors.New("table cannot be nil")
	ErrDotNotFound   = errors.New("dot binary not found")
	ErrDotFailed     = errors.New("dot execution failed")
	ErrUnknownFormat = errors.New("unknown diagram format")
)

// Supported formats.
const (
	FormatMermaid = "mermaid"
	FormatDOT     = "dot"
	FormatPNG     = "png"
)

// GenerateMermaid converts a table to a Mermaid state diagram.
func GenerateMermaid(table *statemachine.Table) (string, error) {
	return GenerateMermaidWithOptions(table, DefaultOptions())
}

// GenerateMermaidWithOptions generates a Mermaid diagram with custom options.
func GenerateMermaidWithOptions(table *statemachine.Table, opts Options) (string, error) {
	if table == nil {
		return "", ErrTableNil
	}

	var sb strings.Builder

	if opts.Fenced {
		sb.WriteString("```mermaid\n")
	}

	fmt.Fprintf(&sb, "stateDiagram-v2\n    direction %s\n", direction(opts))
	fmt.Fprintf(&sb, "    [*] --> %s\n", table.InitialState())

	for _, route := range routes(table, opts) {
		label := ""
		if opts.ShowConditions {
			label = " : " + routeLabel(route)
		}

		fmt.Fprintf(&sb, "    %s --> %s%s\n", route.Source, route.Dest, label)
	}

	highlight := highlightSet(opts)

	for _, state := range table.States() {
		switch {
		case highlight[state]:
			fmt.Fprintf(&sb, "    class %s highlighted\n", state)
		case state == table.FallbackState():
			fmt.Fprintf(&sb, "    class %s fallbackState\n", state)
		case state == table.InitialState():
			fmt.Fprintf(&sb, "    class %s initialState\n", state)
		}
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef initialState fill:#e1f5ff,stroke:#01579b,stroke-width:2px\n")
	sb.WriteString("    classDef fallbackState fill:#ffcdd2,stroke:#b71c1c,stroke-width:2px\n")
	sb.WriteString("    classDef highlighted fill:#fff9c4,stroke:#f57f17,stroke-width:3px\n")

	if opts.Fenced {
		sb.WriteString("```\n")
	}

	return sb.String(), nil
}

// GenerateDOT converts a table to a Graphviz digraph.
func GenerateDOT(table *statemachine.Table, opts Options) (string, error) {
	if table == nil {
		return "", ErrTableNil
	}

	var sb strings.Builder

	rankdir := "LR"
	if direction(opts) == "TD" {
		rankdir = "TB"
	}

	sb.WriteString("digraph fsm {\n")
	fmt.Fprintf(&sb, "  rankdir=%s;\n", rankdir)
	sb.WriteString("  node [shape=box, style=rounded];\n")

	highlight := highlightSet(opts)

	for _, state := range table.States() {
		attrs := []string{fmt.Sprintf("label=%q", state)}

		switch {
		case highlight[state]:
			attrs = append(attrs, `style="rounded,filled"`, `fillcolor="#fff9c4"`)
		case state == table.FallbackState():
			attrs = append(attrs, `style="rounded,filled"`, `fillcolor="#ffcdd2"`)
		case state == table.InitialState():
			attrs = append(attrs, "peripheries=2")
		}

		fmt.Fprintf(&sb, "  %q [%s];\n", state, strings.Join(attrs, ", "))
	}

	for _, route := range routes(table, opts) {
		attrs := []string{}
		if opts.ShowConditions {
			attrs = append(attrs, fmt.Sprintf("label=%q", routeLabel(route)))
		}

		if route.Implicit {
			attrs = append(attrs, "style=dashed")
		}

		fmt.Fprintf(&sb, "  %q -> %q", route.Source, route.Dest)

		if len(attrs) > 0 {
			fmt.Fprintf(&sb, " [%s]", strings.Join(attrs, ", "))
		}

		sb.WriteString(";\n")
	}

	sb.WriteString("}\n")

	return sb.String(), nil
}

// GraphvizRenderer runs the `dot` binary.
type GraphvizRenderer struct {
	// DotPath is the dot executable; empty means look it up on PATH.
	DotPath string
	// Args are appended after -Tpng.
	Args []string
	// Env is appended to the child process environment.
	Env []string
}

func (r GraphvizRenderer) resolveDot() (string, error) {
	name := r.DotPath
	if name == "" {
		name = "dot"
	}

	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDotNotFound, err)
	}

	return path, nil
}

// RenderPNG renders the table's DOT output to PNG through `dot -Tpng`.
func (r GraphvizRenderer) RenderPNG(ctx context.Context, table *statemachine.Table, opts Options) ([]byte, error) {
	dotPath, err := r.resolveDot()
	if err != nil {
		return nil, err
	}

	dot, err := GenerateDOT(table, opts)
	if err != nil {
		return nil, err
	}

	args := append([]string{"-Tpng"}, r.Args...)
	cmd := exec.CommandContext(ctx, dotPath, args...) //nolint:gosec // dot path resolved via LookPath
	cmd.Stdin = strings.NewReader(dot)

	var stdout, stderr bytes.Buffer

	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%w: %w: %s", ErrDotFailed, err, msg)
		}

		return nil, fmt.Errorf("%w: %w", ErrDotFailed, err)
	}

	return stdout.Bytes(), nil
}

// Render produces a diagram in the named format, returning the bytes and
// their content type.
func Render(
	ctx context.Context,
	table *statemachine.Table,
	format string,
	opts Options,
	renderer GraphvizRenderer,
) ([]byte, string, error) {
	switch format {
	case "", FormatMermaid:
		out, err := GenerateMermaidWithOptions(table, opts)

		return []byte(out), "text/plain; charset=utf-8", err
	case FormatDOT:
		out, err := GenerateDOT(table, opts)

		return []byte(out), "text/vnd.graphviz; charset=utf-8", err
	case FormatPNG:
		out, err := renderer.RenderPNG(ctx, table, opts)

		return out, "image/png", err
	default:
		return nil, "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func routes(table *statemachine.Table, opts Options) []statemachine.Route {
	all := table.Routes()
	if opts.ShowImplicit {
		return all
	}

	return slices.DeleteFunc(all, func(r statemachine.Route) bool { return r.Implicit })
}

func routeLabel(route statemachine.Route) string {
	var parts []string

	parts = append(parts, route.Trigger)

	if len(route.Conditions) > 0 {
		parts = append(parts, "["+strings.Join(route.Conditions, " & ")+"]")
	}

	if len(route.Unless) > 0 {
		parts = append(parts, "[!"+strings.Join(route.Unless, " & !")+"]")
	}

	return strings.Join(parts, " ")
}

func direction(opts Options) string {
	if opts.Direction == "" {
		return "LR"
	}

	return opts.Direction
}

func highlightSet(opts Options) map[string]bool {
	out := make(map[string]bool, len(opts.HighlightPath))
	for _, state := range opts.HighlightPath {
		out[state] = true
	}

	return out
}
