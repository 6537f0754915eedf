package guards

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"strings"

	"github.com/amp-labs/denguebot/statemachine"
	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"
)

var (
	// ErrInvalidConditions is returned for a malformed conditions document.
	ErrInvalidConditions = fmt.Errorf("%w: conditions", statemachine.ErrInvalidConfig)
	// ErrEmptyRule is returned for a keyword rule without any clause.
	ErrEmptyRule = fmt.Errorf("%w: keyword rule has no clauses", ErrInvalidConditions)
	// ErrCompositeShape is returned for a composite that does not set exactly one operator.
	ErrCompositeShape = fmt.Errorf("%w: composite must set exactly one of or, and, not", ErrInvalidConditions)
	// ErrCompositeCycle is returned when composites reference each other in a loop.
	ErrCompositeCycle = fmt.Errorf("%w: composite guards form a cycle", ErrInvalidConditions)
	// ErrSelectionOption is returned for a selection without an option.
	ErrSelectionOption = fmt.Errorf("%w: selection option is required", ErrInvalidConditions)
)

// Conditions is the declarative guard document: keyword rules over the
// message subject, boolean combinations of other guards, and menu selections.
type Conditions struct {
	Keywords   map[string]KeywordRule `yaml:"keywords"`
	Composites map[string]Composite   `yaml:"composites,omitempty"`
	Selections []Selection            `yaml:"selections,omitempty"`
}

// KeywordRule passes when every non-empty clause passes. Any is an OR of
// substrings, All an AND of substrings and Exact an OR of whole-string
// matches after trimming. Matching folds case unless CaseSensitive is set.
type KeywordRule struct {
	Any           []string `yaml:"any,omitempty"`
	All           []string `yaml:"all,omitempty"`
	Exact         []string `yaml:"exact,omitempty"`
	CaseSensitive bool     `yaml:"case_sensitive,omitempty"`
}

// Composite combines other guards. Exactly one operator must be set.
type Composite struct {
	Or  []string `yaml:"or,omitempty"`
	And []string `yaml:"and,omitempty"`
	Not string   `yaml:"not,omitempty"`
}

// Selection is a numbered menu entry: it passes when the message text equals
// Option or when Guard passes.
type Selection struct {
	Name   string `yaml:"name"`
	Option string `yaml:"option"`
	Guard  string `yaml:"guard,omitempty"`
}

// LoadConditions reads a conditions document from disk.
func LoadConditions(path string) (*Conditions, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Intentional path-based loading
	if err != nil {
		return nil, fmt.Errorf("failed to read conditions file %q: %w", path, err)
	}

	return LoadConditionsFromBytes(data)
}

// LoadConditionsFromFS reads a conditions document from fsys.
func LoadConditionsFromFS(fsys fs.FS, path string) (*Conditions, error) {
	data, err := fs.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read conditions from FS: %w", err)
	}

	return LoadConditionsFromBytes(data)
}

// LoadConditionsFromBytes parses and validates a conditions document.
func LoadConditionsFromBytes(data []byte) (*Conditions, error) {
	var conds Conditions

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(&conds); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidConditions, err)
	}

	if err := conds.Validate(); err != nil {
		return nil, err
	}

	return &conds, nil
}

// Validate checks the document shape. Guard references are resolved when
// the conditions are registered.
func (c *Conditions) Validate() error {
	var errs []error

	for name, rule := range c.Keywords {
		if len(rule.Any) == 0 && len(rule.All) == 0 && len(rule.Exact) == 0 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrEmptyRule, name))
		}
	}

	for name, comp := range c.Composites {
		set := 0

		if len(comp.Or) > 0 {
			set++
		}

		if len(comp.And) > 0 {
			set++
		}

		if comp.Not != "" {
			set++
		}

		if set != 1 {
			errs = append(errs, fmt.Errorf("%w: %s", ErrCompositeShape, name))
		}
	}

	for idx, sel := range c.Selections {
		if sel.Name == "" {
			errs = append(errs, fmt.Errorf("%w: selection %d has no name", ErrInvalidConditions, idx))
		}

		if sel.Option == "" {
			errs = append(errs, fmt.Errorf("%w: %s", ErrSelectionOption, sel.Name))
		}
	}

	return errors.Join(errs...)
}

// Match reports whether subject satisfies the rule.
func (r KeywordRule) Match(subject string) bool {
	return r.compile().match(subject)
}

type matcher struct {
	any, all, exact []string
	fold            bool
}

func (r KeywordRule) compile() *matcher {
	m := &matcher{fold: !r.CaseSensitive}

	m.any = m.normalizeAll(r.Any)
	m.all = m.normalizeAll(r.All)
	m.exact = m.normalizeAll(r.Exact)

	return m
}

func (m *matcher) normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, m.normalize(v))
	}

	return out
}

func (m *matcher) normalize(s string) string {
	s = strings.TrimSpace(s)
	if !m.fold {
		return s
	}

	// Casers keep state, so each call gets its own.
	return cases.Fold().String(s)
}

func (m *matcher) match(subject string) bool {
	if subject == "" {
		return false
	}

	subject = m.normalize(subject)

	if len(m.any) > 0 && !slices.ContainsFunc(m.any, func(k string) bool { return strings.Contains(subject, k) }) {
		return false
	}

	for _, keyword := range m.all {
		if !strings.Contains(subject, keyword) {
			return false
		}
	}

	if len(m.exact) > 0 && !slices.Contains(m.exact, subject) {
		return false
	}

	return true
}

// references returns the guard names a composite depends on.
func (c Composite) references() []string {
	switch {
	case len(c.Or) > 0:
		return c.Or
	case len(c.And) > 0:
		return c.And
	case c.Not != "":
		return []string{c.Not}
	default:
		return nil
	}
}

// checkCycles fails when composites and selections reference each other in
// a loop.
func (c *Conditions) checkCycles() error {
	deps := make(map[string][]string, len(c.Composites)+len(c.Selections))

	for name, comp := range c.Composites {
		deps[name] = comp.references()
	}

	for _, sel := range c.Selections {
		if sel.Guard != "" {
			deps[sel.Name] = append(deps[sel.Name], sel.Guard)
		}
	}

	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}

	slices.Sort(names)

	const (
		visiting = iota + 1
		done
	)

	marks := make(map[string]int, len(names))

	var visit func(name string) error

	visit = func(name string) error {
		switch marks[name] {
		case visiting:
			return fmt.Errorf("%w: %s", ErrCompositeCycle, name)
		case done:
			return nil
		}

		marks[name] = visiting

		for _, ref := range deps[name] {
			if err := visit(ref); err != nil {
				return err
			}
		}

		marks[name] = done

		return nil
	}

	for _, name := range names {
		if err := visit(name); err != nil {
			return err
		}
	}

	return nil
}
