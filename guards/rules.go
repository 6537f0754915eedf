package guards

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/amp-labs/denguebot/event"
	"github.com/amp-labs/denguebot/statemachine"
)

// RegisterConditions registers every keyword rule, selection and composite
// in conds. Composites and selections evaluate the guards they reference
// through registry at call time; every reference must resolve once all rules
// are registered.
func RegisterConditions(registry *statemachine.GuardRegistry, conds *Conditions) error {
	if err := conds.Validate(); err != nil {
		return err
	}

	if err := conds.checkCycles(); err != nil {
		return err
	}

	var errs []error

	for _, name := range slices.Sorted(maps.Keys(conds.Keywords)) {
		errs = append(errs, registry.Register(name, keywordGuard(conds.Keywords[name].compile())))
	}

	for _, sel := range conds.Selections {
		errs = append(errs, registry.Register(sel.Name, selectionGuard(registry, sel)))
	}

	for _, name := range slices.Sorted(maps.Keys(conds.Composites)) {
		errs = append(errs, registry.Register(name, compositeGuard(registry, conds.Composites[name])))
	}

	if err := errors.Join(errs...); err != nil {
		return err
	}

	for _, ref := range conds.references() {
		if !registry.Has(ref) {
			errs = append(errs, fmt.Errorf("%w: %s", statemachine.ErrUnknownGuard, ref))
		}
	}

	return errors.Join(errs...)
}

// references lists every guard name a composite or selection depends on.
func (c *Conditions) references() []string {
	var refs []string

	for _, comp := range c.Composites {
		refs = append(refs, comp.references()...)
	}

	for _, sel := range c.Selections {
		if sel.Guard != "" {
			refs = append(refs, sel.Guard)
		}
	}

	slices.Sort(refs)

	return slices.Compact(refs)
}

func keywordGuard(m *matcher) statemachine.Guard {
	return func(_ context.Context, fc *statemachine.Context) (bool, error) {
		return m.match(fc.Event.Subject()), nil
	}
}

func selectionGuard(registry *statemachine.GuardRegistry, sel Selection) statemachine.Guard {
	option := strings.TrimSpace(sel.Option)

	return func(ctx context.Context, fc *statemachine.Context) (bool, error) {
		if fc.Event.Kind == event.KindText && strings.TrimSpace(fc.Event.Text) == option {
			return true, nil
		}

		if sel.Guard == "" {
			return false, nil
		}

		return registry.Evaluate(ctx, sel.Guard, fc)
	}
}

func compositeGuard(registry *statemachine.GuardRegistry, comp Composite) statemachine.Guard {
	switch {
	case len(comp.Or) > 0:
		return func(ctx context.Context, fc *statemachine.Context) (bool, error) {
			for _, name := range comp.Or {
				ok, err := registry.Evaluate(ctx, name, fc)
				if err != nil {
					return false, err
				}

				if ok {
					return true, nil
				}
			}

			return false, nil
		}
	case len(comp.And) > 0:
		return func(ctx context.Context, fc *statemachine.Context) (bool, error) {
			for _, name := range comp.And {
				ok, err := registry.Evaluate(ctx, name, fc)
				if err != nil || !ok {
					return false, err
				}
			}

			return true, nil
		}
	default:
		return func(ctx context.Context, fc *statemachine.Context) (bool, error) {
			ok, err := registry.Evaluate(ctx, comp.Not, fc)
			if err != nil {
				return false, err
			}

			return !ok, nil
		}
	}
}
