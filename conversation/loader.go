package conversation

import (
	"context"
	"errors"
	"fmt"

	"github.com/amp-labs/denguebot/denguebot"
	"github.com/amp-labs/denguebot/guards"
	"github.com/amp-labs/denguebot/replies"
	"github.com/amp-labs/denguebot/statemachine"
)

// ErrNoLoader is returned by Reload on a service built without a loader.
var ErrNoLoader = errors.New("no configuration loader")

// Sources names the configuration documents on disk. An empty path selects
// the bundled document.
type Sources struct {
	FSM        string
	Conditions string
	Replies    string
}

// Paths returns the non-empty paths, for watching.
func (s Sources) Paths() []string {
	var paths []string

	for _, path := range []string{s.FSM, s.Conditions, s.Replies} {
		if path != "" {
			paths = append(paths, path)
		}
	}

	return paths
}

// Load reads the documents, falling back to the bundled ones.
func (s Sources) Load() (denguebot.Documents, error) {
	docs, err := denguebot.BundledDocuments()
	if err != nil {
		return denguebot.Documents{}, fmt.Errorf("bundled documents: %w", err)
	}

	if s.FSM != "" {
		if docs.FSM, err = statemachine.LoadConfig(s.FSM); err != nil {
			return denguebot.Documents{}, err
		}
	}

	if s.Conditions != "" {
		if docs.Conditions, err = guards.LoadConditions(s.Conditions); err != nil {
			return denguebot.Documents{}, err
		}
	}

	if s.Replies != "" {
		if docs.Catalog, err = replies.Load(s.Replies); err != nil {
			return denguebot.Documents{}, err
		}
	}

	return docs, nil
}

// Loader builds machines from documents on disk.
type Loader struct {
	sources Sources
	deps    denguebot.MachineDeps
}

// NewLoader creates a loader binding the documents in sources to deps.
func NewLoader(sources Sources, deps denguebot.MachineDeps) *Loader {
	return &Loader{sources: sources, deps: deps}
}

// Sources returns the document locations.
func (l *Loader) Sources() Sources {
	return l.sources
}

// Build loads the documents and compiles a machine. It matches the build
// function of statemachine.Holder.Reload.
func (l *Loader) Build(_ context.Context) (*statemachine.Machine, error) {
	docs, err := l.sources.Load()
	if err != nil {
		return nil, err
	}

	return denguebot.NewMachine(docs, l.deps)
}
