package visualizer

// Options configures the visualization output.
type Options struct {
	// ShowConditions shows transition triggers and guards as labels
	ShowConditions bool

	// ShowImplicit includes the fallback and return routes every table carries
	ShowImplicit bool

	// Direction controls diagram flow: "TD" (top-down) or "LR" (left-right)
	Direction string

	// HighlightPath highlights a specific state path through the diagram
	HighlightPath []string

	// Fenced wraps Mermaid output in a markdown code fence
	Fenced bool
}

// DefaultOptions returns sensible defaults for visualization.
func DefaultOptions() Options {
	return Options{
		ShowConditions: true,
		Direction:      "LR",
	}
}

// WithShowConditions enables/disables transition labels.
func (o Options) WithShowConditions(show bool) Options {
	o.ShowConditions = show

	return o
}

// WithShowImplicit enables/disables implicit routes.
func (o Options) WithShowImplicit(show bool) Options {
	o.ShowImplicit = show

	return o
}

// WithDirection sets the diagram direction.
func (o Options) WithDirection(direction string) Options {
	o.Direction = direction

	return o
}

// WithHighlightPath sets states to highlight.
func (o Options) WithHighlightPath(path []string) Options {
	o.HighlightPath = path

	return o
}

// WithFenced enables/disables the markdown fence around Mermaid output.
func (o Options) WithFenced(fenced bool) Options {
	o.Fenced = fenced

	return o
}
