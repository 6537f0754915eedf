package main

import (
	"os"

	"github.com/amp-labs/denguebot/statemachine"
	"github.com/amp-labs/denguebot/statemachine/visualizer"
	"github.com/spf13/cobra"
)

func newDiagramCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diagram [fsm]",
		Short: "Render the state diagram",
		Long:  "Render a configuration, or the bundled one, as Mermaid, Graphviz DOT or PNG (needs dot).",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()

			format, _ := flags.GetString("format")
			output, _ := flags.GetString("output")
			hideConditions, _ := flags.GetBool("hide-conditions")
			direction, _ := flags.GetString("direction")
			dotPath, _ := flags.GetString("dot")
			implicit, _ := flags.GetBool("implicit")
			fenced, _ := flags.GetBool("fenced")

			var fsmPath string
			if len(args) == 1 {
				fsmPath = args[0]
			}

			docs, err := loadDocuments(cmd, fsmPath)
			if err != nil {
				return err
			}

			registry, err := guardRegistry(docs)
			if err != nil {
				return err
			}

			table, err := statemachine.NewTable(docs.FSM, registry)
			if err != nil {
				return err
			}

			opts := visualizer.DefaultOptions().
				WithShowConditions(!hideConditions).
				WithDirection(direction).
				WithShowImplicit(implicit).
				WithFenced(fenced)

			out, _, err := visualizer.Render(cmd.Context(), table, format, opts,
				visualizer.GraphvizRenderer{DotPath: dotPath})
			if err != nil {
				return err
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(out)

				return err
			}

			return os.WriteFile(output, out, 0o644) //nolint:gosec // Diagrams are not secret.
		},
	}

	documentFlags(cmd)

	flags := cmd.Flags()
	flags.StringP("format", "f", visualizer.FormatMermaid, "mermaid, dot or png")
	flags.StringP("output", "o", "", "output file (default stdout)")
	flags.Bool("hide-conditions", false, "omit guard labels")
	flags.String("direction", "LR", "diagram direction, LR or TD")
	flags.Bool("implicit", false, "include the fallback and return routes")
	flags.Bool("fenced", false, "wrap Mermaid output in a markdown code fence")
	flags.String("dot", "", "path to the Graphviz dot binary")

	return cmd
}
