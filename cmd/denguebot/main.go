// Command denguebot runs the dengue fever LINE bot and its maintenance tools.
package main

import (
	"context"

	"github.com/amp-labs/denguebot/logger"
	"github.com/spf13/cobra"
)

const appName = "denguebot"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Dengue fever LINE chatbot",
		Long:          "A LINE chatbot answering dengue fever questions through a configurable conversation state machine.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringSlice("env-file", nil, "dotenv files to load (default .env)")

	root.AddCommand(
		newServeCmd(),
		newValidateCmd(),
		newDiagramCmd(),
		newFacilitiesCmd(),
	)

	return root
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		logger.Fatal("Command failed", "error", err)
	}
}
