package main

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/amp-labs/denguebot/conversation"
	"github.com/amp-labs/denguebot/denguebot"
	"github.com/amp-labs/denguebot/guards"
	"github.com/amp-labs/denguebot/statemachine"
	"github.com/amp-labs/denguebot/statemachine/validator"
	"github.com/spf13/cobra"
)

var (
	errValidationFailed = errors.New("configuration is invalid")
	errUnknownTemplate  = errors.New("callback references an unknown reply template")
	errFixNeedsOutput   = errors.New("--fix and --rename need --output")
)

// documentFlags adds the flags selecting the companion documents.
func documentFlags(cmd *cobra.Command) {
	cmd.Flags().String("conditions", "", "conditions document (default: bundled)")
	cmd.Flags().String("replies", "", "reply catalog (default: bundled)")
}

func loadDocuments(cmd *cobra.Command, fsmPath string) (denguebot.Documents, error) {
	conditions, err := cmd.Flags().GetString("conditions")
	if err != nil {
		return denguebot.Documents{}, err
	}

	replies, err := cmd.Flags().GetString("replies")
	if err != nil {
		return denguebot.Documents{}, err
	}

	return conversation.Sources{FSM: fsmPath, Conditions: conditions, Replies: replies}.Load()
}

// guardRegistry binds every guard the documents define. Address guards run
// without a geocoder since nothing is fired.
func guardRegistry(docs denguebot.Documents) (*statemachine.GuardRegistry, error) {
	return guards.NewRegistry(docs.Conditions, guards.Options{Languages: docs.Catalog})
}

// checkTemplates reports callbacks whose reply template is not in the catalog.
func checkTemplates(result validator.ValidationResult, cfg *statemachine.Config,
	docs denguebot.Documents, file string,
) validator.ValidationResult {
	for _, cb := range cfg.Callbacks {
		if cb.Template != "" && !docs.Catalog.Has(cb.Template) {
			result.Valid = false
			result.Errors = append(result.Errors, validator.ValidationError{
				Code:     "UNKNOWN_TEMPLATE",
				Message:  fmt.Sprintf("%s: %q", errUnknownTemplate, cb.Template),
				Location: validator.Location{File: file, State: cb.State},
			})
		}
	}

	return result
}

// fixConfig applies the result's fixes and the requested renames to a copy
// of the configuration.
func fixConfig(cfg *statemachine.Config, result validator.ValidationResult,
	renames map[string]string,
) (*statemachine.Config, []*validator.Fix, error) {
	fixes := result.Fixes()

	for _, from := range slices.Sorted(maps.Keys(renames)) {
		fixes = append(fixes, validator.RenameState(from, renames[from]))
	}

	fixed := cfg.Clone()

	if err := validator.ApplyFixes(fixed, fixes); err != nil {
		return nil, nil, err
	}

	return fixed, fixes, nil
}

func newValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <fsm>",
		Short: "Check a state machine configuration",
		Long: "Compile the configuration against the guards of the conditions document and report " +
			"unreachable states, duplicate or shadowed transitions, dead ends and unknown reply templates.\n\n" +
			"With --fix the automatic fixes are applied and the repaired configuration is written " +
			"to --output, then validated again.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()

			strict, _ := flags.GetBool("strict")
			fix, _ := flags.GetBool("fix")
			output, _ := flags.GetString("output")

			renames, err := flags.GetStringToString("rename")
			if err != nil {
				return err
			}

			if (fix || len(renames) > 0) && output == "" {
				return errFixNeedsOutput
			}

			docs, err := loadDocuments(cmd, args[0])
			if err != nil {
				return err
			}

			registry, err := guardRegistry(docs)
			if err != nil {
				return err
			}

			result, err := validator.ValidateFileWithOptions(args[0], registry, strict)
			if err != nil {
				return err
			}

			result = checkTemplates(result, docs.FSM, docs, args[0])

			out := cmd.OutOrStdout()

			if fix || len(renames) > 0 {
				var auto validator.ValidationResult
				if fix {
					auto = result
				}

				fixed, applied, err := fixConfig(docs.FSM, auto, renames)
				if err != nil {
					return err
				}

				data, err := fixed.MarshalIndentJSON()
				if err != nil {
					return err
				}

				if err := os.WriteFile(output, append(data, '\n'), 0o644); err != nil { //nolint:gosec
					return err
				}

				for _, f := range applied {
					fmt.Fprintln(out, "Applied:", f.Description)
				}

				fmt.Fprintf(out, "Wrote %s\n", output)

				result = validator.ValidateConfigWithOptions(fixed, registry, strict)
				result = checkTemplates(result, fixed, docs, output)
			}

			fmt.Fprintln(out, result.String())

			if !result.Valid {
				return errValidationFailed
			}

			return nil
		},
	}

	documentFlags(cmd)

	flags := cmd.Flags()
	flags.Bool("strict", false, "treat warnings as errors")
	flags.Bool("fix", false, "apply the automatic fixes and write the result to --output")
	flags.StringToString("rename", nil, "rename states, as old=new, when writing --output")
	flags.StringP("output", "o", "", "where to write the repaired configuration")

	return cmd
}
