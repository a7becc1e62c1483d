package commands

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/remold/remold/pkg/specfile"
)

func newCheckCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [path...]",
		Short: "Check spec documents without evaluating them",
		Long: `Check loads and compiles each spec document, reporting syntax errors,
unknown directives and invalid metadata without evaluating anything.`,
		Example: `  # Check a single spec
  remold check spec.cue

  # Check several specs at once
  remold check specs/*.cue`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := specfile.NewLoader()
			failed := 0

			for _, path := range args {
				doc, err := loader.Load(path)
				if err != nil {
					log.Error().Err(err).Str("document", path).Msg("Failed to load document")
					failed++
					continue
				}
				if !doc.Valid() {
					failed++
					if jsonOutput {
						encoded, _ := json.MarshalIndent(doc.Errors, "", "  ")
						fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
					} else {
						for _, le := range doc.Errors {
							fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", path, le.Error())
						}
					}
					continue
				}

				name := ""
				if doc.Meta != nil {
					name = doc.Meta.Name
				}
				log.Info().
					Str("document", path).
					Str("name", name).
					Int("files", len(doc.SourceFiles)).
					Msg("Document is valid")
			}

			if failed > 0 {
				return fmt.Errorf("%d of %d document(s) failed", failed, len(args))
			}
			return nil
		},
	}

	return cmd
}
