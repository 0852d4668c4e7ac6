package commands

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/authd-dev/authd/internal/config"
)

// NewProvidersCmd lists the configured authentication strategies
func NewProvidersCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List configured authentication strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := config.Load()
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				return runProviders(cmd.OutOrStdout(), cfg.Auth.Strategies)
			}

			strategies, err := config.LoadStrategies(file)
			if err != nil {
				return err
			}
			return runProviders(cmd.OutOrStdout(), strategies)
		},
	}

	cmd.Flags().StringVar(&file, "file", "", "Strategies file (defaults to STRATEGIES_FILE)")

	return cmd
}

func runProviders(out io.Writer, strategies config.Strategies) error {
	slugs := make([]string, 0, len(strategies))
	for slug := range strategies {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLUG\tNAME\tPROTOCOL\tLOGIN URL")
	for _, slug := range slugs {
		s := strategies[slug]
		loginURL := "/auth/" + slug
		if slug == config.LocalStrategy {
			loginURL = "/login"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", slug, s.Name, s.Protocol, loginURL)
	}
	return w.Flush()
}
