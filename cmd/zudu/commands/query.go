package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/zudu-go/internal/logging"
)

// NewQueryCmd constructs the `zudu query` command, which prints the context
// block that would be injected for a question.
func NewQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query [question]",
		Short: "Print the knowledge-base context retrieved for a question",
		Long: `Run a question through the retrieval cache and print the context block the
agent would see. Useful for checking what ingestion produced.

Examples:
  zudu query "what does Zudu cost?"
  zudu query does zudu support isiZulu`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			rt, err := runtimeFromEnv("query")
			if err != nil {
				return err
			}
			st, err := openStack(ctx, rt, nil, log)
			if err != nil {
				return fmt.Errorf("query: %w", err)
			}
			defer st.Close()

			fmt.Fprintln(cmd.OutOrStdout(), st.cache.Retrieve(ctx, strings.Join(args, " ")))
			return nil
		},
	}
}
