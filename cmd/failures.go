package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/suphelp/geo-cli/internal/model"
	"github.com/suphelp/geo-cli/internal/store"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "List failed keywords and records recorded by past runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runID, _ := cmd.Flags().GetString("run-id")
		kind, _ := cmd.Flags().GetString("kind")
		errType, _ := cmd.Flags().GetString("error-type")
		limit, _ := cmd.Flags().GetInt("limit")

		failures, err := st.ListFailures(ctx, store.FailureFilter{
			RunID:     runID,
			Kind:      kind,
			ErrorType: errType,
			Limit:     limit,
		})
		if err != nil {
			return eris.Wrap(err, "failures list")
		}

		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No failures found.")
			return nil
		}

		formatFailures(cmd.OutOrStdout(), failures)
		return nil
	},
}

// formatFailures writes a table of failed units to out.
func formatFailures(out io.Writer, failures []model.FailedUnit) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUN\tKIND\tKEY\tTYPE\tCREATED\tERROR")
	_, _ = fmt.Fprintln(w, "---\t----\t---\t----\t-------\t-----")

	for _, f := range failures {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(f.RunID),
			f.Kind,
			truncate(f.Key, 40),
			f.ErrorType,
			f.CreatedAt.Format("2006-01-02 15:04"),
			truncate(f.Error, 60),
		)
	}
	_ = w.Flush()
}

// truncateID shortens a UUID to its first 8 characters.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	failuresCmd.Flags().String("run-id", "", "filter by run id")
	failuresCmd.Flags().String("kind", "", "filter by unit kind (keyword, record)")
	failuresCmd.Flags().String("error-type", "", "filter by error type (transient, permanent, paywall, not_found)")
	failuresCmd.Flags().Int("limit", 50, "max failures to list")
	rootCmd.AddCommand(failuresCmd)
}
