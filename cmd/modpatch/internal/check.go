package internal

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DriftError is returned by check when patches no longer apply cleanly.
type DriftError struct {
	Failures  int
	Unmatched int
}

func (e *DriftError) Error() string {
	return fmt.Sprintf("%d patch failures, %d unmatched patches", e.Failures, e.Unmatched)
}

func newCheckCommand(g *globals) *cobra.Command {
	var o runOptions

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify that every patch still applies to a bundle",
		Long: `Run the bundle through the rule packs without writing anything. Exits
non-zero when a step failed or a patch found no module, which usually means
the upstream code changed under it.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(g, &o)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), res.report)

			if !res.report.OK() {
				return &DriftError{
					Failures:  res.report.Failures.Total - res.report.QuietMisses,
					Unmatched: len(res.report.Unmatched),
				}
			}
			return nil
		},
	}

	o.bind(cmd)
	return cmd
}
