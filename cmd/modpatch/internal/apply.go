package internal

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/tools/txtar"

	"github.com/smith-xyz/go-module-patcher/pkg/diagnostics"
)

func newApplyCommand(g *globals) *cobra.Command {
	var (
		o           runOptions
		out         string
		showDiff    bool
		diffContext int
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Patch every module of a bundle and write the result",
		Long: `Run every module of a txtar bundle through the rule packs, print per-patch
health and failures, and optionally write the patched bundle.

Modules whose patched source does not parse keep their original source.`,
		Example: `  modpatch apply -r rules/notrack.yaml -b capture.txtar --out patched.txtar --diff`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(g, &o)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if showDiff {
				for _, rec := range res.patched() {
					fmt.Fprint(w, diagnostics.ContextDiff(string(rec.ID), res.baseline(rec), rec.PatchedSource, diffContext))
				}
			}
			printReport(w, res.report)

			switch out {
			case "":
			case "-":
				_, err = w.Write(txtar.Format(res.output()))
			default:
				err = os.WriteFile(out, txtar.Format(res.output()), 0644)
			}
			if err != nil {
				return fmt.Errorf("failed to write patched bundle: %w", err)
			}
			return nil
		},
	}

	o.bind(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the patched bundle to this path (- for stdout)")
	cmd.Flags().BoolVar(&showDiff, "diff", false, "print a unified diff for every patched module")
	cmd.Flags().IntVar(&diffContext, "diff-context", 3, "lines of context in diffs")

	return cmd
}
