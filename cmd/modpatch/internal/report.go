package internal

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smith-xyz/go-module-patcher/pkg/engine"
)

func printReport(w io.Writer, r engine.Report) {
	fmt.Fprintf(w, "Modules: %d processed, %d patched, %d compile fallbacks\n",
		r.Modules.Modules, r.Modules.Patched, r.Modules.CompileFallbacks)

	if len(r.Health) > 0 {
		fmt.Fprintf(w, "Patches (%d):\n", len(r.Health))
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  PATCH\tPLUGIN\tATTEMPTS\tAPPLIED\tPARTIAL\tFAILED\tTIME")
		for _, h := range r.Health {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%d\t%s\n",
				h.PatchID, h.Plugin, h.Attempts, h.Applied, h.Partial, h.Failed, h.Duration)
		}
		tw.Flush()
	}

	if r.Failures.Total > 0 {
		fmt.Fprintf(w, "Failures (%d):\n", r.Failures.Total)
		for _, id := range r.Failures.PatchIDs() {
			for _, f := range r.Failures.ByPatchID[id] {
				if f.StepIndex < 0 {
					fmt.Fprintf(w, "  - %s module %s: %s: %s\n", f.PatchID, f.ModuleID, f.Reason, f.Detail)
					continue
				}
				fmt.Fprintf(w, "  - %s module %s step %d: %s: %s\n", f.PatchID, f.ModuleID, f.StepIndex, f.Reason, f.Detail)
			}
		}
	}
	if r.Failures.Evicted > 0 {
		fmt.Fprintf(w, "  (%d older failures evicted)\n", r.Failures.Evicted)
	}

	if len(r.Unmatched) > 0 {
		fmt.Fprintf(w, "Unmatched patches (%d):\n", len(r.Unmatched))
		for _, id := range r.Unmatched {
			fmt.Fprintf(w, "  - %s\n", id)
		}
	}
}
