package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/aretw0/diffuse/pkg/domain"
	"github.com/aretw0/diffuse/pkg/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Print a beta schedule and its derived values",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		steps, _ := flags.GetInt("steps")
		kindName, _ := flags.GetString("kind")
		betaStart, _ := flags.GetFloat64("beta-start")
		betaEnd, _ := flags.GetFloat64("beta-end")
		asJSON, _ := flags.GetBool("json")

		kind, err := domain.ParseScheduleKind(kindName)
		if err != nil {
			return err
		}
		sched, err := schedule.New(schedule.Config{
			Steps:     steps,
			Kind:      kind,
			BetaStart: betaStart,
			BetaEnd:   betaEnd,
		})
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"kind":                     sched.Kind(),
				"steps":                    sched.Steps(),
				"beta":                     sched.Beta(),
				"alpha_bar":                sched.AlphaBar(),
				"sqrt_alpha_bar":           sched.SqrtAlphaBar(),
				"sqrt_one_minus_alpha_bar": sched.SqrtOneMinusAlphaBar(),
			})
		}

		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', tabwriter.AlignRight)
		fmt.Fprintln(tw, "t\tbeta\talpha_bar\tsqrt(alpha_bar)\tsqrt(1-alpha_bar)\t")
		for t := range sched.Steps() {
			st := sched.At(t)
			fmt.Fprintf(tw, "%d\t%.6g\t%.6g\t%.6g\t%.6g\t\n", t, st.Beta, st.AlphaBar, st.SqrtAlphaBar, st.SqrtOneMinusAlphaBar)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.Flags().Int("steps", 100, "Number of steps [1, 1000]")
	scheduleCmd.Flags().String("kind", "linear", "Schedule kind: linear or cosine")
	scheduleCmd.Flags().Float64("beta-start", 1e-3, "First beta of the linear schedule")
	scheduleCmd.Flags().Float64("beta-end", 2e-2, "Last beta of the linear schedule")
	scheduleCmd.Flags().Bool("json", false, "Print JSON instead of a table")
}
