// replay runs a recorded sensor trace (t_ms,kind,x,y,z) through the fall
// detector and prints every transition and verdict, for offline threshold
// tuning.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"falldetect-service/internal/battery"
	"falldetect-service/internal/config"
	"falldetect-service/internal/models"
	"falldetect-service/internal/monitor"
	"falldetect-service/internal/replay"
)

var version = "dev"

func main() {
	var (
		thresholdsFile string
		batteryPercent int
		noGyro         bool
		asJSON         bool
		verdictsOnly   bool
	)

	cmd := &cobra.Command{
		Use:   "replay [recording.csv]",
		Short: "Replay a sensor recording through the fall detector",
		Long: `replay reads a CSV recording with columns t_ms,kind,x,y,z (kind is
accel or gyro, values in m/s² and rad/s) and runs it through a fresh
detector session on a simulated clock.

Reads stdin when no file is given. Rows with empty axes are replayed as
malformed sensor callbacks.`,
		Version:      version,
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := io.Reader(os.Stdin)
			if len(args) == 1 {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			cfg := monitor.DefaultConfig()
			if thresholdsFile != "" {
				th, err := config.LoadThresholds(thresholdsFile)
				if err != nil {
					return err
				}
				cfg.Thresholds = th
			}

			records, err := replay.ReadCSV(in)
			if err != nil {
				return err
			}
			res, err := replay.Run(records, replay.Options{
				Config:  cfg,
				Battery: battery.Static{Percent: batteryPercent},
				NoGyro:  noGyro,
			})
			if err != nil {
				return err
			}
			return report(cmd.OutOrStdout(), res, asJSON, verdictsOnly)
		},
	}

	cmd.Flags().StringVarP(&thresholdsFile, "thresholds", "t", "", "YAML file overriding detector thresholds")
	cmd.Flags().IntVar(&batteryPercent, "battery", 100, "simulated battery percentage")
	cmd.Flags().BoolVar(&noGyro, "no-gyro", false, "simulate a device without a gyroscope")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print events as JSON lines")
	cmd.Flags().BoolVarP(&verdictsOnly, "verdicts", "v", false, "print verdicts only")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func report(w io.Writer, res replay.Result, asJSON, verdictsOnly bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		if !verdictsOnly {
			for _, e := range res.Events {
				if err := enc.Encode(e); err != nil {
					return err
				}
			}
		}
		for _, v := range res.Verdicts {
			if err := enc.Encode(v); err != nil {
				return err
			}
		}
		return nil
	}

	if !verdictsOnly {
		for _, e := range res.Events {
			fmt.Fprintf(w, "%8d  %-24s %-17s %8.3f", e.Timestamp, e.Kind, e.State, e.Value)
			if len(e.Detail) > 0 {
				fmt.Fprintf(w, "  %v", e.Detail)
			}
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w)
	}

	for _, v := range res.Verdicts {
		mark := "  "
		if v.Outcome == models.OutcomeConfirmed {
			mark = "!!"
		}
		fmt.Fprintf(w, "%s impact@%d %-9s ratio=%.2f (%d/%d still) mean=%.2fg max=%.2fg\n",
			mark, v.ImpactAt, v.Outcome, v.StillnessRatio, v.StillSamples, v.TotalSamples,
			v.MeanMagnitude, v.MaxMagnitude)
	}

	st := res.Status
	fmt.Fprintf(w, "\naccepted=%d rejected=%d confirmed=%d dismissed=%d restarts=%d\n",
		st.SamplesAccepted, st.SamplesRejected, st.Confirmed, st.Dismissed, st.Restarts)
	return nil
}
