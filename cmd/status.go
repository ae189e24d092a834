package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/scheduler"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/state"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the scheduler state shared by all processes",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st := state.New(cfg.Cache.StateFile, utils.Component("state"))
		s := scheduler.New(scheduler.Deps{State: st}, cfg.Timing, cfg.Retention(), nil).Status()

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintf(w, "NEXT SNAPSHOT\t%s\n", stamp(s.NextSnapshotAt, "not scheduled"))
		fmt.Fprintf(w, "FORCED SNAPSHOT\t%s\n", stamp(s.ForceSnapshotAvailableAt, "available now"))
		fmt.Fprintf(w, "LAST TLE FETCH\t%s\n", stamp(s.LastTLEFetch, "never"))
		fmt.Fprintf(w, "LAST AIRCRAFT FETCH\t%s\n", stamp(s.LastAircraftFetch, "never"))
		fmt.Fprintf(w, "LAST COMPUTATION\t%s\n", stamp(s.LastComputation, "never"))
		fmt.Fprintf(w, "AIRCRAFT RATE LIMIT\t%s\n", stamp(s.AircraftRateLimitUntil, "none"))
		return w.Flush()
	},
}

func stamp(unix float64, zero string) string {
	if unix == 0 {
		return zero
	}
	return utils.FormatTimestamp(state.Time(unix))
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
