package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/scheduler"
	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Take a forced snapshot now",
	Long: `Take a forced snapshot now. The same cooldown applies as for the API, so this
fails if any process took a forced snapshot in the last cooldown window.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		noWait, _ := cmd.Flags().GetBool("no-wait-aircraft")
		asJSON, _ := cmd.Flags().GetBool("json")

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		a.sched.Prepare(ctx)
		res := a.sched.Force(ctx, !noWait)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			enc.Encode(res)
		} else {
			fmt.Println(res.Message)
			if res.Status == scheduler.StatusSuccess {
				fmt.Printf("Snapshot #%d: %d objects\n", res.SnapshotID, res.ObjectCount)
			}
		}

		if res.Status != scheduler.StatusSuccess {
			return fmt.Errorf("snapshot %s", res.Status)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
	snapshotCmd.Flags().Bool("no-wait-aircraft", false, "Use whatever aircraft data is cached instead of fetching fresh data")
	snapshotCmd.Flags().Bool("json", false, "Print the result as JSON")
}
