package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/storage"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/pkg/visibility"
	"github.com/spf13/cobra"
)

// dbCmd represents the db command
var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Inspect the snapshot database",
}

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		limit, _ := cmd.Flags().GetInt("limit")
		snaps, err := db.ListSnapshots(context.Background(), limit)
		if err != nil {
			return err
		}
		if len(snaps) == 0 {
			fmt.Println("No snapshots in the database.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintln(w, "ID\tTIME\tOBJECTS\t")
		for _, s := range snaps {
			fmt.Fprintf(w, "%d\t%s\t%d\t\n", s.ID, s.ReadableTime, s.ObjectCount)
		}
		return w.Flush()
	},
}

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print every object of one snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid snapshot id %q", args[0])
		}

		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		s, err := db.GetSnapshot(context.Background(), id)
		if err != nil {
			return err
		}
		sats, planes := visibility.Count(s.Objects)
		fmt.Printf("Snapshot #%d at %s: %d satellites, %d aircraft\n\n", s.ID, s.ReadableTime, sats, planes)

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "NAME\tTYPE\tGROUP\tAZ\tALT\tDIST (km)")
		for _, o := range s.Objects {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%.2f\t%.1f\n", o.Name, o.Kind, o.GroupID, o.AzimuthDeg, o.AltitudeDeg, o.DistanceM/1000)
		}
		return w.Flush()
	},
}

// statsCmd represents the stats command
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Prints statistics about the snapshots in the database.",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats(context.Background())
		if err != nil {
			return err
		}
		if stats.Snapshots == 0 {
			fmt.Println("No data in the database to generate stats.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.AlignRight)
		fmt.Fprintf(w, "SNAPSHOTS\t%d\t\n", stats.Snapshots)
		fmt.Fprintf(w, "OBJECTS\t%d\t\n", stats.Objects)

		kinds := make([]string, 0, len(stats.ByKind))
		for k := range stats.ByKind {
			kinds = append(kinds, string(k))
		}
		sort.Strings(kinds)
		for _, k := range kinds {
			fmt.Fprintf(w, "  %s\t%d\t\n", k, stats.ByKind[visibility.Kind(k)])
		}

		fmt.Fprintln(w, " \t \t")
		fmt.Fprintf(w, "OLDEST\t%s\t\n", utils.FormatTimestamp(stats.Oldest))
		fmt.Fprintf(w, "NEWEST\t%s\t\n", utils.FormatTimestamp(stats.Newest))
		return w.Flush()
	},
}

func openDB(cmd *cobra.Command) (*storage.DB, error) {
	dbPath, _ := cmd.Flags().GetString("dbpath")
	if dbPath == "" {
		cfg, err := loadConfig()
		if err != nil {
			return nil, err
		}
		dbPath = cfg.DBName
	}
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", dbPath)
	}
	return storage.Open(dbPath)
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(historyCmd)
	dbCmd.AddCommand(showCmd)
	dbCmd.AddCommand(statsCmd)
	dbCmd.PersistentFlags().String("dbpath", "", "Path to SQLite DB file (default is database.name)")
	historyCmd.Flags().IntP("limit", "n", 50, "Number of snapshots to list")
}
