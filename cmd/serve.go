package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/server"
	"github.com/Coherent-All-Sky-Monitor/sky-rfi/internal/utils"
	"github.com/spf13/cobra"
)

// electionInterval is how often a follower retries the scheduler lock and
// reloads the element cache written by the leader.
const electionInterval = time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, and the scheduler if no other process runs it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.ListenAddr = listen
		}

		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		token, err := utils.LoadOrCreateToken(cfg.TokenFile)
		if err != nil {
			return err
		}
		utils.Log.Infof("API token stored in %s", cfg.TokenFile)

		lock, err := utils.NewLeaderLock(cfg.Cache.LockDir, "scheduler")
		if err != nil {
			return err
		}
		defer lock.Release()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		noScheduler, _ := cmd.Flags().GetBool("no-scheduler")
		if !noScheduler {
			go runElection(ctx, a, lock)
		} else {
			a.sched.LoadHorizon(ctx)
			a.sched.Prime()
		}

		srv := server.New(a.db, a.sched, a.geo, token)
		return srv.Start(ctx, cfg.ListenAddr)
	},
}

// runElection runs the scheduler loop once this process holds the leader
// lock. Until then it keeps the element cache warm for the API.
func runElection(ctx context.Context, a *app, lock *utils.LeaderLock) {
	log := utils.Component("scheduler")
	follower := false

	for {
		ok, err := lock.TryAcquire()
		if err != nil {
			log.Warnf("Leader election: %v", err)
		}
		if ok {
			log.Infof("Scheduler lock acquired (PID %d)", os.Getpid())
			if err := a.sched.Run(ctx); err != nil && ctx.Err() == nil {
				log.Errorf("Scheduler exited: %v", err)
			}
			return
		}

		if !follower {
			follower = true
			a.sched.LoadHorizon(ctx)
		}
		a.sched.Prime()

		select {
		case <-ctx.Done():
			return
		case <-time.After(electionInterval):
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "HTTP listen address (overrides server.listen)")
	serveCmd.Flags().Bool("no-scheduler", false, "Serve the API only, never run the scheduler")
}
