package main

import (
	"errors"
	"fmt"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/spf13/cobra"

	"github.com/gigvault/backend/internal/auth"
	"github.com/gigvault/backend/internal/models"
	"github.com/gigvault/backend/internal/upkeep"
)

var (
	sweepToken  string
	sweepDryRun bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Enqueue an upkeep sweep, or print what one would do",
	Long: `Authenticates the caller's keeper token and enqueues an upkeep_sweep job for the
running server. With --dry-run the latest snapshot is loaded and the sweep payload
is printed without changing anything.`,
	RunE: runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&sweepToken, "token", "", "keeper bearer token (see: gigvault token)")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "print the payload Check would produce")
}

func runSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	authn, err := auth.NewAuthenticator(cfg.Identity.JWTSecret, cfg.Identity.TokenTTL)
	if err != nil {
		return err
	}
	caller, err := authn.Authenticate(sweepToken)
	if err != nil {
		return err
	}
	if caller.Role != models.RoleKeeper {
		return errors.New("sweep requires a keeper token")
	}

	pool, err := openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	if sweepDryRun {
		s, err := buildStack(ctx, pool)
		if err != nil {
			return err
		}
		needed, payload, err := s.sweeper.Check(ctx)
		if err != nil {
			return err
		}
		if !needed {
			fmt.Fprintln(cmd.OutOrStdout(), "nothing due")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(payload))
		return nil
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{Logger: logger})
	if err != nil {
		return fmt.Errorf("create River client: %w", err)
	}
	res, err := client.Insert(ctx, upkeep.SweepArgs{}, nil)
	if err != nil {
		return fmt.Errorf("enqueue sweep: %w", err)
	}
	logger.Info("upkeep sweep enqueued", "job_id", res.Job.ID, "keeper", caller.ID)
	return nil
}
