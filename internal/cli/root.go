package cli

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
)

// Service is what racesyncctl drives. *usecase.Service satisfies it.
type Service interface {
	ScheduleEvent(ctx context.Context, key domain.EventKey, offsets []time.Duration) (*usecase.ScheduleSummary, error)
	GetSchedule(ctx context.Context, key domain.EventKey) (*domain.Schedule, error)
	CancelSchedule(ctx context.Context, key domain.EventKey) (bool, error)
	ExecuteNow(ctx context.Context, key domain.EventKey, ordinal int) (*usecase.AttemptOutcome, error)
	ListSchedules(ctx context.Context, season int, lifecycle domain.Lifecycle) ([]*usecase.ScheduleSummary, error)
	ListPendingDue(ctx context.Context, now time.Time) ([]usecase.AttemptRef, error)
	RunSweep(ctx context.Context) (*usecase.SweepResult, error)
	RunCleanup(ctx context.Context) (int, error)
	ScheduleSeason(ctx context.Context, season int) (*usecase.OrchestratorSummary, error)
	ScheduleUpcoming(ctx context.Context, window time.Duration) (*usecase.OrchestratorSummary, error)
	Stats(ctx context.Context, season int) (*usecase.Stats, error)
}

// Connector opens the service. The returned func releases connections.
type Connector func(ctx context.Context) (Service, func(), error)

// TokenMinter issues admin API tokens; it needs no connections.
type TokenMinter interface {
	Issue(operator string, ttl time.Duration) (string, error)
}

// RootOptions holds global flags and the dependencies shared by subcommands.
type RootOptions struct {
	Format  string
	Connect Connector
	Tokens  TokenMinter
	Now     func() time.Time
}

var validFormats = []string{"text", "json"}

func NewRootCommand(opts *RootOptions) *cobra.Command {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	cmd := &cobra.Command{
		Use:   "racesyncctl",
		Short: "Operate post-race sync schedules",
		Long: `racesyncctl inspects and drives the post-race retry scheduler: it creates
and cancels schedules, runs attempts by hand and triggers the sweep and
cleanup jobs that normally run on cron.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(
		newScheduleCommand(opts),
		newShowCommand(opts),
		newCancelCommand(opts),
		newExecuteCommand(opts),
		newListCommand(opts),
		newPendingCommand(opts),
		newSweepCommand(opts),
		newCleanupCommand(opts),
		newSeasonCommand(opts),
		newUpcomingCommand(opts),
		newStatsCommand(opts),
		newTokenCommand(opts),
	)

	return cmd
}

// withService connects, runs fn and releases the connections.
func withService(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, svc Service) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, closeFn, err := opts.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer closeFn()
	return fn(ctx, svc)
}
