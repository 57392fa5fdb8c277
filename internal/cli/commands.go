package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/ErlanBelekov/race-sync/internal/domain"
	"github.com/ErlanBelekov/race-sync/internal/usecase"
)

func newScheduleCommand(opts *RootOptions) *cobra.Command {
	var hours []float64

	cmd := &cobra.Command{
		Use:   "schedule SEASON:ROUND",
		Short: "Create the retry schedule for one event",
		Long: `Create the retry schedule for one event. Offsets are hours after the
estimated end of the main race; without --hours the manual defaults apply.
An event that already has a schedule is left unchanged.

Example:
  racesyncctl schedule 2025:9 --hours 2,6,24`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			offsets, err := parseOffsets(hours)
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				sum, err := svc.ScheduleEvent(ctx, key, offsets)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), sum)
				}
				if sum.Created {
					fmt.Fprintf(cmd.OutOrStdout(), "created: %d timers registered, %d attempts already due\n\n", sum.Registered, sum.Overdue)
				} else {
					fmt.Fprint(cmd.OutOrStdout(), "already scheduled, unchanged\n\n")
				}
				return writeSummary(cmd.OutOrStdout(), sum)
			})
		},
	}

	cmd.Flags().Float64SliceVar(&hours, "hours", nil, "retry offsets in hours after the estimated end")
	return cmd
}

func newShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show SEASON:ROUND",
		Short: "Show one schedule and its attempts",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				s, err := svc.GetSchedule(ctx, key)
				if err != nil {
					return err
				}
				sum := usecase.Summarize(s)
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), sum)
				}
				return writeSummary(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func newCancelCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel SEASON:ROUND",
		Short: "Cancel every pending attempt of a schedule",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args)
			if err != nil {
				return err
			}
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				cancelled, err := svc.CancelSchedule(ctx, key)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]any{"event_key": key, "cancelled": cancelled})
				}
				if cancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: pending attempts cancelled\n", key)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: nothing pending\n", key)
				}
				return nil
			})
		},
	}
}

func newExecuteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "execute SEASON:ROUND ATTEMPT",
		Short: "Run one pending attempt now",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := parseKey(args[:1])
			if err != nil {
				return err
			}
			ordinal, err := strconv.Atoi(args[1])
			if err != nil || ordinal < 1 {
				return fmt.Errorf("attempt must be a positive integer, got %q", args[1])
			}
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				out, err := svc.ExecuteNow(ctx, key, ordinal)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), outcomeView(out))
				}
				if out.Skipped {
					fmt.Fprintf(cmd.OutOrStdout(), "%s attempt %d skipped: status is %s\n", key, ordinal, out.Status)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s attempt %d: %s\n", key, ordinal, out.Status)
				if out.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", out.Error)
				}
				return nil
			})
		},
	}
}

func newListCommand(opts *RootOptions) *cobra.Command {
	var season int
	var status string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List live schedules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var lifecycle domain.Lifecycle
			if status != "" {
				lc, err := domain.ParseLifecycle(status)
				if err != nil {
					return err
				}
				lifecycle = lc
			}
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				items, err := svc.ListSchedules(ctx, season, lifecycle)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), items)
				}
				return writeScheduleTable(cmd.OutOrStdout(), items)
			})
		},
	}

	cmd.Flags().IntVar(&season, "season", 0, "only this season (0 = all)")
	cmd.Flags().StringVar(&status, "status", "", "pending|completed|failed")
	return cmd
}

func newPendingCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pending",
		Short: "List pending attempts that are already due",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				refs, err := svc.ListPendingDue(ctx, opts.Now().UTC())
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), refs)
				}
				return writeRefs(cmd.OutOrStdout(), refs)
			})
		},
	}
}

func newSweepCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Execute every overdue pending attempt now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				res, err := svc.RunSweep(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "triggered %d, abandoned %d, errors %d\n", len(res.Triggered), len(res.Abandoned), res.Errors)
				return writeRefs(cmd.OutOrStdout(), append(res.Triggered, res.Abandoned...))
			})
		},
	}
}

func newCleanupCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished schedules past the expiry grace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				n, err := svc.RunCleanup(ctx)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), map[string]int{"deleted": n})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d schedules\n", n)
				return nil
			})
		},
	}
}

func newSeasonCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "season [YEAR]",
		Short: "Schedule every event of a season (default: current year)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			season := opts.Now().UTC().Year()
			if len(args) == 1 {
				s, err := strconv.Atoi(args[0])
				if err != nil || s <= 0 {
					return fmt.Errorf("season must be a positive year, got %q", args[0])
				}
				season = s
			}
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				sum, err := svc.ScheduleSeason(ctx, season)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), sum)
				}
				return writeOrchestration(cmd.OutOrStdout(), sum)
			})
		},
	}
}

func newUpcomingCommand(opts *RootOptions) *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "upcoming",
		Short: "Schedule every event ending within the next --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days < 1 {
				return fmt.Errorf("--days must be at least 1")
			}
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				sum, err := svc.ScheduleUpcoming(ctx, time.Duration(days)*24*time.Hour)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), sum)
				}
				return writeOrchestration(cmd.OutOrStdout(), sum)
			})
		},
	}

	cmd.Flags().IntVar(&days, "days", 14, "look-ahead window in days")
	return cmd
}

func newStatsCommand(opts *RootOptions) *cobra.Command {
	var season int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Aggregate schedule outcomes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(cmd, opts, func(ctx context.Context, svc Service) error {
				st, err := svc.Stats(ctx, season)
				if err != nil {
					return err
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), st)
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "schedules %d (pending %d, completed %d, failed %d)\n", st.Schedules, st.Pending, st.Completed, st.Failed)
				fmt.Fprintf(w, "mean success rate %.1f%%\n", st.MeanSuccessRate*100)
				for _, c := range domain.Categories() {
					fmt.Fprintf(w, "  %-22s %.1f%%\n", c.String(), st.CategorySuccessRate[c.String()]*100)
				}
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&season, "season", 0, "only this season (0 = all)")
	return cmd
}

func newTokenCommand(opts *RootOptions) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token OPERATOR",
		Short: "Mint a bearer token for the admin API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tok, err := opts.Tokens.Issue(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}

	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
