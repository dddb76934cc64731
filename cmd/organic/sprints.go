package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/FCisco95/organic-app-sub000/internal/engine"
)

func sprintCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "sprint", Short: "Manage sprints and their phases"}
	cmd.AddCommand(sprintCreateCmd())
	cmd.AddCommand(sprintListCmd())
	cmd.AddCommand(sprintShowCmd())
	cmd.AddCommand(sprintStartCmd())
	cmd.AddCommand(sprintAdvanceCmd())
	cmd.AddCommand(sprintBlockersCmd())
	cmd.AddCommand(sprintSnapshotCmd())
	return cmd
}

func sprintCreateCmd() *cobra.Command {
	var (
		opts         engine.SprintCreateOptions
		start, endAt string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a sprint in planning",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartAt, err = parseTime(start); err != nil {
				return err
			}
			if opts.EndAt, err = parseTime(endAt); err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				s, err := e.CreateSprint(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "sprint id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "sprint name")
	cmd.Flags().StringVar(&opts.Goal, "goal", "", "sprint goal")
	cmd.Flags().Int64Var(&opts.CapacityPoints, "capacity", 0, "capacity in points")
	cmd.Flags().Int64Var(&opts.RewardPool, "pool", 0, "token reward pool")
	cmd.Flags().StringVar(&start, "start", "", "start time (RFC3339)")
	cmd.Flags().StringVar(&endAt, "end", "", "end time (RFC3339)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func sprintListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sprints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListSprints(ctx, status)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.ID, s.Name, s.Status, s.RewardPool, s.RewardSettlementStatus, fmtTime(s.DisputeWindowEndsAt)})
				}
				return printTable(items, table.Row{"ID", "Name", "Status", "Pool", "Settlement", "Window Ends"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "phase filter")
	return cmd
}

func sprintShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <sprint-id>",
		Short: "Show a sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.GetSprint(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sprintStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <sprint-id>",
		Short: "Start a planned sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.StartSprint(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
}

func sprintAdvanceCmd() *cobra.Command {
	var opts engine.AdvanceOptions
	cmd := &cobra.Command{
		Use:   "advance <sprint-id>",
		Short: "Advance a sprint to its next phase",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				res, err := e.AdvanceSprintPhase(ctx, args[0], opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Target, "to", "", "target phase (defaults to the next one)")
	cmd.Flags().StringVar(&opts.IncompleteAction, "incomplete-action", "", "backlog or next_sprint")
	cmd.Flags().StringVar(&opts.NextSprintID, "next-sprint", "", "sprint receiving incomplete tasks")
	return cmd
}

func sprintBlockersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blockers <sprint-id>",
		Short: "Show what keeps a sprint from advancing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.SprintBlockers(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	}
}

func sprintSnapshotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshot <sprint-id>",
		Short: "Show the completion snapshot of a completed sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				snap, err := e.GetSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(snap.Contributors))
				for _, c := range snap.Contributors {
					rows = append(rows, table.Row{c.MemberID, c.TasksCompleted, c.Points, c.EarnedPoints})
				}
				if err := printTable(snap, table.Row{"Member", "Tasks", "Points", "Earned"}, rows); err != nil {
					return err
				}
				if !jsonOutput() {
					fmt.Printf("%d/%d tasks, %.2f%% complete, %d points\n", snap.TasksCompleted, snap.TasksTotal, snap.CompletionRate, snap.PointsCompleted)
				}
				return nil
			})
		},
	}
}

func settlementCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "settlement", Short: "Inspect and operate the reward settlement guard"}
	cmd.AddCommand(&cobra.Command{
		Use:   "check <sprint-id>",
		Short: "Evaluate the settlement guard without changing anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.EvaluateSettlement(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "cap <sprint-id>",
		Short: "Show the emission cap breakdown",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				c, err := e.EmissionCap(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "distributions <sprint-id>",
		Short: "List reward distributions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDistributions(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, d := range items {
					rows = append(rows, table.Row{d.Type, deref(d.MemberID), d.TokenAmount})
				}
				return printTable(items, table.Row{"Type", "Member", "Tokens"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "pool <sprint-id> <amount>",
		Short: "Change the sprint reward pool",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pool, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.UpdateRewardPool(ctx, args[0], pool, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile <sprint-id>",
		Short: "Remove a stray epoch distribution from an uncompleted sprint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				amounts, err := e.ReconcileEpochDistribution(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"sprint_id": args[0], "epoch_amounts": amounts})
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "clear-kill-switch <sprint-id>",
		Short: "Clear a sticky settlement kill switch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.ClearSettlementKillSwitch(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	return cmd
}
