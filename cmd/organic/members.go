package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/FCisco95/organic-app-sub000/internal/engine"
)

func memberCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "member", Short: "Manage members"}
	cmd.AddCommand(memberCreateCmd())
	cmd.AddCommand(memberListCmd())
	cmd.AddCommand(memberShowCmd())
	cmd.AddCommand(memberRoleCmd())
	cmd.AddCommand(memberXPCmd())
	return cmd
}

func memberCreateCmd() *cobra.Command {
	var opts engine.MemberCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a member (the first member needs no actor)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				m, err := e.CreateMember(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "member id (generated when empty)")
	cmd.Flags().StringVar(&opts.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Role, "role", "member", "member, council or admin")
	cmd.Flags().Int64Var(&opts.XP, "xp", 0, "starting XP")
	cmd.Flags().Int64Var(&opts.TokenBalance, "tokens", 0, "starting token balance")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func memberListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListMembers(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, m := range items {
					rows = append(rows, table.Row{m.ID, m.DisplayName, m.Role, m.XPTotal, m.TokenBalance})
				}
				return printTable(items, table.Row{"ID", "Name", "Role", "XP", "Tokens"}, rows)
			})
		},
	}
}

func memberShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <member-id>",
		Short: "Show a member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.GetMember(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func memberRoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "role <member-id> <role>",
		Short: "Change a member's role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.SetMemberRole(ctx, args[0], args[1], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
}

func memberXPCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "xp <member-id> <delta>",
		Short: "Adjust a member's XP",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("delta: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.GrantXP(ctx, args[0], delta, reason, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the event log")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}
