package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/FCisco95/organic-app-sub000/internal/engine"
)

func proposalCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "proposal", Short: "Governance proposals"}
	cmd.AddCommand(proposalCreateCmd())
	cmd.AddCommand(proposalListCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "show <proposal-id>",
		Short: "Show a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.GetProposal(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	cmd.AddCommand(proposalVotingCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "vote <proposal-id> <for|against|abstain>",
		Short: "Cast or replace your vote",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.CastVote(ctx, engine.CastVoteOptions{ProposalID: args[0], Value: args[1], ActorID: actorID()})
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "votes <proposal-id>",
		Short: "List votes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListVotes(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, v := range items {
					rows = append(rows, table.Row{v.VoterID, v.Value, v.Weight})
				}
				return printTable(items, table.Row{"Voter", "Value", "Weight"}, rows)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "holders <proposal-id>",
		Short: "Show the holder snapshot taken when voting opened",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListHolderSnapshot(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, h := range items {
					rows = append(rows, table.Row{h.MemberID, h.VotingPower})
				}
				return printTable(items, table.Row{"Member", "Power"}, rows)
			})
		},
	})
	cmd.AddCommand(proposalFinalizeCmd())
	cmd.AddCommand(&cobra.Command{
		Use:   "unfreeze <proposal-id>",
		Short: "Clear a finalization freeze",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.UnfreezeProposal(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "finalize-due",
		Short: "Finalize every proposal whose voting period has ended",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.FinalizeDueProposals(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	})
	return cmd
}

func proposalCreateCmd() *cobra.Command {
	var opts engine.ProposalCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a draft proposal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				p, err := e.CreateProposal(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "proposal id (generated when empty)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Body, "body", "", "body")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func proposalListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List proposals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListProposals(ctx, status)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, p := range items {
					frozen := p.FinalizationFrozenAt != nil
					rows = append(rows, table.Row{p.ID, p.Title, p.Status, p.Result, fmtTime(p.VotingEndsAt), frozen})
				}
				return printTable(items, table.Row{"ID", "Title", "Status", "Result", "Voting Ends", "Frozen"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "draft, voting or finalized")
	return cmd
}

func proposalVotingCmd() *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "start-voting <proposal-id>",
		Short: "Open voting and snapshot holder power",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.StartVoting(ctx, args[0], days, actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "voting period in days (defaults to config)")
	return cmd
}

func proposalFinalizeCmd() *cobra.Command {
	var (
		key   string
		early bool
	)
	cmd := &cobra.Command{
		Use:   "finalize <proposal-id>",
		Short: "Tally votes and close a proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = "cli:" + args[0]
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.FinalizeProposal(ctx, args[0], key, engine.FinalizeOptions{Early: early, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "dedupe key (defaults to cli:<proposal-id>)")
	cmd.Flags().BoolVar(&early, "early", false, "close voting before its end (admin)")
	return cmd
}
