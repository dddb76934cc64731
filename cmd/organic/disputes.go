package main

import (
	"context"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

func disputeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "dispute", Short: "File and arbitrate review disputes"}
	cmd.AddCommand(disputeFileCmd())
	cmd.AddCommand(disputeListCmd())
	cmd.AddCommand(disputeShowCmd())
	cmd.AddCommand(disputeEvidenceCmd())
	cmd.AddCommand(disputeRespondCmd())
	cmd.AddCommand(disputeTransitionCmd("mediation", "Move an open dispute into mediation", engine.Engine.StartMediation))
	cmd.AddCommand(disputeTransitionCmd("claim", "Claim a dispute as arbitrator", engine.Engine.AssignArbitrator))
	cmd.AddCommand(disputeTransitionCmd("withdraw", "Withdraw a dispute and refund the stake", engine.Engine.WithdrawDispute))
	cmd.AddCommand(disputeTransitionCmd("mediate", "Close a dispute as mediated", engine.Engine.MediateDispute))
	cmd.AddCommand(disputeResolveCmd())
	cmd.AddCommand(disputeAppealCmd())
	cmd.AddCommand(disputeSweepCmd())
	return cmd
}

func disputeFileCmd() *cobra.Command {
	var opts engine.FileDisputeOptions
	cmd := &cobra.Command{
		Use:   "file",
		Short: "Dispute a rejected submission",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.ActorID = actorID()
				d, err := e.FileDispute(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "dispute id (generated when empty)")
	cmd.Flags().StringVar(&opts.SubmissionID, "submission", "", "disputed submission")
	cmd.Flags().StringVar(&opts.Reason, "reason", "", "rejected_unfairly, low_quality_score, plagiarism_claim, reviewer_bias or other")
	cmd.Flags().StringVar(&opts.EvidenceText, "evidence", "", "evidence text")
	cmd.Flags().StringSliceVar(&opts.EvidenceLinks, "link", nil, "evidence links")
	_ = cmd.MarkFlagRequired("submission")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func disputeListCmd() *cobra.Command {
	var f repo.DisputeFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List disputes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListDisputes(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, d := range items {
					rows = append(rows, table.Row{d.ID, d.Status, d.Tier, d.DisputantID, d.ReviewerID, deref(d.ArbitratorID), e.DisputeUrgency(d)})
				}
				return printTable(items, table.Row{"ID", "Status", "Tier", "Disputant", "Reviewer", "Arbitrator", "Urgency"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.SprintID, "sprint", "", "sprint filter")
	cmd.Flags().StringVar(&f.SubmissionID, "submission", "", "submission filter")
	cmd.Flags().StringSliceVar(&f.Statuses, "status", nil, "status filter")
	cmd.Flags().StringVar(&f.ParticipantID, "participant", "", "disputant, reviewer or arbitrator")
	return cmd
}

func disputeShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <dispute-id>",
		Short: "Show a dispute with its deadline urgency",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.GetDispute(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(struct {
					domain.Dispute
					Urgency string `json:"urgency"`
				}{d, string(e.DisputeUrgency(d))})
			})
		},
	}
}

func disputeEvidenceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "evidence", Short: "Dispute evidence uploads"}
	var f engine.EvidenceFile
	add := &cobra.Command{
		Use:   "add <dispute-id>",
		Short: "Record an evidence upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.DisputeID = args[0]
				f.ActorID = actorID()
				ev, err := e.SubmitEvidence(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(ev)
			})
		},
	}
	add.Flags().StringVar(&f.FileName, "file", "", "file name")
	add.Flags().StringVar(&f.MimeType, "mime", "", "mime type")
	add.Flags().Int64Var(&f.SizeBytes, "size", 0, "size in bytes")
	add.Flags().StringVar(&f.FileURL, "url", "", "stored file url")
	_ = add.MarkFlagRequired("file")
	_ = add.MarkFlagRequired("mime")
	_ = add.MarkFlagRequired("size")
	cmd.AddCommand(add)
	cmd.AddCommand(&cobra.Command{
		Use:   "list <dispute-id>",
		Short: "List evidence uploads",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListEvidence(ctx, args[0])
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, ev := range items {
					rows = append(rows, table.Row{ev.ID, ev.FileName, ev.MimeType, ev.SizeBytes, ev.UploadedBy, ev.IsLate})
				}
				return printTable(items, table.Row{"ID", "File", "Type", "Bytes", "By", "Late"}, rows)
			})
		},
	})
	return cmd
}

func disputeRespondCmd() *cobra.Command {
	var opts engine.RespondOptions
	cmd := &cobra.Command{
		Use:   "respond <dispute-id>",
		Short: "Submit the reviewer's response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts.DisputeID = args[0]
				opts.ActorID = actorID()
				d, err := e.RespondToDispute(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Text, "text", "", "response text")
	cmd.Flags().StringSliceVar(&opts.Links, "link", nil, "supporting links")
	_ = cmd.MarkFlagRequired("text")
	return cmd
}

func disputeTransitionCmd(use, short string, op func(engine.Engine, context.Context, string, string) (domain.Dispute, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <dispute-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := op(e, ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
}

func disputeResolveCmd() *cobra.Command {
	var (
		opts  engine.ResolveOptions
		score int
	)
	cmd := &cobra.Command{
		Use:   "resolve <dispute-id>",
		Short: "Resolve a dispute as overturned, upheld, compromise or dismissed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DisputeID = args[0]
			opts.ActorID = actorID()
			if cmd.Flags().Changed("score") {
				opts.QualityScore = &score
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ResolveDispute(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Resolution, "resolution", "", "overturned, upheld, compromise or dismissed")
	cmd.Flags().StringVar(&opts.Notes, "notes", "", "resolution notes")
	cmd.Flags().IntVar(&score, "score", 0, "new quality score for overturned or compromise")
	_ = cmd.MarkFlagRequired("resolution")
	return cmd
}

func disputeAppealCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "appeal <dispute-id>",
		Short: "Appeal a closed dispute to the next tier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.AppealDispute(ctx, engine.AppealOptions{DisputeID: args[0], Reason: reason, ActorID: actorID()})
				if err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "appeal reason")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func disputeSweepCmd() *cobra.Command {
	var hours int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Escalate disputes whose reviewer missed the response deadline",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.SweepOverdueDisputeReviewerSLA(ctx, hours)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().IntVar(&hours, "extension-hours", 0, "fresh deadline after escalation (defaults to config)")
	return cmd
}
