package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

type DisputePath struct {
	DisputeID string `path:"dispute_id"`
}

type disputesQuery struct {
	SprintID      string   `query:"sprint_id"`
	SubmissionID  string   `query:"submission_id"`
	Status        []string `query:"status"`
	ParticipantID string   `query:"participant_id"`
}

func registerDisputes(hapi huma.API, a api) {
	huma.Register(hapi, huma.Operation{
		OperationID:   "file-dispute",
		Method:        http.MethodPost,
		Path:          "/disputes",
		Summary:       "Dispute a rejected submission",
		Description:   "Stakes the disputant's XP until the dispute closes.",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct{ Body FileDisputeRequest }) (*body[DisputeResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		d, err := e.FileDispute(ctx, engine.FileDisputeOptions{
			ID:            input.Body.ID,
			SubmissionID:  input.Body.SubmissionID,
			Reason:        input.Body.Reason,
			EvidenceText:  input.Body.EvidenceText,
			EvidenceLinks: input.Body.EvidenceLinks,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(disputeResponse(e, d)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-disputes",
		Method:      http.MethodGet,
		Path:        "/disputes",
		Summary:     "List disputes",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *disputesQuery) (*body[[]DisputeResponse], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListDisputes(ctx, repo.DisputeFilter{
			SprintID:      input.SprintID,
			SubmissionID:  input.SubmissionID,
			Statuses:      input.Status,
			ParticipantID: input.ParticipantID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		out := make([]DisputeResponse, 0, len(items))
		for _, d := range items {
			out = append(out, disputeResponse(e, d))
		}
		return reply(out), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-dispute",
		Method:      http.MethodGet,
		Path:        "/disputes/{dispute_id}",
		Summary:     "Get dispute with deadline urgency",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *DisputePath) (*body[DisputeResponse], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		d, err := e.GetDispute(ctx, input.DisputeID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(disputeResponse(e, d)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID:   "submit-evidence",
		Method:        http.MethodPost,
		Path:          "/disputes/{dispute_id}/evidence",
		Summary:       "Record an evidence upload",
		Description:   "Uploads after the response deadline are accepted and flagged late.",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		DisputePath
		Body EvidenceRequest
	}) (*body[domain.EvidenceEvent], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		ev, err := e.SubmitEvidence(ctx, engine.EvidenceFile{
			DisputeID: input.DisputeID,
			FileName:  input.Body.FileName,
			MimeType:  input.Body.MimeType,
			SizeBytes: input.Body.SizeBytes,
			FileURL:   input.Body.FileURL,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(ev), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-evidence",
		Method:      http.MethodGet,
		Path:        "/disputes/{dispute_id}/evidence",
		Summary:     "List evidence uploads",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *DisputePath) (*body[[]domain.EvidenceEvent], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListEvidence(ctx, input.DisputeID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "respond-dispute",
		Method:      http.MethodPost,
		Path:        "/disputes/{dispute_id}/respond",
		Summary:     "Reviewer response",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		DisputePath
		Body RespondRequest
	}) (*body[DisputeResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		d, err := e.RespondToDispute(ctx, engine.RespondOptions{
			DisputeID: input.DisputeID,
			Text:      input.Body.Text,
			Links:     input.Body.Links,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(disputeResponse(e, d)), nil
	})

	disputeAction(hapi, a, "start-mediation", "/disputes/{dispute_id}/mediation", "Move an open dispute into mediation", engine.Engine.StartMediation)
	disputeAction(hapi, a, "assign-arbitrator", "/disputes/{dispute_id}/arbitrator", "Claim a dispute as arbitrator", engine.Engine.AssignArbitrator)
	disputeAction(hapi, a, "withdraw-dispute", "/disputes/{dispute_id}/withdraw", "Withdraw a dispute and refund the stake", engine.Engine.WithdrawDispute)
	disputeAction(hapi, a, "mediate-dispute", "/disputes/{dispute_id}/mediate", "Close a dispute as mediated", engine.Engine.MediateDispute)

	huma.Register(hapi, huma.Operation{
		OperationID: "resolve-dispute",
		Method:      http.MethodPost,
		Path:        "/disputes/{dispute_id}/resolve",
		Summary:     "Resolve a dispute",
		Description: "Applies the XP and submission consequences of the resolution.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		DisputePath
		Body ResolveRequest
	}) (*body[engine.ResolveResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		res, err := e.ResolveDispute(ctx, engine.ResolveOptions{
			DisputeID:    input.DisputeID,
			Resolution:   input.Body.Resolution,
			Notes:        input.Body.Notes,
			QualityScore: input.Body.QualityScore,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "appeal-dispute",
		Method:      http.MethodPost,
		Path:        "/disputes/{dispute_id}/appeal",
		Summary:     "Appeal a closed dispute one tier up",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		DisputePath
		Body AppealRequest
	}) (*body[DisputeResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		d, err := e.AppealDispute(ctx, engine.AppealOptions{
			DisputeID: input.DisputeID,
			Reason:    input.Body.Reason,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(disputeResponse(e, d)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "sweep-dispute-sla",
		Method:      http.MethodPost,
		Path:        "/disputes/sweep-sla",
		Summary:     "Escalate disputes whose reviewer missed the response deadline",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		Body *SweepRequest `required:"false"`
	}) (*body[engine.SweepResult], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requirePermission(ctx, e, auth.PermDisputeAdmin); err != nil {
			return nil, a.handleError(err)
		}
		hours := 0
		if input.Body != nil {
			hours = input.Body.ExtensionHours
		}
		res, err := e.SweepOverdueDisputeReviewerSLA(ctx, hours)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(res), nil
	})
}

// disputeAction registers a body-less transition that only needs the
// dispute id and the caller.
func disputeAction(hapi huma.API, a api, id, route, summary string, op func(engine.Engine, context.Context, string, string) (domain.Dispute, error)) {
	huma.Register(hapi, huma.Operation{
		OperationID: id,
		Method:      http.MethodPost,
		Path:        route,
		Summary:     summary,
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *DisputePath) (*body[DisputeResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		d, err := op(e, ctx, input.DisputeID, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(disputeResponse(e, d)), nil
	})
}

func disputeResponse(e engine.Engine, d domain.Dispute) DisputeResponse {
	return DisputeResponse{Dispute: d, Urgency: e.DisputeUrgency(d)}
}
