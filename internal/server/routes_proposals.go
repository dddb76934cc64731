package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
)

type ProposalPath struct {
	ProposalID string `path:"proposal_id"`
}

func registerProposals(hapi huma.API, a api) {
	huma.Register(hapi, huma.Operation{
		OperationID:   "create-proposal",
		Method:        http.MethodPost,
		Path:          "/proposals",
		Summary:       "Create draft proposal",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct{ Body CreateProposalRequest }) (*body[domain.Proposal], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		p, err := e.CreateProposal(ctx, engine.ProposalCreateOptions{
			ID:      input.Body.ID,
			Title:   input.Body.Title,
			Body:    input.Body.Body,
			ActorID: actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-proposals",
		Method:      http.MethodGet,
		Path:        "/proposals",
		Summary:     "List proposals",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"draft,voting,finalized"`
	}) (*body[[]domain.Proposal], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListProposals(ctx, input.Status)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-proposal",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}",
		Summary:     "Get proposal",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ProposalPath) (*body[domain.Proposal], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		p, err := e.GetProposal(ctx, input.ProposalID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "start-voting",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/voting",
		Summary:     "Open voting and snapshot holder power",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ProposalPath
		Body *StartVotingRequest `required:"false"`
	}) (*body[domain.Proposal], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		days := 0
		if input.Body != nil {
			days = input.Body.Days
		}
		p, err := e.StartVoting(ctx, input.ProposalID, days, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "cast-vote",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/votes",
		Summary:     "Cast or replace the caller's vote",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		ProposalPath
		Body VoteRequest
	}) (*body[domain.Vote], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		v, err := e.CastVote(ctx, engine.CastVoteOptions{
			ProposalID: input.ProposalID,
			Value:      input.Body.Value,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(v), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-votes",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}/votes",
		Summary:     "List votes",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ProposalPath) (*body[[]domain.Vote], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListVotes(ctx, input.ProposalID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-holder-snapshot",
		Method:      http.MethodGet,
		Path:        "/proposals/{proposal_id}/holders",
		Summary:     "Voting power frozen when voting opened",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *ProposalPath) (*body[[]domain.HolderSnapshot], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListHolderSnapshot(ctx, input.ProposalID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "finalize-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/finalize",
		Summary:     "Finalize a proposal",
		Description: "The dedupe key comes from the body or the Idempotency-Key header. " +
			"Replaying a key returns the stored result with already_finalized set.",
		Errors: append(mutationErrors, http.StatusLocked),
	}, func(ctx context.Context, input *struct {
		ProposalPath
		IdempotencyKey string           `header:"Idempotency-Key"`
		Body           *FinalizeRequest `required:"false"`
	}) (*body[engine.FinalizeResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		key := strings.TrimSpace(input.IdempotencyKey)
		var early bool
		if b := input.Body; b != nil {
			if strings.TrimSpace(b.DedupeKey) != "" {
				key = b.DedupeKey
			}
			early = b.Early
		}
		res, err := e.FinalizeProposal(ctx, input.ProposalID, key, engine.FinalizeOptions{Early: early, ActorID: actorID})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "unfreeze-proposal",
		Method:      http.MethodPost,
		Path:        "/proposals/{proposal_id}/unfreeze",
		Summary:     "Clear a finalization freeze",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *ProposalPath) (*body[domain.Proposal], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		p, err := e.UnfreezeProposal(ctx, input.ProposalID, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(p), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "finalize-due-proposals",
		Method:      http.MethodPost,
		Path:        "/proposals/finalize-due",
		Summary:     "Finalize every proposal whose voting period has ended",
		Errors:      mutationErrors,
	}, func(ctx context.Context, _ *struct{}) (*body[engine.DueSweepResult], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requirePermission(ctx, e, auth.PermProposalAdmin); err != nil {
			return nil, a.handleError(err)
		}
		res, err := e.FinalizeDueProposals(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(res), nil
	})
}
