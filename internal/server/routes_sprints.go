package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
)

type SprintPath struct {
	SprintID string `path:"sprint_id"`
}

func registerSprints(hapi huma.API, a api) {
	huma.Register(hapi, huma.Operation{
		OperationID:   "create-sprint",
		Method:        http.MethodPost,
		Path:          "/sprints",
		Summary:       "Create sprint in planning",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct{ Body CreateSprintRequest }) (*body[domain.Sprint], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		s, err := e.CreateSprint(ctx, engine.SprintCreateOptions{
			ID:             input.Body.ID,
			Name:           input.Body.Name,
			Goal:           input.Body.Goal,
			CapacityPoints: input.Body.CapacityPoints,
			RewardPool:     input.Body.RewardPool,
			StartAt:        input.Body.StartAt,
			EndAt:          input.Body.EndAt,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-sprints",
		Method:      http.MethodGet,
		Path:        "/sprints",
		Summary:     "List sprints",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"planning,active,review,dispute_window,settlement,completed"`
	}) (*body[[]domain.Sprint], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListSprints(ctx, input.Status)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-sprint",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}",
		Summary:     "Get sprint",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SprintPath) (*body[domain.Sprint], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		s, err := e.GetSprint(ctx, input.SprintID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "start-sprint",
		Method:      http.MethodPost,
		Path:        "/sprints/{sprint_id}/start",
		Summary:     "Start a planned sprint",
		Description: "Fails with ACTIVE_SPRINT_EXISTS while another sprint is open.",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *SprintPath) (*body[domain.Sprint], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		s, err := e.StartSprint(ctx, input.SprintID, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "advance-sprint",
		Method:      http.MethodPost,
		Path:        "/sprints/{sprint_id}/advance",
		Summary:     "Advance sprint to its next phase",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		SprintPath
		Body *AdvanceRequest `required:"false"`
	}) (*body[engine.AdvanceResult], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		opts := engine.AdvanceOptions{ActorID: actorID}
		if b := input.Body; b != nil {
			opts.Target = b.Target
			opts.IncompleteAction = b.IncompleteAction
			opts.NextSprintID = b.NextSprintID
		}
		res, err := e.AdvanceSprintPhase(ctx, input.SprintID, opts)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(res), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "sprint-blockers",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/blockers",
		Summary:     "What currently prevents the sprint from advancing",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SprintPath) (*body[domain.SprintBlockers], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		b, err := e.SprintBlockers(ctx, input.SprintID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(b), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "sprint-snapshot",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/snapshot",
		Summary:     "Completion snapshot of a completed sprint",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SprintPath) (*body[domain.SprintSnapshot], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		snap, err := e.GetSnapshot(ctx, input.SprintID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(snap), nil
	})
}

func registerSettlement(hapi huma.API, a api) {
	huma.Register(hapi, huma.Operation{
		OperationID: "evaluate-settlement",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/settlement",
		Summary:     "Evaluate the settlement guard without changing anything",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SprintPath) (*body[engine.SettlementCheck], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		check, err := e.EvaluateSettlement(ctx, input.SprintID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(check), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "emission-cap",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/emission-cap",
		Summary:     "Emission cap breakdown",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SprintPath) (*body[engine.CapBreakdown], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		c, err := e.EmissionCap(ctx, input.SprintID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(c), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-distributions",
		Method:      http.MethodGet,
		Path:        "/sprints/{sprint_id}/distributions",
		Summary:     "Reward distribution rows of a sprint",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SprintPath) (*body[[]domain.RewardDistribution], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListDistributions(ctx, input.SprintID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "update-reward-pool",
		Method:      http.MethodPut,
		Path:        "/sprints/{sprint_id}/reward-pool",
		Summary:     "Change the sprint reward pool",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		SprintPath
		Body RewardPoolRequest
	}) (*body[domain.Sprint], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		s, err := e.UpdateRewardPool(ctx, input.SprintID, input.Body.RewardPool, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(s), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "reconcile-epoch",
		Method:      http.MethodPost,
		Path:        "/sprints/{sprint_id}/settlement/reconcile",
		Summary:     "Remove a stray epoch distribution from an uncompleted sprint",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *SprintPath) (*body[ReconcileResponse], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		amounts, err := e.ReconcileEpochDistribution(ctx, input.SprintID, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		s, err := e.GetSprint(ctx, input.SprintID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(ReconcileResponse{SprintID: s.ID, EpochAmounts: nonNil(amounts), SettlementState: s.RewardSettlementStatus}), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "clear-kill-switch",
		Method:      http.MethodPost,
		Path:        "/sprints/{sprint_id}/settlement/clear-kill-switch",
		Summary:     "Clear a sticky settlement kill switch",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *SprintPath) (*body[domain.Sprint], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		s, err := e.ClearSettlementKillSwitch(ctx, input.SprintID, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(s), nil
	})
}
