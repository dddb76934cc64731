package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/FCisco95/organic-app-sub000/internal/config"
	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/events"
)

type MemberPath struct {
	MemberID string `path:"member_id"`
}

func registerMembers(hapi huma.API, a api) {
	huma.Register(hapi, huma.Operation{
		OperationID:   "create-member",
		Method:        http.MethodPost,
		Path:          "/members",
		Summary:       "Create member",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct{ Body CreateMemberRequest }) (*body[domain.Member], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		m, err := e.CreateMember(ctx, engine.MemberCreateOptions{
			ID:           input.Body.ID,
			DisplayName:  input.Body.DisplayName,
			Role:         input.Body.Role,
			XP:           input.Body.XP,
			TokenBalance: input.Body.TokenBalance,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-members",
		Method:      http.MethodGet,
		Path:        "/members",
		Summary:     "List members",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*body[[]domain.Member], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListMembers(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-member",
		Method:      http.MethodGet,
		Path:        "/members/{member_id}",
		Summary:     "Get member",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *MemberPath) (*body[domain.Member], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		m, err := e.GetMember(ctx, input.MemberID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "set-member-role",
		Method:      http.MethodPut,
		Path:        "/members/{member_id}/role",
		Summary:     "Change a member's role",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		MemberPath
		Body SetRoleRequest
	}) (*body[domain.Member], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		m, err := e.SetMemberRole(ctx, input.MemberID, input.Body.Role, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "grant-xp",
		Method:      http.MethodPost,
		Path:        "/members/{member_id}/xp",
		Summary:     "Adjust a member's XP",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		MemberPath
		Body GrantXPRequest
	}) (*body[domain.Member], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		m, err := e.GrantXP(ctx, input.MemberID, input.Body.Delta, input.Body.Reason, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(m), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-config",
		Method:      http.MethodGet,
		Path:        "/config",
		Summary:     "Active org config",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*body[map[string]any], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		out, err := configMap(e.Config)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(out), nil
	})
}

type eventsQuery struct {
	EntityKind string `query:"entity_kind" enum:"member,sprint,task,submission,dispute,proposal"`
	EntityID   string `query:"entity_id"`
	Type       string `query:"type"`
	Limit      int    `query:"limit" default:"50" minimum:"1" maximum:"500"`
}

func registerEvents(hapi huma.API, a api) {
	huma.Register(hapi, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List audit events, newest first",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *eventsQuery) (*body[[]domain.Event], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.Events.List(ctx, events.Filter{
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Type:       input.Type,
			Limit:      input.Limit,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})
}

// configMap renders the config as its JSON document with webhook secrets
// removed.
func configMap(cfg *config.Config) (map[string]any, error) {
	c := *cfg
	c.Webhooks = nil
	for _, w := range cfg.Webhooks {
		w.Secret = ""
		c.Webhooks = append(c.Webhooks, w)
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
