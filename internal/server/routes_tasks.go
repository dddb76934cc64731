package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
)

type TaskPath struct {
	TaskID string `path:"task_id"`
}

type SubmissionPath struct {
	SubmissionID string `path:"submission_id"`
}

func registerTasks(hapi huma.API, a api) {
	huma.Register(hapi, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		Description:   "Tasks without a sprint land in the backlog.",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct{ Body CreateTaskRequest }) (*body[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		t, err := e.CreateTask(ctx, engine.TaskCreateOptions{
			ID:         input.Body.ID,
			SprintID:   input.Body.SprintID,
			Title:      input.Body.Title,
			Points:     input.Body.Points,
			AssigneeID: input.Body.AssigneeID,
			Assignees:  input.Body.Assignees,
			DependsOn:  input.Body.DependsOn,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		SprintID string `query:"sprint_id"`
	}) (*body[[]domain.Task], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		items, err := e.ListTasks(ctx, input.SprintID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(nonNil(items)), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{task_id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *TaskPath) (*body[domain.Task], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		t, err := e.GetTask(ctx, input.TaskID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "update-task-status",
		Method:      http.MethodPut,
		Path:        "/tasks/{task_id}/status",
		Summary:     "Move a task through its workflow",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body TaskStatusRequest
	}) (*body[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		t, err := e.UpdateTaskStatus(ctx, input.TaskID, input.Body.Status, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "assign-task",
		Method:      http.MethodPost,
		Path:        "/tasks/{task_id}/assign",
		Summary:     "Assign a member to a task",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body AssignRequest
	}) (*body[domain.Task], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		t, err := e.AssignTask(ctx, input.TaskID, input.Body.MemberID, actorID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(t), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID:   "submit-work",
		Method:        http.MethodPost,
		Path:          "/tasks/{task_id}/submissions",
		Summary:       "Submit work for a task",
		DefaultStatus: http.StatusCreated,
		Errors:        mutationErrors,
	}, func(ctx context.Context, input *struct {
		TaskPath
		Body SubmitWorkRequest
	}) (*body[domain.Submission], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		sub, err := e.SubmitWork(ctx, engine.SubmitWorkOptions{
			ID:      input.Body.ID,
			TaskID:  input.TaskID,
			Content: input.Body.Content,
			ActorID: actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(sub), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "get-submission",
		Method:      http.MethodGet,
		Path:        "/submissions/{submission_id}",
		Summary:     "Get submission",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *SubmissionPath) (*body[domain.Submission], error) {
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		if _, err := requireMember(ctx, e); err != nil {
			return nil, a.handleError(err)
		}
		sub, err := e.GetSubmission(ctx, input.SubmissionID)
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(sub), nil
	})

	huma.Register(hapi, huma.Operation{
		OperationID: "review-submission",
		Method:      http.MethodPost,
		Path:        "/submissions/{submission_id}/review",
		Summary:     "Approve or reject a submission",
		Errors:      mutationErrors,
	}, func(ctx context.Context, input *struct {
		SubmissionPath
		Body ReviewRequest
	}) (*body[domain.Submission], error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		e, err := a.engine(ctx)
		if err != nil {
			return nil, a.handleError(err)
		}
		sub, err := e.ReviewSubmission(ctx, engine.ReviewOptions{
			SubmissionID: input.SubmissionID,
			Approve:      input.Body.Approve,
			QualityScore: input.Body.QualityScore,
			ActorID:      actorID,
		})
		if err != nil {
			return nil, a.handleError(err)
		}
		return reply(sub), nil
	})
}
