package engine

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
	"github.com/FCisco95/organic-app-sub000/internal/engine/auth"
	"github.com/FCisco95/organic-app-sub000/internal/events"
	"github.com/FCisco95/organic-app-sub000/internal/repo"
)

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID         string
	SprintID   string
	Title      string
	Points     int64
	AssigneeID string
	Assignees  []string
	DependsOn  []string
	ActorID    string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if strings.TrimSpace(opts.Title) == "" {
		return domain.Task{}, validationf(nil, "title is required")
	}
	if opts.Points < 0 {
		return domain.Task{}, validationf(nil, "points must not be negative")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermTaskManage); err != nil {
		return domain.Task{}, err
	}
	status := domain.TaskBacklog
	if opts.SprintID != "" {
		s, err := e.Repo.GetSprint(ctx, tx, opts.SprintID)
		if err != nil {
			return domain.Task{}, fmt.Errorf("sprint %s: %w", opts.SprintID, err)
		}
		if s.Status == domain.PhaseCompleted {
			return domain.Task{}, conflict(CodeSprintCompleted, "cannot add tasks to a completed sprint", map[string]any{"sprint_id": s.ID})
		}
		status = domain.TaskTodo
	}
	for _, m := range append([]string{opts.AssigneeID}, opts.Assignees...) {
		if m == "" {
			continue
		}
		if _, err := e.Repo.GetMember(ctx, tx, m); err != nil {
			return domain.Task{}, fmt.Errorf("assignee %s: %w", m, err)
		}
	}
	id := newID(opts.ID)
	for _, dep := range opts.DependsOn {
		if dep == id {
			return domain.Task{}, validationf(nil, "task cannot depend on itself")
		}
		if _, err := e.Repo.GetTask(ctx, tx, dep); err != nil {
			return domain.Task{}, fmt.Errorf("dependency %s: %w", dep, err)
		}
	}
	now := e.now()
	t := domain.Task{
		ID:         id,
		SprintID:   optionalString(opts.SprintID),
		Title:      opts.Title,
		Status:     status,
		Points:     opts.Points,
		AssigneeID: optionalString(opts.AssigneeID),
		Assignees:  opts.Assignees,
		DependsOn:  opts.DependsOn,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	if err := e.emit(ctx, tx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{
		"title": t.Title, "status": t.Status, "sprint_id": opts.SprintID, "points": t.Points,
	}); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

func (e Engine) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return e.Repo.GetTask(ctx, nil, id)
}

func (e Engine) ListTasks(ctx context.Context, sprintID string) ([]domain.Task, error) {
	return e.Repo.ListTasks(ctx, nil, sprintID)
}

func ensureTaskTransition(oldStatus, newStatus string) error {
	switch oldStatus {
	case domain.TaskBacklog:
		if newStatus == domain.TaskTodo {
			return nil
		}
	case domain.TaskTodo:
		if newStatus == domain.TaskInProgress || newStatus == domain.TaskBacklog {
			return nil
		}
	case domain.TaskInProgress:
		if newStatus == domain.TaskReview || newStatus == domain.TaskTodo {
			return nil
		}
	case domain.TaskReview:
		if newStatus == domain.TaskDone || newStatus == domain.TaskInProgress {
			return nil
		}
	}
	return validationf(map[string]any{"from": oldStatus, "to": newStatus}, "invalid task status transition %s -> %s", oldStatus, newStatus)
}

func isTaskAssignee(t domain.Task, memberID string) bool {
	if t.AssigneeID != nil && *t.AssigneeID == memberID {
		return true
	}
	return contains(t.Assignees, memberID)
}

// UpdateTaskStatus moves a task along its workflow. Assignees may move their
// own tasks; task.manage may move any task.
func (e Engine) UpdateTaskStatus(ctx context.Context, taskID, status, actorID string) (domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	actor, err := e.Auth.Member(ctx, tx, actorID)
	if err != nil {
		return domain.Task{}, err
	}
	if !isTaskAssignee(t, actor.ID) && !auth.RoleHasPermission(actor.Role, auth.PermTaskManage) {
		return domain.Task{}, auth.ForbiddenError{Permission: auth.PermTaskManage}
	}
	if err := ensureTaskTransition(t.Status, status); err != nil {
		return domain.Task{}, err
	}
	if status == domain.TaskDone {
		if err := e.ensureDependenciesDone(ctx, tx, t.ID); err != nil {
			return domain.Task{}, err
		}
	}
	now := e.now()
	ok, err := e.Repo.UpdateTaskStatus(ctx, tx, t.ID, t.Status, status, now)
	if err != nil {
		return domain.Task{}, err
	}
	if !ok {
		return domain.Task{}, conflict(CodeStaleState, "task changed concurrently", map[string]any{"task_id": t.ID})
	}
	if err := e.emit(ctx, tx, "task.status_changed", "task", t.ID, actorID, events.EventPayload{"from": t.Status, "to": status}); err != nil {
		return domain.Task{}, err
	}
	updated, err := e.Repo.GetTask(ctx, tx, t.ID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return updated, nil
}

func (e Engine) ensureDependenciesDone(ctx context.Context, q repo.Querier, taskID string) error {
	open, err := e.Repo.OpenDependencies(ctx, q, taskID)
	if err != nil {
		return err
	}
	if len(open) > 0 {
		return conflict(CodeTaskBlocked, fmt.Sprintf("task %s has unfinished dependencies", taskID), map[string]any{"blocked_by": open})
	}
	return nil
}

func (e Engine) AssignTask(ctx context.Context, taskID, memberID, actorID string) (domain.Task, error) {
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, actorID, auth.PermTaskManage); err != nil {
		return domain.Task{}, err
	}
	if memberID != "" {
		if _, err := e.Repo.GetMember(ctx, tx, memberID); err != nil {
			return domain.Task{}, fmt.Errorf("assignee %s: %w", memberID, err)
		}
	}
	if err := e.Repo.AssignTask(ctx, tx, taskID, memberID, e.now()); err != nil {
		return domain.Task{}, err
	}
	if err := e.emit(ctx, tx, "task.assigned", "task", taskID, actorID, events.EventPayload{"assignee_id": memberID}); err != nil {
		return domain.Task{}, err
	}
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

type SubmitWorkOptions struct {
	ID      string
	TaskID  string
	Content string
	ActorID string
}

// SubmitWork records a submission from an assignee and moves the task into
// review.
func (e Engine) SubmitWork(ctx context.Context, opts SubmitWorkOptions) (domain.Submission, error) {
	if strings.TrimSpace(opts.Content) == "" {
		return domain.Submission{}, validationf(nil, "content is required")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()
	t, err := e.Repo.GetTask(ctx, tx, opts.TaskID)
	if err != nil {
		return domain.Submission{}, err
	}
	if _, err := e.Auth.Member(ctx, tx, opts.ActorID); err != nil {
		return domain.Submission{}, err
	}
	if !isTaskAssignee(t, opts.ActorID) {
		return domain.Submission{}, auth.ForbiddenError{Permission: "task.assignee"}
	}
	switch t.Status {
	case domain.TaskInProgress:
		ok, err := e.Repo.UpdateTaskStatus(ctx, tx, t.ID, t.Status, domain.TaskReview, e.now())
		if err != nil {
			return domain.Submission{}, err
		}
		if !ok {
			return domain.Submission{}, conflict(CodeStaleState, "task changed concurrently", map[string]any{"task_id": t.ID})
		}
	case domain.TaskReview:
	default:
		return domain.Submission{}, conflict(CodeInvalidStatus, "task must be in progress or in review to submit", map[string]any{"status": t.Status})
	}
	s := domain.Submission{
		ID:           newID(opts.ID),
		TaskID:       t.ID,
		SubmitterID:  opts.ActorID,
		Content:      opts.Content,
		ReviewStatus: domain.ReviewPending,
		BasePoints:   t.Points,
		CreatedAt:    e.now(),
	}
	if err := e.Repo.InsertSubmission(ctx, tx, s); err != nil {
		return domain.Submission{}, fmt.Errorf("insert submission: %w", err)
	}
	if err := e.emit(ctx, tx, "submission.created", "submission", s.ID, opts.ActorID, events.EventPayload{"task_id": t.ID}); err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return s, nil
}

func (e Engine) GetSubmission(ctx context.Context, id string) (domain.Submission, error) {
	return e.Repo.GetSubmission(ctx, nil, id)
}

type ReviewOptions struct {
	SubmissionID string
	Approve      bool
	QualityScore int
	ActorID      string
}

// earnedPoints applies the quality multiplier, rounding down.
func (e Engine) earnedPoints(base int64, score int) int64 {
	return int64(math.Floor(float64(base) * e.Config.QualityMultiplier(score)))
}

// ReviewSubmission approves or rejects a pending submission. Approval moves
// the task to done and credits the submitter with the earned points as XP.
func (e Engine) ReviewSubmission(ctx context.Context, opts ReviewOptions) (domain.Submission, error) {
	if _, err := e.config(); err != nil {
		return domain.Submission{}, err
	}
	if opts.Approve && (opts.QualityScore < 1 || opts.QualityScore > 5) {
		return domain.Submission{}, validationf(map[string]any{"quality_score": opts.QualityScore}, "quality score must be between 1 and 5")
	}
	if !opts.Approve && opts.QualityScore != 0 && (opts.QualityScore < 1 || opts.QualityScore > 5) {
		return domain.Submission{}, validationf(map[string]any{"quality_score": opts.QualityScore}, "quality score must be between 1 and 5")
	}
	tx, err := e.begin(ctx)
	if err != nil {
		return domain.Submission{}, err
	}
	defer tx.Rollback()
	if _, err := e.Auth.Require(ctx, tx, opts.ActorID, auth.PermSubmissionReview); err != nil {
		return domain.Submission{}, err
	}
	s, err := e.Repo.GetSubmission(ctx, tx, opts.SubmissionID)
	if err != nil {
		return domain.Submission{}, err
	}
	if s.SubmitterID == opts.ActorID {
		return domain.Submission{}, conflict(CodeConflictOfInterest, "submitters cannot review their own work", nil)
	}
	if s.ReviewStatus != domain.ReviewPending {
		return domain.Submission{}, conflict(CodeInvalidStatus, "submission already reviewed", map[string]any{"review_status": s.ReviewStatus})
	}
	now := e.now()
	u := repo.ReviewUpdate{
		From:       []string{domain.ReviewPending},
		ReviewerID: opts.ActorID,
		Now:        now,
	}
	var earned int64
	if opts.QualityScore != 0 {
		score := opts.QualityScore
		u.QualityScore = &score
	}
	if opts.Approve {
		if err := e.ensureDependenciesDone(ctx, tx, s.TaskID); err != nil {
			return domain.Submission{}, err
		}
		earned = e.earnedPoints(s.BasePoints, opts.QualityScore)
		u.To = domain.ReviewApproved
	} else {
		u.To = domain.ReviewRejected
	}
	u.EarnedPoints = &earned
	ok, err := e.Repo.UpdateSubmissionReview(ctx, tx, s.ID, u)
	if err != nil {
		return domain.Submission{}, err
	}
	if !ok {
		return domain.Submission{}, conflict(CodeStaleState, "submission changed concurrently", map[string]any{"submission_id": s.ID})
	}
	if opts.Approve {
		if err := e.completeTask(ctx, tx, s.TaskID, opts.ActorID); err != nil {
			return domain.Submission{}, err
		}
		if _, err := e.adjustXP(ctx, tx, s.SubmitterID, earned, "submission.approved", opts.ActorID); err != nil {
			return domain.Submission{}, err
		}
	}
	if err := e.emit(ctx, tx, "submission.reviewed", "submission", s.ID, opts.ActorID, events.EventPayload{
		"review_status": u.To, "quality_score": opts.QualityScore, "earned_points": earned,
	}); err != nil {
		return domain.Submission{}, err
	}
	updated, err := e.Repo.GetSubmission(ctx, tx, s.ID)
	if err != nil {
		return domain.Submission{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Submission{}, err
	}
	return updated, nil
}

// completeTask marks a task done when it is in review and unblocked. Tasks
// already done are left alone.
func (e Engine) completeTask(ctx context.Context, tx repo.Querier, taskID, actorID string) error {
	t, err := e.Repo.GetTask(ctx, tx, taskID)
	if err != nil {
		return err
	}
	if t.Status == domain.TaskDone {
		return nil
	}
	if err := e.ensureDependenciesDone(ctx, tx, taskID); err != nil {
		return err
	}
	ok, err := e.Repo.UpdateTaskStatus(ctx, tx, taskID, t.Status, domain.TaskDone, e.now())
	if err != nil {
		return err
	}
	if !ok {
		return conflict(CodeStaleState, "task changed concurrently", map[string]any{"task_id": taskID})
	}
	return nil
}
