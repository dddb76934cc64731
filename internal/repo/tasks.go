package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/FCisco95/organic-app-sub000/internal/domain"
)

const taskColumns = `id,sprint_id,title,status,points,assignee_id,created_at,updated_at,completed_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var (
		t                    domain.Task
		sprintID, assigneeID sql.NullString
		created, updated     string
		completed            sql.NullString
	)
	err := row.Scan(&t.ID, &sprintID, &t.Title, &t.Status, &t.Points, &assigneeID, &created, &updated, &completed)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.SprintID = strPtr(sprintID)
	t.AssigneeID = strPtr(assigneeID)
	if t.CreatedAt, err = ParseTime(created); err != nil {
		return t, err
	}
	if t.UpdatedAt, err = ParseTime(updated); err != nil {
		return t, err
	}
	t.CompletedAt, err = timePtr(completed)
	return t, err
}

func (r Repo) InsertTask(ctx context.Context, q Querier, t domain.Task) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO tasks(`+taskColumns+`) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.ID, nullableStr(t.SprintID), t.Title, t.Status, t.Points, nullableStr(t.AssigneeID),
		FormatTime(t.CreatedAt), FormatTime(t.UpdatedAt), nullableTime(t.CompletedAt))
	if err != nil {
		return err
	}
	for _, m := range t.Assignees {
		if _, err := r.q(q).ExecContext(ctx, `INSERT OR IGNORE INTO task_assignees(task_id,member_id) VALUES (?,?)`, t.ID, m); err != nil {
			return err
		}
	}
	for _, dep := range t.DependsOn {
		if _, err := r.q(q).ExecContext(ctx, `INSERT OR IGNORE INTO task_deps(task_id,depends_on_task_id) VALUES (?,?)`, t.ID, dep); err != nil {
			return err
		}
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, q Querier, id string) (domain.Task, error) {
	t, err := scanTask(r.q(q).QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
	if err != nil {
		return t, err
	}
	if t.Assignees, err = r.selectStrings(ctx, q, `SELECT member_id FROM task_assignees WHERE task_id=? ORDER BY member_id`, id); err != nil {
		return t, err
	}
	t.DependsOn, err = r.selectStrings(ctx, q, `SELECT depends_on_task_id FROM task_deps WHERE task_id=? ORDER BY depends_on_task_id`, id)
	return t, err
}

func (r Repo) ListTasks(ctx context.Context, q Querier, sprintID string) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	var args []any
	if sprintID != "" {
		query += ` WHERE sprint_id=?`
		args = append(args, sprintID)
	}
	query += ` ORDER BY created_at, id`
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range res {
		if res[i].Assignees, err = r.selectStrings(ctx, q, `SELECT member_id FROM task_assignees WHERE task_id=? ORDER BY member_id`, res[i].ID); err != nil {
			return nil, err
		}
	}
	return res, nil
}

func (r Repo) selectStrings(ctx context.Context, q Querier, query string, args ...any) ([]string, error) {
	rows, err := r.q(q).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// UpdateTaskStatus is conditional on the task still being in from.
func (r Repo) UpdateTaskStatus(ctx context.Context, q Querier, id, from, to string, now time.Time) (bool, error) {
	var completed any
	if to == domain.TaskDone {
		completed = FormatTime(now)
	}
	res, err := r.q(q).ExecContext(ctx, `UPDATE tasks SET status=?, updated_at=?, completed_at=? WHERE id=? AND status=?`,
		to, FormatTime(now), completed, id, from)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r Repo) AssignTask(ctx context.Context, q Querier, id, memberID string, now time.Time) error {
	res, err := r.q(q).ExecContext(ctx, `UPDATE tasks SET assignee_id=?, updated_at=? WHERE id=?`, nullable(memberID), FormatTime(now), id)
	if err != nil {
		return err
	}
	ok, err := affectedOne(res)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// OpenDependencies lists dependencies of id that are not done.
func (r Repo) OpenDependencies(ctx context.Context, q Querier, id string) ([]string, error) {
	return r.selectStrings(ctx, q, `
SELECT d.depends_on_task_id FROM task_deps d
JOIN tasks t ON t.id=d.depends_on_task_id
WHERE d.task_id=? AND t.status<>?
ORDER BY d.depends_on_task_id`, id, domain.TaskDone)
}

// SprintTaskCounts summarises tasks for the blockers view.
type SprintTaskCounts struct {
	Total      int
	Done       int
	Unassigned int
}

func (r Repo) CountSprintTasks(ctx context.Context, q Querier, sprintID string) (SprintTaskCounts, error) {
	var c SprintTaskCounts
	err := r.q(q).QueryRowContext(ctx, `
SELECT COUNT(*),
  COALESCE(SUM(CASE WHEN t.status=? THEN 1 ELSE 0 END),0),
  COALESCE(SUM(CASE WHEN t.status<>? AND t.assignee_id IS NULL
    AND NOT EXISTS (SELECT 1 FROM task_assignees a WHERE a.task_id=t.id) THEN 1 ELSE 0 END),0)
FROM tasks t WHERE t.sprint_id=?`, domain.TaskDone, domain.TaskDone, sprintID).Scan(&c.Total, &c.Done, &c.Unassigned)
	return c, err
}

// MoveIncompleteTasks relocates every unfinished task of a sprint. A nil
// target sends them to the backlog.
func (r Repo) MoveIncompleteTasks(ctx context.Context, q Querier, sprintID string, target *string, now time.Time) (int64, error) {
	var (
		res sql.Result
		err error
	)
	if target == nil {
		res, err = r.q(q).ExecContext(ctx, `UPDATE tasks SET sprint_id=NULL, status=?, updated_at=? WHERE sprint_id=? AND status<>?`,
			domain.TaskBacklog, FormatTime(now), sprintID, domain.TaskDone)
	} else {
		res, err = r.q(q).ExecContext(ctx, `UPDATE tasks SET sprint_id=?, updated_at=? WHERE sprint_id=? AND status<>?`,
			*target, FormatTime(now), sprintID, domain.TaskDone)
	}
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const submissionColumns = `id,task_id,submitter_id,reviewer_id,COALESCE(content,''),review_status,quality_score,base_points,earned_points,created_at,reviewed_at`

func scanSubmission(row interface{ Scan(...any) error }) (domain.Submission, error) {
	var (
		s                  domain.Submission
		reviewer, reviewed sql.NullString
		score              sql.NullInt64
		created            string
	)
	err := row.Scan(&s.ID, &s.TaskID, &s.SubmitterID, &reviewer, &s.Content, &s.ReviewStatus, &score,
		&s.BasePoints, &s.EarnedPoints, &created, &reviewed)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.ReviewerID = strPtr(reviewer)
	s.QualityScore = intPtr(score)
	if s.CreatedAt, err = ParseTime(created); err != nil {
		return s, err
	}
	s.ReviewedAt, err = timePtr(reviewed)
	return s, err
}

func (r Repo) InsertSubmission(ctx context.Context, q Querier, s domain.Submission) error {
	_, err := r.q(q).ExecContext(ctx, `INSERT INTO submissions(id,task_id,submitter_id,reviewer_id,content,review_status,quality_score,base_points,earned_points,created_at,reviewed_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		s.ID, s.TaskID, s.SubmitterID, nullableStr(s.ReviewerID), nullable(s.Content), s.ReviewStatus, nullableInt(s.QualityScore),
		s.BasePoints, s.EarnedPoints, FormatTime(s.CreatedAt), nullableTime(s.ReviewedAt))
	return err
}

func (r Repo) GetSubmission(ctx context.Context, q Querier, id string) (domain.Submission, error) {
	return scanSubmission(r.q(q).QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id=?`, id))
}

func (r Repo) ListSubmissions(ctx context.Context, q Querier, taskID string) ([]domain.Submission, error) {
	rows, err := r.q(q).QueryContext(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE task_id=? ORDER BY created_at, id`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}

// ReviewUpdate is a conditional review write on a submission.
type ReviewUpdate struct {
	From         []string
	To           string
	ReviewerID   string
	QualityScore *int
	EarnedPoints *int64
	Now          time.Time
}

func (r Repo) UpdateSubmissionReview(ctx context.Context, q Querier, id string, u ReviewUpdate) (bool, error) {
	query := `UPDATE submissions SET review_status=?, reviewed_at=?`
	args := []any{u.To, FormatTime(u.Now)}
	if u.ReviewerID != "" {
		query += `, reviewer_id=?`
		args = append(args, u.ReviewerID)
	}
	if u.QualityScore != nil {
		query += `, quality_score=?`
		args = append(args, *u.QualityScore)
	}
	if u.EarnedPoints != nil {
		query += `, earned_points=?`
		args = append(args, *u.EarnedPoints)
	}
	query += ` WHERE id=?`
	args = append(args, id)
	if len(u.From) > 0 {
		query += ` AND review_status IN (` + placeholders(len(u.From)) + `)`
		args = append(args, stringArgs(u.From)...)
	}
	res, err := r.q(q).ExecContext(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

// ContributorTotal is one member's approved work within a sprint.
type ContributorTotal struct {
	MemberID       string
	TasksCompleted int
	Points         int64
	EarnedPoints   int64
}

// SprintContributors sums approved submissions on done tasks of a sprint per
// submitter.
func (r Repo) SprintContributors(ctx context.Context, q Querier, sprintID string) ([]ContributorTotal, error) {
	rows, err := r.q(q).QueryContext(ctx, `
SELECT s.submitter_id, COUNT(DISTINCT t.id), COALESCE(SUM(t.points),0), COALESCE(SUM(s.earned_points),0)
FROM submissions s
JOIN tasks t ON t.id=s.task_id
WHERE t.sprint_id=? AND t.status=? AND s.review_status=?
GROUP BY s.submitter_id
ORDER BY s.submitter_id`, sprintID, domain.TaskDone, domain.ReviewApproved)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []ContributorTotal
	for rows.Next() {
		var c ContributorTotal
		if err := rows.Scan(&c.MemberID, &c.TasksCompleted, &c.Points, &c.EarnedPoints); err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// SprintPointsCompleted sums points of done tasks in a sprint.
func (r Repo) SprintPointsCompleted(ctx context.Context, q Querier, sprintID string) (int64, error) {
	var pts int64
	err := r.q(q).QueryRowContext(ctx, `SELECT COALESCE(SUM(points),0) FROM tasks WHERE sprint_id=? AND status=?`, sprintID, domain.TaskDone).Scan(&pts)
	return pts, err
}

// SetSubmissionStatus changes review_status only, leaving the review stamp
// alone. It applies only while the row is in one of from.
func (r Repo) SetSubmissionStatus(ctx context.Context, q Querier, id string, from []string, to string) (bool, error) {
	args := append([]any{to, id}, stringArgs(from)...)
	res, err := r.q(q).ExecContext(ctx, `UPDATE submissions SET review_status=? WHERE id=? AND review_status IN (`+placeholders(len(from))+`)`, args...)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}
