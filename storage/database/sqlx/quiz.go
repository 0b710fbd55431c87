package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
)

type quizRepository struct {
	base
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *sqlx.DB) quiz.Repository {
	return &quizRepository{base{db: db}}
}

type quizRow struct {
	ID                string         `db:"id"`
	OwnerID           string         `db:"owner_id"`
	Title             string         `db:"title"`
	Description       string         `db:"description"`
	Language          string         `db:"language"`
	Difficulty        string         `db:"difficulty"`
	SourceKind        string         `db:"source_kind"`
	SourceInput       string         `db:"source_input"`
	SourceText        string         `db:"source_text"`
	SourceRef         null.String    `db:"source_ref"`
	QuestionKinds     pq.StringArray `db:"question_kinds"`
	Status            string         `db:"status"`
	JobID             null.String    `db:"job_id"`
	PendingMode       string         `db:"pending_mode"`
	RequestedCount    int            `db:"requested_count"`
	Attempts          int            `db:"attempts"`
	LastError         string         `db:"last_error"`
	ShareToken        null.String    `db:"share_token"`
	SharePasswordHash []byte         `db:"share_password_hash"`
	ShareAnswers      bool           `db:"share_answers"`
	QuestionCount     int            `db:"question_count"`
	SubmittedAt       null.Time      `db:"submitted_at"`
	CreatedAt         time.Time      `db:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at"`
}

func (r quizRow) quiz() quiz.Quiz {
	return quiz.Quiz{
		ID:                r.ID,
		OwnerID:           r.OwnerID,
		Title:             r.Title,
		Description:       r.Description,
		Language:          r.Language,
		Difficulty:        r.Difficulty,
		SourceKind:        r.SourceKind,
		SourceInput:       r.SourceInput,
		SourceText:        r.SourceText,
		SourceRef:         r.SourceRef.String,
		QuestionKinds:     append([]string{}, r.QuestionKinds...),
		Status:            r.Status,
		JobID:             r.JobID.String,
		PendingMode:       r.PendingMode,
		RequestedCount:    r.RequestedCount,
		Attempts:          r.Attempts,
		LastError:         r.LastError,
		ShareToken:        r.ShareToken.String,
		SharePasswordHash: r.SharePasswordHash,
		ShareAnswers:      r.ShareAnswers,
		QuestionCount:     r.QuestionCount,
		SubmittedAt:       utcTime(r.SubmittedAt),
		CreatedAt:         r.CreatedAt.UTC(),
		UpdatedAt:         r.UpdatedAt.UTC(),
	}
}

type questionRow struct {
	ID          string         `db:"id"`
	QuizID      string         `db:"quiz_id"`
	Position    int            `db:"position"`
	Kind        string         `db:"kind"`
	Prompt      string         `db:"prompt"`
	Options     pq.StringArray `db:"options"`
	Answer      string         `db:"answer"`
	Explanation string         `db:"explanation"`
}

func (r questionRow) question() quiz.Question {
	return quiz.Question{
		ID:          r.ID,
		QuizID:      r.QuizID,
		Position:    r.Position,
		Kind:        r.Kind,
		Prompt:      r.Prompt,
		Options:     append([]string{}, r.Options...),
		Answer:      r.Answer,
		Explanation: r.Explanation,
	}
}

const (
	quizColumns = `q.id, q.owner_id, q.title, q.description, q.language, q.difficulty, q.source_kind, q.source_input,
		q.source_text, q.source_ref, q.question_kinds, q.status, q.job_id, q.pending_mode, q.requested_count, q.attempts,
		q.last_error, q.share_token, q.share_password_hash, q.share_answers, q.submitted_at, q.created_at, q.updated_at,
		(SELECT COUNT(*) FROM questions qn WHERE qn.quiz_id = q.id) AS question_count`

	questionColumns = `id, quiz_id, position, kind, prompt, options, answer, explanation`
)

// orderingColumns maps the orderable fields to their SQL expression.
var orderingColumns = map[string]string{
	"title":      "LOWER(q.title)",
	"created_at": "q.created_at",
	"updated_at": "q.updated_at",
	"status":     "q.status",
}

// stringArray never encodes as NULL.
func stringArray(s []string) pq.StringArray {
	if s == nil {
		return pq.StringArray{}
	}
	return s
}

func insertQuestions(ctx context.Context, exec sqlx.ExtContext, quizID string, start int, questions []quiz.Question) error {
	for i, q := range questions {
		_, err := exec.ExecContext(ctx, `INSERT INTO questions (`+questionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			q.ID, quizID, start+i+1, q.Kind, q.Prompt, stringArray(q.Options), q.Answer, q.Explanation)
		if err != nil {
			return errors.Wrap(err, "inserting question")
		}
	}
	return nil
}

func renumberQuestions(ctx context.Context, exec sqlx.ExtContext, quizID string) error {
	_, err := exec.ExecContext(ctx, `UPDATE questions qn SET position = r.rn
		FROM (SELECT id, ROW_NUMBER() OVER (ORDER BY position, id) AS rn FROM questions WHERE quiz_id = $1) r
		WHERE qn.id = r.id`, quizID)
	return errors.Wrap(err, "renumbering questions")
}

func (repo *quizRepository) loadQuestions(ctx context.Context, exec sqlx.ExtContext, quizID string) ([]quiz.Question, error) {
	var rows []questionRow
	err := sqlx.SelectContext(ctx, exec, &rows,
		`SELECT `+questionColumns+` FROM questions WHERE quiz_id = $1 ORDER BY position`, quizID)
	if err != nil {
		return nil, errors.Wrap(err, "selecting questions")
	}
	res := make([]quiz.Question, len(rows))
	for i, row := range rows {
		res[i] = row.question()
	}
	return res, nil
}

func (repo *quizRepository) CreateQuiz(ctx context.Context, qz quiz.Quiz, exec ...core.DBExecutor) (quiz.Quiz, error) {
	var res quiz.Quiz
	err := repo.inTx(ctx, exec, func(tx sqlx.ExtContext) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO quizzes (id, owner_id, title, description, language, difficulty,
				source_kind, source_input, source_text, source_ref, question_kinds, status, job_id, pending_mode,
				requested_count, attempts, last_error, share_token, share_password_hash, share_answers, submitted_at,
				created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`,
			qz.ID, qz.OwnerID, qz.Title, qz.Description, qz.Language, qz.Difficulty,
			qz.SourceKind, qz.SourceInput, qz.SourceText, nullString(qz.SourceRef), stringArray(qz.QuestionKinds),
			qz.Status, nullString(qz.JobID), qz.PendingMode, qz.RequestedCount, qz.Attempts, qz.LastError,
			nullString(qz.ShareToken), qz.SharePasswordHash, qz.ShareAnswers, nullTime(qz.SubmittedAt),
			qz.CreatedAt.UTC(), qz.UpdatedAt.UTC())
		if err != nil {
			if isForeignKeyViolation(err) {
				return core.NewNotFoundError("user")
			}
			return errors.Wrap(err, "inserting quiz")
		}
		if err = insertQuestions(ctx, tx, qz.ID, 0, qz.Questions); err != nil {
			return err
		}
		res, err = repo.get(ctx, tx, quiz.GetFilter{ID: qz.ID})
		return err
	})
	return res, err
}

func (repo *quizRepository) get(ctx context.Context, exec sqlx.ExtContext, filter quiz.GetFilter) (quiz.Quiz, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.ID != "" {
		add("q.id = $%d", filter.ID)
	}
	if filter.OwnerID != "" {
		add("q.owner_id = $%d", filter.OwnerID)
	}
	if filter.ShareToken != "" {
		add("q.share_token = $%d", filter.ShareToken)
	}
	if len(conds) == 0 {
		return quiz.Quiz{}, core.NewNotFoundError("quiz")
	}

	var row quizRow
	err := sqlx.GetContext(ctx, exec, &row, `SELECT `+quizColumns+` FROM quizzes q WHERE `+strings.Join(conds, " AND "), args...)
	if err != nil {
		return quiz.Quiz{}, trapNoRowsErr(err, "quiz")
	}
	qz := row.quiz()
	if qz.Questions, err = repo.loadQuestions(ctx, exec, qz.ID); err != nil {
		return quiz.Quiz{}, err
	}
	return qz, nil
}

func (repo *quizRepository) GetQuiz(ctx context.Context, filter quiz.GetFilter, exec ...core.DBExecutor) (quiz.Quiz, error) {
	return repo.get(ctx, repo.getExec(exec), filter)
}

func (repo *quizRepository) selectQuizzes(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) ([]quiz.Quiz, error) {
	var rows []quizRow
	if err := sqlx.SelectContext(ctx, exec, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "selecting quizzes")
	}
	res := make([]quiz.Quiz, len(rows))
	for i, row := range rows {
		res[i] = row.quiz()
	}
	return res, nil
}

func (repo *quizRepository) QueryQuizzes(ctx context.Context, ownerID string, filter quiz.QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]quiz.Quiz, error) {
	args := []interface{}{ownerID}
	conds := []string{"q.owner_id = $1"}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if filter.Search != "" {
		add("(q.title ILIKE ? OR q.description ILIKE ?)", "%"+escapeLike(filter.Search)+"%")
	}
	if filter.Status != "" {
		add("q.status = ?", filter.Status)
	}
	if filter.Source != "" {
		add("q.source_kind = ?", filter.Source)
	}
	if !filter.CreatedFrom.IsZero() {
		add("q.created_at >= ?", filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		add("q.created_at <= ?", filter.CreatedTo.UTC())
	}

	orderBy := make([]string, 0, len(ordering)+2)
	for _, ord := range ordering {
		col, ok := orderingColumns[ord.Field]
		if !ok {
			continue
		}
		dir := "DESC"
		if ord.Ascending {
			dir = "ASC"
		}
		orderBy = append(orderBy, col+" "+dir)
	}
	orderBy = append(orderBy, "q.created_at DESC", "q.id ASC")

	query := `SELECT ` + quizColumns + ` FROM quizzes q WHERE ` + strings.Join(conds, " AND ") +
		` ORDER BY ` + strings.Join(orderBy, ", ")
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET %d", filter.Offset)
	}
	return repo.selectQuizzes(ctx, repo.getExec(exec), query, args...)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (repo *quizRepository) QueryPendingQuizzes(ctx context.Context, limit int, exec ...core.DBExecutor) ([]quiz.Quiz, error) {
	query := `SELECT ` + quizColumns + ` FROM quizzes q WHERE q.status = $1 ORDER BY q.submitted_at ASC NULLS FIRST, q.id`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return repo.selectQuizzes(ctx, repo.getExec(exec), query, quiz.StatusPending)
}

func (repo *quizRepository) UpdateQuiz(ctx context.Context, qz quiz.Quiz, exec ...core.DBExecutor) (quiz.Quiz, error) {
	ex := repo.getExec(exec)
	res, err := ex.ExecContext(ctx, `UPDATE quizzes SET title = $2, description = $3, language = $4, difficulty = $5,
			share_token = $6, share_password_hash = $7, share_answers = $8, updated_at = $9
		WHERE id = $1`,
		qz.ID, qz.Title, qz.Description, qz.Language, qz.Difficulty,
		nullString(qz.ShareToken), qz.SharePasswordHash, qz.ShareAnswers, qz.UpdatedAt.UTC())
	if err != nil {
		if isUniqueViolation(err, "quizzes_share_token_key") {
			return quiz.Quiz{}, core.NewFieldError("share_token", "share token already in use")
		}
		return quiz.Quiz{}, errors.Wrap(err, "updating quiz")
	}
	if err = affectedOrNotFound(res, "quiz"); err != nil {
		return quiz.Quiz{}, err
	}
	return repo.get(ctx, ex, quiz.GetFilter{ID: qz.ID})
}

// guardCond renders the JobGuard as a condition on the quizzes table, its args starting at $n.
func guardCond(guard quiz.JobGuard, n int) (string, []interface{}) {
	if !guard.Pending {
		return fmt.Sprintf("status <> $%d", n), []interface{}{quiz.StatusPending}
	}
	return fmt.Sprintf("status = $%d AND COALESCE(job_id, '') = $%d", n, n+1), []interface{}{quiz.StatusPending, guard.JobID}
}

// setJobState writes the generation columns only, if the guard holds.
func (repo *quizRepository) setJobState(ctx context.Context, exec sqlx.ExtContext, quizID string, guard quiz.JobGuard, st quiz.JobState) error {
	cond, condArgs := guardCond(guard, 10)
	args := append([]interface{}{
		quizID, st.Status, nullString(st.JobID), st.PendingMode, st.RequestedCount, st.Attempts, st.LastError,
		nullTime(st.SubmittedAt), st.UpdatedAt.UTC(),
	}, condArgs...)
	res, err := exec.ExecContext(ctx, `UPDATE quizzes SET status = $2, job_id = $3, pending_mode = $4, requested_count = $5,
			attempts = $6, last_error = $7, submitted_at = $8, updated_at = $9
		WHERE id = $1 AND `+cond, args...)
	if err != nil {
		return errors.Wrap(err, "updating quiz job")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "updating quiz job")
	} else if n == 0 {
		return quiz.ErrJobSuperseded
	}
	return nil
}

func (repo *quizRepository) UpdateJobState(ctx context.Context, quizID string, guard quiz.JobGuard, st quiz.JobState, exec ...core.DBExecutor) (quiz.Quiz, error) {
	ex := repo.getExec(exec)
	if err := repo.setJobState(ctx, ex, quizID, guard, st); err != nil {
		return quiz.Quiz{}, err
	}
	return repo.get(ctx, ex, quiz.GetFilter{ID: quizID})
}

func (repo *quizRepository) DeleteQuizzes(ctx context.Context, ownerID string, ids []string, exec ...core.DBExecutor) ([]quiz.Quiz, error) {
	if len(ids) == 0 {
		return []quiz.Quiz{}, nil
	}
	// question_count is read before the cascade removes the questions
	return repo.selectQuizzes(ctx, repo.getExec(exec), `WITH deleted AS (
			DELETE FROM quizzes WHERE owner_id = $1 AND id = ANY($2) RETURNING *
		)
		SELECT `+quizColumns+` FROM deleted q`,
		ownerID, pq.StringArray(ids))
}

func (repo *quizRepository) CompleteQuiz(ctx context.Context, quizID string, guard quiz.JobGuard, st quiz.JobState, questions []quiz.Question, exec ...core.DBExecutor) (quiz.Quiz, error) {
	var res quiz.Quiz
	err := repo.inTx(ctx, exec, func(tx sqlx.ExtContext) error {
		// lock the quiz row so two pollers cannot complete it concurrently
		cond, condArgs := guardCond(guard, 2)
		var id string
		err := sqlx.GetContext(ctx, tx, &id, `SELECT id FROM quizzes WHERE id = $1 AND `+cond+` FOR UPDATE`,
			append([]interface{}{quizID}, condArgs...)...)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return quiz.ErrJobSuperseded
			}
			return errors.Wrap(err, "locking quiz")
		}

		start := 0
		if st.PendingMode == quiz.ModeAppend {
			if err := sqlx.GetContext(ctx, tx, &start,
				`SELECT COALESCE(MAX(position), 0) FROM questions WHERE quiz_id = $1`, quizID); err != nil {
				return errors.Wrap(err, "selecting last position")
			}
		} else if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE quiz_id = $1`, quizID); err != nil {
			return errors.Wrap(err, "deleting questions")
		}
		if err := insertQuestions(ctx, tx, quizID, start, questions); err != nil {
			return err
		}

		// the row is locked: the guard still holds
		if err := repo.setJobState(ctx, tx, quizID, guard, st); err != nil {
			return err
		}
		res, err = repo.get(ctx, tx, quiz.GetFilter{ID: quizID})
		return err
	})
	return res, err
}

func (repo *quizRepository) AddQuestion(ctx context.Context, q quiz.Question, exec ...core.DBExecutor) (quiz.Question, error) {
	err := sqlx.GetContext(ctx, repo.getExec(exec), &q.Position, `INSERT INTO questions (`+questionColumns+`)
		SELECT $1, $2, COALESCE(MAX(position), 0) + 1, $3, $4, $5, $6, $7 FROM questions WHERE quiz_id = $2
		RETURNING position`,
		q.ID, q.QuizID, q.Kind, q.Prompt, stringArray(q.Options), q.Answer, q.Explanation)
	if err != nil {
		if isForeignKeyViolation(err) {
			return quiz.Question{}, core.NewNotFoundError("quiz")
		}
		return quiz.Question{}, errors.Wrap(err, "inserting question")
	}
	return q, nil
}

func (repo *quizRepository) UpdateQuestion(ctx context.Context, q quiz.Question, exec ...core.DBExecutor) (quiz.Question, error) {
	err := sqlx.GetContext(ctx, repo.getExec(exec), &q.Position, `UPDATE questions
		SET kind = $3, prompt = $4, options = $5, answer = $6, explanation = $7
		WHERE id = $1 AND quiz_id = $2
		RETURNING position`,
		q.ID, q.QuizID, q.Kind, q.Prompt, stringArray(q.Options), q.Answer, q.Explanation)
	if err != nil {
		return quiz.Question{}, trapNoRowsErr(err, "question")
	}
	return q, nil
}

func (repo *quizRepository) DeleteQuestion(ctx context.Context, quizID, questionID string, exec ...core.DBExecutor) error {
	return repo.inTx(ctx, exec, func(tx sqlx.ExtContext) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE id = $1 AND quiz_id = $2`, questionID, quizID)
		if err != nil {
			return errors.Wrap(err, "deleting question")
		}
		if err = affectedOrNotFound(res, "question"); err != nil {
			return err
		}
		return renumberQuestions(ctx, tx, quizID)
	})
}

func (repo *quizRepository) ReorderQuestions(ctx context.Context, quizID string, ids []string, exec ...core.DBExecutor) error {
	return repo.inTx(ctx, exec, func(tx sqlx.ExtContext) error {
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE questions SET position = $3 WHERE id = $1 AND quiz_id = $2`,
				id, quizID, i+1); err != nil {
				return errors.Wrap(err, "updating question position")
			}
		}
		return renumberQuestions(ctx, tx, quizID)
	})
}
