package sqlxrepos

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
)

var (
	quizCols = []string{"id", "owner_id", "title", "description", "language", "difficulty", "source_kind",
		"source_input", "source_text", "source_ref", "question_kinds", "status", "job_id", "pending_mode",
		"requested_count", "attempts", "last_error", "share_token", "share_password_hash", "share_answers",
		"submitted_at", "created_at", "updated_at", "question_count"}
	questionCols = []string{"id", "quiz_id", "position", "kind", "prompt", "options", "answer", "explanation"}

	testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
)

func quizRows(status string, count int) *sqlmock.Rows {
	return sqlmock.NewRows(quizCols).AddRow("quiz_1", "user_1", "Go basics", "", "en", "medium", "keywords",
		"go, channels", "", nil, "{multiple_choice,true_false}", status, "job_1", "replace",
		5, 1, "", nil, nil, false, testNow, testNow, testNow, count)
}

func TestQuizRepository_GetQuiz(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuizRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM quizzes q WHERE q.id = $1 AND q.owner_id = $2")).
		WithArgs("quiz_1", "user_1").
		WillReturnRows(quizRows(quiz.StatusReady, 2))
	mock.ExpectQuery(regexp.QuoteMeta("FROM questions WHERE quiz_id = $1 ORDER BY position")).
		WithArgs("quiz_1").
		WillReturnRows(sqlmock.NewRows(questionCols).
			AddRow("q_1", "quiz_1", 1, "multiple_choice", "Which keyword starts a goroutine?", "{go,defer,chan}", "go", "").
			AddRow("q_2", "quiz_1", 2, "true_false", "Channels are typed.", "{True,False}", "True", ""))
	mock.ExpectQuery(regexp.QuoteMeta("FROM quizzes q WHERE q.share_token = $1")).
		WithArgs("nope").
		WillReturnError(sql.ErrNoRows)

	qz, err := repo.GetQuiz(ctx, quiz.GetFilter{ID: "quiz_1", OwnerID: "user_1"})
	require.NoError(t, err)
	assert.Equal(t, []string{quiz.KindMultipleChoice, quiz.KindTrueFalse}, qz.QuestionKinds)
	assert.Equal(t, "job_1", qz.JobID)
	assert.Empty(t, qz.ShareToken)
	assert.Equal(t, 2, qz.QuestionCount)
	require.Len(t, qz.Questions, 2)
	assert.Equal(t, []string{"go", "defer", "chan"}, qz.Questions[0].Options)
	assert.Equal(t, 2, qz.Questions[1].Position)

	_, err = repo.GetQuiz(ctx, quiz.GetFilter{ShareToken: "nope"})
	assert.True(t, core.IsNotFound(err))

	_, err = repo.GetQuiz(ctx, quiz.GetFilter{})
	assert.True(t, core.IsNotFound(err))
}

func TestQuizRepository_QueryQuizzes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuizRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE q.owner_id = $1 AND (q.title ILIKE $2 OR q.description ILIKE $2) AND q.status = $3 " +
			"ORDER BY LOWER(q.title) ASC, q.created_at DESC, q.id ASC LIMIT 10 OFFSET 20")).
		WithArgs("user_1", `%50\%%`, quiz.StatusReady).
		WillReturnRows(quizRows(quiz.StatusReady, 0))

	res, err := repo.QueryQuizzes(context.Background(), "user_1",
		quiz.QueryFilter{Search: "50%", Status: quiz.StatusReady, Limit: 10, Offset: 20},
		[]core.DBOrdering{{Field: "title", Ascending: true}, {Field: "password"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Nil(t, res[0].Questions)
}

func TestQuizRepository_QueryPendingQuizzes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuizRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE q.status = $1 ORDER BY q.submitted_at ASC NULLS FIRST, q.id LIMIT 25")).
		WithArgs(quiz.StatusPending).
		WillReturnRows(quizRows(quiz.StatusPending, 0))

	res, err := repo.QueryPendingQuizzes(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, quiz.StatusPending, res[0].Status)
}

func TestQuizRepository_CompleteQuiz(t *testing.T) {
	questions := []quiz.Question{
		{ID: "q_3", Kind: quiz.KindShortAnswer, Prompt: "What does GOMAXPROCS set?", Options: []string{}, Answer: "threads"},
	}
	guard := quiz.JobGuard{Pending: true, JobID: "job_1"}
	st := quiz.JobState{Status: quiz.StatusReady, RequestedCount: 1, SubmittedAt: testNow, UpdatedAt: testNow}

	t.Run("append", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewQuizRepository(db)
		st := st
		st.PendingMode = quiz.ModeAppend

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM quizzes WHERE id = $1 AND status = $2 AND COALESCE(job_id, '') = $3 FOR UPDATE")).
			WithArgs("quiz_1", quiz.StatusPending, "job_1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("quiz_1"))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(position), 0) FROM questions")).
			WithArgs("quiz_1").
			WillReturnRows(sqlmock.NewRows([]string{"max"}).AddRow(2))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO questions")).
			WithArgs("q_3", "quiz_1", 3, quiz.KindShortAnswer, "What does GOMAXPROCS set?", "{}", "threads", "").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec(regexp.QuoteMeta("UPDATE quizzes SET status = $2")).
			WithArgs("quiz_1", quiz.StatusReady, sqlmock.AnyArg(), quiz.ModeAppend, 1, 0, "", sqlmock.AnyArg(), testNow,
				quiz.StatusPending, "job_1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(regexp.QuoteMeta("FROM quizzes q WHERE q.id = $1")).
			WillReturnRows(quizRows(quiz.StatusReady, 3))
		mock.ExpectQuery(regexp.QuoteMeta("FROM questions WHERE quiz_id = $1")).
			WillReturnRows(sqlmock.NewRows(questionCols))
		mock.ExpectCommit()

		res, err := repo.CompleteQuiz(context.Background(), "quiz_1", guard, st, questions)
		require.NoError(t, err)
		assert.Equal(t, 3, res.QuestionCount)
	})

	t.Run("superseded job", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewQuizRepository(db)

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WithArgs("quiz_1", quiz.StatusPending, "job_1").
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		_, err := repo.CompleteQuiz(context.Background(), "quiz_1", guard, st, questions)
		assert.Equal(t, quiz.ErrJobSuperseded, err)
	})

	t.Run("replace rolls back on failure", func(t *testing.T) {
		db, mock := newMock(t)
		repo := NewQuizRepository(db)
		st := st
		st.PendingMode = quiz.ModeReplace

		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("quiz_1"))
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM questions WHERE quiz_id = $1")).
			WithArgs("quiz_1").
			WillReturnResult(sqlmock.NewResult(0, 2))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO questions")).
			WithArgs("q_3", "quiz_1", 1, sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnError(errors.New("connection reset"))
		mock.ExpectRollback()

		_, err := repo.CompleteQuiz(context.Background(), "quiz_1", guard, st, questions)
		assert.ErrorContains(t, err, "connection reset")
	})
}

func TestQuizRepository_UpdateJobState(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuizRepository(db)
	ctx := context.Background()
	st := quiz.JobState{Status: quiz.StatusPending, PendingMode: quiz.ModeReplace, RequestedCount: 5, SubmittedAt: testNow, UpdatedAt: testNow}

	// claiming a quiz that is not pending
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status <> $10")).
		WithArgs("quiz_1", quiz.StatusPending, sqlmock.AnyArg(), quiz.ModeReplace, 5, 0, "", sqlmock.AnyArg(), testNow, quiz.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("FROM quizzes q WHERE q.id = $1")).
		WillReturnRows(quizRows(quiz.StatusPending, 0))
	mock.ExpectQuery(regexp.QuoteMeta("FROM questions WHERE quiz_id = $1")).
		WillReturnRows(sqlmock.NewRows(questionCols))
	// the poller saw another job
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND status = $10 AND COALESCE(job_id, '') = $11")).
		WithArgs("quiz_1", quiz.StatusPending, sqlmock.AnyArg(), quiz.ModeReplace, 5, 0, "", sqlmock.AnyArg(), testNow,
			quiz.StatusPending, "job_0").
		WillReturnResult(sqlmock.NewResult(0, 0))

	res, err := repo.UpdateJobState(ctx, "quiz_1", quiz.JobGuard{}, st)
	require.NoError(t, err)
	assert.Equal(t, quiz.StatusPending, res.Status)

	_, err = repo.UpdateJobState(ctx, "quiz_1", quiz.JobGuard{Pending: true, JobID: "job_0"}, st)
	assert.Equal(t, quiz.ErrJobSuperseded, err)
}

func TestQuizRepository_UpdateQuiz(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuizRepository(db)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE quizzes SET title = $2, description = $3, language = $4, difficulty = $5,")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "quizzes_share_token_key"})
	mock.ExpectExec(regexp.QuoteMeta("UPDATE quizzes SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := repo.UpdateQuiz(ctx, quiz.Quiz{ID: "quiz_1", ShareToken: "abc", Status: quiz.StatusPending})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "share_token", verr.Fields[0].Field)

	_, err = repo.UpdateQuiz(ctx, quiz.Quiz{ID: "ghost"})
	assert.True(t, core.IsNotFound(err))
}

func TestQuizRepository_Questions(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuizRepository(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(MAX(position), 0) + 1")).
		WithArgs("q_9", "quiz_1", quiz.KindTrueFalse, "Maps are ordered.", `{"True","False"}`, "False", "").
		WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(4))
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE(MAX(position), 0) + 1")).
		WillReturnError(&pq.Error{Code: "23503"})
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE questions")).
		WithArgs("q_9", "quiz_1", quiz.KindTrueFalse, "Maps are unordered.", `{"True","False"}`, "True", "").
		WillReturnRows(sqlmock.NewRows([]string{"position"}).AddRow(4))

	q := quiz.Question{ID: "q_9", QuizID: "quiz_1", Kind: quiz.KindTrueFalse, Prompt: "Maps are ordered.",
		Options: []string{"True", "False"}, Answer: "False"}
	added, err := repo.AddQuestion(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 4, added.Position)

	_, err = repo.AddQuestion(ctx, quiz.Question{ID: "q_10", QuizID: "ghost"})
	assert.True(t, core.IsNotFound(err))

	q.Prompt, q.Answer = "Maps are unordered.", "True"
	updated, err := repo.UpdateQuestion(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 4, updated.Position)
}

func TestQuizRepository_DeleteAndReorder(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuizRepository(db)
	ctx := context.Background()
	renumber := regexp.QuoteMeta("ROW_NUMBER() OVER (ORDER BY position, id)")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM questions WHERE id = $1 AND quiz_id = $2")).
		WithArgs("q_1", "quiz_1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(renumber).WithArgs("quiz_1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM questions WHERE id = $1 AND quiz_id = $2")).
		WithArgs("q_404", "quiz_1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE questions SET position = $3")).
		WithArgs("q_3", "quiz_1", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE questions SET position = $3")).
		WithArgs("q_2", "quiz_1", 2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(renumber).WithArgs("quiz_1").WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	require.NoError(t, repo.DeleteQuestion(ctx, "quiz_1", "q_1"))
	assert.True(t, core.IsNotFound(repo.DeleteQuestion(ctx, "quiz_1", "q_404")))
	require.NoError(t, repo.ReorderQuestions(ctx, "quiz_1", []string{"q_3", "q_2"}))
}

func TestQuizRepository_DeleteQuizzes(t *testing.T) {
	db, mock := newMock(t)
	repo := NewQuizRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("DELETE FROM quizzes WHERE owner_id = $1 AND id = ANY($2) RETURNING *")).
		WithArgs("user_1", `{"quiz_1","quiz_2"}`).
		WillReturnRows(quizRows(quiz.StatusReady, 0))

	deleted, err := repo.DeleteQuizzes(context.Background(), "user_1", []string{"quiz_1", "quiz_2"})
	require.NoError(t, err)
	require.Len(t, deleted, 1)
	assert.Equal(t, "quiz_1", deleted[0].ID)

	deleted, err = repo.DeleteQuizzes(context.Background(), "user_1", nil)
	require.NoError(t, err)
	assert.Empty(t, deleted)
}
