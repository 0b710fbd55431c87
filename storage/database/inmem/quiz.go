package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
)

type quizRepository struct {
	db *DB
}

var _ quiz.Repository = (*quizRepository)(nil) // interface compliance check

func NewQuizRepository(db *DB) quiz.Repository {
	return &quizRepository{db: db}
}

func copyQuestions(qs []quiz.Question) []quiz.Question {
	res := make([]quiz.Question, len(qs))
	for i, q := range qs {
		q.Options = append([]string{}, q.Options...)
		res[i] = q
	}
	return res
}

// load returns a copy of the quiz, optionally with its questions. The caller holds the lock.
func (repo *quizRepository) load(qz *quiz.Quiz, withQuestions bool) quiz.Quiz {
	res := *qz
	res.QuestionKinds = append([]string{}, qz.QuestionKinds...)
	res.QuestionCount = len(repo.db.questions[qz.ID])
	res.Questions = nil
	if withQuestions {
		res.Questions = copyQuestions(repo.db.questions[qz.ID])
	}
	return res
}

func (repo *quizRepository) renumber(quizID string) {
	qs := repo.db.questions[quizID]
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Position < qs[j].Position })
	for i := range qs {
		qs[i].Position = i + 1
	}
}

func (repo *quizRepository) CreateQuiz(_ context.Context, qz quiz.Quiz, _ ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.users[qz.OwnerID]; !ok {
		return quiz.Quiz{}, core.NewNotFoundError("user")
	}
	questions := copyQuestions(qz.Questions)
	for i := range questions {
		questions[i].QuizID = qz.ID
		questions[i].Position = i + 1
	}
	stored := qz
	stored.Questions = nil
	repo.db.quizzes[qz.ID] = &stored
	repo.db.questions[qz.ID] = questions
	return repo.load(&stored, true), nil
}

func (repo *quizRepository) GetQuiz(_ context.Context, filter quiz.GetFilter, _ ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	for _, qz := range repo.db.quizzes {
		if (filter.ID == "" || qz.ID == filter.ID) &&
			(filter.OwnerID == "" || qz.OwnerID == filter.OwnerID) &&
			(filter.ShareToken == "" || qz.ShareToken == filter.ShareToken) {
			return repo.load(qz, true), nil
		}
	}
	return quiz.Quiz{}, core.NewNotFoundError("quiz")
}

func matches(qz *quiz.Quiz, filter quiz.QueryFilter) bool {
	if filter.Search != "" {
		search := strings.ToLower(filter.Search)
		if !strings.Contains(strings.ToLower(qz.Title), search) && !strings.Contains(strings.ToLower(qz.Description), search) {
			return false
		}
	}
	if filter.Status != "" && qz.Status != filter.Status {
		return false
	}
	if filter.Source != "" && qz.SourceKind != filter.Source {
		return false
	}
	if !filter.CreatedFrom.IsZero() && qz.CreatedAt.Before(filter.CreatedFrom) {
		return false
	}
	if !filter.CreatedTo.IsZero() && qz.CreatedAt.After(filter.CreatedTo) {
		return false
	}
	return true
}

func less(a, b quiz.Quiz, ord core.DBOrdering) (bool, bool) {
	var cmp int
	switch ord.Field {
	case "title":
		cmp = strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
	case "status":
		cmp = strings.Compare(a.Status, b.Status)
	case "updated_at":
		cmp = a.UpdatedAt.Compare(b.UpdatedAt)
	default:
		cmp = a.CreatedAt.Compare(b.CreatedAt)
	}
	if cmp == 0 {
		return false, false
	}
	if ord.Ascending {
		return cmp < 0, true
	}
	return cmp > 0, true
}

func (repo *quizRepository) QueryQuizzes(_ context.Context, ownerID string, filter quiz.QueryFilter, ordering []core.DBOrdering, _ ...core.DBExecutor) ([]quiz.Quiz, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	res := make([]quiz.Quiz, 0)
	for _, qz := range repo.db.quizzes {
		if qz.OwnerID == ownerID && matches(qz, filter) {
			res = append(res, repo.load(qz, false))
		}
	}

	ordering = append(ordering, core.DBOrdering{Field: "created_at"}, core.DBOrdering{Field: "id", Ascending: true})
	sort.Slice(res, func(i, j int) bool {
		for _, ord := range ordering {
			if ord.Field == "id" {
				return res[i].ID < res[j].ID
			}
			if l, decided := less(res[i], res[j], ord); decided {
				return l
			}
		}
		return false
	})

	if filter.Offset >= len(res) {
		return []quiz.Quiz{}, nil
	}
	res = res[filter.Offset:]
	if filter.Limit > 0 && len(res) > filter.Limit {
		res = res[:filter.Limit]
	}
	return res, nil
}

func (repo *quizRepository) QueryPendingQuizzes(_ context.Context, limit int, _ ...core.DBExecutor) ([]quiz.Quiz, error) {
	repo.db.mu.RLock()
	defer repo.db.mu.RUnlock()

	res := make([]quiz.Quiz, 0)
	for _, qz := range repo.db.quizzes {
		if qz.Status == quiz.StatusPending {
			res = append(res, repo.load(qz, false))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].SubmittedAt.Before(res[j].SubmittedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

func (repo *quizRepository) UpdateQuiz(_ context.Context, qz quiz.Quiz, _ ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	stored, ok := repo.db.quizzes[qz.ID]
	if !ok {
		return quiz.Quiz{}, core.NewNotFoundError("quiz")
	}
	if qz.ShareToken != "" {
		for _, other := range repo.db.quizzes {
			if other.ID != qz.ID && other.ShareToken == qz.ShareToken {
				return quiz.Quiz{}, core.NewFieldError("share_token", "share token already in use")
			}
		}
	}
	stored.Title = qz.Title
	stored.Description = qz.Description
	stored.Language = qz.Language
	stored.Difficulty = qz.Difficulty
	stored.ShareToken = qz.ShareToken
	stored.SharePasswordHash = append([]byte(nil), qz.SharePasswordHash...)
	stored.ShareAnswers = qz.ShareAnswers
	stored.UpdatedAt = qz.UpdatedAt
	return repo.load(stored, true), nil
}

// setJobState applies st if the guard holds. The caller holds the lock.
func (repo *quizRepository) setJobState(quizID string, guard quiz.JobGuard, st quiz.JobState) (*quiz.Quiz, error) {
	stored, ok := repo.db.quizzes[quizID]
	if !ok || !guard.Matches(*stored) {
		return nil, quiz.ErrJobSuperseded
	}
	st.Apply(stored)
	return stored, nil
}

func (repo *quizRepository) UpdateJobState(_ context.Context, quizID string, guard quiz.JobGuard, st quiz.JobState, _ ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	stored, err := repo.setJobState(quizID, guard, st)
	if err != nil {
		return quiz.Quiz{}, err
	}
	return repo.load(stored, true), nil
}

func (repo *quizRepository) DeleteQuizzes(_ context.Context, ownerID string, ids []string, _ ...core.DBExecutor) ([]quiz.Quiz, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	deleted := make([]quiz.Quiz, 0, len(ids))
	for _, id := range ids {
		if qz, ok := repo.db.quizzes[id]; ok && qz.OwnerID == ownerID {
			deleted = append(deleted, repo.load(qz, false))
			delete(repo.db.quizzes, id)
			delete(repo.db.questions, id)
		}
	}
	return deleted, nil
}

func (repo *quizRepository) CompleteQuiz(_ context.Context, quizID string, guard quiz.JobGuard, st quiz.JobState, questions []quiz.Question, _ ...core.DBExecutor) (quiz.Quiz, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	stored, err := repo.setJobState(quizID, guard, st)
	if err != nil {
		return quiz.Quiz{}, err
	}
	var start []quiz.Question
	if st.PendingMode == quiz.ModeAppend {
		start = repo.db.questions[quizID]
	}
	all := append(copyQuestions(start), copyQuestions(questions)...)
	for i := range all {
		all[i].QuizID = quizID
		all[i].Position = i + 1
	}
	repo.db.questions[quizID] = all
	return repo.load(stored, true), nil
}

func (repo *quizRepository) AddQuestion(_ context.Context, q quiz.Question, _ ...core.DBExecutor) (quiz.Question, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	if _, ok := repo.db.quizzes[q.QuizID]; !ok {
		return quiz.Question{}, core.NewNotFoundError("quiz")
	}
	q.Position = len(repo.db.questions[q.QuizID]) + 1
	repo.db.questions[q.QuizID] = append(repo.db.questions[q.QuizID], copyQuestions([]quiz.Question{q})...)
	return q, nil
}

func (repo *quizRepository) UpdateQuestion(_ context.Context, q quiz.Question, _ ...core.DBExecutor) (quiz.Question, error) {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	qs := repo.db.questions[q.QuizID]
	for i := range qs {
		if qs[i].ID == q.ID {
			q.Position = qs[i].Position
			qs[i] = copyQuestions([]quiz.Question{q})[0]
			return q, nil
		}
	}
	return quiz.Question{}, core.NewNotFoundError("question")
}

func (repo *quizRepository) DeleteQuestion(_ context.Context, quizID, questionID string, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	qs := repo.db.questions[quizID]
	for i := range qs {
		if qs[i].ID == questionID {
			repo.db.questions[quizID] = append(qs[:i:i], qs[i+1:]...)
			repo.renumber(quizID)
			return nil
		}
	}
	return core.NewNotFoundError("question")
}

func (repo *quizRepository) ReorderQuestions(_ context.Context, quizID string, ids []string, _ ...core.DBExecutor) error {
	repo.db.mu.Lock()
	defer repo.db.mu.Unlock()

	pos := make(map[string]int, len(ids))
	for i, id := range ids {
		pos[id] = i + 1
	}
	qs := repo.db.questions[quizID]
	for i := range qs {
		if p, ok := pos[qs[i].ID]; ok {
			qs[i].Position = p
		}
	}
	repo.renumber(quizID)
	return nil
}
