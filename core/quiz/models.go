package quiz

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/trezcool/quizbank/core"
)

// Source kinds
const (
	SourceKeywords = "keywords"
	SourceURL      = "url"
	SourceDocument = "document"
	SourceText     = "text"
)

// Statuses
const (
	StatusPending = "pending"
	StatusReady   = "ready"
	StatusFailed  = "failed"
)

// Pending modes: what to do with the questions of a completed job.
const (
	ModeReplace = "replace"
	ModeAppend  = "append"
)

// Question kinds
const (
	KindMultipleChoice = "multiple_choice"
	KindTrueFalse      = "true_false"
	KindShortAnswer    = "short_answer"
)

// Difficulties
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// Export formats
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatTXT  = "txt"
	FormatGIFT = "gift"
)

var (
	SourceKinds   = []string{SourceKeywords, SourceURL, SourceDocument, SourceText}
	QuestionKinds = []string{KindMultipleChoice, KindTrueFalse, KindShortAnswer}
	Difficulties  = []string{DifficultyEasy, DifficultyMedium, DifficultyHard}
	ExportFormats = []string{FormatJSON, FormatCSV, FormatTXT, FormatGIFT}

	ErrSharePassword = errors.New("invalid share password")

	// ErrJobSuperseded is returned when the generation state of a quiz changed since it was read.
	ErrJobSuperseded = errors.New("the quiz generation state changed concurrently")
	// ErrUnknownJob is returned by a Generator that has no record of a job.
	ErrUnknownJob = errors.New("unknown generation job")
)

const (
	defaultCount    = 10
	defaultLanguage = "en"
	maxOptions      = 6
	minOptions      = 2
)

type (
	Quiz struct {
		ID                string     `json:"id"`
		OwnerID           string     `json:"owner_id"`
		Title             string     `json:"title"`
		Description       string     `json:"description"`
		Language          string     `json:"language"`
		Difficulty        string     `json:"difficulty"`
		SourceKind        string     `json:"source_kind"`
		SourceInput       string     `json:"source_input"`
		SourceText        string     `json:"-"`
		SourceRef         string     `json:"-"`
		QuestionKinds     []string   `json:"question_kinds"`
		Status            string     `json:"status"`
		JobID             string     `json:"-"`
		PendingMode       string     `json:"pending_mode,omitempty"`
		RequestedCount    int        `json:"requested_count"`
		Attempts          int        `json:"attempts"`
		LastError         string     `json:"last_error,omitempty"`
		ShareToken        string     `json:"share_token,omitempty"`
		SharePasswordHash []byte     `json:"-"`
		ShareAnswers      bool       `json:"share_answers"`
		Questions         []Question `json:"questions,omitempty"`
		QuestionCount     int        `json:"question_count"`
		SubmittedAt       time.Time  `json:"submitted_at"`
		CreatedAt         time.Time  `json:"created_at"`
		UpdatedAt         time.Time  `json:"updated_at"`
	}

	Question struct {
		ID          string   `json:"id"`
		QuizID      string   `json:"quiz_id"`
		Position    int      `json:"position"`
		Kind        string   `json:"kind"`
		Prompt      string   `json:"prompt"`
		Options     []string `json:"options"`
		Answer      string   `json:"answer,omitempty"`
		Explanation string   `json:"explanation,omitempty"`
	}

	// SharedQuiz is what a shared link exposes.
	SharedQuiz struct {
		Title         string     `json:"title"`
		Description   string     `json:"description"`
		Language      string     `json:"language"`
		Difficulty    string     `json:"difficulty"`
		Status        string     `json:"status"`
		ShowsAnswers  bool       `json:"shows_answers"`
		QuestionCount int        `json:"question_count"`
		Questions     []Question `json:"questions"`
	}

	ExportFile struct {
		Filename    string
		ContentType string
		Data        []byte
	}

	PollReport struct {
		Checked   int `json:"checked"`
		Completed int `json:"completed"`
		Failed    int `json:"failed"`
		Pending   int `json:"pending"`
	}
)

func (qz Quiz) IsShared() bool    { return qz.ShareToken != "" }
func (qz Quiz) IsProtected() bool { return len(qz.SharePasswordHash) > 0 }

// JobState holds the quiz fields owned by the generation workflow.
// Owner edits never write them, and generation never writes the other fields.
type JobState struct {
	Status         string
	JobID          string
	PendingMode    string
	RequestedCount int
	Attempts       int
	LastError      string
	SubmittedAt    time.Time
	UpdatedAt      time.Time
}

// JobGuard is the state a quiz must still be in for a JobState change to apply.
type JobGuard struct {
	Pending bool   // when false, the quiz must not be pending
	JobID   string // with Pending, the job observed by the caller ("" for none)
}

// GuardFor returns the guard matching the current generation state of the quiz.
func (qz Quiz) GuardFor() JobGuard {
	return JobGuard{Pending: qz.Status == StatusPending, JobID: qz.JobID}
}

func (qz Quiz) JobState() JobState {
	return JobState{
		Status:         qz.Status,
		JobID:          qz.JobID,
		PendingMode:    qz.PendingMode,
		RequestedCount: qz.RequestedCount,
		Attempts:       qz.Attempts,
		LastError:      qz.LastError,
		SubmittedAt:    qz.SubmittedAt,
		UpdatedAt:      qz.UpdatedAt,
	}
}

// Matches reports whether the guard holds for the quiz.
func (g JobGuard) Matches(qz Quiz) bool {
	if !g.Pending {
		return qz.Status != StatusPending
	}
	return qz.Status == StatusPending && qz.JobID == g.JobID
}

// Apply copies the generation state onto the quiz.
func (st JobState) Apply(qz *Quiz) {
	qz.Status = st.Status
	qz.JobID = st.JobID
	qz.PendingMode = st.PendingMode
	qz.RequestedCount = st.RequestedCount
	qz.Attempts = st.Attempts
	qz.LastError = st.LastError
	qz.SubmittedAt = st.SubmittedAt
	qz.UpdatedAt = st.UpdatedAt
}

// Document is an uploaded source file.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// NewQuiz defines what information may be provided to generate a new Quiz.
type NewQuiz struct {
	Title         string    `json:"title" form:"title" validate:"notblank,max=200"`
	Description   string    `json:"description" form:"description" validate:"max=2000"`
	Language      string    `json:"language" form:"language" validate:"omitempty,min=2,max=35"`
	Difficulty    string    `json:"difficulty" form:"difficulty" validate:"omitempty,difficulty"`
	SourceKind    string    `json:"source_kind" form:"source_kind" validate:"required,sourcekind"`
	Keywords      []string  `json:"keywords" form:"keywords" validate:"max=20,dive,max=100"`
	URLs          []string  `json:"urls" form:"urls" validate:"omitempty,max=5,httpurl"`
	Text          string    `json:"text" form:"text" validate:"max=200000"`
	Count         int       `json:"count" form:"count" validate:"min=1,max=100"`
	QuestionKinds []string  `json:"question_kinds" form:"question_kinds" validate:"omitempty,questionkinds"`
	Document      *Document `json:"-" form:"-"`
}

func (nq *NewQuiz) Validate(validate *validator.Validate) error {
	nq.Title = core.CleanString(nq.Title)
	nq.Description = core.CleanString(nq.Description)
	nq.Language = core.CleanString(nq.Language, true /* lower */)
	if nq.Language == "" {
		nq.Language = defaultLanguage
	}
	nq.Difficulty = core.CleanString(nq.Difficulty, true /* lower */)
	if nq.Difficulty == "" {
		nq.Difficulty = DifficultyMedium
	}
	nq.SourceKind = core.CleanString(nq.SourceKind, true /* lower */)
	nq.Keywords = core.CleanStrings(nq.Keywords)
	nq.URLs = core.CleanStrings(nq.URLs)
	nq.Text = core.CleanString(nq.Text)
	if nq.Count == 0 {
		nq.Count = defaultCount
	}
	nq.QuestionKinds = uniqueStrings(core.CleanStrings(nq.QuestionKinds, true /* lower */))
	if len(nq.QuestionKinds) == 0 {
		nq.QuestionKinds = append([]string(nil), QuestionKinds...)
	}
	return validate.Struct(nq)
}

// UpdateQuiz defines what information may be provided to modify an existing Quiz.
type UpdateQuiz struct {
	Title       string `json:"title" validate:"notblank,max=200"`
	Description string `json:"description" validate:"max=2000"`
	Language    string `json:"language" validate:"omitempty,min=2,max=35"`
	Difficulty  string `json:"difficulty" validate:"omitempty,difficulty"`
}

func (uq *UpdateQuiz) Validate(validate *validator.Validate, orig Quiz) error {
	uq.Title = core.CleanString(uq.Title)
	uq.Description = core.CleanString(uq.Description)
	uq.Language = core.CleanString(uq.Language, true /* lower */)
	if uq.Language == "" {
		uq.Language = orig.Language
	}
	uq.Difficulty = core.CleanString(uq.Difficulty, true /* lower */)
	if uq.Difficulty == "" {
		uq.Difficulty = orig.Difficulty
	}
	return validate.Struct(uq)
}

// NewQuestion defines a manually added or edited Question.
type NewQuestion struct {
	Kind        string   `json:"kind" validate:"required,oneof=multiple_choice true_false short_answer"`
	Prompt      string   `json:"prompt" validate:"notblank,max=1000"`
	Options     []string `json:"options" validate:"max=6,dive,max=300"`
	Answer      string   `json:"answer" validate:"max=500"`
	Explanation string   `json:"explanation" validate:"max=2000"`
}

func (nq *NewQuestion) Validate(validate *validator.Validate) (Question, error) {
	nq.Kind = core.CleanString(nq.Kind, true /* lower */)
	if err := validate.Struct(nq); err != nil {
		return Question{}, err
	}
	q := Question{
		Kind:        nq.Kind,
		Prompt:      nq.Prompt,
		Options:     nq.Options,
		Answer:      nq.Answer,
		Explanation: nq.Explanation,
	}
	if err := normalizeQuestion(&q); err != nil {
		return Question{}, err
	}
	return q, nil
}

type ShareQuiz struct {
	Password    string `json:"password" validate:"omitempty,min=4,max=72"`
	ShowAnswers bool   `json:"show_answers"`
}

func (sq ShareQuiz) Validate(validate *validator.Validate) error { return validate.Struct(sq) }

type QueryFilter struct {
	Search      string    `json:"search"`
	Status      string    `json:"status" validate:"omitempty,oneof=pending ready failed"`
	Source      string    `json:"source" validate:"omitempty,sourcekind"`
	CreatedFrom time.Time `json:"created_from"`
	CreatedTo   time.Time `json:"created_to"`
	Limit       int       `json:"limit" validate:"min=0,max=200"`
	Offset      int       `json:"offset" validate:"min=0"`
}

const defaultQueryLimit = 50

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
	qf.Status = core.CleanString(qf.Status, true /* lower */)
	qf.Source = core.CleanString(qf.Source, true /* lower */)
	if qf.Limit == 0 {
		qf.Limit = defaultQueryLimit
	}
}

func (qf *QueryFilter) Validate(validate *validator.Validate) error {
	qf.Clean()
	return validate.Struct(qf)
}

// GetFilter selects one quiz. Empty fields are ignored.
type GetFilter struct {
	ID         string
	OwnerID    string
	ShareToken string
}

// OrderingFields are the fields quizzes may be ordered by.
var OrderingFields = []string{"title", "created_at", "updated_at", "status"}

// GenerationRequest is what is submitted to a Generator.
type GenerationRequest struct {
	Content    string   `json:"content"`
	Title      string   `json:"title"`
	Count      int      `json:"count"`
	Kinds      []string `json:"kinds"`
	Difficulty string   `json:"difficulty"`
	Language   string   `json:"language"`
}

// GenerationResult is the state of a submitted job.
type GenerationResult struct {
	Status    string // pending | completed | failed
	Questions []Question
	Error     string
}

// Generation job statuses
const (
	JobPending   = "pending"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

func uniqueStrings(ss []string) []string {
	seen := make(map[string]bool, len(ss))
	res := ss[:0]
	for _, s := range ss {
		if !seen[s] {
			seen[s] = true
			res = append(res, s)
		}
	}
	return res
}
