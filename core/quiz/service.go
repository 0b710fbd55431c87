package quiz

import (
	"bytes"
	"context"
	"fmt"
	"net/mail"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/user"
)

const featureGoogleForms = "google_forms"

var bcryptCost = bcrypt.DefaultCost

type (
	Repository interface {
		// CreateQuiz inserts the quiz and its questions.
		CreateQuiz(ctx context.Context, qz Quiz, exec ...core.DBExecutor) (Quiz, error)
		// GetQuiz returns the quiz matching all non-empty fields of the filter, with its questions.
		GetQuiz(ctx context.Context, filter GetFilter, exec ...core.DBExecutor) (Quiz, error)
		// QueryQuizzes returns the owner's quizzes without their questions.
		QueryQuizzes(ctx context.Context, ownerID string, filter QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Quiz, error)
		// QueryPendingQuizzes returns up to `limit` pending quizzes, oldest submission first, without their questions.
		QueryPendingQuizzes(ctx context.Context, limit int, exec ...core.DBExecutor) ([]Quiz, error)
		// UpdateQuiz saves the fields the owner edits: title, description, language, difficulty and sharing.
		UpdateQuiz(ctx context.Context, qz Quiz, exec ...core.DBExecutor) (Quiz, error)
		// UpdateJobState saves the generation state of the quiz if `guard` still holds, ErrJobSuperseded otherwise.
		UpdateJobState(ctx context.Context, quizID string, guard JobGuard, st JobState, exec ...core.DBExecutor) (Quiz, error)
		DeleteQuizzes(ctx context.Context, ownerID string, ids []string, exec ...core.DBExecutor) ([]Quiz, error)
		// CompleteQuiz saves the generation state and replaces or appends (st.PendingMode) the questions atomically.
		// It fails with ErrJobSuperseded unless `guard` still holds.
		CompleteQuiz(ctx context.Context, quizID string, guard JobGuard, st JobState, questions []Question, exec ...core.DBExecutor) (Quiz, error)
		// AddQuestion appends the question at the end of the quiz.
		AddQuestion(ctx context.Context, q Question, exec ...core.DBExecutor) (Question, error)
		UpdateQuestion(ctx context.Context, q Question, exec ...core.DBExecutor) (Question, error)
		DeleteQuestion(ctx context.Context, quizID, questionID string, exec ...core.DBExecutor) error
		// ReorderQuestions sets the positions of the quiz questions to the order of `ids`.
		ReorderQuestions(ctx context.Context, quizID string, ids []string, exec ...core.DBExecutor) error
	}

	// Generator turns content into questions through an asynchronous job.
	Generator interface {
		Submit(ctx context.Context, req GenerationRequest) (jobID string, err error)
		// Result reports a pending job with JobPending, including on transient failures.
		Result(ctx context.Context, jobID string) (GenerationResult, error)
	}

	// ContentSource extracts plain text from quiz sources.
	ContentSource interface {
		FetchURLs(ctx context.Context, urls []string) (string, error)
		ExtractDocument(ctx context.Context, filename string, data []byte) (string, error)
	}

	// Quota enforces the plan limits of a user.
	Quota interface {
		Reserve(ctx context.Context, userID string, questions int, withDocument bool) error
		CheckFeature(ctx context.Context, userID, feature string) error
	}

	FormsExporter interface {
		// CreateForm creates a quiz-mode Google Form and returns its responder URL.
		CreateForm(ctx context.Context, accessToken string, qz Quiz) (string, error)
	}

	Service interface {
		Create(ctx context.Context, ownerID string, nq NewQuiz) (Quiz, error)
		Query(ctx context.Context, ownerID string, filter QueryFilter, ordering []core.DBOrdering) ([]Quiz, error)
		Get(ctx context.Context, ownerID, id string) (Quiz, error)
		Update(ctx context.Context, ownerID, id string, uq UpdateQuiz) (Quiz, error)
		Delete(ctx context.Context, ownerID string, ids ...string) error
		Regenerate(ctx context.Context, ownerID, id string) (Quiz, error)
		Extend(ctx context.Context, ownerID, id string, count int) (Quiz, error)

		AddQuestion(ctx context.Context, ownerID, quizID string, nq NewQuestion) (Question, error)
		UpdateQuestion(ctx context.Context, ownerID, quizID, questionID string, nq NewQuestion) (Question, error)
		DeleteQuestion(ctx context.Context, ownerID, quizID, questionID string) error
		ReorderQuestions(ctx context.Context, ownerID, quizID string, ids []string) (Quiz, error)

		Share(ctx context.Context, ownerID, id string, sq ShareQuiz) (Quiz, error)
		Unshare(ctx context.Context, ownerID, id string) (Quiz, error)
		GetShared(ctx context.Context, token, password string) (SharedQuiz, error)
		CopyShared(ctx context.Context, ownerID, token, password string) (Quiz, error)
		SetSharePassword(ctx context.Context, id, password string) (Quiz, error)

		Export(ctx context.Context, ownerID, id, format string) (ExportFile, error)
		EmailExport(ctx context.Context, usr user.User, id, format string) error
		ExportGoogleForm(ctx context.Context, ownerID, id, accessToken string) (string, error)

		PollPending(ctx context.Context) (PollReport, error)
	}

	Deps struct {
		Repo      Repository
		Generator Generator
		Content   ContentSource
		Files     core.FileStore
		Quota     Quota
		Forms     FormsExporter
		UserSvc   user.Service
		MailSvc   core.EmailService
		Logger    core.Logger
	}

	service struct {
		Deps
		conf     *core.Config
		validate *validator.Validate
		now      func() time.Time
	}
)

var _ Service = (*service)(nil) // interface compliance check

func NewService(conf *core.Config, validate *validator.Validate, deps Deps) Service {
	return &service{
		Deps:     deps,
		conf:     conf,
		validate: validate,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (svc *service) get(ctx context.Context, ownerID, id string) (Quiz, error) {
	if id == "" {
		return Quiz{}, core.NewNotFoundError("quiz")
	}
	return svc.Repo.GetQuiz(ctx, GetFilter{ID: id, OwnerID: ownerID})
}

func (svc *service) Create(ctx context.Context, ownerID string, nq NewQuiz) (Quiz, error) {
	if err := nq.Validate(svc.validate); err != nil {
		return Quiz{}, err
	}

	qz := Quiz{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		Title:          nq.Title,
		Description:    nq.Description,
		Language:       nq.Language,
		Difficulty:     nq.Difficulty,
		SourceKind:     nq.SourceKind,
		QuestionKinds:  nq.QuestionKinds,
		RequestedCount: nq.Count,
		PendingMode:    ModeReplace,
	}

	content, err := svc.resolveContent(ctx, &qz, nq)
	if err != nil {
		return Quiz{}, err
	}
	if content = core.CleanString(content); content == "" {
		return Quiz{}, core.NewFieldError(sourceFields[nq.SourceKind], "no text could be extracted from this source")
	}
	qz.SourceText = core.Truncate(content, svc.conf.Generator.MaxContentChars)

	if err = svc.Quota.Reserve(ctx, ownerID, nq.Count, nq.SourceKind == SourceDocument); err != nil {
		return Quiz{}, err
	}
	if nq.SourceKind == SourceDocument {
		if err = svc.saveDocument(ctx, &qz, nq.Document); err != nil {
			return Quiz{}, err
		}
	}

	now := svc.now()
	qz.Status = StatusPending
	qz.CreatedAt = now
	qz.UpdatedAt = now
	qz.SubmittedAt = now
	created, err := svc.Repo.CreateQuiz(ctx, qz)
	if err != nil {
		svc.discardDocument(ctx, qz)
		return Quiz{}, errors.Wrap(err, "creating quiz")
	}
	return svc.submit(ctx, created, ModeReplace, nq.Count)
}

var sourceFields = map[string]string{
	SourceKeywords: "keywords",
	SourceURL:      "urls",
	SourceDocument: "document",
	SourceText:     "text",
}

// resolveContent turns the quiz source into the text submitted for generation.
func (svc *service) resolveContent(ctx context.Context, qz *Quiz, nq NewQuiz) (string, error) {
	switch nq.SourceKind {
	case SourceKeywords:
		qz.SourceInput = strings.Join(nq.Keywords, ", ")
		return "Topic: " + qz.SourceInput, nil

	case SourceURL:
		qz.SourceInput = strings.Join(nq.URLs, "\n")
		return svc.Content.FetchURLs(ctx, nq.URLs)

	case SourceDocument:
		// the file itself is saved once the quota is reserved
		qz.SourceInput = nq.Document.Filename
		return svc.Content.ExtractDocument(ctx, nq.Document.Filename, nq.Document.Data)

	default: // text
		qz.SourceInput = core.Truncate(nq.Text, 200)
		return nq.Text, nil
	}
}

func (svc *service) saveDocument(ctx context.Context, qz *Quiz, doc *Document) error {
	key := fmt.Sprintf("documents/%s/%s%s", qz.OwnerID, uuid.New().String(), strings.ToLower(path.Ext(doc.Filename)))
	if err := svc.Files.Save(ctx, key, bytes.NewReader(doc.Data), doc.ContentType); err != nil {
		return errors.Wrap(err, "saving document")
	}
	qz.SourceRef = key
	return nil
}

// discardDocument deletes the stored source file of the quiz, if any.
func (svc *service) discardDocument(ctx context.Context, qz Quiz) {
	if qz.SourceRef == "" {
		return
	}
	if err := svc.Files.Delete(ctx, qz.SourceRef); err != nil && errors.Cause(err) != core.ErrFileNotFound {
		svc.Logger.Warn("deleting quiz document", err, map[string]interface{}{"quiz": qz.ID, "key": qz.SourceRef})
	}
}

// submit sends the quiz content to the generator. A failed submission marks the quiz failed.
// The quiz must be pending without a job.
func (svc *service) submit(ctx context.Context, qz Quiz, mode string, count int) (Quiz, error) {
	now := svc.now()
	st := JobState{
		Status:         StatusPending,
		PendingMode:    mode,
		RequestedCount: count,
		SubmittedAt:    now,
		UpdatedAt:      now,
	}

	jobID, err := svc.Generator.Submit(ctx, GenerationRequest{
		Content:    qz.SourceText,
		Title:      qz.Title,
		Count:      count,
		Kinds:      qz.QuestionKinds,
		Difficulty: qz.Difficulty,
		Language:   qz.Language,
	})
	if err != nil {
		svc.Logger.Error("submitting generation job", err, map[string]interface{}{"quiz": qz.ID})
		st.Status = StatusFailed
		st.LastError = "the question generator is unavailable, please retry later"
		if mode == ModeAppend && qz.QuestionCount > 0 {
			st.Status = StatusReady
		}
	} else {
		st.JobID = jobID
	}

	updated, err := svc.Repo.UpdateJobState(ctx, qz.ID, JobGuard{Pending: true}, st)
	if errors.Cause(err) == ErrJobSuperseded {
		// the poller resubmitted it meanwhile
		svc.Logger.Warn("quiz submission superseded", map[string]interface{}{"quiz": qz.ID, "job": jobID})
		return svc.Repo.GetQuiz(ctx, GetFilter{ID: qz.ID})
	}
	return updated, errors.Wrap(err, "updating quiz")
}

func (svc *service) Query(ctx context.Context, ownerID string, filter QueryFilter, ordering []core.DBOrdering) ([]Quiz, error) {
	if err := filter.Validate(svc.validate); err != nil {
		return nil, err
	}
	ordering = core.FilterOrderings(ordering, OrderingFields...)
	return svc.Repo.QueryQuizzes(ctx, ownerID, filter, ordering)
}

func (svc *service) Get(ctx context.Context, ownerID, id string) (Quiz, error) {
	return svc.get(ctx, ownerID, id)
}

func (svc *service) Update(ctx context.Context, ownerID, id string, uq UpdateQuiz) (Quiz, error) {
	qz, err := svc.get(ctx, ownerID, id)
	if err != nil {
		return Quiz{}, err
	}
	if err = uq.Validate(svc.validate, qz); err != nil {
		return Quiz{}, err
	}
	qz.Title = uq.Title
	qz.Description = uq.Description
	qz.Language = uq.Language
	qz.Difficulty = uq.Difficulty
	qz.UpdatedAt = svc.now()
	return svc.Repo.UpdateQuiz(ctx, qz)
}

func (svc *service) Delete(ctx context.Context, ownerID string, ids ...string) error {
	ids = uniqueStrings(core.CleanStrings(ids))
	if len(ids) == 0 {
		return core.NewFieldError("id", "this field is required")
	}
	deleted, err := svc.Repo.DeleteQuizzes(ctx, ownerID, ids)
	if err != nil {
		return errors.Wrap(err, "deleting quizzes")
	}
	for _, qz := range deleted {
		svc.discardDocument(ctx, qz)
	}
	return nil
}

func (svc *service) resubmit(ctx context.Context, qz Quiz, mode string, count int) (Quiz, error) {
	if qz.Status == StatusPending {
		return Quiz{}, core.NewFieldError("status", "the quiz is already being generated")
	}
	if qz.SourceText == "" {
		return Quiz{}, core.NewFieldError("source", "the quiz has no content to generate from")
	}
	if err := svc.Quota.Reserve(ctx, qz.OwnerID, count, qz.SourceKind == SourceDocument); err != nil {
		return Quiz{}, err
	}

	// claim the quiz first so concurrent requests cannot submit it twice
	now := svc.now()
	claimed, err := svc.Repo.UpdateJobState(ctx, qz.ID, JobGuard{}, JobState{
		Status:         StatusPending,
		PendingMode:    mode,
		RequestedCount: count,
		SubmittedAt:    now,
		UpdatedAt:      now,
	})
	if err != nil {
		if errors.Cause(err) == ErrJobSuperseded {
			return Quiz{}, core.NewFieldError("status", "the quiz is already being generated")
		}
		return Quiz{}, errors.Wrap(err, "updating quiz")
	}
	return svc.submit(ctx, claimed, mode, count)
}

func (svc *service) Regenerate(ctx context.Context, ownerID, id string) (Quiz, error) {
	qz, err := svc.get(ctx, ownerID, id)
	if err != nil {
		return Quiz{}, err
	}
	count := qz.RequestedCount
	if count <= 0 {
		count = defaultCount
	}
	return svc.resubmit(ctx, qz, ModeReplace, count)
}

func (svc *service) Extend(ctx context.Context, ownerID, id string, count int) (Quiz, error) {
	if count < 1 || count > 100 {
		return Quiz{}, core.NewFieldError("count", "count must be between 1 and 100")
	}
	qz, err := svc.get(ctx, ownerID, id)
	if err != nil {
		return Quiz{}, err
	}
	return svc.resubmit(ctx, qz, ModeAppend, count)
}

// editable returns the quiz when its questions may be edited.
func (svc *service) editable(ctx context.Context, ownerID, quizID string) (Quiz, error) {
	qz, err := svc.get(ctx, ownerID, quizID)
	if err != nil {
		return Quiz{}, err
	}
	if qz.Status == StatusPending {
		return Quiz{}, core.NewFieldError("status", "the quiz is being generated")
	}
	return qz, nil
}

func findQuestion(qz Quiz, questionID string) (Question, bool) {
	for _, q := range qz.Questions {
		if q.ID == questionID {
			return q, true
		}
	}
	return Question{}, false
}

func (svc *service) AddQuestion(ctx context.Context, ownerID, quizID string, nq NewQuestion) (Question, error) {
	qz, err := svc.editable(ctx, ownerID, quizID)
	if err != nil {
		return Question{}, err
	}
	q, err := nq.Validate(svc.validate)
	if err != nil {
		return Question{}, err
	}
	q.ID = uuid.New().String()
	q.QuizID = qz.ID
	if q, err = svc.Repo.AddQuestion(ctx, q); err != nil {
		return Question{}, errors.Wrap(err, "adding question")
	}
	if qz.Status == StatusFailed && len(qz.Questions) == 0 {
		// a manually filled quiz is usable
		st := qz.JobState()
		st.Status = StatusReady
		st.LastError = ""
		st.UpdatedAt = svc.now()
		_, err = svc.Repo.UpdateJobState(ctx, qz.ID, qz.GuardFor(), st)
		if err != nil && errors.Cause(err) != ErrJobSuperseded {
			return Question{}, errors.Wrap(err, "updating quiz")
		}
	}
	return q, nil
}

func (svc *service) UpdateQuestion(ctx context.Context, ownerID, quizID, questionID string, nq NewQuestion) (Question, error) {
	qz, err := svc.editable(ctx, ownerID, quizID)
	if err != nil {
		return Question{}, err
	}
	orig, ok := findQuestion(qz, questionID)
	if !ok {
		return Question{}, core.NewNotFoundError("question")
	}
	q, err := nq.Validate(svc.validate)
	if err != nil {
		return Question{}, err
	}
	q.ID = orig.ID
	q.QuizID = orig.QuizID
	q.Position = orig.Position
	return svc.Repo.UpdateQuestion(ctx, q)
}

func (svc *service) DeleteQuestion(ctx context.Context, ownerID, quizID, questionID string) error {
	qz, err := svc.editable(ctx, ownerID, quizID)
	if err != nil {
		return err
	}
	if _, ok := findQuestion(qz, questionID); !ok {
		return core.NewNotFoundError("question")
	}
	return svc.Repo.DeleteQuestion(ctx, qz.ID, questionID)
}

func (svc *service) ReorderQuestions(ctx context.Context, ownerID, quizID string, ids []string) (Quiz, error) {
	qz, err := svc.editable(ctx, ownerID, quizID)
	if err != nil {
		return Quiz{}, err
	}

	// ids must be a permutation of the quiz questions
	if len(ids) != len(qz.Questions) {
		return Quiz{}, core.NewFieldError("ids", "must list every question of the quiz exactly once")
	}
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := findQuestion(qz, id); !ok || seen[id] {
			return Quiz{}, core.NewFieldError("ids", "must list every question of the quiz exactly once")
		}
		seen[id] = true
	}

	if err = svc.Repo.ReorderQuestions(ctx, qz.ID, ids); err != nil {
		return Quiz{}, errors.Wrap(err, "reordering questions")
	}
	return svc.get(ctx, ownerID, quizID)
}

func newShareToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func hashSharePassword(password string) ([]byte, error) {
	if password == "" {
		return nil, nil
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	return hash, errors.Wrap(err, "hashing share password")
}

func (svc *service) Share(ctx context.Context, ownerID, id string, sq ShareQuiz) (Quiz, error) {
	if err := sq.Validate(svc.validate); err != nil {
		return Quiz{}, err
	}
	qz, err := svc.get(ctx, ownerID, id)
	if err != nil {
		return Quiz{}, err
	}
	if qz.ShareToken == "" {
		qz.ShareToken = newShareToken()
	}
	if qz.SharePasswordHash, err = hashSharePassword(sq.Password); err != nil {
		return Quiz{}, err
	}
	qz.ShareAnswers = sq.ShowAnswers
	qz.UpdatedAt = svc.now()
	return svc.Repo.UpdateQuiz(ctx, qz)
}

func (svc *service) Unshare(ctx context.Context, ownerID, id string) (Quiz, error) {
	qz, err := svc.get(ctx, ownerID, id)
	if err != nil {
		return Quiz{}, err
	}
	qz.ShareToken = ""
	qz.SharePasswordHash = nil
	qz.ShareAnswers = false
	qz.UpdatedAt = svc.now()
	return svc.Repo.UpdateQuiz(ctx, qz)
}

// SetSharePassword sets or, when empty, removes the share password of any quiz.
func (svc *service) SetSharePassword(ctx context.Context, id, password string) (Quiz, error) {
	qz, err := svc.get(ctx, "", id)
	if err != nil {
		return Quiz{}, err
	}
	if !qz.IsShared() {
		return Quiz{}, core.NewFieldError("quiz", "the quiz is not shared")
	}
	if password != "" {
		if err = svc.validate.Var(password, "min=4,max=72"); err != nil {
			return Quiz{}, core.NewFieldError("password", "the password must contain 4 to 72 characters")
		}
	}
	if qz.SharePasswordHash, err = hashSharePassword(password); err != nil {
		return Quiz{}, err
	}
	qz.UpdatedAt = svc.now()
	return svc.Repo.UpdateQuiz(ctx, qz)
}

func (svc *service) shared(ctx context.Context, token, password string) (Quiz, error) {
	token = core.CleanString(token)
	if token == "" {
		return Quiz{}, core.NewNotFoundError("quiz")
	}
	qz, err := svc.Repo.GetQuiz(ctx, GetFilter{ShareToken: token})
	if err != nil {
		return Quiz{}, err
	}
	if qz.IsProtected() {
		if password == "" || bcrypt.CompareHashAndPassword(qz.SharePasswordHash, []byte(password)) != nil {
			return Quiz{}, ErrSharePassword
		}
	}
	return qz, nil
}

func (svc *service) GetShared(ctx context.Context, token, password string) (SharedQuiz, error) {
	qz, err := svc.shared(ctx, token, password)
	if err != nil {
		return SharedQuiz{}, err
	}
	sq := SharedQuiz{
		Title:         qz.Title,
		Description:   qz.Description,
		Language:      qz.Language,
		Difficulty:    qz.Difficulty,
		Status:        qz.Status,
		ShowsAnswers:  qz.ShareAnswers,
		QuestionCount: len(qz.Questions),
		Questions:     make([]Question, 0, len(qz.Questions)),
	}
	for _, q := range qz.Questions {
		if !qz.ShareAnswers {
			q.Answer = ""
			q.Explanation = ""
		}
		sq.Questions = append(sq.Questions, q)
	}
	return sq, nil
}

func (svc *service) CopyShared(ctx context.Context, ownerID, token, password string) (Quiz, error) {
	src, err := svc.shared(ctx, token, password)
	if err != nil {
		return Quiz{}, err
	}
	if src.Status != StatusReady || len(src.Questions) == 0 {
		return Quiz{}, core.NewFieldError("quiz", "the quiz has no questions yet")
	}

	now := svc.now()
	qz := Quiz{
		ID:             uuid.New().String(),
		OwnerID:        ownerID,
		Title:          src.Title,
		Description:    src.Description,
		Language:       src.Language,
		Difficulty:     src.Difficulty,
		SourceKind:     src.SourceKind,
		SourceInput:    src.SourceInput,
		SourceText:     src.SourceText,
		QuestionKinds:  src.QuestionKinds,
		Status:         StatusReady,
		PendingMode:    ModeReplace,
		RequestedCount: src.RequestedCount,
		SubmittedAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, q := range src.Questions {
		q.ID = uuid.New().String()
		q.QuizID = qz.ID
		q.Position = i + 1
		qz.Questions = append(qz.Questions, q)
	}
	qz, err = svc.Repo.CreateQuiz(ctx, qz)
	return qz, errors.Wrap(err, "copying quiz")
}

func (svc *service) exportable(ctx context.Context, ownerID, id string) (Quiz, error) {
	qz, err := svc.get(ctx, ownerID, id)
	if err != nil {
		return Quiz{}, err
	}
	if qz.Status != StatusReady || len(qz.Questions) == 0 {
		return Quiz{}, core.NewFieldError("status", "only ready quizzes with questions can be exported")
	}
	return qz, nil
}

func (svc *service) Export(ctx context.Context, ownerID, id, format string) (ExportFile, error) {
	format = core.CleanString(format, true /* lower */)
	if format == "" {
		format = FormatJSON
	}
	if !contains(ExportFormats, format) {
		return ExportFile{}, core.NewFieldError("format", "format must be one of "+strings.Join(ExportFormats, ", "))
	}
	qz, err := svc.exportable(ctx, ownerID, id)
	if err != nil {
		return ExportFile{}, err
	}
	return render(qz, format)
}

// EmailExport sends the export of the quiz to its owner as an attachment.
func (svc *service) EmailExport(ctx context.Context, usr user.User, id, format string) error {
	if usr.Email == "" {
		return core.NewFieldError("email", "your account has no email address")
	}
	f, err := svc.Export(ctx, usr.ID, id, format)
	if err != nil {
		return err
	}
	msg := &core.EmailMessage{
		To:      []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject: "Your quiz export: " + strings.TrimSuffix(f.Filename, path.Ext(f.Filename)),
		BodyStr: fmt.Sprintf("Hi %s,\n\nYour quiz export is attached (%s).\n", usr.DisplayName(), f.Filename),
	}
	if err = msg.Attach(bytes.NewReader(f.Data), f.Filename, f.ContentType); err != nil {
		return errors.Wrap(err, "attaching export")
	}
	svc.MailSvc.SendMessages(msg)
	return nil
}

func (svc *service) ExportGoogleForm(ctx context.Context, ownerID, id, accessToken string) (string, error) {
	if accessToken = core.CleanString(accessToken); accessToken == "" {
		return "", core.NewFieldError("access_token", "this field is required")
	}
	if err := svc.Quota.CheckFeature(ctx, ownerID, featureGoogleForms); err != nil {
		return "", err
	}
	qz, err := svc.exportable(ctx, ownerID, id)
	if err != nil {
		return "", err
	}
	url, err := svc.Forms.CreateForm(ctx, accessToken, qz)
	return url, errors.Wrap(err, "creating google form")
}

// PollPending checks the generation jobs of pending quizzes and applies their results.
func (svc *service) PollPending(ctx context.Context) (PollReport, error) {
	quizzes, err := svc.Repo.QueryPendingQuizzes(ctx, svc.conf.Poller.BatchSize)
	if err != nil {
		return PollReport{}, errors.Wrap(err, "querying pending quizzes")
	}

	var (
		mu     sync.Mutex
		report = PollReport{Checked: len(quizzes)}
	)
	g, gctx := errgroup.WithContext(ctx)
	if n := svc.conf.Poller.Concurrency; n > 0 {
		g.SetLimit(n)
	}
	for _, qz := range quizzes {
		qz := qz
		g.Go(func() error {
			status := svc.poll(gctx, qz)
			mu.Lock()
			defer mu.Unlock()
			switch status {
			case StatusReady:
				report.Completed++
			case StatusFailed:
				report.Failed++
			case superseded:
				// settled by another poller or request
			default:
				report.Pending++
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, ctx.Err()
}

// submitGrace is how long a pending quiz without a job is left to the request submitting it.
const submitGrace = 2 * time.Minute

// superseded is the poll outcome of a quiz whose job changed while it was being polled.
const superseded = "superseded"

// poll applies the job result of one pending quiz and returns the quiz status.
// Every write is guarded by the job observed here, so a quiz edited, resubmitted or
// completed by someone else meanwhile is left alone.
func (svc *service) poll(ctx context.Context, qz Quiz) string {
	if qz.JobID == "" {
		if svc.now().Sub(qz.SubmittedAt) < submitGrace {
			return StatusPending
		}
		// the submission was interrupted
		count := qz.RequestedCount
		if count <= 0 {
			count = defaultCount
		}
		updated, err := svc.submit(ctx, qz, qz.PendingMode, count)
		if err != nil {
			svc.Logger.Error("resubmitting quiz", err, map[string]interface{}{"quiz": qz.ID})
			return StatusPending
		}
		if updated.Status != StatusPending {
			svc.notifyOwner(ctx, updated)
			return StatusFailed
		}
		return StatusPending
	}

	res, err := svc.Generator.Result(ctx, qz.JobID)
	switch {
	case errors.Is(err, ErrUnknownJob):
		// lost by the generator: it times out like a job that never finishes
		svc.Logger.Warn("fetching generation result", err, map[string]interface{}{"quiz": qz.ID, "job": qz.JobID})
		res = GenerationResult{Status: JobPending}
	case err != nil:
		svc.Logger.Warn("fetching generation result", err, map[string]interface{}{"quiz": qz.ID, "job": qz.JobID})
		return svc.fail(ctx, qz, "the generation job could not be retrieved")
	}

	switch res.Status {
	case JobCompleted:
		return svc.complete(ctx, qz, res.Questions)
	case JobFailed:
		reason := res.Error
		if reason == "" {
			reason = "the question generation failed"
		}
		return svc.fail(ctx, qz, reason)
	default:
		if qz.Attempts+1 >= svc.conf.Poller.MaxAttempts || svc.now().Sub(qz.SubmittedAt) > svc.conf.Poller.JobTimeout {
			return svc.fail(ctx, qz, "the question generation timed out")
		}
		st := qz.JobState()
		st.Attempts++
		if _, err = svc.Repo.UpdateJobState(ctx, qz.ID, qz.GuardFor(), st); err != nil && errors.Cause(err) != ErrJobSuperseded {
			svc.Logger.Error("updating pending quiz", err, map[string]interface{}{"quiz": qz.ID})
		}
		return StatusPending
	}
}

func (svc *service) complete(ctx context.Context, qz Quiz, generated []Question) string {
	var existing []Question
	if qz.PendingMode == ModeAppend {
		full, err := svc.Repo.GetQuiz(ctx, GetFilter{ID: qz.ID})
		if err != nil {
			svc.Logger.Error("loading quiz questions", err, map[string]interface{}{"quiz": qz.ID})
			return StatusPending
		}
		existing = full.Questions
	}
	questions := dedupe(existing, filterKinds(normalizeQuestions(generated), qz.QuestionKinds))
	if qz.RequestedCount > 0 && len(questions) > qz.RequestedCount {
		questions = questions[:qz.RequestedCount]
	}
	if len(questions) == 0 {
		if qz.PendingMode == ModeAppend && len(existing) > 0 {
			return svc.fail(ctx, qz, "no new questions could be generated")
		}
		return svc.fail(ctx, qz, "no questions could be generated from this content")
	}

	for i := range questions {
		questions[i].ID = uuid.New().String()
		questions[i].QuizID = qz.ID
	}
	st := qz.JobState()
	st.Status = StatusReady
	st.JobID = ""
	st.LastError = ""
	st.UpdatedAt = svc.now()
	updated, err := svc.Repo.CompleteQuiz(ctx, qz.ID, qz.GuardFor(), st, questions)
	if err != nil {
		if errors.Cause(err) == ErrJobSuperseded {
			return superseded
		}
		svc.Logger.Error("completing quiz", err, map[string]interface{}{"quiz": qz.ID})
		return StatusPending
	}
	svc.notifyOwner(ctx, updated)
	return StatusReady
}

// fail marks the quiz failed. Questions of an extended quiz are kept.
func (svc *service) fail(ctx context.Context, qz Quiz, reason string) string {
	st := qz.JobState()
	st.Status = StatusFailed
	if qz.PendingMode == ModeAppend && qz.QuestionCount > 0 {
		st.Status = StatusReady
	}
	st.JobID = ""
	st.LastError = reason
	st.UpdatedAt = svc.now()
	updated, err := svc.Repo.UpdateJobState(ctx, qz.ID, qz.GuardFor(), st)
	if err != nil {
		if errors.Cause(err) == ErrJobSuperseded {
			return superseded
		}
		svc.Logger.Error("failing quiz", err, map[string]interface{}{"quiz": qz.ID})
		return StatusPending
	}
	svc.notifyOwner(ctx, updated)
	return StatusFailed
}

func (svc *service) notifyOwner(ctx context.Context, qz Quiz) {
	usr, err := svc.UserSvc.GetByID(ctx, qz.OwnerID)
	if err != nil {
		svc.Logger.Warn("notifying quiz owner", err, map[string]interface{}{"quiz": qz.ID})
		return
	}
	if usr.Email == "" {
		return
	}

	msg := &core.EmailMessage{To: []mail.Address{{Name: usr.Name, Address: usr.Email}}}
	if qz.LastError == "" && qz.Status == StatusReady {
		msg.Subject = "Your quiz is ready"
		msg.TemplateName = "quiz_ready"
		msg.TemplateData = map[string]interface{}{
			"Name": usr.DisplayName(), "Title": qz.Title, "Count": qz.QuestionCount, "QuizID": qz.ID,
		}
	} else {
		msg.Subject = "Your quiz could not be generated"
		msg.TemplateName = "quiz_failed"
		msg.TemplateData = map[string]interface{}{
			"Name": usr.DisplayName(), "Title": qz.Title, "Reason": qz.LastError, "QuizID": qz.ID,
		}
	}
	svc.MailSvc.SendMessages(msg)
}
