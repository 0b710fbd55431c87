// Package googleforms exports quizzes as self-grading Google Forms, on behalf of the user.
package googleforms

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/oauth2"
	"google.golang.org/api/forms/v1"
	"google.golang.org/api/option"

	"github.com/trezcool/quizbank/core/quiz"
)

type exporter struct {
	opts []option.ClientOption
}

var _ quiz.FormsExporter = (*exporter)(nil) // interface compliance check

// NewExporter returns an exporter. `opts` are added to every client (endpoints in tests).
func NewExporter(opts ...option.ClientOption) quiz.FormsExporter {
	return &exporter{opts: opts}
}

// CreateForm creates the form with the user's OAuth access token and returns its responder URL.
func (e *exporter) CreateForm(ctx context.Context, accessToken string, qz quiz.Quiz) (string, error) {
	opts := append([]option.ClientOption{
		option.WithTokenSource(oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"})),
	}, e.opts...)
	svc, err := forms.NewService(ctx, opts...)
	if err != nil {
		return "", errors.Wrap(err, "creating forms client")
	}

	form, err := svc.Forms.Create(&forms.Form{
		Info: &forms.Info{Title: qz.Title, DocumentTitle: qz.Title},
	}).Context(ctx).Do()
	if err != nil {
		return "", errors.Wrap(err, "creating form")
	}

	if _, err = svc.Forms.BatchUpdate(form.FormId, buildRequests(qz)).Context(ctx).Do(); err != nil {
		return "", errors.Wrap(err, "adding questions")
	}
	return form.ResponderUri, nil
}

// buildRequests turns the quiz into one batch: quiz mode, description, then every question in order.
func buildRequests(qz quiz.Quiz) *forms.BatchUpdateFormRequest {
	reqs := []*forms.Request{{
		UpdateSettings: &forms.UpdateSettingsRequest{
			Settings:   &forms.FormSettings{QuizSettings: &forms.QuizSettings{IsQuiz: true}},
			UpdateMask: "quizSettings.isQuiz",
		},
	}}
	if qz.Description != "" {
		reqs = append(reqs, &forms.Request{
			UpdateFormInfo: &forms.UpdateFormInfoRequest{
				Info:       &forms.Info{Description: qz.Description},
				UpdateMask: "description",
			},
		})
	}
	for i, q := range qz.Questions {
		reqs = append(reqs, &forms.Request{
			CreateItem: &forms.CreateItemRequest{
				Item:     buildItem(q),
				Location: &forms.Location{Index: int64(i), ForceSendFields: []string{"Index"}},
			},
		})
	}
	return &forms.BatchUpdateFormRequest{Requests: reqs}
}

func buildItem(q quiz.Question) *forms.Item {
	grading := &forms.Grading{PointValue: 1}
	if q.Explanation != "" {
		grading.WhenWrong = &forms.Feedback{Text: q.Explanation}
	}
	question := &forms.Question{Required: true, Grading: grading}

	switch q.Kind {
	case quiz.KindMultipleChoice, quiz.KindTrueFalse:
		options := q.Options
		answer := q.Answer
		if q.Kind == quiz.KindTrueFalse {
			options = []string{"True", "False"}
			answer = "False"
			if strings.EqualFold(q.Answer, "true") {
				answer = "True"
			}
		}
		choice := &forms.ChoiceQuestion{Type: "RADIO"}
		for _, o := range options {
			choice.Options = append(choice.Options, &forms.Option{Value: o})
		}
		question.ChoiceQuestion = choice
		grading.CorrectAnswers = &forms.CorrectAnswers{Answers: []*forms.CorrectAnswer{{Value: answer}}}

	default: // short answer
		question.TextQuestion = &forms.TextQuestion{}
		grading.CorrectAnswers = &forms.CorrectAnswers{Answers: []*forms.CorrectAnswer{{Value: q.Answer}}}
	}

	return &forms.Item{
		Title:        q.Prompt,
		QuestionItem: &forms.QuestionItem{Question: question},
	}
}
