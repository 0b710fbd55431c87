package quiz

import (
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/trezcool/quizbank/core"
)

var (
	sourceKindTag  = "sourcekind"
	sourceKindText = "invalid source kind"

	questionKindsTag  = "questionkinds"
	questionKindsText = "invalid question kinds"

	difficultyTag  = "difficulty"
	difficultyText = "difficulty must be one of easy, medium or hard"
)

// InitValidators registers the quiz validators.
func InitValidators(validate *validator.Validate, translator ut.Translator) {
	_ = validate.RegisterValidation(sourceKindTag, oneOfValidation(SourceKinds))
	core.RegisterCustomTranslation(validate, translator, sourceKindTag, sourceKindText)

	_ = validate.RegisterValidation(questionKindsTag, questionKindsValidation)
	core.RegisterCustomTranslation(validate, translator, questionKindsTag, questionKindsText)

	_ = validate.RegisterValidation(difficultyTag, oneOfValidation(Difficulties))
	core.RegisterCustomTranslation(validate, translator, difficultyTag, difficultyText)

	validate.RegisterStructValidation(newQuizStructValidation, NewQuiz{})
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func oneOfValidation(set []string) validator.Func {
	return func(fl validator.FieldLevel) bool {
		return contains(set, fl.Field().String())
	}
}

// questionKindsValidation checks that all provided kinds are known.
func questionKindsValidation(fl validator.FieldLevel) bool {
	kinds, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, k := range kinds {
		if !contains(QuestionKinds, k) {
			return false
		}
	}
	return true
}

// newQuizStructValidation checks that the input of the chosen source kind is provided.
func newQuizStructValidation(sl validator.StructLevel) {
	nq := sl.Current().Interface().(NewQuiz)
	switch nq.SourceKind {
	case SourceKeywords:
		if len(nq.Keywords) == 0 {
			sl.ReportError(nq.Keywords, "keywords", "Keywords", "required", "")
		}
	case SourceURL:
		if len(nq.URLs) == 0 {
			sl.ReportError(nq.URLs, "urls", "URLs", "required", "")
		}
	case SourceDocument:
		if nq.Document == nil || len(nq.Document.Data) == 0 {
			sl.ReportError(nq.Document, "document", "Document", "required", "")
		}
	case SourceText:
		if nq.Text == "" {
			sl.ReportError(nq.Text, "text", "Text", "required", "")
		}
	}
}
