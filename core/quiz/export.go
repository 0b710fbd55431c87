package quiz

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const csvOptionSep = " | "

var nonSlugRegex = regexp.MustCompile(`[^a-z0-9]+`)

func exportFilename(qz Quiz, ext string) string {
	slug := strings.Trim(nonSlugRegex.ReplaceAllString(strings.ToLower(qz.Title), "-"), "-")
	if slug == "" {
		slug = "quiz"
	}
	return slug + "." + ext
}

func render(qz Quiz, format string) (ExportFile, error) {
	var (
		f   ExportFile
		err error
	)
	switch format {
	case FormatJSON:
		f = ExportFile{Filename: exportFilename(qz, "json"), ContentType: "application/json"}
		f.Data, err = renderJSON(qz)
	case FormatCSV:
		f = ExportFile{Filename: exportFilename(qz, "csv"), ContentType: "text/csv; charset=utf-8"}
		f.Data, err = renderCSV(qz)
	case FormatTXT:
		f = ExportFile{Filename: exportFilename(qz, "txt"), ContentType: "text/plain; charset=utf-8"}
		f.Data = renderTXT(qz)
	case FormatGIFT:
		f = ExportFile{Filename: exportFilename(qz, "gift.txt"), ContentType: "text/plain; charset=utf-8"}
		f.Data = renderGIFT(qz)
	default:
		return ExportFile{}, errors.Errorf("unknown export format %q", format)
	}
	return f, err
}

type jsonExportQuestion struct {
	Position    int      `json:"position"`
	Kind        string   `json:"kind"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
	Answer      string   `json:"answer"`
	Explanation string   `json:"explanation"`
}

func renderJSON(qz Quiz) ([]byte, error) {
	doc := struct {
		Title       string               `json:"title"`
		Description string               `json:"description"`
		Language    string               `json:"language"`
		Difficulty  string               `json:"difficulty"`
		Questions   []jsonExportQuestion `json:"questions"`
	}{
		Title:       qz.Title,
		Description: qz.Description,
		Language:    qz.Language,
		Difficulty:  qz.Difficulty,
		Questions:   make([]jsonExportQuestion, 0, len(qz.Questions)),
	}
	for _, q := range qz.Questions {
		doc.Questions = append(doc.Questions, jsonExportQuestion{
			Position:    q.Position,
			Kind:        q.Kind,
			Prompt:      q.Prompt,
			Options:     q.Options,
			Answer:      q.Answer,
			Explanation: q.Explanation,
		})
	}
	return json.MarshalIndent(doc, "", "  ")
}

func renderCSV(qz Quiz) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write([]string{"position", "kind", "prompt", "options", "answer", "explanation"})
	for _, q := range qz.Questions {
		_ = w.Write([]string{
			strconv.Itoa(q.Position),
			q.Kind,
			q.Prompt,
			strings.Join(q.Options, csvOptionSep),
			q.Answer,
			q.Explanation,
		})
	}
	w.Flush()
	return buf.Bytes(), errors.Wrap(w.Error(), "writing csv")
}

func optionLabel(i int) string {
	return string(rune('a' + i))
}

func renderTXT(qz Quiz) []byte {
	var b strings.Builder
	b.WriteString(qz.Title + "\n")
	if qz.Description != "" {
		b.WriteString("\n" + qz.Description + "\n")
	}

	for i, q := range qz.Questions {
		fmt.Fprintf(&b, "\n%d. %s\n", i+1, q.Prompt)
		switch q.Kind {
		case KindMultipleChoice:
			for j, o := range q.Options {
				fmt.Fprintf(&b, "   %s) %s\n", optionLabel(j), o)
			}
		case KindTrueFalse:
			b.WriteString("   True / False\n")
		default:
			b.WriteString("   ______________________\n")
		}
	}

	b.WriteString("\nAnswer key\n")
	for i, q := range qz.Questions {
		ans := q.Answer
		if q.Kind == KindMultipleChoice {
			for j, o := range q.Options {
				if o == q.Answer {
					ans = optionLabel(j) + ") " + o
				}
			}
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, ans)
		if q.Explanation != "" {
			fmt.Fprintf(&b, "   %s\n", q.Explanation)
		}
	}
	return []byte(b.String())
}

var giftEscaper = strings.NewReplacer(
	`\`, `\\`, `~`, `\~`, `=`, `\=`, `#`, `\#`, `{`, `\{`, `}`, `\}`, `:`, `\:`,
)

// renderGIFT writes the questions in the Moodle GIFT format.
func renderGIFT(qz Quiz) []byte {
	var b strings.Builder
	for i, q := range qz.Questions {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "::Q%d:: %s {", i+1, giftEscaper.Replace(q.Prompt))
		switch q.Kind {
		case KindMultipleChoice:
			b.WriteString("\n")
			for _, o := range q.Options {
				mark := "~"
				if o == q.Answer {
					mark = "="
				}
				fmt.Fprintf(&b, "\t%s%s\n", mark, giftEscaper.Replace(o))
			}
		case KindTrueFalse:
			b.WriteString(strings.ToUpper(q.Answer))
		default:
			fmt.Fprintf(&b, "=%s", giftEscaper.Replace(q.Answer))
		}
		if q.Explanation != "" {
			fmt.Fprintf(&b, "####%s", giftEscaper.Replace(q.Explanation))
			if q.Kind == KindMultipleChoice {
				b.WriteString("\n")
			}
		}
		b.WriteString("}\n")
	}
	return []byte(b.String())
}
