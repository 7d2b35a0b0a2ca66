package prompts

import (
	"bytes"
	"embed"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/pavelanni/examprep/internal/model"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// MaxContextRunes caps how much resource text is sent to the generator.
const MaxContextRunes = 12000

var (
	studyResourceRegex      = regexp.MustCompile(`(?i)</?\s*study-resource\b[^>]*>`)
	systemInstructionsRegex = regexp.MustCompile(`(?i)</?\s*system-instructions\b[^>]*>`)

	examTemplate = template.Must(template.ParseFS(templateFS, "templates/exam.tmpl"))
)

// ExamData holds template data for the exam generation prompt.
type ExamData struct {
	Title            string
	Context          string
	Difficulty       model.Difficulty
	DurationMinutes  int
	MCQCount         int
	TrueFalseCount   int
	ShortAnswerCount int
	EasyPoints       int
	MediumPoints     int
	HardPoints       int
}

// BuildExamPrompt renders the generation prompt for a request.
func BuildExamPrompt(req model.GenerationRequest) (string, error) {
	data := ExamData{
		Title:            strings.TrimSpace(req.ResourceTitle),
		Context:          SanitizeContext(req.Context),
		Difficulty:       req.Difficulty,
		DurationMinutes:  req.DurationMinutes,
		MCQCount:         req.MCQCount,
		TrueFalseCount:   req.TrueFalseCount,
		ShortAnswerCount: req.ShortAnswerCount,
		EasyPoints:       model.PointsFor(model.DifficultyEasy),
		MediumPoints:     model.PointsFor(model.DifficultyMedium),
		HardPoints:       model.PointsFor(model.DifficultyHard),
	}

	var buf bytes.Buffer
	if err := examTemplate.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render exam prompt: %w", err)
	}
	return buf.String(), nil
}

// SanitizeContext strips delimiter tags a resource could use to escape its
// section of the prompt and truncates overly long text.
func SanitizeContext(text string) string {
	text = studyResourceRegex.ReplaceAllString(text, "")
	text = systemInstructionsRegex.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)

	if text == "" {
		return "[No resource text provided]"
	}

	if utf8.RuneCountInString(text) > MaxContextRunes {
		runes := []rune(text)
		text = string(runes[:MaxContextRunes]) + "\n\n[Resource truncated due to length]"
	}
	return text
}
