package generation

import (
	_ "embed"
	"strings"
)

//go:embed prompts/system_prompt.txt
var DefaultSystemPrompt string

//go:embed prompts/critique_prompt.txt
var DefaultCritiquePrompt string

const (
	draftInstruction = "Please write the cover letter now. Remember to explicitly reference specific job requirements in each paragraph and show how the experience matches what they're asking for. Make the connections obvious."
	writeNow         = "Please write the cover letter now."
	critiqueRequest  = "Review the draft and respond in the requested format."
	refinedMarker    = "REFINED VERSION:"
	noContext        = "No specific relevant information found. Use general knowledge about professional experience."
)

// PromptSource yields the current template text. The system prompt is read on
// every session so applied improvements take effect without a restart.
type PromptSource interface {
	Read() (string, error)
}

type StaticPrompt string

func (p StaticPrompt) Read() (string, error) { return string(p), nil }

type promptData struct {
	Context        string
	JobDescription string
	CompanyName    string
	JobTitle       string
	JobAnalysis    string
	CustomContext  string
}

func orPlaceholder(s, placeholder string) string {
	if strings.TrimSpace(s) == "" {
		return placeholder
	}
	return s
}

// renderSystem fills the known placeholders. Unknown braces are left alone,
// so templates may contain literal JSON or examples.
func renderSystem(tmpl string, d promptData) string {
	return strings.NewReplacer(
		"{context}", d.Context,
		"{job_description}", d.JobDescription,
		"{company_name}", orPlaceholder(d.CompanyName, "[Company Name]"),
		"{job_title}", orPlaceholder(d.JobTitle, "[Job Title]"),
		"{job_analysis}", d.JobAnalysis,
		"{custom_context}", d.CustomContext,
	).Replace(tmpl)
}

func renderCritique(tmpl, draft string, d promptData) string {
	return strings.NewReplacer(
		"{initial_draft}", draft,
		"{job_description}", d.JobDescription,
		"{company_name}", orPlaceholder(d.CompanyName, "[Company Name]"),
		"{job_title}", orPlaceholder(d.JobTitle, "[Job Title]"),
	).Replace(tmpl)
}
