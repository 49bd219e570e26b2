package channels

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/callcatcherops/autonomy/internal/config"
	"github.com/callcatcherops/autonomy/internal/store"
)

// TemplateData is what message templates can reference.
type TemplateData struct {
	Name           string
	FirstName      string
	Company        string
	Service        string
	City           string
	State          string
	Step           int
	UnsubscribeURL string
	MailingAddress string
}

// NewTemplateData fills TemplateData from a lead.
func NewTemplateData(l store.Lead, step int) TemplateData {
	first, _, _ := strings.Cut(strings.TrimSpace(l.Name), " ")
	if first == "" {
		first = "there"
	}
	return TemplateData{
		Name:      l.Name,
		FirstName: first,
		Company:   l.Company,
		Service:   l.Service,
		City:      l.City,
		State:     l.State,
		Step:      step,
	}
}

type compiled struct {
	subject *template.Template
	body    *template.Template
}

// Renderer renders one message per sequence step. Steps beyond the last
// template reuse the last one.
type Renderer struct {
	steps          []compiled
	unsubscribeURL string
	mailingAddress string
	footer         bool
}

// NewRenderer parses templates. When footer is set, every body ends with the
// unsubscribe link and mailing address unless the template already shows
// them.
func NewRenderer(templates []config.MessageTemplate, unsubscribeURL, mailingAddress string, footer bool) (*Renderer, error) {
	r := &Renderer{unsubscribeURL: unsubscribeURL, mailingAddress: mailingAddress, footer: footer}
	for i, t := range templates {
		subj, err := template.New(fmt.Sprintf("subject-%d", i)).Option("missingkey=error").Parse(t.Subject)
		if err != nil {
			return nil, fmt.Errorf("template %d subject: %w", i, err)
		}
		body, err := template.New(fmt.Sprintf("body-%d", i)).Option("missingkey=error").Parse(t.Body)
		if err != nil {
			return nil, fmt.Errorf("template %d body: %w", i, err)
		}
		r.steps = append(r.steps, compiled{subject: subj, body: body})
	}
	return r, nil
}

// Render returns subject and body for a step.
func (r *Renderer) Render(step int, data TemplateData) (string, string, error) {
	if len(r.steps) == 0 {
		return "", "", fmt.Errorf("no message templates configured")
	}
	if step < 0 {
		step = 0
	}
	if step >= len(r.steps) {
		step = len(r.steps) - 1
	}
	data.UnsubscribeURL = r.unsubscribeURL
	data.MailingAddress = r.mailingAddress

	var subj, body strings.Builder
	if err := r.steps[step].subject.Execute(&subj, data); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	if err := r.steps[step].body.Execute(&body, data); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	out := strings.TrimRight(body.String(), "\n")
	if r.footer {
		out = r.appendFooter(out)
	}
	return strings.TrimSpace(subj.String()), out, nil
}

func (r *Renderer) appendFooter(body string) string {
	var extra []string
	if r.unsubscribeURL != "" && !strings.Contains(body, r.unsubscribeURL) {
		extra = append(extra, "Unsubscribe: "+r.unsubscribeURL)
	}
	if r.mailingAddress != "" && !strings.Contains(body, r.mailingAddress) {
		extra = append(extra, r.mailingAddress)
	}
	if len(extra) == 0 {
		return body
	}
	return body + "\n\n--\n" + strings.Join(extra, "\n")
}
