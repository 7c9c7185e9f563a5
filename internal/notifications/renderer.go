package notifications

import (
	"bytes"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"golang.org/x/text/language"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// fallbackText is returned for unknown message types and render failures.
// A generic but deliverable message is preferable to abandoning the job.
const fallbackText = "You have an update on your exchange order. Open the app for details."

// supportedLanguages lists languages with a full template set. The first
// entry is the fallback for unknown tags.
var supportedLanguages = []language.Tag{
	language.English,
	language.Russian,
}

// Renderer maps (message_type, payload) to localized telegram message text.
// Render is total: it never fails, degrading to fallbackText instead.
type Renderer struct {
	templates map[string]*template.Template
	matcher   language.Matcher
}

// NewRenderer creates a renderer and loads all embedded templates.
func NewRenderer() (*Renderer, error) {
	funcMap := template.FuncMap{
		"upper":       strings.ToUpper,
		"shortID":     shortID,
		"formatTime":  formatTime,
		"statusEmoji": statusEmoji,
	}

	r := &Renderer{
		templates: make(map[string]*template.Template),
		matcher:   language.NewMatcher(supportedLanguages),
	}

	for _, lang := range supportedLanguages {
		base, _ := lang.Base()
		for _, msgType := range AllMessageTypes {
			name := fmt.Sprintf("%s_%s", base, msgType)
			filename := fmt.Sprintf("templates/%s.tmpl", name)

			content, err := templatesFS.ReadFile(filename)
			if err != nil {
				return nil, fmt.Errorf("read template %s: %w", filename, err)
			}

			tmpl, err := template.New(name).Funcs(funcMap).Parse(string(content))
			if err != nil {
				return nil, fmt.Errorf("parse template %s: %w", name, err)
			}

			r.templates[name] = tmpl
		}
	}

	return r, nil
}

// Render produces the message text for a job. Unknown message types and
// template failures yield the fallback text rather than an error.
func (r *Renderer) Render(msgType MessageType, payload Payload) string {
	name := fmt.Sprintf("%s_%s", r.resolveLang(payload.Lang), msgType)
	tmpl, ok := r.templates[name]
	if !ok {
		slog.Warn("no template for message type, using fallback", "message_type", msgType)
		return fallbackText
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, payload); err != nil {
		slog.Warn("template execution failed, using fallback",
			"template", name,
			"error", err,
		)
		return fallbackText
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return fallbackText
	}
	return text
}

// resolveLang maps an arbitrary language tag to a supported base language.
func (r *Renderer) resolveLang(lang string) string {
	tag, err := language.Parse(lang)
	if err != nil {
		tag = supportedLanguages[0]
	}
	matched, _, _ := r.matcher.Match(tag)
	base, _ := matched.Base()
	return base.String()
}

// Template functions

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatTime(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func statusEmoji(status string) string {
	switch strings.ToLower(status) {
	case "new":
		return "🆕"
	case "confirmed":
		return "📝"
	case "processing":
		return "⏳"
	case "completed":
		return "✅"
	case "cancelled":
		return "❌"
	default:
		return "📋"
	}
}
