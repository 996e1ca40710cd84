package mail

import (
	"bytes"
	_ "embed"
	"html/template"
	"strings"
	"time"

	"github.com/Masterminds/sprig/v3"
)

type layoutParams struct {
	Subject      string
	Paragraphs   []string
	BrandingName string
	SentAt       time.Time
}

var (
	layoutTemplate = template.New("notice").Funcs(sprig.HtmlFuncMap())

	//go:embed templates/notice.html
	layoutTemplateRaw string
)

func init() {
	if _, err := layoutTemplate.Parse(layoutTemplateRaw); err != nil {
		panic(err)
	}
}

// paragraphs splits a plain-text body on blank lines.
func paragraphs(body string) []string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(body, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// RenderHTML wraps a plain-text notice into the HTML mail layout.
func RenderHTML(subject, body, branding string, at time.Time) (string, error) {
	var b bytes.Buffer
	err := layoutTemplate.Execute(&b, layoutParams{
		Subject:      subject,
		Paragraphs:   paragraphs(body),
		BrandingName: branding,
		SentAt:       at,
	})
	return b.String(), err
}
