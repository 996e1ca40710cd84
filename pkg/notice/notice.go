// SPDX-FileCopyrightText: 2025 Deutsche Telekom AG
//
// SPDX-License-Identifier: Apache-2.0

package notice

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/telekom/sla-escalation/pkg/breach"
)

// Kind identifies one tier-specific notice variant.
type Kind string

const (
	// KindAttorney is the tier 1 alert to the claimant's counsel.
	KindAttorney Kind = "attorney"
	// KindClient is the tier 1 portal message to the injured worker.
	KindClient Kind = "client"
	// KindClientSMS is the short tier 1 text to the worker for critical breaches.
	KindClientSMS Kind = "client-sms"
	// KindEmployer is the tier 2 operational escalation to the employer.
	KindEmployer Kind = "employer"
	// KindTPA is the tier 2 operational escalation to the third-party administrator.
	KindTPA Kind = "tpa"
	// KindCritical is the tier 3 institutional review notice sent by email.
	KindCritical Kind = "critical"
	// KindCriticalBroadcast is the tier 3 portal broadcast to all stakeholders.
	KindCriticalBroadcast Kind = "critical-broadcast"
)

// Kinds lists every notice kind with a bundled template.
var Kinds = []Kind{KindAttorney, KindClient, KindClientSMS, KindEmployer, KindTPA, KindCritical, KindCriticalBroadcast}

// Content is rendered notice text.
type Content struct {
	Subject string
	Body    string
}

// Renderer turns a breach into notice text for a given kind.
type Renderer interface {
	Render(kind Kind, e *breach.Event) (Content, error)
}

var (
	//go:embed templates/*.tmpl
	templateFS embed.FS

	bundled map[Kind]*template.Template
)

func init() {
	bundled = make(map[Kind]*template.Template, len(Kinds))
	for _, k := range Kinds {
		name := "templates/" + string(k) + ".tmpl"
		t, err := template.New(string(k)).Funcs(sprig.TxtFuncMap()).ParseFS(templateFS, name)
		if err != nil {
			panic(err)
		}
		bundled[k] = t
	}
}

// TemplateRenderer renders the bundled notice templates. Every template
// defines a "subject" and a "body" block and has access to the sprig
// function set.
type TemplateRenderer struct {
	brandingName string
	portalURL    string
}

// Option configures a TemplateRenderer.
type Option func(*TemplateRenderer)

// WithBranding sets the organisation name used in signatures.
func WithBranding(name string) Option {
	return func(r *TemplateRenderer) {
		if name != "" {
			r.brandingName = name
		}
	}
}

// WithPortalURL sets the link to the claim portal included in notices.
func WithPortalURL(url string) Option {
	return func(r *TemplateRenderer) {
		r.portalURL = strings.TrimRight(url, "/")
	}
}

// NewTemplateRenderer creates a renderer over the bundled templates.
func NewTemplateRenderer(opts ...Option) *TemplateRenderer {
	r := &TemplateRenderer{brandingName: "Claims Oversight"}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type data struct {
	Breach       *breach.Event
	Reference    string
	Party        string
	BrandingName string
	PortalURL    string
}

// Render implements Renderer.
func (r *TemplateRenderer) Render(kind Kind, e *breach.Event) (Content, error) {
	t, ok := bundled[kind]
	if !ok {
		return Content{}, fmt.Errorf("unknown notice kind %q", kind)
	}
	if e == nil {
		return Content{}, fmt.Errorf("rendering %s notice: breach is nil", kind)
	}

	d := data{
		Breach:       e,
		Reference:    e.ClaimReference,
		Party:        e.ResponsiblePartyName,
		BrandingName: r.brandingName,
		PortalURL:    r.portalURL,
	}
	if d.Reference == "" {
		d.Reference = e.ClaimID
	}
	if d.Party == "" {
		d.Party = e.ResponsiblePartyType
	}

	subject, err := execute(t, "subject", d)
	if err != nil {
		return Content{}, fmt.Errorf("rendering %s subject: %w", kind, err)
	}
	body, err := execute(t, "body", d)
	if err != nil {
		return Content{}, fmt.Errorf("rendering %s body: %w", kind, err)
	}
	return Content{
		Subject: strings.Join(strings.Fields(subject), " "),
		Body:    strings.TrimSpace(body) + "\n",
	}, nil
}

func execute(t *template.Template, name string, d data) (string, error) {
	var b bytes.Buffer
	if err := t.ExecuteTemplate(&b, name, d); err != nil {
		return "", err
	}
	return b.String(), nil
}
