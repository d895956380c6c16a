package picker

import (
	"embed"
	"html/template"
	"io"

	"github.com/zorgbridge/smartproxy/idp"
	"github.com/zorgbridge/smartproxy/patients"
)

//go:embed views/patient_authorization.html
var viewFS embed.FS

// ViewData is everything the consent page template needs.
type ViewData struct {
	AppName           string
	AppIcon           string
	Scopes            []idp.ScopeDefinition
	Patients          []patients.Patient
	ShowPatientPicker bool
	GatewayURL        string
}

// Renderer produces the consent page HTML. Deployments that want their own
// branding can provide an implementation; everything else uses the embedded
// template.
type Renderer interface {
	RenderConsentPage(writer io.Writer, data ViewData) error
}

type templateRenderer struct {
	tmpl *template.Template
}

func DefaultRenderer() Renderer {
	return &templateRenderer{
		tmpl: template.Must(template.ParseFS(viewFS, "views/patient_authorization.html")),
	}
}

func (r *templateRenderer) RenderConsentPage(writer io.Writer, data ViewData) error {
	return r.tmpl.Execute(writer, data)
}
