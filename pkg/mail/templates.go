package mail

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/Masterminds/sprig/v3"

	"github.com/telekom/tenant-control-plane/pkg/control"
)

// CriticalFailureParams feeds the critical failure template.
type CriticalFailureParams struct {
	Record       control.FailureRecord
	Escalated    bool
	URL          string
	BrandingName string
}

var (
	criticalFailureTemplate = template.New("criticalFailure").Funcs(sprig.FuncMap())

	//go:embed templates/critical_failure.html
	criticalFailureTemplateRaw string
)

func init() {
	if _, err := criticalFailureTemplate.Parse(criticalFailureTemplateRaw); err != nil {
		panic(err)
	}
}

func render(t *template.Template, p any) (string, error) {
	b := bytes.Buffer{}
	err := t.Execute(&b, p)
	return b.String(), err
}

// RenderCriticalFailure renders the notification body.
func RenderCriticalFailure(p CriticalFailureParams) (string, error) {
	return render(criticalFailureTemplate, p)
}

// CriticalFailureSubject builds the notification subject line.
func CriticalFailureSubject(rec control.FailureRecord, escalated bool) string {
	verb := "reported"
	if escalated {
		verb = "escalated"
	}
	return fmt.Sprintf("[critical] %s failure %s for tenant %s (%s)", rec.Category, verb, rec.TenantID, rec.Source)
}
