package export

import (
	"bytes"
	"embed"
	"html/template"
	"strings"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

var reportTemplate = template.Must(template.New("report.html").Funcs(template.FuncMap{
	"lower": strings.ToLower,
	"formatDate": func(t time.Time, layout string) string {
		return t.Format(layout)
	},
	"label": label,
}).ParseFS(templateFS, "templates/report.html"))

// TemplateData holds data for report template rendering
type TemplateData struct {
	Title             string
	Framework         string
	GeneratedAt       time.Time
	GeneratedBy       string
	QuestionnaireOnly bool
	// Bundle links evidence names to files shipped next to the report.
	Bundle  bool
	Summary []ResultCount
	Rows    []Row
}

type ResultCount struct {
	Result string
	Count  int
}

// RenderReportHTML renders the report template with provided data
func RenderReportHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// label turns an enumeration value like "partially_compliant" into
// "Partially compliant".
func label(value string) string {
	if value == "" {
		return ""
	}
	spaced := strings.ReplaceAll(value, "_", " ")
	return strings.ToUpper(spaced[:1]) + spaced[1:]
}
