package runner

import (
	"bytes"
	"os"
	"strings"
	"text/template"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TemplateEngine expands per-trial client arguments.
type TemplateEngine struct {
	funcMap template.FuncMap
}

// TemplateData is passed to the execution context
type TemplateData struct {
	RunID     string
	Trial     int // one based
	Bandwidth int
	Host      string
	Port      int
}

func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		funcMap: template.FuncMap{
			"uuid": func() string { return uuid.New().String() },
			"env":  os.Getenv,
		},
	}
}

// Preprocess converts simple variables like {{bandwidth}} to {{.Bandwidth}}.
func (e *TemplateEngine) Preprocess(input string) string {
	return strings.NewReplacer(
		"{{bandwidth}}", "{{.Bandwidth}}",
		"{{trial}}", "{{.Trial}}",
		"{{run}}", "{{.RunID}}",
		"{{host}}", "{{.Host}}",
		"{{port}}", "{{.Port}}",
	).Replace(input)
}

func (e *TemplateEngine) Parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Funcs(e.funcMap).Option("missingkey=error").Parse(e.Preprocess(text))
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", name)
	}
	return t, nil
}

func (e *TemplateEngine) Execute(t *template.Template, data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", errors.Wrapf(err, "expand %s", t.Name())
	}
	return buf.String(), nil
}
