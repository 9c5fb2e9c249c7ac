package core

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"io/fs"
	"net/mail"
	"path"
	"strings"
	"sync"
	texttmpl "text/template"
)

const emailTemplatesDir = "templates/email"

//go:embed templates/email
var templatesFS embed.FS

var (
	templates map[string]*emailTemplate
	tmplInit  sync.Once

	tmplBaseURL string
	tmplStrict  bool
	tmplLogger  = NewNopLogger()
)

type (
	// emailTemplate holds both renditions of a template. Either may be nil.
	emailTemplate struct {
		text *texttmpl.Template
		html *htmltmpl.Template
	}

	EmailMessage struct {
		To      []mail.Address
		Subject string
		BodyStr string // simple text/plain, non-templated content

		// templated contents
		TemplateName string // without ext
		TemplateData interface{}
		TextContent  string
		HTMLContent  string
	}

	ContextData struct {
		FrontendBaseURL string
		Data            interface{}
	}

	// EmailService is any service that can send emails
	EmailService interface {
		// SendMessages sends messages concurrently
		SendMessages(messages ...*EmailMessage)
	}
)

// ParseEmailTemplates parses the embedded email templates once. Later calls are no-ops.
func ParseEmailTemplates(conf *Config, logger Logger) {
	tmplBaseURL = conf.FrontendBaseURL
	tmplStrict = conf.Debug || conf.TestMode
	if logger != nil {
		tmplLogger = logger
	}
	tmplInit.Do(parseTemplates)
}

// Render fills TextContent and HTMLContent from BodyStr or the named template.
func (m *EmailMessage) Render() error {
	if m.BodyStr != "" {
		m.TextContent = m.BodyStr
		return nil
	}
	if m.TemplateName == "" {
		return nil
	}
	tmplInit.Do(parseTemplates)

	tmpl, ok := templates[m.TemplateName]
	if !ok {
		return fmt.Errorf("unknown email template %q", m.TemplateName)
	}
	data := ContextData{FrontendBaseURL: tmplBaseURL, Data: m.TemplateData}

	var buff bytes.Buffer
	if tmpl.text != nil {
		if err := tmpl.text.Execute(&buff, data); err != nil {
			return err
		}
		m.TextContent = strings.TrimSpace(buff.String())
	}
	if tmpl.html != nil {
		buff.Reset()
		if err := tmpl.html.Execute(&buff, data); err != nil {
			return err
		}
		m.HTMLContent = buff.String()
	}
	return nil
}

func (m *EmailMessage) HasRecipients() bool { return len(m.To) > 0 }
func (m *EmailMessage) HasContent() bool    { return (m.TextContent != "") || (m.HTMLContent != "") }

func parseTemplates() {
	templates = make(map[string]*emailTemplate)

	fps, err := fs.Glob(templatesFS, path.Join(emailTemplatesDir, "*"))
	if err != nil {
		tmplLogger.Error(fmt.Sprintf("core.parseTemplates: %v", err), err)
		return
	}

	option := "missingkey=default"
	if tmplStrict {
		option = "missingkey=error"
	}
	for _, fp := range fps {
		fname := path.Base(fp)
		ext := path.Ext(fname)
		if strings.HasPrefix(fname, "_") {
			continue
		}
		name := strings.TrimSuffix(fname, ext)
		tmpl, ok := templates[name]
		if !ok {
			tmpl = new(emailTemplate)
		}

		switch ext {
		case ".txt":
			tmpl.text, err = texttmpl.ParseFS(templatesFS, path.Join(emailTemplatesDir, "_base.txt"), fp)
			if err == nil {
				tmpl.text = tmpl.text.Option(option)
			}
		case ".gohtml":
			tmpl.html, err = htmltmpl.ParseFS(templatesFS, path.Join(emailTemplatesDir, "_base.gohtml"), fp)
			if err == nil {
				tmpl.html = tmpl.html.Option(option)
			}
		default:
			continue
		}
		if err != nil {
			tmplLogger.Error(fmt.Sprintf("core.parseTemplates(%s): %v", fname, err), err)
			continue
		}
		templates[name] = tmpl
	}
}
