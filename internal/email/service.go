// Package email sends review notifications via SMTP.
package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"

	"lexicon/api/internal/logger"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
	// DashboardURL prefixes links back to the review dashboard.
	DashboardURL string
}

// Kind selects the notification template.
type Kind string

const (
	KindMerged   Kind = "merged"
	KindRejected Kind = "rejected"
)

// Data is rendered into every template. Fields a template does not use are ignored.
type Data struct {
	AppName      string
	Collection   string
	Headword     string
	SuggestionID string
	CanonicalID  string
	EditorsNotes string
	URL          string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	log    *logger.Logger
}

func NewService(config Config, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		log:    log.With("component", "email"),
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Send renders the template for kind and mails it to recipients. It is a
// no-op when SMTP is not configured or there is nobody to notify.
func (s *Service) Send(ctx context.Context, kind Kind, recipients []string, data Data) error {
	to := cleanRecipients(recipients)
	if len(to) == 0 {
		return nil
	}
	if !s.IsConfigured() {
		s.log.Debug("email not configured, dropping notification", "kind", string(kind), "recipients", len(to))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tmpl, ok := templates[kind]
	if !ok {
		return fmt.Errorf("unknown notification kind %q", kind)
	}
	if data.AppName == "" {
		data.AppName = "Lexicon"
	}
	if data.URL == "" && s.config.DashboardURL != "" && data.CanonicalID != "" {
		data.URL = strings.TrimRight(s.config.DashboardURL, "/") + "/" + data.Collection + "/" + data.CanonicalID
	}

	var subject, body bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return fmt.Errorf("render %s subject: %w", kind, err)
	}
	if err := tmpl.body.Execute(&body, data); err != nil {
		return fmt.Errorf("render %s template: %w", kind, err)
	}
	if err := s.sendHTML(to, subject.String(), body.String()); err != nil {
		return fmt.Errorf("send %s email: %w", kind, err)
	}
	s.log.Info("notification sent", "kind", string(kind), "recipients", len(to))
	return nil
}

func cleanRecipients(recipients []string) []string {
	out := make([]string, 0, len(recipients))
	seen := map[string]bool{}
	for _, r := range recipients {
		r = strings.TrimSpace(r)
		if r == "" || seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

func (s *Service) sendHTML(to []string, subject, htmlBody string) error {
	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-lexicon"

	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", from)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "Please view this email in an HTML-capable email client.\r\n")
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type notification struct {
	subject *texttemplate.Template
	body    *template.Template
}

var templates = map[Kind]notification{
	KindMerged: {
		subject: texttemplate.Must(texttemplate.New("merged-subject").Parse(`Your {{.AppName}} suggestion "{{.Headword}}" was published`)),
		body:    template.Must(template.New("merged").Parse(mergedEmailTemplate)),
	},
	KindRejected: {
		subject: texttemplate.Must(texttemplate.New("rejected-subject").Parse(`Your {{.AppName}} suggestion "{{.Headword}}" was not accepted`)),
		body:    template.Must(template.New("rejected").Parse(rejectedEmailTemplate)),
	},
}

const emailStyle = `
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .notes { background: #f5f5f5; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }`

const mergedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your suggestion was published</title>
    <style>` + emailStyle + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Thank you for contributing!</h2>

    <p>Your suggestion for <strong>{{.Headword}}</strong> was reviewed by our editors and is now part of the dictionary.</p>
    {{if .URL}}
    <p>
        <a href="{{.URL}}" class="button">View the entry</a>
    </p>
    {{end}}
    {{if .EditorsNotes}}
    <div class="notes">
        <strong>Editor's notes:</strong> {{.EditorsNotes}}
    </div>
    {{end}}
    <div class="footer">
        <p>Reference: {{.Collection}}/{{.SuggestionID}}</p>
    </div>
</body>
</html>`

const rejectedEmailTemplate = `<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Your suggestion was not accepted</title>
    <style>` + emailStyle + `
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <h2>Thank you for your suggestion</h2>

    <p>Our editors reviewed your suggestion for <strong>{{.Headword}}</strong> and decided not to add it to the dictionary at this time.</p>
    {{if .EditorsNotes}}
    <div class="notes">
        <strong>Editor's notes:</strong> {{.EditorsNotes}}
    </div>
    {{end}}
    <p>You are welcome to submit a revised suggestion.</p>

    <div class="footer">
        <p>Reference: {{.Collection}}/{{.SuggestionID}}</p>
    </div>
</body>
</html>`
