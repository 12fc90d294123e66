// Package email provides email sending capabilities via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"
	"time"
)

const appName = "Noteforge"

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// sendFunc has the signature of smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
	now    func() time.Time
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
		now:    time.Now,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s != nil && s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

func (s *Service) fromHeader() string {
	if s.config.FromName != "" {
		return fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}
	return s.config.From
}

// sendMultipart sends a message with a plain text and an HTML alternative.
func (s *Service) sendMultipart(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	for _, addr := range to {
		if strings.ContainsAny(addr, "\r\n") {
			return fmt.Errorf("invalid recipient %q", addr)
		}
	}
	if strings.ContainsAny(subject, "\r\n") {
		return errors.New("invalid subject")
	}

	boundary := fmt.Sprintf("noteforge-%d", s.now().UnixNano())
	var msg bytes.Buffer
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "From: %s\r\n", s.fromHeader())
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", s.now().UTC().Format(time.RFC1123Z))
	fmt.Fprintf(&msg, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&msg, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", textBody)

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n")
	fmt.Fprintf(&msg, "%s\r\n\r\n", htmlBody)
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.send(s.server, s.auth, s.config.From, to, msg.Bytes())
}

type linkData struct {
	AppName  string
	UserName string
	URL      string
	Expiry   string
}

// SendVerificationEmail sends an email verification email
func (s *Service) SendVerificationEmail(to, userName, verificationURL string) error {
	data := linkData{AppName: appName, UserName: userName, URL: verificationURL, Expiry: "24 hours"}
	return s.sendTemplate(to, "Verify your "+appName+" account", "verification", data)
}

// SendPasswordResetEmail sends a password reset email
func (s *Service) SendPasswordResetEmail(to, userName, resetURL string) error {
	data := linkData{AppName: appName, UserName: userName, URL: resetURL, Expiry: "1 hour"}
	return s.sendTemplate(to, "Reset your "+appName+" password", "reset", data)
}

func (s *Service) sendTemplate(to, subject, name string, data linkData) error {
	var textBuf, htmlBuf bytes.Buffer
	if err := textTemplates.ExecuteTemplate(&textBuf, name, data); err != nil {
		return fmt.Errorf("render %s text: %w", name, err)
	}
	if err := htmlTemplates.ExecuteTemplate(&htmlBuf, name, data); err != nil {
		return fmt.Errorf("render %s html: %w", name, err)
	}
	return s.sendMultipart([]string{to}, subject, textBuf.String(), htmlBuf.String())
}

var textTemplates = texttemplate.Must(texttemplate.New("").Parse(`
{{define "verification"}}Hi {{.UserName}},

Welcome to {{.AppName}}. Confirm your email address to start turning notes into projects:

{{.URL}}

The link expires in {{.Expiry}}. If you did not sign up, ignore this email.{{end}}
{{define "reset"}}Hi {{.UserName}},

Someone asked to reset your {{.AppName}} password. Choose a new one here:

{{.URL}}

The link expires in {{.Expiry}}. If this was not you, your password stays unchanged.{{end}}
`))

var htmlTemplates = template.Must(template.New("").Parse(`
{{define "layout-head"}}<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #2e7d32; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #2e7d32; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #2e7d32; }
    </style>
</head>
<body>
    <div class="header"><h1>{{.AppName}}</h1></div>{{end}}
{{define "verification"}}{{template "layout-head" .}}
    <h2>Welcome, {{.UserName}}!</h2>
    <p>Confirm your email address to start turning notes into projects.</p>
    <p><a href="{{.URL}}" class="button">Verify Email Address</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.URL}}</p>
    <p>This link expires in {{.Expiry}}.</p>
    <div class="footer"><p>If you didn't create a {{.AppName}} account, you can ignore this email.</p></div>
</body>
</html>{{end}}
{{define "reset"}}{{template "layout-head" .}}
    <h2>Password reset</h2>
    <p>Hi {{.UserName}},</p>
    <p>We received a request to reset your password.</p>
    <p><a href="{{.URL}}" class="button">Reset Password</a></p>
    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.URL}}</p>
    <p><strong>This link expires in {{.Expiry}}.</strong></p>
    <div class="footer"><p>If you didn't request a reset, your password stays unchanged.</p></div>
</body>
</html>{{end}}
`))
