// Package email sends the directory's transactional emails over SMTP.
package email

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"strings"

	"github.com/rs/zerolog/log"
)

const appName = "AGI Tracker"

// Config holds SMTP configuration
type Config struct {
	Host       string
	Port       string
	Username   string
	Password   string
	From       string
	FromName   string
	AdminEmail string
	// BaseURL is the public site root used to build links.
	BaseURL string
}

// Service provides email sending
type Service struct {
	config   Config
	server   string
	auth     smtp.Auth
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Service{
		config:   config,
		server:   config.Host + ":" + config.Port,
		auth:     auth,
		sendMail: smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendHTMLEmail sends a multipart email with a plain text alternative.
func (s *Service) SendHTMLEmail(to []string, subject, textBody, htmlBody string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	boundary := "boundary-agitracker"

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
	fmt.Fprintf(&msg, "%s\r\n", strings.ReplaceAll(textBody, "\n", "\r\n"))
	fmt.Fprintf(&msg, "\r\n")

	fmt.Fprintf(&msg, "--%s\r\n", boundary)
	fmt.Fprintf(&msg, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "%s\r\n", htmlBody)
	fmt.Fprintf(&msg, "\r\n")
	fmt.Fprintf(&msg, "--%s--\r\n", boundary)

	return s.sendMail(s.server, s.auth, s.config.From, to, msg.Bytes())
}

// message is a rendered email ready to send.
type message struct {
	to      string
	subject string
	text    string
	html    string
}

// deliver sends m, or logs and skips it when SMTP is not configured.
func (s *Service) deliver(kind string, m message) error {
	if !s.IsConfigured() {
		log.Warn().Str("email", kind).Msg("email: smtp not configured, skipping send")
		return nil
	}
	if m.to == "" {
		return fmt.Errorf("send %s email: no recipient", kind)
	}
	if err := s.SendHTMLEmail([]string{m.to}, m.subject, m.text, m.html); err != nil {
		return fmt.Errorf("send %s email: %w", kind, err)
	}
	log.Info().Str("email", kind).Str("to", m.to).Msg("email: sent")
	return nil
}

type SubmissionReceivedData struct {
	AppName string
	Name    string
}

type SubmissionApprovedData struct {
	AppName  string
	Name     string
	ToolName string
	ToolURL  string
}

type SubmissionRejectedData struct {
	AppName  string
	Name     string
	ToolName string
	Reason   string
}

type AdminNotificationData struct {
	AppName  string
	ToolName string
	AdminURL string
}

func greetingName(name string) string {
	if strings.TrimSpace(name) == "" {
		return "there"
	}
	return name
}

// SendSubmissionReceived acknowledges a new submission to its submitter.
func (s *Service) SendSubmissionReceived(to, submitterName string) error {
	data := SubmissionReceivedData{AppName: appName, Name: greetingName(submitterName)}
	m, err := render(to, "Your Tool Submission Has Been Received", submissionReceivedText, submissionReceivedTemplate, data)
	if err != nil {
		return err
	}
	return s.deliver("submission_received", m)
}

// SendSubmissionApproved tells the submitter their tool is live.
func (s *Service) SendSubmissionApproved(to, submitterName, toolName, toolSlug string) error {
	data := SubmissionApprovedData{
		AppName:  appName,
		Name:     greetingName(submitterName),
		ToolName: toolName,
		ToolURL:  s.config.BaseURL + "/tools/" + toolSlug,
	}
	m, err := render(to, fmt.Sprintf("Your Tool %q Has Been Approved", toolName), submissionApprovedText, submissionApprovedTemplate, data)
	if err != nil {
		return err
	}
	return s.deliver("submission_approved", m)
}

// SendSubmissionRejected tells the submitter their tool was not accepted.
func (s *Service) SendSubmissionRejected(to, submitterName, toolName, reason string) error {
	data := SubmissionRejectedData{
		AppName:  appName,
		Name:     greetingName(submitterName),
		ToolName: toolName,
		Reason:   reason,
	}
	m, err := render(to, "Update on Your Tool Submission: "+toolName, submissionRejectedText, submissionRejectedTemplate, data)
	if err != nil {
		return err
	}
	return s.deliver("submission_rejected", m)
}

// SendAdminNotification alerts the moderators about a new submission.
func (s *Service) SendAdminNotification(submissionID int64, toolName string) error {
	data := AdminNotificationData{
		AppName:  appName,
		ToolName: toolName,
		AdminURL: fmt.Sprintf("%s/admin/moderation/%d", s.config.BaseURL, submissionID),
	}
	m, err := render(s.config.AdminEmail, "New Tool Submission: "+toolName, adminNotificationText, adminNotificationTemplate, data)
	if err != nil {
		return err
	}
	return s.deliver("admin_notification", m)
}

func render(to, subject, textTmpl, htmlTmpl string, data interface{}) (message, error) {
	html, err := renderTemplate(htmlTmpl, data)
	if err != nil {
		return message{}, fmt.Errorf("render %q template: %w", subject, err)
	}
	text, err := renderText(textTmpl, data)
	if err != nil {
		return message{}, fmt.Errorf("render %q text: %w", subject, err)
	}
	return message{to: to, subject: subject, text: text, html: html}, nil
}

func renderTemplate(tmpl string, data interface{}) (string, error) {
	t := template.Must(template.New("email").Parse(tmpl))
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderText fills a plain text body. Values are not HTML escaped.
func renderText(tmpl string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := textTemplate(tmpl).Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
