// Package notifications mails operational alerts and digests to the operator.
package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"

	"github.com/replyforge/mentionbot/internal/config"
)

// Service sends operator email via SMTP.
type Service struct {
	config *config.Config
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// NewService creates a new notification service.
func NewService(cfg *config.Config) *Service {
	return &Service{config: cfg}
}

// SendDigest mails the daily operational summary.
func (s *Service) SendDigest(digest *Digest) error {
	subject := fmt.Sprintf("Mention bot digest for %s - %d mentions answered",
		digest.Account, digest.Metrics.MentionsResolved)

	htmlBody, err := s.buildDigestHTML(digest)
	if err != nil {
		return fmt.Errorf("failed to build digest HTML: %w", err)
	}
	textBody := s.buildDigestText(digest)

	if err := s.send(subject, textBody, htmlBody); err != nil {
		return err
	}
	logrus.Info("Successfully sent digest email")
	return nil
}

// AlertErrorStreak mails the operator after sustained cycle failures. Send
// errors are logged, not returned: alerting must never break the retry loop.
func (s *Service) AlertErrorStreak(streak int, lastErr error) {
	subject := fmt.Sprintf("Mention bot needs attention: %d consecutive failed cycles", streak)
	body := fmt.Sprintf("The pipeline has failed %d cycles in a row as of %s.\n",
		streak, time.Now().UTC().Format("2006-01-02 15:04:05 UTC"))
	if lastErr != nil {
		body += fmt.Sprintf("\nLast error:\n%v\n", lastErr)
	}

	if err := s.send(subject, body, ""); err != nil {
		logrus.Errorf("Failed to send error alert: %v", err)
		return
	}
	logrus.Infof("Sent error-streak alert (streak %d)", streak)
}

func (s *Service) send(subject, textBody, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.OperatorEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func (s *Service) buildDigestHTML(digest *Digest) (string, error) {
	tmpl := `
<html>
<body>
<h2>Mention bot digest - {{.Account}}</h2>
<p>Generated {{.GeneratedAt.Format "2006-01-02 15:04:05 UTC"}}</p>
<table border="1" cellpadding="4" cellspacing="0">
<tr><td>Cycles</td><td>{{.Metrics.CyclesTotal}}</td></tr>
<tr><td>Mentions fetched</td><td>{{.Metrics.MentionsFetched}}</td></tr>
<tr><td>Mentions valid</td><td>{{.Metrics.MentionsValid}}</td></tr>
<tr><td>Mentions answered</td><td>{{.Metrics.MentionsResolved}}</td></tr>
<tr><td>Mentions postponed</td><td>{{.Metrics.MentionsPostponed}}</td></tr>
<tr><td>Rate-limited cycles</td><td>{{.Metrics.RateLimitCycles}}</td></tr>
<tr><td>Auth-error cycles</td><td>{{.Metrics.AuthErrorCycles}}</td></tr>
<tr><td>Network-error cycles</td><td>{{.Metrics.NetworkCycles}}</td></tr>
<tr><td>Watermark</td><td>{{.Metrics.LastSinceID}}</td></tr>
</table>
</body>
</html>`

	t, err := template.New("digest").Parse(tmpl)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, digest); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (s *Service) buildDigestText(digest *Digest) string {
	return fmt.Sprintf(`Mention bot digest - %s
Generated: %s

Cycles:             %d
Mentions fetched:   %d
Mentions valid:     %d
Mentions answered:  %d
Mentions postponed: %d
Rate-limited:       %d
Auth errors:        %d
Network errors:     %d
Watermark:          %s
`,
		digest.Account,
		digest.GeneratedAt.Format("2006-01-02 15:04:05 UTC"),
		digest.Metrics.CyclesTotal,
		digest.Metrics.MentionsFetched,
		digest.Metrics.MentionsValid,
		digest.Metrics.MentionsResolved,
		digest.Metrics.MentionsPostponed,
		digest.Metrics.RateLimitCycles,
		digest.Metrics.AuthErrorCycles,
		digest.Metrics.NetworkCycles,
		digest.Metrics.LastSinceID,
	)
}

// NoopService discards notifications; used when SMTP is not configured.
type NoopService struct{}

var _ NotificationInterface = (*NoopService)(nil)

func (NoopService) SendDigest(*Digest) error { return nil }

func (NoopService) AlertErrorStreak(streak int, lastErr error) {
	logrus.Warnf("Error streak %d (no operator email configured): %v", streak, lastErr)
}
