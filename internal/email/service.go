package email

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"

	"accountd/internal/logging"
)

// Service delivers transactional mail over SMTP. Both send methods are safe
// to call from a goroutine; failures are returned, never fatal to persisted
// workflow state.
type Service struct {
	smtpHost     string
	smtpPort     string
	smtpUser     string
	smtpPassword string
	fromEmail    string
	frontendURL  string
}

func NewService(smtpHost, smtpPort, smtpUser, smtpPassword, frontendURL string) *Service {
	return &Service{
		smtpHost:     smtpHost,
		smtpPort:     smtpPort,
		smtpUser:     smtpUser,
		smtpPassword: smtpPassword,
		fromEmail:    smtpUser,
		frontendURL:  frontendURL,
	}
}

var verificationTmpl = template.Must(template.New("verification").Parse(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Verify your email address</h2>
    <p>Thanks for signing up! Enter this code to verify your email address:</p>
    <p style="font-size: 32px; letter-spacing: 8px; font-weight: bold;">{{.Code}}</p>
    <p>The code expires in 24 hours. If you didn't create an account, you can safely ignore this email.</p>
</body>
</html>
`))

var passwordResetTmpl = template.Must(template.New("passwordReset").Parse(`
<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
    <h2>Reset your password</h2>
    <p>You requested a password reset. Click the link below to choose a new password:</p>
    <p><a href="{{.ResetLink}}">{{.ResetLink}}</a></p>
    <p>The link expires in 1 hour. If you didn't request a reset, you can safely ignore this email and your password will remain unchanged.</p>
</body>
</html>
`))

// SendVerificationEmail mails the 6-digit verification code.
func (s *Service) SendVerificationEmail(ctx context.Context, toEmail, code string) error {
	logger := logging.GetLoggerFromContext(ctx)

	var buf bytes.Buffer
	if err := verificationTmpl.Execute(&buf, struct{ Code string }{Code: code}); err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.send(toEmail, "Verify your email", buf.String()); err != nil {
		logger.Error("failed to send verification email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("verification email sent", "email", toEmail)
	return nil
}

// SendPasswordResetEmail mails the reset link.
func (s *Service) SendPasswordResetEmail(ctx context.Context, toEmail, token string) error {
	logger := logging.GetLoggerFromContext(ctx)

	resetLink := fmt.Sprintf("%s/reset-password?token=%s", s.frontendURL, token)

	var buf bytes.Buffer
	if err := passwordResetTmpl.Execute(&buf, struct{ ResetLink string }{ResetLink: resetLink}); err != nil {
		return fmt.Errorf("render template: %w", err)
	}

	if err := s.send(toEmail, "Reset your password", buf.String()); err != nil {
		logger.Error("failed to send password reset email", "email", toEmail, "error", err)
		return fmt.Errorf("send email: %w", err)
	}

	logger.Info("password reset email sent", "email", toEmail)
	return nil
}

func (s *Service) send(to, subject, body string) error {
	auth := smtp.PlainAuth("", s.smtpUser, s.smtpPassword, s.smtpHost)

	msg := []byte(fmt.Sprintf(
		"From: %s\r\n"+
			"To: %s\r\n"+
			"Subject: %s\r\n"+
			"MIME-Version: 1.0\r\n"+
			"Content-Type: text/html; charset=UTF-8\r\n"+
			"\r\n"+
			"%s\r\n",
		s.fromEmail, to, subject, body,
	))

	addr := fmt.Sprintf("%s:%s", s.smtpHost, s.smtpPort)
	return smtp.SendMail(addr, auth, s.fromEmail, []string{to}, msg)
}
