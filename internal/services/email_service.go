package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/mharlow/gatehouse/pkg/logger"
)

// EmailService defines the interface for the transactional emails the
// verification flows send. Every method receives the plain token value;
// only its hash is ever stored.
type EmailService interface {
	SendAccountVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendEmailChangeEmail(ctx context.Context, newEmail, token string, expiresAt time.Time) error
	SendEmailChangeNotice(ctx context.Context, oldEmail, newEmail string) error
	SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error
	SendAccountDeletionEmail(ctx context.Context, email, token string, expiresAt time.Time) error
}

// AWSSESEmailService sends emails using AWS SES
type AWSSESEmailService struct {
	sesClient   *ses.Client
	fromAddress string
	baseURL     string
	appName     string
	logger      *slog.Logger
}

// NewAWSSESEmailService creates a new AWS SES email service
func NewAWSSESEmailService(region, fromAddress, baseURL, appName string, log *slog.Logger) (*AWSSESEmailService, error) {
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSSESEmailService{
		sesClient:   ses.NewFromConfig(cfg),
		fromAddress: fromAddress,
		baseURL:     baseURL,
		appName:     appName,
		logger:      log,
	}, nil
}

func (s *AWSSESEmailService) SendAccountVerificationEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/verify-account?token=%s", s.baseURL, token)

	htmlBody := s.htmlTemplate(
		"Verify Your Account",
		fmt.Sprintf(`<p>Welcome to %s!</p>
<p>Thank you for creating an account. To activate it, please verify your email address:</p>
<p><a href="%s" class="button">Verify Account</a></p>
<p>Or copy and paste this link in your browser:<br><code>%s</code></p>`, s.appName, link, link),
		expiresAt,
		"If you didn't sign up for this account, you can ignore this email. The account will stay unverified.",
	)

	textBody := fmt.Sprintf(`Verify Your Account

Welcome to %s! Thank you for creating an account. To activate it, please verify your email address:

%s

This link will expire at %s.

If you didn't sign up for this account, you can ignore this email.
`, s.appName, link, expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, email, fmt.Sprintf("Verify your %s account", s.appName), htmlBody, textBody)
}

func (s *AWSSESEmailService) SendEmailChangeEmail(ctx context.Context, newEmail, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/confirm-email-change?token=%s", s.baseURL, token)

	htmlBody := s.htmlTemplate(
		"Confirm Your New Email Address",
		fmt.Sprintf(`<p>A request was made to move a %s account to this email address.</p>
<p>To confirm the change, click the link below:</p>
<p><a href="%s" class="button">Confirm Email Change</a></p>
<p>Or copy and paste this link in your browser:<br><code>%s</code></p>`, s.appName, link, link),
		expiresAt,
		"If you didn't request this change, you can ignore this email. The account's address will not change.",
	)

	textBody := fmt.Sprintf(`Confirm Your New Email Address

A request was made to move a %s account to this email address. To confirm the change, open:

%s

This link will expire at %s.

If you didn't request this change, you can ignore this email.
`, s.appName, link, expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, newEmail, fmt.Sprintf("Confirm your new %s email address", s.appName), htmlBody, textBody)
}

// SendEmailChangeNotice alerts the current address that a change was
// requested. It carries no token; it exists so a hijack attempt is visible
// to the account owner.
func (s *AWSSESEmailService) SendEmailChangeNotice(ctx context.Context, oldEmail, newEmail string) error {
	htmlBody := fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"></head>
<body>
	<p>An email change was requested for your %s account, moving it to <strong>%s</strong>.</p>
	<p>If this was you, no action is needed. The change only takes effect once the new address confirms it.</p>
	<p><strong>If this wasn't you</strong>, your password may be compromised. Reset it immediately.</p>
</body>
</html>
`, s.appName, newEmail)

	textBody := fmt.Sprintf(`An email change was requested for your %s account, moving it to %s.

If this was you, no action is needed. The change only takes effect once the new address confirms it.

If this wasn't you, your password may be compromised. Reset it immediately.
`, s.appName, newEmail)

	return s.send(ctx, oldEmail, fmt.Sprintf("Email change requested on your %s account", s.appName), htmlBody, textBody)
}

func (s *AWSSESEmailService) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", s.baseURL, token)

	htmlBody := s.htmlTemplate(
		"Reset Your Password",
		fmt.Sprintf(`<p>A password reset was requested for your %s account.</p>
<p><a href="%s" class="button">Reset Password</a></p>
<p>Or copy and paste this link in your browser:<br><code>%s</code></p>`, s.appName, link, link),
		expiresAt,
		"If you didn't request a reset, you can ignore this email. Your password will not change.",
	)

	textBody := fmt.Sprintf(`Reset Your Password

A password reset was requested for your %s account. To choose a new password, open:

%s

This link will expire at %s.

If you didn't request a reset, you can ignore this email. Your password will not change.
`, s.appName, link, expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, email, fmt.Sprintf("Reset your %s password", s.appName), htmlBody, textBody)
}

func (s *AWSSESEmailService) SendAccountDeletionEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	link := fmt.Sprintf("%s/confirm-deletion?token=%s", s.baseURL, token)

	htmlBody := s.htmlTemplate(
		"Confirm Account Deletion",
		fmt.Sprintf(`<p>A request was made to permanently delete your %s account.</p>
<p><strong>This cannot be undone.</strong> To confirm, click the link below:</p>
<p><a href="%s" class="button">Delete My Account</a></p>
<p>Or copy and paste this link in your browser:<br><code>%s</code></p>`, s.appName, link, link),
		expiresAt,
		"If you didn't request deletion, reset your password immediately. Your account will not be deleted unless this link is used.",
	)

	textBody := fmt.Sprintf(`Confirm Account Deletion

A request was made to permanently delete your %s account. This cannot be undone. To confirm, open:

%s

This link will expire at %s.

If you didn't request deletion, reset your password immediately. Your account will not be deleted unless this link is used.
`, s.appName, link, expiresAt.UTC().Format(time.RFC1123))

	return s.send(ctx, email, fmt.Sprintf("Confirm deletion of your %s account", s.appName), htmlBody, textBody)
}

// htmlTemplate wraps the flow-specific content in the shared email layout.
func (s *AWSSESEmailService) htmlTemplate(heading, content string, expiresAt time.Time, ignoreNote string) string {
	return fmt.Sprintf(`
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <style>
        body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
        .container { max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { background-color: #f8f9fa; padding: 20px; text-align: center; border-radius: 4px; }
        .content { padding: 20px 0; }
        .button { display: inline-block; background-color: #0066cc; color: white; padding: 12px 24px; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .footer { color: #666; font-size: 12px; margin-top: 20px; padding-top: 20px; border-top: 1px solid #eee; }
        .warning { background-color: #fff3cd; padding: 10px; border-left: 4px solid #ffc107; margin: 10px 0; }
    </style>
</head>
<body>
    <div class="container">
        <div class="header">
            <h1>%s</h1>
        </div>
        <div class="content">
            %s
            <div class="warning">
                <strong>Security Notice:</strong> This link will expire at %s.
            </div>
            <p>%s</p>
        </div>
        <div class="footer">
            <p>This is an automated message. Please do not reply to this email.</p>
        </div>
    </div>
</body>
</html>
`, heading, content, expiresAt.UTC().Format(time.RFC1123), ignoreNote)
}

func (s *AWSSESEmailService) send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	input := &ses.SendEmailInput{
		Source: aws.String(s.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{to},
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String(subject),
			},
			Body: &types.Body{
				Html: &types.Content{
					Data: aws.String(htmlBody),
				},
				Text: &types.Content{
					Data: aws.String(textBody),
				},
			},
		},
	}

	result, err := s.sesClient.SendEmail(ctx, input)
	if err != nil {
		s.logger.Error("failed to send email via SES",
			slog.String("email", logger.SanitizedEmail(to)),
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		slog.String("email", logger.SanitizedEmail(to)),
		slog.String("subject", subject),
		slog.String("message_id", *result.MessageId))

	return nil
}
