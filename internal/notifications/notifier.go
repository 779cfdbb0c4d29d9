package notifications

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	sestypes "github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// ErrNoAddress is returned when a recipient has no contact point for the provider
var ErrNoAddress = errors.New("recipient has no address for this provider")

// Notifier delivers one message to one recipient
type Notifier interface {
	// Name identifies the provider in logs and metrics
	Name() string
	// Address returns the contact point the provider would use, or "" when the recipient has none
	Address(to workflow.Recipient) string
	// Notify sends msg and returns the provider's message ID when it has one
	Notify(ctx context.Context, to workflow.Recipient, msg Message) (string, error)
}

// ============================================================================
// Chat gateway
// ============================================================================

// ChatConfig configures the form-post chat gateway
type ChatConfig struct {
	URL      string
	User     string
	Password string
	Method   string
}

// ChatNotifier posts messages to a chat gateway that accepts User, Pass, Method, To and Body form fields
type ChatNotifier struct {
	config     ChatConfig
	httpClient *http.Client
}

// NewChatNotifier creates a chat notifier; timeout bounds each post
func NewChatNotifier(config ChatConfig, timeout time.Duration) *ChatNotifier {
	return &ChatNotifier{
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (n *ChatNotifier) Name() string { return "chat" }

func (n *ChatNotifier) Address(to workflow.Recipient) string { return to.Phone }

func (n *ChatNotifier) Notify(ctx context.Context, to workflow.Recipient, msg Message) (string, error) {
	if to.Phone == "" {
		return "", ErrNoAddress
	}
	form := url.Values{
		"User":   {n.config.User},
		"Pass":   {n.config.Password},
		"Method": {n.config.Method},
		"To":     {to.Phone},
		"Body":   {msg.Body},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("chat gateway returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return "", nil
}

// ============================================================================
// AWS SNS (SMS)
// ============================================================================

// SNSPublisher is the subset of the SNS client used for SMS
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSNotifier sends SMS through Amazon SNS
type SNSNotifier struct {
	client SNSPublisher
}

// NewSNSNotifier creates an SNS notifier
func NewSNSNotifier(client SNSPublisher) *SNSNotifier {
	return &SNSNotifier{client: client}
}

func (n *SNSNotifier) Name() string { return "sns" }

func (n *SNSNotifier) Address(to workflow.Recipient) string { return to.Phone }

func (n *SNSNotifier) Notify(ctx context.Context, to workflow.Recipient, msg Message) (string, error) {
	if to.Phone == "" {
		return "", ErrNoAddress
	}
	out, err := n.client.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to.Phone),
		Message:     aws.String(msg.Body),
	})
	if err != nil {
		return "", fmt.Errorf("failed to publish sms: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// ============================================================================
// AWS SES (email)
// ============================================================================

// SESSender is the subset of the SES v2 client used for email
type SESSender interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESNotifier sends email through Amazon SES
type SESNotifier struct {
	client SESSender
	from   string
}

// NewSESNotifier creates an SES notifier sending from the verified address from
func NewSESNotifier(client SESSender, from string) *SESNotifier {
	return &SESNotifier{client: client, from: from}
}

func (n *SESNotifier) Name() string { return "ses" }

func (n *SESNotifier) Address(to workflow.Recipient) string { return to.Email }

func (n *SESNotifier) Notify(ctx context.Context, to workflow.Recipient, msg Message) (string, error) {
	if to.Email == "" {
		return "", ErrNoAddress
	}
	out, err := n.client.SendEmail(ctx, &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(n.from),
		Destination:      &sestypes.Destination{ToAddresses: []string{to.Email}},
		Content: &sestypes.EmailContent{
			Simple: &sestypes.Message{
				Subject: &sestypes.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to send email: %w", err)
	}
	return aws.ToString(out.MessageId), nil
}

// ============================================================================
// Log
// ============================================================================

// LogNotifier writes messages to the log; used in development
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log notifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) Address(to workflow.Recipient) string { return to.UserID.String() }

func (n *LogNotifier) Notify(_ context.Context, to workflow.Recipient, msg Message) (string, error) {
	n.logger.Info("Notification",
		zap.String("user_id", to.UserID.String()),
		zap.String("name", to.Name),
		zap.String("subject", msg.Subject),
		zap.String("body", msg.Body))
	return "", nil
}
