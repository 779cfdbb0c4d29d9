package notifications

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

type MockSNSClient struct {
	mock.Mock
}

func (m *MockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sns.PublishOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

type MockSESClient struct {
	mock.Mock
}

func (m *MockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sesv2.SendEmailOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func testRecipient() workflow.Recipient {
	return workflow.Recipient{
		UserID: uuid.New(),
		Name:   "Bob",
		Phone:  "+15550002",
		Email:  "bob@example.com",
	}
}

func TestChatNotifier_PostsForm(t *testing.T) {
	var got map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		assert.NoError(t, r.ParseForm())
		got = map[string]string{
			"User":   r.PostForm.Get("User"),
			"Pass":   r.PostForm.Get("Pass"),
			"Method": r.PostForm.Get("Method"),
			"To":     r.PostForm.Get("To"),
			"Body":   r.PostForm.Get("Body"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewChatNotifier(ChatConfig{URL: server.URL, User: "desk", Password: "secret", Method: "Chat"}, 5*time.Second)
	to := testRecipient()

	_, err := n.Notify(context.Background(), to, Message{Subject: "s", Body: "hello"})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"User":   "desk",
		"Pass":   "secret",
		"Method": "Chat",
		"To":     "+15550002",
		"Body":   "hello",
	}, got)
	assert.Equal(t, "chat", n.Name())
	assert.Equal(t, "+15550002", n.Address(to))
}

func TestChatNotifier_GatewayError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad credentials", http.StatusUnauthorized)
	}))
	defer server.Close()

	n := NewChatNotifier(ChatConfig{URL: server.URL, Method: "Chat"}, 5*time.Second)

	_, err := n.Notify(context.Background(), testRecipient(), Message{Body: "hello"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestChatNotifier_NoPhone(t *testing.T) {
	n := NewChatNotifier(ChatConfig{URL: "http://127.0.0.1:0"}, time.Second)
	to := testRecipient()
	to.Phone = ""

	_, err := n.Notify(context.Background(), to, Message{Body: "hello"})
	assert.ErrorIs(t, err, ErrNoAddress)
}

func TestSNSNotifier(t *testing.T) {
	client := new(MockSNSClient)
	n := NewSNSNotifier(client)
	to := testRecipient()

	client.On("Publish", mock.Anything, mock.MatchedBy(func(in *sns.PublishInput) bool {
		return aws.ToString(in.PhoneNumber) == "+15550002" && aws.ToString(in.Message) == "body"
	})).Return(&sns.PublishOutput{MessageId: aws.String("msg-1")}, nil).Once()

	id, err := n.Notify(context.Background(), to, Message{Subject: "subject", Body: "body"})
	require.NoError(t, err)
	assert.Equal(t, "msg-1", id)
	client.AssertExpectations(t)
}

func TestSNSNotifier_Errors(t *testing.T) {
	client := new(MockSNSClient)
	n := NewSNSNotifier(client)

	client.On("Publish", mock.Anything, mock.Anything).Return(nil, errors.New("throttled")).Once()

	_, err := n.Notify(context.Background(), testRecipient(), Message{Body: "body"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")

	to := testRecipient()
	to.Phone = ""
	_, err = n.Notify(context.Background(), to, Message{Body: "body"})
	assert.ErrorIs(t, err, ErrNoAddress)
	client.AssertNumberOfCalls(t, "Publish", 1)
}

func TestSESNotifier(t *testing.T) {
	client := new(MockSESClient)
	n := NewSESNotifier(client, "desk@example.com")
	to := testRecipient()

	client.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return aws.ToString(in.FromEmailAddress) == "desk@example.com" &&
			len(in.Destination.ToAddresses) == 1 &&
			in.Destination.ToAddresses[0] == "bob@example.com" &&
			aws.ToString(in.Content.Simple.Subject.Data) == "subject" &&
			aws.ToString(in.Content.Simple.Body.Text.Data) == "body"
	})).Return(&sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil).Once()

	id, err := n.Notify(context.Background(), to, Message{Subject: "subject", Body: "body"})
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	assert.Equal(t, "bob@example.com", n.Address(to))
	client.AssertExpectations(t)
}

func TestSESNotifier_NoEmail(t *testing.T) {
	client := new(MockSESClient)
	n := NewSESNotifier(client, "desk@example.com")
	to := testRecipient()
	to.Email = ""

	_, err := n.Notify(context.Background(), to, Message{Body: "body"})
	assert.ErrorIs(t, err, ErrNoAddress)
	client.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything)
}
