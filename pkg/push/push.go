// Package push dispatches best-effort notifications to devices of users who
// have no live signaling connection. Delivery is fire-and-forget; the relay
// never waits on it.
package push

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"voxlink/pkg/logger"
)

// Provider defines the interface for sending push notifications
type Provider interface {
	Send(ctx context.Context, notification *Notification, tokens []string) (*SendResult, error)
}

// SendResult contains the result of a push notification send operation
type SendResult struct {
	SuccessCount  int
	FailureCount  int
	InvalidTokens []string
	Errors        []error
}

// Notification represents a push notification
type Notification struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Data     map[string]string `json:"data,omitempty"`
	Priority string            `json:"priority,omitempty"` // high, normal
	Sound    string            `json:"sound,omitempty"`
	Category string            `json:"category,omitempty"`
}

// TokenType represents the type of push notification token
type TokenType string

const (
	TokenTypeFCM  TokenType = "fcm"  // Firebase Cloud Messaging
	TokenTypeAPNs TokenType = "apns" // Apple Push Notification Service
)

// Token represents a push notification token registered by a user's device
type Token struct {
	UserID    string    `json:"user_id"`
	Token     string    `json:"token"`
	Type      TokenType `json:"type"`
	Platform  string    `json:"platform,omitempty"` // ios, android, web
	CreatedAt int64     `json:"created_at"`
}

// TokenRepository defines the interface for storing and retrieving push tokens
type TokenRepository interface {
	Store(ctx context.Context, token *Token) error
	GetByUserID(ctx context.Context, userID string) ([]*Token, error)
	DeleteTokens(ctx context.Context, userID string, tokens []string) error
}

// Service resolves a user's device tokens and hands them to the provider
type Service struct {
	provider Provider
	repo     TokenRepository
}

// NewService creates a new push notification service
func NewService(provider Provider, repo TokenRepository) *Service {
	return &Service{
		provider: provider,
		repo:     repo,
	}
}

// RegisterToken registers a device token for a user
func (s *Service) RegisterToken(ctx context.Context, token *Token) error {
	if token.CreatedAt == 0 {
		token.CreatedAt = time.Now().Unix()
	}
	return s.repo.Store(ctx, token)
}

// UnregisterToken removes one device token for a user
func (s *Service) UnregisterToken(ctx context.Context, userID, token string) error {
	return s.repo.DeleteTokens(ctx, userID, []string{token})
}

// NotifyIncomingCall tells an offline recipient's devices about a call they
// cannot currently receive. Invalid tokens reported by the provider are
// pruned from the repository.
func (s *Service) NotifyIncomingCall(ctx context.Context, recipientID, callID, callerName, callType string) error {
	tokens, err := s.repo.GetByUserID(ctx, recipientID)
	if err != nil {
		return err
	}
	if len(tokens) == 0 {
		return nil
	}

	tokenStrings := make([]string, 0, len(tokens))
	for _, t := range tokens {
		tokenStrings = append(tokenStrings, t.Token)
	}

	body := callerName + " is calling you"
	if callType == "video" {
		body = callerName + " is video calling you"
	}

	notification := &Notification{
		Title:    "Incoming call",
		Body:     body,
		Priority: "high",
		Sound:    "ringtone",
		Category: "incoming_call",
		Data: map[string]string{
			"call_id":     callID,
			"caller_name": callerName,
			"call_type":   callType,
			"timestamp":   strconv.FormatInt(time.Now().Unix(), 10),
		},
	}

	result, err := s.provider.Send(ctx, notification, tokenStrings)
	if err != nil {
		return err
	}

	if len(result.InvalidTokens) > 0 {
		if err := s.repo.DeleteTokens(ctx, recipientID, result.InvalidTokens); err != nil {
			logger.Warn("Failed to prune invalid push tokens",
				zap.String("user_id", recipientID),
				zap.Error(err))
		}
	}

	return nil
}

// MockProvider is a no-op provider for development and tests
type MockProvider struct{}

// Send implements Provider by logging and reporting success for every token
func (m *MockProvider) Send(_ context.Context, notification *Notification, tokens []string) (*SendResult, error) {
	logger.Debug("Mock push notification",
		zap.String("title", notification.Title),
		zap.Int("token_count", len(tokens)))
	return &SendResult{SuccessCount: len(tokens)}, nil
}
