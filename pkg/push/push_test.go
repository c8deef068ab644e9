package push

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"voxlink/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Log = zap.NewNop()
	logger.Sugar = logger.Log.Sugar()
	os.Exit(m.Run())
}

// MockTokenRepository is a mock implementation of TokenRepository
type MockTokenRepository struct {
	mock.Mock
}

func (m *MockTokenRepository) Store(ctx context.Context, token *Token) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func (m *MockTokenRepository) GetByUserID(ctx context.Context, userID string) ([]*Token, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Token), args.Error(1)
}

func (m *MockTokenRepository) DeleteTokens(ctx context.Context, userID string, tokens []string) error {
	args := m.Called(ctx, userID, tokens)
	return args.Error(0)
}

// MockSendProvider records the notification it was asked to send
type MockSendProvider struct {
	mock.Mock
}

func (m *MockSendProvider) Send(ctx context.Context, n *Notification, tokens []string) (*SendResult, error) {
	args := m.Called(ctx, n, tokens)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*SendResult), args.Error(1)
}

func TestRegisterToken_SetsCreatedAt(t *testing.T) {
	repo := new(MockTokenRepository)
	svc := NewService(&MockProvider{}, repo)

	repo.On("Store", mock.Anything, mock.MatchedBy(func(tok *Token) bool {
		return tok.CreatedAt > 0
	})).Return(nil)

	err := svc.RegisterToken(context.Background(), &Token{
		UserID: "bob",
		Token:  "tok-1",
		Type:   TokenTypeFCM,
	})
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestNotifyIncomingCall_SendsToAllTokens(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(MockSendProvider)
	svc := NewService(provider, repo)

	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "tok-1", Type: TokenTypeFCM},
		{UserID: "bob", Token: "tok-2", Type: TokenTypeAPNs},
	}, nil)
	provider.On("Send", mock.Anything, mock.MatchedBy(func(n *Notification) bool {
		return n.Category == "incoming_call" && n.Data["call_id"] == "call_1"
	}), []string{"tok-1", "tok-2"}).Return(&SendResult{SuccessCount: 2}, nil)

	err := svc.NotifyIncomingCall(context.Background(), "bob", "call_1", "Alice", "video")
	require.NoError(t, err)
	provider.AssertExpectations(t)
}

func TestNotifyIncomingCall_NoTokensIsNoop(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(MockSendProvider)
	svc := NewService(provider, repo)

	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{}, nil)

	err := svc.NotifyIncomingCall(context.Background(), "bob", "call_2", "Alice", "audio")
	require.NoError(t, err)
	provider.AssertNotCalled(t, "Send")
}

func TestNotifyIncomingCall_PrunesInvalidTokens(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(MockSendProvider)
	svc := NewService(provider, repo)

	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "tok-live"},
		{UserID: "bob", Token: "tok-dead"},
	}, nil)
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).Return(&SendResult{
		SuccessCount:  1,
		FailureCount:  1,
		InvalidTokens: []string{"tok-dead"},
	}, nil)
	repo.On("DeleteTokens", mock.Anything, "bob", []string{"tok-dead"}).Return(nil)

	err := svc.NotifyIncomingCall(context.Background(), "bob", "call_3", "Alice", "audio")
	require.NoError(t, err)
	repo.AssertExpectations(t)
}

func TestNotifyIncomingCall_ProviderError(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(MockSendProvider)
	svc := NewService(provider, repo)

	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "tok-1"},
	}, nil)
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("fcm unavailable"))

	err := svc.NotifyIncomingCall(context.Background(), "bob", "call_4", "Alice", "audio")
	assert.Error(t, err)
}

func TestNotifyIncomingCall_AudioAndVideoBodies(t *testing.T) {
	repo := new(MockTokenRepository)
	provider := new(MockSendProvider)
	svc := NewService(provider, repo)

	repo.On("GetByUserID", mock.Anything, "bob").Return([]*Token{
		{UserID: "bob", Token: "tok-1"},
	}, nil)

	var bodies []string
	provider.On("Send", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			bodies = append(bodies, args.Get(1).(*Notification).Body)
		}).
		Return(&SendResult{SuccessCount: 1}, nil)

	require.NoError(t, svc.NotifyIncomingCall(context.Background(), "bob", "call_5", "Alice", "audio"))
	require.NoError(t, svc.NotifyIncomingCall(context.Background(), "bob", "call_6", "Alice", "video"))

	require.Len(t, bodies, 2)
	assert.Equal(t, "Alice is calling you", bodies[0])
	assert.Equal(t, "Alice is video calling you", bodies[1])
}
