package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"voxlink/pkg/constants"
	"voxlink/pkg/logger"
	"voxlink/pkg/push"
)

// PushTokenRepository stores device tokens in Redis so offline users can
// still be rung. Tokens live under the token value; a per-user set indexes
// them for lookup.
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

// Store stores a device token and indexes it under its user
func (r *PushTokenRepository) Store(ctx context.Context, token *push.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	tokenKey := fmt.Sprintf("push:token:%s", token.Token)
	if err := r.client.Set(ctx, tokenKey, data, constants.PushTokenExpiry).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	userTokensKey := fmt.Sprintf("push:user:%s:tokens", token.UserID)
	if err := r.client.SAdd(ctx, userTokensKey, token.Token).Err(); err != nil {
		return fmt.Errorf("failed to add token to user set: %w", err)
	}

	if err := r.client.Expire(ctx, userTokensKey, constants.PushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on user tokens set",
			zap.String("user_id", token.UserID),
			zap.Error(err))
	}

	logger.Debug("Push token stored",
		zap.String("user_id", token.UserID),
		zap.String("token_type", string(token.Type)))

	return nil
}

// GetByUserID retrieves all live tokens for a user. Token entries that have
// expired out from under the index are skipped and the index entry dropped.
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID string) ([]*push.Token, error) {
	userTokensKey := fmt.Sprintf("push:user:%s:tokens", userID)
	tokenStrs, err := r.client.SMembers(ctx, userTokensKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	var result []*push.Token
	for _, tokenStr := range tokenStrs {
		tokenKey := fmt.Sprintf("push:token:%s", tokenStr)
		data, err := r.client.Get(ctx, tokenKey).Bytes()
		if err == redis.Nil {
			r.client.SRem(ctx, userTokensKey, tokenStr)
			continue
		}
		if err != nil {
			logger.Warn("Failed to get token",
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}

		var token push.Token
		if err := json.Unmarshal(data, &token); err != nil {
			logger.Warn("Failed to unmarshal token",
				zap.String("user_id", userID),
				zap.Error(err))
			continue
		}
		result = append(result, &token)
	}

	return result, nil
}

// DeleteTokens removes tokens the provider reported as invalid
func (r *PushTokenRepository) DeleteTokens(ctx context.Context, userID string, tokens []string) error {
	userTokensKey := fmt.Sprintf("push:user:%s:tokens", userID)

	for _, tokenStr := range tokens {
		tokenKey := fmt.Sprintf("push:token:%s", tokenStr)
		if err := r.client.Del(ctx, tokenKey).Err(); err != nil {
			return fmt.Errorf("failed to delete token: %w", err)
		}
		if err := r.client.SRem(ctx, userTokensKey, tokenStr).Err(); err != nil {
			return fmt.Errorf("failed to remove token from user set: %w", err)
		}
	}

	return nil
}
