package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ResetTokenTTL is how long a password reset link stays valid.
const ResetTokenTTL = time.Hour

var ErrTokenNotFound = errors.New("reset token is invalid or has expired")

// ResetTokens stores single-use password reset tokens.
type ResetTokens struct {
	rdb *redis.Client
}

func NewResetTokens(rdb *redis.Client) *ResetTokens {
	return &ResetTokens{rdb: rdb}
}

func resetKey(token string) string {
	return "reset:" + token
}

// Issue creates a token for the member.
func (r *ResetTokens) Issue(ctx context.Context, userID uint) (string, error) {
	token := uuid.NewString()
	if err := r.rdb.Set(ctx, resetKey(token), userID, ResetTokenTTL).Err(); err != nil {
		return "", fmt.Errorf("redis: store reset token: %w", err)
	}
	return token, nil
}

// Consume returns the member the token was issued for and deletes it.
func (r *ResetTokens) Consume(ctx context.Context, token string) (uint, error) {
	if token == "" {
		return 0, ErrTokenNotFound
	}
	val, err := r.rdb.GetDel(ctx, resetKey(token)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrTokenNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("redis: read reset token: %w", err)
	}
	id, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: corrupt reset token: %w", err)
	}
	return uint(id), nil
}
