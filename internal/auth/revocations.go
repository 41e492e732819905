package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Tyrowin/hexatalk/internal/config"
	"github.com/Tyrowin/hexatalk/internal/model"
)

// DBRevocations keeps revoked tokens in the revoked_tokens table.
type DBRevocations struct {
	db  *gorm.DB
	now func() time.Time
}

func NewDBRevocations(db *gorm.DB) *DBRevocations {
	return &DBRevocations{db: db, now: time.Now}
}

func (r *DBRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.RevokedToken{}).
		Where("token = ? AND expires_at > ?", token, r.now().UTC()).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *DBRevocations) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	rec := model.RevokedToken{Token: token, ExpiresAt: expiresAt.UTC()}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&rec).Error
}

// Purge deletes entries whose tokens have expired anyway.
func (r *DBRevocations) Purge(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", r.now().UTC()).
		Delete(&model.RevokedToken{})
	return res.RowsAffected, res.Error
}

// RedisRevocations keeps revoked tokens as expiring redis keys, so entries
// vanish on their own once the token would have expired.
type RedisRevocations struct {
	client    redis.UniversalClient
	keyPrefix string
	now       func() time.Time
}

func NewRedisRevocations(client redis.UniversalClient, keyPrefix string) *RedisRevocations {
	return &RedisRevocations{client: client, keyPrefix: keyPrefix, now: time.Now}
}

// DialRedis connects to redis and checks the connection.
func DialRedis(ctx context.Context, cfg config.RedisConfig) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// key hashes the token so key length stays fixed.
func (r *RedisRevocations) key(token string) string {
	sum := sha256.Sum256([]byte(token))
	return r.keyPrefix + hex.EncodeToString(sum[:])
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, r.key(token)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *RedisRevocations) Revoke(ctx context.Context, token string, expiresAt time.Time) error {
	ttl := expiresAt.Sub(r.now())
	if ttl <= 0 {
		return nil
	}
	return r.client.Set(ctx, r.key(token), 1, ttl).Err()
}
