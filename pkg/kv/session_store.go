package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// SessionRecord mirrors one issued token. The key carries the user ID
// and jti; the record holds the rest.
type SessionRecord struct {
	DeviceID     string `json:"device_id"`
	IssuedAt     int64  `json:"issued_at"`
	ExpiresAt    int64  `json:"expires_at"`
	LastActivity int64  `json:"last_activity"`
}

// Session pairs a record with the jti it is stored under, for listing.
type Session struct {
	JTI    string
	Record SessionRecord
}

// SessionStore holds session records and revocation markers.
type SessionStore struct {
	client *Client
}

// NewSessionStore creates a SessionStore over the shared client.
func NewSessionStore(client *Client) *SessionStore {
	return &SessionStore{client: client}
}

func sessionKey(userID, jti string) string { return "session:" + userID + ":" + jti }
func revokedKey(userID, jti string) string { return "revoked:" + userID + ":" + jti }

// Put stores a session record with the token's remaining lifetime as TTL.
func (s *SessionStore) Put(ctx context.Context, userID, jti string, record SessionRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	return s.client.rdb.Set(ctx, sessionKey(userID, jti), data, ttl).Err()
}

// Get retrieves a session record.
func (s *SessionStore) Get(ctx context.Context, userID, jti string) (SessionRecord, error) {
	data, err := s.client.rdb.Get(ctx, sessionKey(userID, jti)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return SessionRecord{}, ErrNotFound
		}
		return SessionRecord{}, fmt.Errorf("failed to get session record: %w", err)
	}

	var record SessionRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return SessionRecord{}, fmt.Errorf("failed to unmarshal session record: %w", err)
	}
	return record, nil
}

// Touch updates last_activity without extending the key's TTL. A missing
// session is not an error; the record may have expired between the token
// check and the touch.
func (s *SessionStore) Touch(ctx context.Context, userID, jti string, now int64) error {
	record, err := s.Get(ctx, userID, jti)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	record.LastActivity = now
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal session record: %w", err)
	}
	return s.client.rdb.Set(ctx, sessionKey(userID, jti), data, redis.KeepTTL).Err()
}

// Delete removes a session record.
func (s *SessionStore) Delete(ctx context.Context, userID, jti string) error {
	return s.client.rdb.Del(ctx, sessionKey(userID, jti)).Err()
}

// List enumerates the user's live sessions via SCAN over
// session:{user_id}:*.
func (s *SessionStore) List(ctx context.Context, userID string) ([]Session, error) {
	prefix := "session:" + userID + ":"

	var sessions []Session
	iter := s.client.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		jti := strings.TrimPrefix(key, prefix)

		data, err := s.client.rdb.Get(ctx, key).Bytes()
		if err != nil {
			// Expired between SCAN and GET.
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("failed to get session %s: %w", jti, err)
		}

		var record SessionRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session %s: %w", jti, err)
		}
		sessions = append(sessions, Session{JTI: jti, Record: record})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return sessions, nil
}

// Revoke writes the revocation marker and drops the session record. The
// marker outlives the token so a stolen token stays dead.
func (s *SessionStore) Revoke(ctx context.Context, userID, jti string, ttl time.Duration) error {
	if err := s.client.rdb.Set(ctx, revokedKey(userID, jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("failed to write revocation marker: %w", err)
	}
	return s.Delete(ctx, userID, jti)
}

// IsRevoked reports whether the revocation marker exists.
func (s *SessionStore) IsRevoked(ctx context.Context, userID, jti string) (bool, error) {
	n, err := s.client.rdb.Exists(ctx, revokedKey(userID, jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check revocation marker: %w", err)
	}
	return n > 0, nil
}
