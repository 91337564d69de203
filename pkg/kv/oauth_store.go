package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OAuth result statuses.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

// StateRecord is the transient record written at OAuth initiate and
// consumed exactly once at callback.
type StateRecord struct {
	CodeVerifier string `json:"code_verifier"`
	Provider     string `json:"provider"`
	RedirectURI  string `json:"redirect_uri"`
	AppOrigin    string `json:"app_origin"`
	CreatedAt    int64  `json:"created_at"`
}

// ResultEnvelope is the cross-window mailbox entry written by the
// callback and consumed exactly once by the result endpoint. AuthData is
// opaque to this layer; the auth service marshals it.
type ResultEnvelope struct {
	Status    string          `json:"status"`
	AuthData  json.RawMessage `json:"auth_data,omitempty"`
	Error     string          `json:"error,omitempty"`
	AppOrigin string          `json:"app_origin"`
	CreatedAt int64           `json:"created_at"`
}

// OAuthStore holds the single-use OAuth state and result records.
type OAuthStore struct {
	client *Client
}

// NewOAuthStore creates an OAuthStore over the shared client.
func NewOAuthStore(client *Client) *OAuthStore {
	return &OAuthStore{client: client}
}

func stateKey(state string) string  { return "oauth_state:" + state }
func resultKey(state string) string { return "oauth_result:" + state }

// PutState stores the transient record for a login attempt.
func (s *OAuthStore) PutState(ctx context.Context, state string, record StateRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal state record: %w", err)
	}
	return s.client.rdb.Set(ctx, stateKey(state), data, ttl).Err()
}

// ConsumeState reads and deletes the state record atomically. A second
// call for the same state returns ErrNotFound.
func (s *OAuthStore) ConsumeState(ctx context.Context, state string) (StateRecord, error) {
	data, err := s.client.rdb.GetDel(ctx, stateKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StateRecord{}, ErrNotFound
		}
		return StateRecord{}, fmt.Errorf("failed to get state record: %w", err)
	}

	var record StateRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return StateRecord{}, fmt.Errorf("failed to unmarshal state record: %w", err)
	}
	return record, nil
}

// PutResult writes the mailbox envelope. This is the commit point of the
// OAuth callback: if it fails, the client sees 410 at retrieval and
// restarts the flow.
func (s *OAuthStore) PutResult(ctx context.Context, state string, envelope ResultEnvelope, ttl time.Duration) error {
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal result envelope: %w", err)
	}
	return s.client.rdb.Set(ctx, resultKey(state), data, ttl).Err()
}

// ConsumeResult reads and deletes the mailbox envelope atomically.
// Absent or already-consumed states return ErrNotFound; the handler maps
// that to 410.
func (s *OAuthStore) ConsumeResult(ctx context.Context, state string) (ResultEnvelope, error) {
	data, err := s.client.rdb.GetDel(ctx, resultKey(state)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ResultEnvelope{}, ErrNotFound
		}
		return ResultEnvelope{}, fmt.Errorf("failed to get result envelope: %w", err)
	}

	var envelope ResultEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return ResultEnvelope{}, fmt.Errorf("failed to unmarshal result envelope: %w", err)
	}
	return envelope, nil
}
