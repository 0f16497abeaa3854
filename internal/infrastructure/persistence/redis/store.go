package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/auth"
)

const domainName = "redis"

// listBatch is how many documents one MGET fetches while listing.
const listBatch = 100

// Store implements backend.Client on Redis.
type Store struct {
	client redis.UniversalClient
	hasher auth.Hasher
	prefix string
}

var _ backend.Client = (*Store)(nil)

// NewStore wraps an existing client. prefix namespaces every key.
func NewStore(client redis.UniversalClient, hasher auth.Hasher, prefix string) *Store {
	return &Store{client: client, hasher: hasher, prefix: prefix}
}

func (s *Store) emailKey(email string) string { return s.prefix + "email:" + email }
func (s *Store) accountKey(uid string) string  { return s.prefix + "account:" + uid }
func (s *Store) collectionKey(p string) string { return s.prefix + "col:" + p }
func (s *Store) documentKey(p, id string) string {
	return s.prefix + "doc:" + p + "/" + id
}

// CreateAccount claims the email with SETNX and writes the account hash.
func (s *Store) CreateAccount(ctx context.Context, email, password string, verified bool) (backend.Account, error) {
	const op = "CreateAccount"

	if err := auth.ValidateEmail(email); err != nil {
		return backend.Account{}, shared.WrapError(domainName, op, shared.ErrAccountCreation, "invalid email", err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return backend.Account{}, shared.WrapError(domainName, op, shared.ErrAccountCreation, "invalid password", err)
	}

	uid := uuid.NewString()
	claimed, err := s.client.SetNX(ctx, s.emailKey(email), uid, 0).Result()
	if err != nil {
		return backend.Account{}, wrap(op, shared.ErrAccountCreation, "claim email", err)
	}
	if !claimed {
		return backend.Account{}, shared.NewDomainError(domainName, op, shared.ErrAccountCreation, "email already registered: "+email)
	}

	err = s.client.HSet(ctx, s.accountKey(uid), map[string]any{
		"email":          email,
		"password_hash":  hash,
		"email_verified": verified,
		"created_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		s.client.Del(context.WithoutCancel(ctx), s.emailKey(email))
		return backend.Account{}, wrap(op, shared.ErrAccountCreation, "write account", err)
	}
	return backend.Account{UserID: uid}, nil
}

// AddDocument stores the JSON body and appends its id to the collection
// index in one MULTI/EXEC.
func (s *Store) AddDocument(ctx context.Context, path backend.CollectionPath, fields map[string]any) (string, error) {
	const op = "AddDocument"

	if err := path.Validate(); err != nil {
		return "", shared.WrapError(domainName, op, shared.ErrWrite, "invalid path", err)
	}

	now, err := s.client.Time(ctx).Result()
	if err != nil {
		return "", wrap(op, shared.ErrWrite, "read server clock", err)
	}
	body, err := json.Marshal(backend.ResolveFields(fields, now))
	if err != nil {
		return "", shared.WrapError(domainName, op, shared.ErrWrite, "encode fields", err)
	}

	id := uuid.NewString()
	p := path.String()
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.documentKey(p, id), body, 0)
		pipe.RPush(ctx, s.collectionKey(p), id)
		return nil
	})
	if err != nil {
		return "", wrap(op, shared.ErrWrite, "write "+p, err)
	}
	return id, nil
}

// ListDocuments reads the collection index and fetches bodies in batches.
// Ids whose body has disappeared are skipped.
func (s *Store) ListDocuments(ctx context.Context, path backend.CollectionPath) iter.Seq2[backend.Document, error] {
	const op = "ListDocuments"

	if err := path.Validate(); err != nil {
		return backend.Fail(shared.WrapError(domainName, op, shared.ErrRead, "invalid path", err))
	}

	return func(yield func(backend.Document, error) bool) {
		p := path.String()
		ids, err := s.client.LRange(ctx, s.collectionKey(p), 0, -1).Result()
		if err != nil {
			yield(backend.Document{}, wrap(op, shared.ErrRead, "read index "+p, err))
			return
		}

		for start := 0; start < len(ids); start += listBatch {
			batch := ids[start:min(start+listBatch, len(ids))]
			keys := make([]string, len(batch))
			for i, id := range batch {
				keys[i] = s.documentKey(p, id)
			}

			bodies, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				yield(backend.Document{}, wrap(op, shared.ErrRead, "read documents "+p, err))
				return
			}

			for i, raw := range bodies {
				body, ok := raw.(string)
				if !ok {
					continue
				}
				doc := backend.Document{ID: batch[i]}
				if err := json.Unmarshal([]byte(body), &doc.Fields); err != nil {
					yield(backend.Document{}, shared.WrapError(domainName, op, shared.ErrRead, "decode "+batch[i], err))
					return
				}
				if !yield(doc, nil) {
					return
				}
			}
		}
	}
}

// wrap tags transport failures as unavailable so callers may retry.
func wrap(op string, kind error, message string, err error) error {
	if IsUnavailable(err) {
		err = fmt.Errorf("%w: %w", shared.ErrServiceUnavailable, err)
	}
	return shared.WrapError(domainName, op, kind, message, err)
}
