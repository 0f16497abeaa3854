package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/auth"
)

const domainName = "postgres"

// ══════════════════════════════════════════════════════════════════════════════
// QUERIES
// ══════════════════════════════════════════════════════════════════════════════

const insertAccountSQL = `
	INSERT INTO accounts (email, password_hash, email_verified)
	VALUES ($1, $2, $3)
	RETURNING id::text
`

// Sentinel keys are resolved against the database clock.
const insertDocumentSQL = `
	INSERT INTO documents (collection, fields)
	VALUES (
		$1,
		$2::jsonb || COALESCE(
			(SELECT jsonb_object_agg(k, to_jsonb(NOW())) FROM unnest($3::text[]) AS k),
			'{}'::jsonb
		)
	)
	RETURNING id::text
`

const listDocumentsSQL = `
	SELECT id::text, fields
	FROM documents
	WHERE collection = $1
	ORDER BY seq
`

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

// Store implements backend.Client on top of a Connection.
type Store struct {
	conn   Querier
	hasher auth.Hasher
}

var _ backend.Client = (*Store)(nil)

// NewStore creates a store. Run the Migrator first.
func NewStore(conn Querier, hasher auth.Hasher) *Store {
	return &Store{conn: conn, hasher: hasher}
}

// CreateAccount inserts an account row. Duplicate emails are rejected.
func (s *Store) CreateAccount(ctx context.Context, email, password string, verified bool) (backend.Account, error) {
	const op = "CreateAccount"

	if err := auth.ValidateEmail(email); err != nil {
		return backend.Account{}, shared.WrapError(domainName, op, shared.ErrAccountCreation, "invalid email", err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return backend.Account{}, shared.WrapError(domainName, op, shared.ErrAccountCreation, "invalid password", err)
	}

	var id string
	if err := s.conn.QueryRow(ctx, insertAccountSQL, email, hash, verified).Scan(&id); err != nil {
		if IsUniqueViolation(err) {
			return backend.Account{}, shared.WrapError(domainName, op, shared.ErrAccountCreation, "email already registered: "+email, err)
		}
		return backend.Account{}, wrap(op, shared.ErrAccountCreation, "insert account", err)
	}
	return backend.Account{UserID: id}, nil
}

// AddDocument inserts a document row in path.
func (s *Store) AddDocument(ctx context.Context, path backend.CollectionPath, fields map[string]any) (string, error) {
	const op = "AddDocument"

	if err := path.Validate(); err != nil {
		return "", shared.WrapError(domainName, op, shared.ErrWrite, "invalid path", err)
	}
	body, stamps, err := encodeFields(fields)
	if err != nil {
		return "", shared.WrapError(domainName, op, shared.ErrWrite, "encode fields", err)
	}

	var id string
	if err := s.conn.QueryRow(ctx, insertDocumentSQL, path.String(), body, stamps).Scan(&id); err != nil {
		return "", wrap(op, shared.ErrWrite, "insert into "+path.String(), err)
	}
	return id, nil
}

// ListDocuments streams the rows of path in insertion order.
func (s *Store) ListDocuments(ctx context.Context, path backend.CollectionPath) iter.Seq2[backend.Document, error] {
	const op = "ListDocuments"

	if err := path.Validate(); err != nil {
		return backend.Fail(shared.WrapError(domainName, op, shared.ErrRead, "invalid path", err))
	}

	return func(yield func(backend.Document, error) bool) {
		rows, err := s.conn.Query(ctx, listDocumentsSQL, path.String())
		if err != nil {
			yield(backend.Document{}, wrap(op, shared.ErrRead, "query "+path.String(), err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var doc backend.Document
			if err := rows.Scan(&doc.ID, &doc.Fields); err != nil {
				yield(backend.Document{}, wrap(op, shared.ErrRead, "scan document", err))
				return
			}
			if !yield(doc, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(backend.Document{}, wrap(op, shared.ErrRead, "iterate "+path.String(), err))
		}
	}
}

// encodeFields splits fields into a JSON body and the keys holding
// server timestamp sentinels.
func encodeFields(fields map[string]any) (string, []string, error) {
	plain := make(map[string]any, len(fields))
	stamps := []string{}
	for k, v := range fields {
		if v == backend.ServerTimestamp {
			stamps = append(stamps, k)
			continue
		}
		plain[k] = v
	}
	body, err := json.Marshal(plain)
	if err != nil {
		return "", nil, err
	}
	return string(body), stamps, nil
}

// wrap tags connectivity failures as unavailable so callers may retry.
func wrap(op string, kind error, message string, err error) error {
	if IsUnavailable(err) {
		err = fmt.Errorf("%w: %w", shared.ErrServiceUnavailable, err)
	}
	return shared.WrapError(domainName, op, kind, message, err)
}
