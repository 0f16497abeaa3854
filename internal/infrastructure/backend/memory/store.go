// Package memory is an in-process backend: accounts and a document
// hierarchy kept in maps. It is the default target for dry runs and the
// reference behaviour the networked backends are tested against.
package memory

import (
	"context"
	"iter"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
	"github.com/alem-hub/studyup-loadgen/internal/infrastructure/auth"
)

const domainName = "memory"

type account struct {
	userID       string
	email        string
	passwordHash string
	verified     bool
	createdAt    time.Time
}

type document struct {
	id        string
	fields    map[string]any
	createdAt time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLatency delays every call by a uniform duration in [lo, hi].
func WithLatency(lo, hi time.Duration) Option {
	return func(s *Store) {
		if hi < lo {
			hi = lo
		}
		s.latencyMin, s.latencyMax = lo, hi
	}
}

// WithFailureRate makes every call fail with probability p.
func WithFailureRate(p float64) Option {
	return func(s *Store) {
		switch {
		case p < 0:
			p = 0
		case p > 1:
			p = 1
		}
		s.failureRate = p
	}
}

// WithSeed fixes the source used for latency and failure injection.
func WithSeed(seed uint64) Option {
	return func(s *Store) {
		s.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithHasher overrides the password hasher.
func WithHasher(h auth.Hasher) Option {
	return func(s *Store) { s.hasher = h }
}

// WithClock overrides the clock used to resolve server timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store implements backend.Client in memory. Safe for concurrent use.
type Store struct {
	mu          sync.RWMutex
	accounts    map[string]*account
	collections map[string][]document

	hasher auth.Hasher
	now    func() time.Time

	latencyMin  time.Duration
	latencyMax  time.Duration
	failureRate float64

	rngMu sync.Mutex
	rng   *rand.Rand
}

var _ backend.Client = (*Store)(nil)

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		accounts:    make(map[string]*account),
		collections: make(map[string][]document),
		hasher:      auth.NewHasher(auth.MinCost),
		now:         time.Now,
		rng:         rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAccount registers email. Duplicate emails are rejected.
func (s *Store) CreateAccount(ctx context.Context, email, password string, verified bool) (backend.Account, error) {
	const op = "CreateAccount"

	if err := s.simulate(ctx); err != nil {
		return backend.Account{}, shared.WrapError(domainName, op, shared.ErrAccountCreation, "create account", err)
	}
	if err := auth.ValidateEmail(email); err != nil {
		return backend.Account{}, shared.WrapError(domainName, op, shared.ErrAccountCreation, "invalid email", err)
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return backend.Account{}, shared.WrapError(domainName, op, shared.ErrAccountCreation, "invalid password", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[email]; exists {
		return backend.Account{}, shared.NewDomainError(domainName, op, shared.ErrAccountCreation, "email already registered: "+email)
	}
	acc := &account{
		userID:       uuid.NewString(),
		email:        email,
		passwordHash: hash,
		verified:     verified,
		createdAt:    s.now(),
	}
	s.accounts[email] = acc
	return backend.Account{UserID: acc.userID}, nil
}

// AddDocument stores fields under a generated id. Server timestamps are
// resolved against the store clock.
func (s *Store) AddDocument(ctx context.Context, path backend.CollectionPath, fields map[string]any) (string, error) {
	const op = "AddDocument"

	if err := path.Validate(); err != nil {
		return "", shared.WrapError(domainName, op, shared.ErrWrite, "invalid path", err)
	}
	if err := s.simulate(ctx); err != nil {
		return "", shared.WrapError(domainName, op, shared.ErrWrite, "write "+path.String(), err)
	}

	now := s.now()
	doc := document{
		id:        uuid.NewString(),
		fields:    backend.ResolveFields(fields, now),
		createdAt: now,
	}

	s.mu.Lock()
	key := path.String()
	s.collections[key] = append(s.collections[key], doc)
	s.mu.Unlock()

	return doc.id, nil
}

// ListDocuments yields the documents of path in insertion order. The
// collection is snapshotted when iteration begins.
func (s *Store) ListDocuments(ctx context.Context, path backend.CollectionPath) iter.Seq2[backend.Document, error] {
	const op = "ListDocuments"

	if err := path.Validate(); err != nil {
		return backend.Fail(shared.WrapError(domainName, op, shared.ErrRead, "invalid path", err))
	}

	return func(yield func(backend.Document, error) bool) {
		if err := s.simulate(ctx); err != nil {
			yield(backend.Document{}, shared.WrapError(domainName, op, shared.ErrRead, "read "+path.String(), err))
			return
		}

		s.mu.RLock()
		docs := append([]document(nil), s.collections[path.String()]...)
		s.mu.RUnlock()

		for _, d := range docs {
			if !yield(backend.Document{ID: d.id, Fields: d.fields}, nil) {
				return
			}
		}
	}
}

// VerifyPassword reports whether password matches the stored account.
func (s *Store) VerifyPassword(email, password string) bool {
	s.mu.RLock()
	acc, ok := s.accounts[email]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	return s.hasher.Compare(acc.passwordHash, password) == nil
}

// Accounts returns the number of registered accounts.
func (s *Store) Accounts() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// Documents returns the number of documents stored directly under path.
func (s *Store) Documents(path backend.CollectionPath) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[path.String()])
}

// simulate applies the configured latency and failure injection.
func (s *Store) simulate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	delay, fail := s.draw()
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	if fail {
		return shared.ErrServiceUnavailable
	}
	return nil
}

func (s *Store) draw() (time.Duration, bool) {
	if s.latencyMax <= 0 && s.failureRate <= 0 {
		return 0, false
	}

	s.rngMu.Lock()
	defer s.rngMu.Unlock()

	delay := s.latencyMin
	if span := s.latencyMax - s.latencyMin; span > 0 {
		delay += time.Duration(s.rng.Int64N(int64(span) + 1))
	}
	fail := s.failureRate > 0 && s.rng.Float64() < s.failureRate
	return delay, fail
}
