// Package backend defines the capability set the load engine consumes from a
// hierarchical document store with an attached account service.
//
// The engine never depends on a concrete store. Implementations live under
// internal/infrastructure/backend and are free to choose their own wire
// format, retry policy and id scheme.
package backend

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/alem-hub/studyup-loadgen/internal/domain/shared"
)

// Collection and segment names of the owned two-level hierarchy.
const (
	UsersCollection    = "users"
	SubjectsCollection = "subjects"
	GradesCollection   = "grades"
)

// Account is the result of a successful account registration.
type Account struct {
	UserID string
}

// Document is a handle returned while listing a collection.
type Document struct {
	ID     string
	Fields map[string]any
}

// Client is the capability set the virtual users exercise.
// Implementations must be safe for concurrent use by many users.
type Client interface {
	// CreateAccount registers a user and returns its assigned id.
	CreateAccount(ctx context.Context, email, password string, verified bool) (Account, error)

	// AddDocument writes fields as a new document in the collection and
	// returns the generated document id.
	AddDocument(ctx context.Context, path CollectionPath, fields map[string]any) (string, error)

	// ListDocuments lazily yields the documents of a collection. A failure
	// is yielded once as a non-nil error, after which iteration stops.
	ListDocuments(ctx context.Context, path CollectionPath) iter.Seq2[Document, error]
}

// serverTimestamp is the type of the ServerTimestamp sentinel.
type serverTimestamp struct{}

// ServerTimestamp is a field value replaced by the backend clock at write time.
var ServerTimestamp = serverTimestamp{}

// MarshalJSON renders the unresolved sentinel.
func (serverTimestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"SERVER_TIMESTAMP"`), nil
}

// ResolveFields returns a copy of fields with every ServerTimestamp sentinel
// replaced by now.
func ResolveFields(fields map[string]any, now time.Time) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now.UTC()
			continue
		}
		out[k] = v
	}
	return out
}

// CollectionPath is an ordered sequence of path segments alternating
// collection and document names, always ending on a collection.
type CollectionPath []string

// SubjectsPath returns users/{userID}/subjects.
func SubjectsPath(userID string) CollectionPath {
	return CollectionPath{UsersCollection, userID, SubjectsCollection}
}

// GradesPath returns users/{userID}/subjects/{subjectID}/grades.
func GradesPath(userID, subjectID string) CollectionPath {
	return CollectionPath{UsersCollection, userID, SubjectsCollection, subjectID, GradesCollection}
}

// String joins the segments with "/".
func (p CollectionPath) String() string {
	return strings.Join(p, "/")
}

// Validate checks that the path names a collection: an odd number of
// non-empty segments without separators.
func (p CollectionPath) Validate() error {
	if len(p) == 0 || len(p)%2 == 0 {
		return shared.NewDomainError("backend", "ValidatePath", shared.ErrInvalidInput,
			"collection path must have an odd number of segments: "+p.String())
	}
	for _, seg := range p {
		if seg == "" || strings.Contains(seg, "/") {
			return shared.NewDomainError("backend", "ValidatePath", shared.ErrInvalidInput,
				"invalid path segment in "+p.String())
		}
	}
	return nil
}

// Count drains a document sequence and returns how many documents it
// produced, or the first error it yielded.
func Count(seq iter.Seq2[Document, error]) (int, error) {
	n := 0
	for _, err := range seq {
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Fail returns a sequence that yields err once.
func Fail(err error) iter.Seq2[Document, error] {
	return func(yield func(Document, error) bool) {
		yield(Document{}, err)
	}
}
