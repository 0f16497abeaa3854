// Package study models the data a simulated student writes: an identity,
// subjects and the grades attached to them.
package study

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/alem-hub/studyup-loadgen/internal/domain/backend"
)

// ══════════════════════════════════════════════════════════════════════════════
// IDENTITY
// ══════════════════════════════════════════════════════════════════════════════

// DefaultPassword is used for every generated account.
const DefaultPassword = "Password123!"

// EmailDomain is the domain of generated accounts.
const EmailDomain = "studyup.test"

// Identity is who a virtual user is registered as.
// UserID stays empty when registration failed.
type Identity struct {
	Email  string
	UserID string
}

// Registered reports whether the backend assigned a user id.
func (i Identity) Registered() bool {
	return i.UserID != ""
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// GradeKind classifies a grade.
type GradeKind int

const (
	GradeExam GradeKind = iota
	GradeHomework
	GradeProject
	GradeParticipation
)

var gradeKindNames = [...]string{"Exam", "Homework", "Project", "Participation"}

// String returns the stored name of the kind.
func (k GradeKind) String() string {
	if k < 0 || int(k) >= len(gradeKindNames) {
		return "Unknown"
	}
	return gradeKindNames[k]
}

// SubjectRecord is one subject created by a user.
type SubjectRecord struct {
	Name        string
	Description string
	Credits     int
	Professor   string
	CreatedAt   time.Time
}

// Fields returns the document fields written for the subject.
func (s SubjectRecord) Fields() map[string]any {
	return map[string]any{
		"name":        s.Name,
		"description": s.Description,
		"credits":     s.Credits,
		"professor":   s.Professor,
		"created_at":  s.CreatedAt.Format(time.RFC3339Nano),
		"date":        backend.ServerTimestamp,
	}
}

// GradeRecord is one grade attached to a subject. Grades are not kept
// client side after they are written.
type GradeRecord struct {
	Score   float64
	Kind    GradeKind
	Comment string
	Weight  int
}

// Fields returns the document fields written for the grade.
func (g GradeRecord) Fields() map[string]any {
	return map[string]any{
		"score":   g.Score,
		"kind":    g.Kind.String(),
		"comment": g.Comment,
		"weight":  g.Weight,
		"date":    backend.ServerTimestamp,
	}
}

// PayloadSize is the byte length of the JSON encoding of fields.
func PayloadSize(fields map[string]any) int {
	data, err := json.Marshal(fields)
	if err != nil {
		return 0
	}
	return len(data)
}

// ══════════════════════════════════════════════════════════════════════════════
// GENERATOR
// ══════════════════════════════════════════════════════════════════════════════

// SubjectNames is the fixed vocabulary of subject names.
var SubjectNames = []string{
	"Matemáticas", "Física", "Química", "Biología", "Historia",
	"Literatura", "Inglés", "Programación", "Filosofía", "Economía",
}

// ProfessorNames is the fixed vocabulary of professor surnames.
var ProfessorNames = []string{"García", "Martínez", "López", "Rodríguez"}

// GradeComment is attached to every generated grade.
const GradeComment = "Grade generated by load test"

// Generator builds randomized records. A Generator belongs to one virtual
// user and is not shared.
type Generator struct {
	faker *gofakeit.Faker
	ident *gofakeit.Faker
	now   func() time.Time
}

// GeneratorOption configures a Generator.
type GeneratorOption func(*generatorOptions)

type generatorOptions struct {
	identitySalt uint64
}

// WithIdentitySalt perturbs the email suffixes without touching the record
// stream. Two runs with the same seed and different salts register
// different accounts but write the same subjects and grades.
func WithIdentitySalt(salt uint64) GeneratorOption {
	return func(o *generatorOptions) { o.identitySalt = salt }
}

// NewGenerator creates a generator with a deterministic seed.
func NewGenerator(seed uint64, opts ...GeneratorOption) *Generator {
	var o generatorOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Generator{
		faker: gofakeit.New(seed),
		ident: gofakeit.New(seed ^ o.identitySalt),
		now:   time.Now,
	}
}

// Email returns test_user_<8 random [a-z0-9]>@studyup.test.
func (g *Generator) Email() string {
	return fmt.Sprintf("test_user_%s@%s", g.ident.Regex("[a-z0-9]{8}"), EmailDomain)
}

// Subject returns a randomized subject from the fixed vocabulary.
func (g *Generator) Subject() SubjectRecord {
	name := g.faker.RandomString(SubjectNames)
	return SubjectRecord{
		Name:        fmt.Sprintf("%s %d", name, g.faker.IntRange(1, 10)),
		Description: "Descripción de " + name,
		Credits:     g.faker.IntRange(2, 6),
		Professor:   "Prof. " + g.faker.RandomString(ProfessorNames),
		CreatedAt:   g.now(),
	}
}

// Grade returns a randomized grade.
func (g *Generator) Grade() GradeRecord {
	score := math.Round(g.faker.Float64Range(0, 10)*100) / 100
	return GradeRecord{
		Score:   score,
		Kind:    GradeKind(g.faker.IntRange(0, len(gradeKindNames)-1)),
		Comment: GradeComment,
		Weight:  g.faker.IntRange(10, 50),
	}
}
