// Package domain defines the persistence model for compatibility match
// results. These types are mapped with GORM and are shared between the
// record store, the result cache service, and the HTTP layer.
package domain

import (
	"errors"
	"strings"
	"time"
)

// TestType identifies which questionnaire produced a match result.
type TestType string

const (
	TestTypeBasic    TestType = "basic"
	TestTypeAdvanced TestType = "advanced"
)

// Valid reports whether t is one of the known test types.
func (t TestType) Valid() bool {
	return t == TestTypeBasic || t == TestTypeAdvanced
}

// Score bounds.
const (
	MinScore = 0
	MaxScore = 100
)

var (
	// ErrNameRequired is returned when either participant has no name.
	ErrNameRequired = errors.New("participant name is required")
	// ErrInvalidTestType is returned for a test type outside the enum.
	ErrInvalidTestType = errors.New("test type must be basic or advanced")
)

// Person is one participant of a compatibility test.
type Person struct {
	Name      string     `json:"name"                gorm:"type:varchar(128);not null"`
	BirthDate *time.Time `json:"birthDate,omitempty"`
}

// MatchResult is a persisted, immutable compatibility score for two people.
//
// Fields:
//   - ID: store-assigned UUID.
//   - Score: always within [MinScore, MaxScore].
//   - Suggestions: ordered list, stored as a JSON column.
//   - Timestamp: creation instant; the sort key for every listing.
//   - User1 / User2: embedded participants, columns prefixed user1_ / user2_.
type MatchResult struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Score       float64   `json:"score"       gorm:"not null;index;index:idx_score_ts,priority:1;check:score >= 0 AND score <= 100"`
	Analysis    string    `json:"analysis"    gorm:"type:text;not null"`
	Suggestions []string  `json:"suggestions" gorm:"serializer:json"`
	Timestamp   time.Time `json:"timestamp"   gorm:"not null;index;index:idx_score_ts,priority:2;index:idx_type_ts,priority:2"`
	TestType    TestType  `json:"testType"    gorm:"type:varchar(16);not null;index:idx_type_ts,priority:1;check:test_type IN ('basic','advanced')"`
	User1       Person    `json:"user1"       gorm:"embedded;embeddedPrefix:user1_"`
	User2       Person    `json:"user2"       gorm:"embedded;embeddedPrefix:user2_"`
}

// TableName returns the database table name for MatchResult.
func (MatchResult) TableName() string { return "match_results" }

// ClampScore bounds s to [MinScore, MaxScore].
func ClampScore(s float64) float64 {
	switch {
	case s < MinScore:
		return MinScore
	case s > MaxScore:
		return MaxScore
	default:
		return s
	}
}

// Normalize enforces the write-time invariants: names trimmed and present,
// score clamped, test type known, timestamp defaulted to now (UTC).
func (m *MatchResult) Normalize(now time.Time) error {
	m.User1.Name = strings.TrimSpace(m.User1.Name)
	m.User2.Name = strings.TrimSpace(m.User2.Name)
	if m.User1.Name == "" || m.User2.Name == "" {
		return ErrNameRequired
	}
	if !m.TestType.Valid() {
		return ErrInvalidTestType
	}
	m.Score = ClampScore(m.Score)
	if m.Timestamp.IsZero() {
		m.Timestamp = now
	}
	m.Timestamp = m.Timestamp.UTC()
	if m.Suggestions == nil {
		m.Suggestions = []string{}
	}
	return nil
}
