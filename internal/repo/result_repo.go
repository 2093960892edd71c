// Package repo implements the data persistence layer for match results,
// backed by GORM. This file provides the record-store functions for the
// MatchResult model.
//
// All functions are context-aware and accept a *gorm.DB handle. They follow
// the "thin repository" approach: no caching and no business rules beyond
// the write-time invariants of MatchResult.
//
// Functions:
//
//   - CreateResult(ctx, db, m) -> *domain.MatchResult, error
//     Normalizes and inserts a result with a fresh UUID.
//
//   - FindResults(ctx, db, p, offset, limit) -> []domain.MatchResult, error
//     Returns one page of results matching p, newest first.
//
//   - CountResults(ctx, db, p) -> int64, error
//     Counts all results matching p.
//
//   - FindResultsByNames(ctx, db, a, b) -> []domain.MatchResult, error
//     Returns the results recorded for the pair (a, b) in either order.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/match-results-backend/internal/domain"
	"github.com/tbourn/match-results-backend/internal/query"
)

// orderNewestFirst is the sort applied to every listing. The id tiebreak
// keeps pagination stable when timestamps collide.
const orderNewestFirst = "timestamp desc, id desc"

// CreateResult enforces the MatchResult invariants and inserts m with a new
// UUID. The persisted record is returned.
func CreateResult(ctx context.Context, db *gorm.DB, m domain.MatchResult) (*domain.MatchResult, error) {
	if err := m.Normalize(time.Now().UTC()); err != nil {
		return nil, err
	}
	m.ID = uuid.NewString()
	if err := db.WithContext(ctx).Create(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

// FindResults returns up to limit results matching p, skipping offset,
// ordered by timestamp descending. It returns an empty (non-nil) slice
// when nothing matches.
func FindResults(ctx context.Context, db *gorm.DB, p query.Predicate, offset, limit int) ([]domain.MatchResult, error) {
	out := []domain.MatchResult{}
	err := db.WithContext(ctx).
		Scopes(wherePredicate(p)).
		Order(orderNewestFirst).
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountResults returns the number of results matching p.
func CountResults(ctx context.Context, db *gorm.DB, p query.Predicate) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.MatchResult{}).
		Scopes(wherePredicate(p)).
		Count(&total).Error
	return total, err
}

// FindResultsByNames returns every result recorded for the two names, in
// either participant order, newest first.
func FindResultsByNames(ctx context.Context, db *gorm.DB, a, b string) ([]domain.MatchResult, error) {
	out := []domain.MatchResult{}
	err := db.WithContext(ctx).
		Where("(user1_name = ? AND user2_name = ?) OR (user1_name = ? AND user2_name = ?)", a, b, b, a).
		Order(orderNewestFirst).
		Find(&out).Error
	return out, err
}

// wherePredicate translates a query.Predicate into GORM conditions.
func wherePredicate(p query.Predicate) func(*gorm.DB) *gorm.DB {
	return func(tx *gorm.DB) *gorm.DB {
		if p.ScoreMin != nil {
			tx = tx.Where("score >= ?", *p.ScoreMin)
		}
		if p.ScoreMax != nil {
			tx = tx.Where("score <= ?", *p.ScoreMax)
		}
		if p.Since != nil {
			tx = tx.Where("timestamp >= ?", *p.Since)
		}
		if p.TestType != "" {
			tx = tx.Where("test_type = ?", string(p.TestType))
		}
		return tx
	}
}
