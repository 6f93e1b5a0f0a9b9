// Package sequence issues collision-free, human-readable document numbers
// per (prefix, year), e.g. INV-26-001.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Querier abstracts single-row query execution so the service can run
// against a pool or an open transaction.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Service provides document numbering.
type Service struct {
	q Querier
}

// NewService builds Service.
func NewService(q Querier) *Service {
	return &Service{q: q}
}

// Next consumes and returns the next number for (prefix, year).
// The increment-and-read is a single statement; concurrent callers
// never observe the same value and numbers are never reused.
func (s *Service) Next(ctx context.Context, prefix string, year int) (string, error) {
	if prefix == "" {
		return "", errors.New("sequence: prefix required")
	}
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	var n int64
	err := s.q.QueryRow(ctx, `
		INSERT INTO doc_sequences (prefix, year, current_val)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, year) DO UPDATE SET current_val = doc_sequences.current_val + 1
		RETURNING current_val
	`, prefix, year).Scan(&n)
	if err != nil {
		return "", fmt.Errorf("sequence: next %s-%d: %w", prefix, year, err)
	}
	return Format(prefix, year, n), nil
}

// Peek returns the number Next would issue without consuming it.
// Callers must not treat the result as reserved.
func (s *Service) Peek(ctx context.Context, prefix string, year int) (string, error) {
	if prefix == "" {
		return "", errors.New("sequence: prefix required")
	}
	if year == 0 {
		year = time.Now().UTC().Year()
	}
	var n int64
	err := s.q.QueryRow(ctx, `
		SELECT current_val FROM doc_sequences WHERE prefix = $1 AND year = $2
	`, prefix, year).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			n = 0
		} else {
			return "", fmt.Errorf("sequence: peek %s-%d: %w", prefix, year, err)
		}
	}
	return Format(prefix, year, n+1), nil
}

// Format renders PREFIX-YY-NNN with the sequence zero-padded to 3 digits.
func Format(prefix string, year int, n int64) string {
	return fmt.Sprintf("%s-%02d-%03d", prefix, year%100, n)
}
