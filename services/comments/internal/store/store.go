// Package store persists comments and like memberships.
//
// The membership set is authoritative for "did user X like comment Y". A
// comment's LikeCount is a cache of the membership cardinality and is only
// ever moved by IncrementLikeCount (atomic delta) or CompareAndSetLikeCount
// (reconciliation).
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// Comment represents a single comment row.
type Comment struct {
	ID             string    `json:"id"`
	FactID         string    `json:"factId"`
	AuthorUsername string    `json:"authorUsername"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
	LikeCount      int64     `json:"likeCount"`
}

// NewComment is the author-supplied part of a comment.
type NewComment struct {
	FactID         string
	AuthorUsername string
	Text           string
}

// AddOutcome reports whether LikeStore.Add created a membership.
type AddOutcome int

const (
	Created AddOutcome = iota + 1
	AlreadyExists
)

func (o AddOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	default:
		return "unknown"
	}
}

// RemoveOutcome reports whether LikeStore.Remove deleted a membership.
type RemoveOutcome int

const (
	Removed RemoveOutcome = iota + 1
	NotMember
)

func (o RemoveOutcome) String() string {
	switch o {
	case Removed:
		return "removed"
	case NotMember:
		return "not_member"
	default:
		return "unknown"
	}
}

// DefaultMaxTextLength applies when a store is built with maxLen <= 0.
const DefaultMaxTextLength = 1000

var (
	// ErrNotFound is returned when a comment does not exist.
	ErrNotFound = errors.New("comment not found")
	// ErrUnavailable wraps every backend failure (timeouts, lost connections).
	// It never means "absent".
	ErrUnavailable = errors.New("store unavailable")
	// ErrInvalid is matched by *ValidationError.
	ErrInvalid = errors.New("invalid input")
)

// ValidationError describes rejected input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrInvalid }

// unavailable wraps a backend error so callers can match ErrUnavailable while
// keeping the cause in the chain.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

// ValidateText trims text and checks it against maxLen runes.
func ValidateText(text string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxTextLength
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", &ValidationError{Field: "text", Reason: "must not be empty"}
	}
	if n := utf8.RuneCountInString(text); n > maxLen {
		return "", &ValidationError{Field: "text", Reason: fmt.Sprintf("must be at most %d characters, got %d", maxLen, n)}
	}
	return text, nil
}

func validateNew(c NewComment, maxLen int) (NewComment, error) {
	c.FactID = strings.TrimSpace(c.FactID)
	if c.FactID == "" {
		return c, &ValidationError{Field: "fact_id", Reason: "must not be empty"}
	}
	text, err := ValidateText(c.Text, maxLen)
	if err != nil {
		return c, err
	}
	c.Text = text
	c.AuthorUsername = strings.TrimSpace(c.AuthorUsername)
	return c, nil
}

func validateDelta(delta int64) error {
	if delta != 1 && delta != -1 {
		return &ValidationError{Field: "delta", Reason: "must be +1 or -1"}
	}
	return nil
}

// CommentStore defines the contract for comment persistence.
type CommentStore interface {
	Create(ctx context.Context, c NewComment) (Comment, error)
	Get(ctx context.Context, commentID string) (Comment, error)
	// ListByFact returns comments newest first, ties broken by id descending.
	ListByFact(ctx context.Context, factID string) ([]Comment, error)
	CountByFact(ctx context.Context, factID string) (int64, error)
	// IncrementLikeCount applies delta (+1 or -1) atomically at the storage
	// layer and returns the new value. Deltas commute, so an unlike that lands
	// before its like may leave the value briefly negative.
	IncrementLikeCount(ctx context.Context, commentID string, delta int64) (int64, error)
	// CompareAndSetLikeCount overwrites the counter only if it still equals
	// expected. Reconciliation only.
	CompareAndSetLikeCount(ctx context.Context, commentID string, expected, next int64) (bool, error)
}

// LikeStore defines the contract for like memberships keyed by (comment, user).
type LikeStore interface {
	Exists(ctx context.Context, commentID, userID string) (bool, error)
	// ExistsMany reports membership of userID for each comment. Missing keys
	// in the result mean false.
	ExistsMany(ctx context.Context, commentIDs []string, userID string) (map[string]bool, error)
	Add(ctx context.Context, commentID, userID string) (AddOutcome, error)
	Remove(ctx context.Context, commentID, userID string) (RemoveOutcome, error)
	Count(ctx context.Context, commentID string) (int64, error)
}

// Migrator is implemented by backends with a schema or indexes to create.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Pinger is implemented by backends that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}
