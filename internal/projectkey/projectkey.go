// Package projectkey allocates human readable project keys such as PRJ-007.
//
// Keys are the configured prefix followed by a number padded to at least three
// digits. Allocation picks the lowest unused number. The database carries a
// UNIQUE constraint on the key, so concurrent allocations that pick the same
// number fail with ErrConflict and are retried against a fresh listing.
package projectkey

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const MaxNumber = 9999

var (
	ErrExhausted  = errors.New("project key space exhausted")
	ErrConflict   = errors.New("project key already in use")
	ErrInvalidKey = errors.New("invalid project key")
)

// Lister returns every persisted key starting with prefix.
type Lister interface {
	ListProjectKeys(ctx context.Context, prefix string) ([]string, error)
}

func Format(prefix string, n int) string {
	return fmt.Sprintf("%s%03d", prefix, n)
}

// Parse extracts the number from a key produced by Format. Keys with a
// different prefix or a non numeric suffix are rejected.
func Parse(prefix, key string) (int, error) {
	if !strings.HasPrefix(key, prefix) {
		return 0, ErrInvalidKey
	}
	digits := strings.TrimPrefix(key, prefix)
	if len(digits) < 3 {
		return 0, ErrInvalidKey
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, ErrInvalidKey
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil || n < 1 || n > MaxNumber {
		return 0, ErrInvalidKey
	}
	if Format(prefix, n) != key {
		// PRJ-0007 would shadow PRJ-007.
		return 0, ErrInvalidKey
	}
	return n, nil
}

// LowestUnused returns the smallest n >= 1 whose key is not in keys.
func LowestUnused(prefix string, keys []string) (int, error) {
	used := make(map[int]struct{}, len(keys))
	for _, key := range keys {
		if n, err := Parse(prefix, key); err == nil {
			used[n] = struct{}{}
		}
	}
	for n := 1; n <= MaxNumber; n++ {
		if _, taken := used[n]; !taken {
			return n, nil
		}
	}
	return 0, ErrExhausted
}

// Next returns the key LowestUnused would pick.
func Next(ctx context.Context, lister Lister, prefix string) (string, error) {
	keys, err := lister.ListProjectKeys(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("list project keys: %w", err)
	}
	n, err := LowestUnused(prefix, keys)
	if err != nil {
		return "", err
	}
	return Format(prefix, n), nil
}

// Assign picks the lowest free key and hands it to insert. When insert reports
// ErrConflict another writer won the race and allocation starts over, up to
// attempts times. onRetry, if set, is called before each retry.
func Assign(ctx context.Context, lister Lister, prefix string, attempts int, insert func(key string) error, onRetry func(key string, attempt int)) (string, error) {
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		key, err := Next(ctx, lister, prefix)
		if err != nil {
			return "", err
		}
		err = insert(key)
		if err == nil {
			return key, nil
		}
		if !errors.Is(err, ErrConflict) {
			return "", err
		}
		lastErr = err
		if onRetry != nil && attempt < attempts {
			onRetry(key, attempt)
		}
	}
	return "", fmt.Errorf("assign project key after %d attempts: %w", attempts, lastErr)
}
