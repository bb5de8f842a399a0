package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrHistoryRedisUnavailable wraps transport failures on the history list.
var ErrHistoryRedisUnavailable = errors.New("password history redis unavailable")

// PasswordHistoryStore keeps the most recent password hashes per account in
// a capped Redis list, newest first. Entries are full PHC hash strings, so
// reuse checks verify the candidate against each hash rather than comparing
// plaintext.
type PasswordHistoryStore struct {
	redis  redis.UniversalClient
	prefix string
	depth  int
}

func NewPasswordHistoryStore(client redis.UniversalClient, prefix string, depth int) *PasswordHistoryStore {
	if prefix == "" {
		prefix = "vph"
	}
	if depth <= 0 {
		depth = 5
	}
	return &PasswordHistoryStore{
		redis:  client,
		prefix: prefix,
		depth:  depth,
	}
}

func (s *PasswordHistoryStore) key(accountID string) string {
	return s.prefix + ":" + accountID
}

// Append records a newly committed hash and trims the list to the configured
// depth in the same transaction.
func (s *PasswordHistoryStore) Append(ctx context.Context, accountID, hash string) error {
	key := s.key(accountID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, hash)
		pipe.LTrim(ctx, key, 0, int64(s.depth-1))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHistoryRedisUnavailable, err)
	}

	return nil
}

// LastN returns up to n most recent hashes, newest first. n values beyond
// the configured depth are clamped.
func (s *PasswordHistoryStore) LastN(ctx context.Context, accountID string, n int) ([]string, error) {
	if n <= 0 || n > s.depth {
		n = s.depth
	}

	hashes, err := s.redis.LRange(ctx, s.key(accountID), 0, int64(n-1)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrHistoryRedisUnavailable, err)
	}

	return hashes, nil
}
