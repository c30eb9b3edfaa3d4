package blob

import (
	"context"
	"errors"
	"io"
	"time"

	"teamchat-backend/pkg/resilience"
)

const readAttempts = 3

// ResilientStore guards a Store with a circuit breaker. Reads are retried;
// uploads are not, since their reader cannot be replayed. A missing object
// is not a dependency failure.
type ResilientStore struct {
	store   Store
	breaker *resilience.CircuitBreaker
}

// NewResilientStore wraps store
func NewResilientStore(store Store, breaker *resilience.CircuitBreaker) *ResilientStore {
	return &ResilientStore{store: store, breaker: breaker}
}

func (s *ResilientStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	return s.breaker.Execute(ctx, "put", func(ctx context.Context) error {
		return s.store.Put(ctx, key, r, size, contentType)
	})
}

func (s *ResilientStore) Get(ctx context.Context, key string) (io.ReadCloser, *Info, error) {
	var (
		body     io.ReadCloser
		info     *Info
		notFound bool
	)
	err := s.breaker.Retry(ctx, "get", readAttempts, func(ctx context.Context) error {
		var err error
		body, info, err = s.store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if notFound {
		return nil, nil, ErrNotFound
	}
	return body, info, nil
}

func (s *ResilientStore) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	var url string
	err := s.breaker.Retry(ctx, "presign", readAttempts, func(ctx context.Context) error {
		var err error
		url, err = s.store.PresignGet(ctx, key, expiry)
		return err
	})
	return url, err
}
