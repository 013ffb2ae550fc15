package store

import (
	"context"
	"time"

	"github.com/angoca/lora-osmnotes-gateway/pkg/log"
)

type queryBeginKey struct{}

// queryHooks satisfies sqlhooks.Hooks, logging every statement and its
// elapsed time at debug level.
type queryHooks struct{}

func (h *queryHooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("store: query %s %q", query, args)
	return context.WithValue(ctx, queryBeginKey{}, time.Now()), nil
}

func (h *queryHooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	if begin, ok := ctx.Value(queryBeginKey{}).(time.Time); ok {
		log.Debugf("store: took %s", time.Since(begin))
	}
	return ctx, nil
}
