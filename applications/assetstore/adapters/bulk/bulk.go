// Package bulk implements folder deletes for backends that can only delete one exact key.
package bulk

import (
	"context"
	"fmt"
	"iter"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

const defaultParallelism = 8

type DeleteFunc func(ctx context.Context, key string) error

// DeleteAll ranges over keys and deletes each one with at most parallelism concurrent calls.
// The first listing or delete error stops the run and is returned.
func DeleteAll(ctx context.Context, keys iter.Seq2[string, error], del DeleteFunc, parallelism int, logger log.Logger) error {
	if parallelism <= 0 {
		parallelism = defaultParallelism
	}

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(parallelism)

	deleted := 0
	for key, err := range keys {
		if err != nil {
			// wait for the in-flight deletes before reporting
			_ = group.Wait()
			return fmt.Errorf("can't list keys to delete: %w", err)
		}
		if gctx.Err() != nil {
			break
		}

		group.Go(func() error {
			if err := del(gctx, key); err != nil {
				return fmt.Errorf("can't delete %q: %w", key, err)
			}
			return nil
		})
		deleted++
	}

	if err := group.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	level.Debug(logger).Log("msg", "keys deleted", "count", deleted)

	return nil
}
