// SPDX-License-Identifier: Apache-2.0
package resilience

import (
	"context"
)

// FallbackFunc produces a substitute value once the primary operation failed.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// WithFallback runs fn and hands any error to fallback.
func WithFallback[T any](ctx context.Context, fn func(context.Context) (T, error), fallback FallbackFunc[T]) (T, error) {
	value, err := fn(ctx)
	if err == nil {
		return value, nil
	}
	return fallback(ctx, err)
}
