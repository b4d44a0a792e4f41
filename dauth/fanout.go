package dauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/ruteri/custodian-auth-backend/interfaces"
)

// protocolSentinels are the error classes custodians report; fanOut uses
// them to decide whether a unanimous failure can be surfaced as-is.
var protocolSentinels = []error{
	interfaces.ErrInvalidInput,
	interfaces.ErrInvalidPoint,
	interfaces.ErrInvalidThreshold,
	interfaces.ErrSingularSet,
	interfaces.ErrUnauthorized,
	interfaces.ErrExpired,
	interfaces.ErrDuplicateRegistration,
	interfaces.ErrSignatureMismatch,
	interfaces.ErrShareNotFound,
}

// errClass maps an error to the protocol sentinel it wraps, or nil.
func errClass(err error) error {
	for _, s := range protocolSentinels {
		if errors.Is(err, s) {
			return s
		}
	}
	return nil
}

// nodeResult pairs one node's reply (or failure) with its index in the
// participant set, so aggregation can line results up with the id set.
type nodeResult[T any] struct {
	index int
	node  interfaces.NodeID
	value T
	err   error
}

// fanOut issues one call per node concurrently and waits for every node to
// answer. The aggregation arithmetic assumes a fixed id set per step, so a
// single failure fails the step: the failed calls are reported as a
// threshold error rather than silently excluded.
func fanOut[T any](ctx context.Context, nodes []NodeClient, call func(ctx context.Context, n NodeClient) (T, error)) ([]T, error) {
	results := make([]nodeResult[T], len(nodes))

	g, gctx := errgroup.WithContext(ctx)
	for i, node := range nodes {
		i, node := i, node
		g.Go(func() error {
			value, err := call(gctx, node)
			results[i] = nodeResult[T]{index: i, node: node.Info().ID, value: value, err: err}
			// Collect every node's outcome before deciding; returning the
			// error here would cancel the siblings mid-call.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var failed []nodeResult[T]
	for _, r := range results {
		if r.err != nil {
			failed = append(failed, r)
		}
	}
	if len(failed) > 0 {
		// Surface protocol errors directly when every node agrees on the
		// class; mixed or partial failures become a threshold error.
		class := errClass(failed[0].err)
		sameClass := class != nil
		if sameClass {
			for _, f := range failed[1:] {
				if !errors.Is(f.err, class) {
					sameClass = false
					break
				}
			}
		}
		if len(failed) == len(nodes) && sameClass {
			return nil, failed[0].err
		}
		return nil, fmt.Errorf("%w: %d of %d custodians failed, first: %v",
			interfaces.ErrThresholdNotMet, len(failed), len(nodes), failed[0].err)
	}

	values := make([]T, len(results))
	for i, r := range results {
		values[i] = r.value
	}
	return values, nil
}
