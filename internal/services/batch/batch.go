// Package batch runs a per-item operation over many ids in bounded, sequential chunks.
package batch

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BearBump/ShipBox/internal/shiperr"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultSize     = 10
	DefaultMaxItems = 500
)

type ItemError[K comparable] struct {
	ID    K      `json:"id"`
	Error string `json:"error"`
}

type Result[K comparable] struct {
	Total         int            `json:"total"`
	Successful    int            `json:"successful"`
	Failed        int            `json:"failed"`
	SuccessfulIDs []K            `json:"successfulIds"`
	FailedIDs     []K            `json:"failedIds"`
	Errors        []ItemError[K] `json:"errors"`
}

type Coordinator struct {
	size     int
	maxItems int
}

func New(size, maxItems int) *Coordinator {
	if size <= 0 {
		size = DefaultSize
	}
	if maxItems <= 0 {
		maxItems = DefaultMaxItems
	}
	return &Coordinator{size: size, maxItems: maxItems}
}

func (c *Coordinator) Size() int     { return c.size }
func (c *Coordinator) MaxItems() int { return c.maxItems }

// Run calls op once per id. Items of a chunk run concurrently and chunks run one after another.
// A failing item never stops its siblings or later chunks; once ctx is done the items of
// chunks not yet started are reported as failed without calling op.
func Run[K comparable](ctx context.Context, c *Coordinator, ids []K, op func(ctx context.Context, id K) error) (*Result[K], error) {
	if c == nil {
		c = New(0, 0)
	}
	if len(ids) > c.maxItems {
		return nil, shiperr.Validationf("ids", "too many items: %d (max %d)", len(ids), c.maxItems)
	}

	errs := make([]error, len(ids))
	for start := 0; start < len(ids); start += c.size {
		end := min(start+c.size, len(ids))

		if err := ctx.Err(); err != nil {
			for i := start; i < end; i++ {
				errs[i] = errors.Wrap(err, "batch aborted")
			}
			continue
		}

		// Siblings share the caller context, not an errgroup one, so one failure cancels nothing.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				errs[i] = runItem(ctx, ids[i], op)
				return nil
			})
		}
		_ = g.Wait()
	}

	res := &Result[K]{
		Total:         len(ids),
		SuccessfulIDs: []K{},
		FailedIDs:     []K{},
		Errors:        []ItemError[K]{},
	}
	for i, id := range ids {
		if errs[i] == nil {
			res.Successful++
			res.SuccessfulIDs = append(res.SuccessfulIDs, id)
			continue
		}
		res.Failed++
		res.FailedIDs = append(res.FailedIDs, id)
		res.Errors = append(res.Errors, ItemError[K]{ID: id, Error: errs[i].Error()})
		slog.Warn("batch item failed", "id", fmt.Sprint(id), "error", errs[i].Error())
	}
	return res, nil
}

func runItem[K comparable](ctx context.Context, id K, op func(context.Context, K) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return op(ctx, id)
}
