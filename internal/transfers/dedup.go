package transfers

import (
	"context"

	"golang.org/x/sync/singleflight"
)

// DedupGroup collapses concurrent identical read requests into a single
// in-flight execution per key. Purely a read-path optimisation; it carries no
// correctness obligation for writes.
type DedupGroup struct {
	group singleflight.Group
}

// Do executes fn once per concurrent set of callers sharing key. Callers that
// arrive while an identical request is in flight receive the same result. The
// third return reports whether the result was shared.
func (g *DedupGroup) Do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	resultChan := g.group.DoChan(key, func() (interface{}, error) {
		return fn(ctx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case res := <-resultChan:
		return res.Val, res.Err, res.Shared
	}
}
