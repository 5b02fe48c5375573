package recovery

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Outcome pairs a request with what recovering it produced.
type Outcome struct {
	Request Request
	Result  *Result
	Err     error
}

// RecoverAll recovers every request with at most workers pipelines running at
// once. Outcomes are in request order; a failed request does not stop the
// others, but cancelling ctx does.
func (r *Recoverer) RecoverAll(ctx context.Context, reqs []Request, workers int) []Outcome {
	if workers < 1 {
		workers = 1
	}
	out := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, req := range reqs {
		out[i].Request = req
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			out[i].Result, out[i].Err = r.Recover(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return out
}
