package worker

import "context"

type indexedJob[T, R any] struct {
	index int
	item  T
	fn    func(context.Context, T) (R, error)
}

type indexedResult[R any] struct {
	index int
	value R
	err   error
}

func (r *indexedResult[R]) GetError() error { return r.err }

func (j *indexedJob[T, R]) Execute(ctx context.Context) Result {
	value, err := j.fn(ctx, j.item)
	return &indexedResult[R]{index: j.index, value: value, err: err}
}

// Outcome pairs a mapped value with its error.
type Outcome[R any] struct {
	Value R
	Err   error
}

// Map applies fn to every item on a pool of workers and returns the
// outcomes in input order. A failing item never stops its siblings.
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(context.Context, T) (R, error)) []Outcome[R] {
	out := make([]Outcome[R], len(items))
	if len(items) == 0 {
		return out
	}

	pool := NewPool(ctx, workers)
	pool.Start()
	for i, item := range items {
		pool.Submit(&indexedJob[T, R]{index: i, item: item, fn: fn})
	}

	done := make([]bool, len(items))
	for _, res := range pool.Wait() {
		r := res.(*indexedResult[R])
		out[r.index] = Outcome[R]{Value: r.value, Err: r.err}
		done[r.index] = true
	}
	// Items never submitted because ctx ended
	for i := range out {
		if !done[i] {
			out[i].Err = ctx.Err()
		}
	}
	return out
}
