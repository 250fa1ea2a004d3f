package stream

import (
	"runtime"

	"github.com/mdzio/go-lib/conc"

	"github.com/mdzio/go-rbus/dissect"
)

// Dissected is the outcome of dissecting one message.
type Dissected struct {
	Result *dissect.Result
	Tree   *dissect.Tree
	Err    error
}

type job struct {
	idx int
	msg []byte
}

type done struct {
	idx int
	res Dissected
}

// Func dissects one message. (*dissect.Dissector).Dissect and Heuristic are
// of this type.
type Func func(buf []byte, root dissect.Node) (*dissect.Result, error)

// DissectAll dissects independent messages with the given number of
// workers. workers <= 0 selects the number of CPUs. The results are returned
// in input order.
func DissectAll(msgs [][]byte, d *dissect.Dissector, workers int) []Dissected {
	return DissectAllFunc(msgs, d.Dissect, workers)
}

// DissectAllFunc is like DissectAll, but dissects with f.
func DissectAllFunc(msgs [][]byte, f Func, workers int) []Dissected {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(msgs) {
		workers = len(msgs)
	}
	res := make([]Dissected, len(msgs))
	if len(msgs) == 0 {
		return res
	}

	jobs := make(chan job)
	results := make(chan done)
	var pool conc.DaemonPool
	for w := 0; w < workers; w++ {
		pool.Run(func(ctx conc.Context) {
			for j := range jobs {
				if ctx.IsDone() {
					return
				}
				tr := dissect.NewTree()
				r, err := f(j.msg, tr)
				results <- done{j.idx, Dissected{Result: r, Tree: tr, Err: err}}
			}
		})
	}
	log.Debugf("Dissecting %d messages with %d workers", len(msgs), workers)

	go func() {
		for i, m := range msgs {
			jobs <- job{i, m}
		}
		close(jobs)
	}()
	for range msgs {
		dn := <-results
		res[dn.idx] = dn.res
	}
	pool.Close()
	return res
}
