package collectors

import (
	"context"
	"fmt"
	"sync"

	"pkgsignal.dev/analyzer/errkind"
	"pkgsignal.dev/analyzer/model"
)

// RunAll invokes every named collector in reg concurrently and waits for
// all of them to settle before returning, the partial-failure fan-out the
// teacher pack has no analogue for (its pipeline stages run one thing at
// a time): every collector gets to finish regardless of a sibling's
// outcome, and only an errkind.CollectorFatal result aborts the overall
// analysis — everything else is tolerated by omitting that collector's
// key from the returned Collected.
func RunAll(ctx context.Context, reg *Registry, in Input, names []string) (model.Collected, error) {
	type outcome struct {
		name string
		val  interface{}
		err  error
	}

	results := make(chan outcome, len(names))
	var wg sync.WaitGroup

	for _, name := range names {
		c, ok := reg.Get(name)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					results <- outcome{name: c.Name(), err: fmt.Errorf("collector %s panicked: %v", c.Name(), r)}
				}
			}()
			val, err := c.Run(ctx, in)
			results <- outcome{name: c.Name(), val: val, err: err}
		}(c)
	}

	wg.Wait()
	close(results)

	collected := model.Collected{}
	var fatal error
	for res := range results {
		if res.err != nil {
			if errkind.Is(res.err, errkind.CollectorFatal) {
				fatal = res.err
			}
			continue
		}
		if res.val != nil {
			collected[res.name] = res.val
		}
	}
	if fatal != nil {
		return nil, fatal
	}
	return collected, nil
}
