package video

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"solexrecon/internal/models"
)

// Job is one frame handed to a worker by Dispatch. Frame owns its data.
// When Err is set the frame could not be read (ErrCorruptFrame) and only
// Frame.Index is meaningful.
type Job struct {
	Worker int
	Frame  models.RawFrame
	Err    error
}

// Dispatch reads up to count frames from the current position of src (all
// remaining frames when count < 0) and hands private copies to workers
// goroutines. The n-th frame read goes to worker n mod workers, so every
// worker sees its frames in read order. Reading stays on the calling
// goroutine since sources are not safe for concurrent use.
//
// The first error returned by handle, or by the source other than
// ErrCorruptFrame, stops the pass and is returned once every worker has
// exited. A source ending before count frames is io.ErrUnexpectedEOF.
func Dispatch(ctx context.Context, src Source, workers, count int, handle func(Job) error) error {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	queues := make([]chan Job, workers)
	for w := range queues {
		queues[w] = make(chan Job, 1)
		wg.Add(1)
		go func(worker int, jobs <-chan Job) {
			defer wg.Done()
			for job := range jobs {
				if ctx.Err() != nil {
					continue
				}
				job.Worker = worker
				if err := handle(job); err != nil {
					fail(err)
				}
			}
		}(w, queues[w])
	}

	produce := func() {
		defer func() {
			for _, q := range queues {
				close(q)
			}
		}()
		for n := 0; count < 0 || n < count; n++ {
			if ctx.Err() != nil {
				return
			}
			frame, err := src.Next()
			if err == io.EOF {
				if count >= 0 {
					fail(fmt.Errorf("video ended after %d of %d frames: %w", n, count, io.ErrUnexpectedEOF))
				}
				return
			}
			var job Job
			switch {
			case errors.Is(err, ErrCorruptFrame):
				job = Job{Frame: models.RawFrame{Index: frame.Index}, Err: err}
			case err != nil:
				fail(fmt.Errorf("error reading frame: %w", err))
				return
			default:
				job = Job{Frame: CopyFrame(frame)}
			}
			select {
			case queues[n%workers] <- job:
			case <-ctx.Done():
				return
			}
		}
	}
	produce()
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	// only the parent context can be done at this point
	return ctx.Err()
}
