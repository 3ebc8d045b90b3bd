package completion

import (
	"context"
	"io"
	"sync"
)

// pipeStream runs a push-style generator on its own goroutine and exposes its
// output as an io.ReadCloser. It waits for the first fragment (or for the
// generator to finish) so failures that happen before any text is produced are
// returned directly instead of surfacing as a stream read error.
func pipeStream(ctx context.Context, run func(ctx context.Context, emit func(string) error) error) (io.ReadCloser, error) {
	pr, pw := io.Pipe()

	started := make(chan error, 1)
	var once sync.Once
	signal := func(err error) {
		once.Do(func() { started <- err })
	}

	go func() {
		err := run(ctx, func(chunk string) error {
			if chunk == "" {
				return nil
			}
			signal(nil)
			_, werr := io.WriteString(pw, chunk)
			return werr
		})
		signal(err)
		// nil closes with io.EOF
		pw.CloseWithError(err)
	}()

	select {
	case err := <-started:
		if err != nil {
			pr.Close()
			return nil, err
		}
		return pr, nil
	case <-ctx.Done():
		pr.CloseWithError(ctx.Err())
		return nil, ctx.Err()
	}
}
