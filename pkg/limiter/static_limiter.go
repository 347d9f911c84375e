package limiter

import (
	"context"
	"io"

	"golang.org/x/time/rate"
)

// Limiter throttles the reads and writes of a backup run.
type Limiter interface {
	// Reader returns a rate limited reader. When no read limit is set the reader is
	// returned unchanged.
	Reader(ctx context.Context, r io.Reader) io.Reader

	// Writer returns a rate limited writer. When no write limit is set the writer is
	// returned unchanged.
	Writer(ctx context.Context, w io.Writer) io.Writer
}

type staticLimiter struct {
	read  *rate.Limiter
	write *rate.Limiter
}

// NewStaticLimiter constructs a Limiter with a fixed (static) read and write rate
// in bytes per second. A value <= 0 disables that direction.
func NewStaticLimiter(readBytes, writeBytes int) Limiter {
	var read, write *rate.Limiter
	if readBytes > 0 {
		read = rate.NewLimiter(rate.Limit(readBytes), readBytes)
	}
	if writeBytes > 0 {
		write = rate.NewLimiter(rate.Limit(writeBytes), writeBytes)
	}
	return staticLimiter{read: read, write: write}
}

func (l staticLimiter) Reader(ctx context.Context, r io.Reader) io.Reader {
	if l.read == nil {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, l: l.read}
}

func (l staticLimiter) Writer(ctx context.Context, w io.Writer) io.Writer {
	if l.write == nil {
		return w
	}
	return &limitedWriter{ctx: ctx, w: w, l: l.write}
}

type limitedReader struct {
	ctx context.Context
	r   io.Reader
	l   *rate.Limiter
}

func (r *limitedReader) Read(p []byte) (int, error) {
	if burst := r.l.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := r.r.Read(p)
	if n > 0 {
		if werr := r.l.WaitN(r.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

type limitedWriter struct {
	ctx context.Context
	w   io.Writer
	l   *rate.Limiter
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	burst := w.l.Burst()
	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > burst {
			chunk = chunk[:burst]
		}
		if err := w.l.WaitN(w.ctx, len(chunk)); err != nil {
			return written, err
		}
		n, err := w.w.Write(chunk)
		written += n
		if err != nil {
			return written, err
		}
		p = p[n:]
	}
	return written, nil
}
