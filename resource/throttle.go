package resource

import (
	"context"
	"io"
)

// ThrottledWriter applies the controller's IO limit to an artifact stream.
type ThrottledWriter struct {
	ctx context.Context
	w   io.Writer
	rc  *Controller
}

// NewThrottledWriter wraps w with the controller's IO rate limit.
func NewThrottledWriter(ctx context.Context, w io.Writer, rc *Controller) *ThrottledWriter {
	return &ThrottledWriter{ctx: ctx, w: w, rc: rc}
}

func (t *ThrottledWriter) Write(p []byte) (int, error) {
	if err := t.rc.AcquireIO(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.w.Write(p)
}

// ThrottledReader applies the controller's IO limit to an artifact stream.
// Admission is based on the buffer size, which over-counts short reads; the
// limit is a ceiling, not an accounting tool.
type ThrottledReader struct {
	ctx context.Context
	r   io.Reader
	rc  *Controller
}

// NewThrottledReader wraps r with the controller's IO rate limit.
func NewThrottledReader(ctx context.Context, r io.Reader, rc *Controller) *ThrottledReader {
	return &ThrottledReader{ctx: ctx, r: r, rc: rc}
}

func (t *ThrottledReader) Read(p []byte) (int, error) {
	if err := t.rc.AcquireIO(t.ctx, len(p)); err != nil {
		return 0, err
	}
	return t.r.Read(p)
}
