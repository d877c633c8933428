package providers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
)

const (
	downloadChunkSize = 4 << 20
	chunkTimeout      = 60 * time.Second
	maxDownloadBytes  = 512 << 20
)

// Downloader fetches large files in ranged chunks with a per-chunk timeout,
// so one stalled chunk cannot consume the whole download budget. Falls back
// to a single streamed read when the server ignores Range.
type Downloader struct {
	caller *resilience.Caller
	client *http.Client
}

// NewDownloader creates the downloader.
func NewDownloader(caller *resilience.Caller) *Downloader {
	return &Downloader{caller: caller, client: resilience.ClassDownload.HTTPClient()}
}

// Fetch downloads url into w under the named service's breaker and
// bulkhead, returning the byte count.
func (d *Downloader) Fetch(ctx context.Context, service, url string, w io.Writer) (int64, error) {
	var written int64
	err := d.caller.Do(ctx, resilience.CallSpec{
		Service: service,
		Class:   resilience.ClassDownload,
	}, func(ctx context.Context) error {
		n, err := d.fetch(ctx, service, url, w)
		written = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (d *Downloader) fetch(ctx context.Context, service, url string, w io.Writer) (int64, error) {
	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return offset, errkind.New(errkind.Timeout, err).WithService(service)
		}
		if offset >= maxDownloadBytes {
			return offset, errkind.Newf(errkind.Validation,
				"download exceeds %d bytes", int64(maxDownloadBytes)).WithService(service)
		}

		n, done, ranged, err := d.chunk(ctx, service, url, offset, w)
		offset += n
		if err != nil {
			return offset, err
		}
		if done {
			if offset == 0 {
				return 0, errkind.Newf(errkind.Validation, "download is empty").
					WithService(service)
			}
			return offset, nil
		}
		if !ranged {
			// Server streamed everything in one response.
			return offset, nil
		}
	}
}

// chunk fetches one ranged window. done means the server signalled the end
// of the resource; ranged reports whether the server honored the Range
// header.
func (d *Downloader) chunk(ctx context.Context, service, url string, offset int64, w io.Writer) (n int64, done, ranged bool, err error) {
	chunkCtx, cancel := context.WithTimeout(ctx, chunkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(chunkCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, false, false, errkind.New(errkind.Validation, err).WithService(service)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+downloadChunkSize-1))

	resp, err := d.client.Do(req)
	if err != nil {
		if chunkCtx.Err() != nil && ctx.Err() == nil {
			return 0, false, false, errkind.Newf(errkind.Timeout,
				"chunk at offset %d timed out", offset).WithService(service)
		}
		return 0, false, false, errkind.New(errkind.KindOf(err), err).WithService(service)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusPartialContent:
		ranged = true
	case http.StatusOK:
		if offset > 0 {
			// Range ignored after we already wrote data: cannot resume.
			return 0, false, false, errkind.Newf(errkind.Transient,
				"server stopped honoring range requests at offset %d", offset).
				WithService(service)
		}
	case http.StatusRequestedRangeNotSatisfiable:
		return 0, true, true, nil
	default:
		return 0, false, false, errkind.New(errkind.FromHTTPStatus(resp.StatusCode),
			fmt.Errorf("chunk at offset %d: status %d", offset, resp.StatusCode)).
			WithService(service)
	}

	n, err = io.Copy(w, resp.Body)
	if err != nil {
		return n, false, ranged, errkind.New(errkind.Transient,
			fmt.Errorf("reading chunk at offset %d: %w", offset, err)).WithService(service)
	}
	// A short chunk means the resource ended inside this window.
	done = ranged && n < downloadChunkSize
	return n, done, ranged, nil
}
