// Package providers holds the HTTP clients for every external collaborator:
// text generation, text-to-speech, caption alignment, stock-clip search,
// trend ingest, chunked download, and publication upload. Every call runs
// through the resilient call layer and classifies failures with errkind.
package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/shortsforge/shortsforge/pkg/errkind"
	"github.com/shortsforge/shortsforge/pkg/resilience"
	"github.com/shortsforge/shortsforge/pkg/validation"
)

// Bulkhead service names. Breakers and bulkheads key on these.
const (
	ServiceTextGen    = "textgen"
	ServiceTTS        = "tts"
	ServiceStockClips = "stockclips"
	ServiceTrends     = "trends"
	ServiceAligner    = "aligner"
	ServiceUpload     = "upload"
)

// idempotencyHeader carries the dedupe key to providers that honor it.
const idempotencyHeader = "X-Idempotency-Key"

// maxResponseBytes caps provider JSON responses.
const maxResponseBytes = 8 << 20

// newJSONRequest builds a request with a JSON body and the idempotency key
// (when present on ctx) attached.
func newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key := resilience.IdempotencyKeyFrom(ctx); key != "" {
		req.Header.Set(idempotencyHeader, key)
	}
	return req, nil
}

// jsonCall performs one JSON round-trip: encode body (if non-nil), send,
// map the HTTP status onto the error taxonomy, and decode into out (if
// non-nil). The idempotency key placed on ctx by the caller is forwarded
// as a header.
func jsonCall(ctx context.Context, client *http.Client, service, method, url string, headers map[string]string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return errkind.New(errkind.Unexpected, err).WithService(service)
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return errkind.New(errkind.Validation, err).WithService(service)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if key := resilience.IdempotencyKeyFrom(ctx); key != "" {
		req.Header.Set(idempotencyHeader, key)
	}

	resp, err := client.Do(req)
	if err != nil {
		return errkind.New(errkind.KindOf(err), err).WithService(service)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errkind.New(errkind.FromHTTPStatus(resp.StatusCode),
			fmt.Errorf("%s %s: status %d: %s", method, req.URL.Path, resp.StatusCode, snippet)).
			WithService(service)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return nil
	}
	if err := validation.DecodeJSONLoose(service, resp.Body, out); err != nil {
		return err
	}
	return nil
}
