package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/shortsforge/shortsforge/pkg/errkind"
)

// MaxJSONResponseBytes bounds any external API response body we decode.
const MaxJSONResponseBytes = 8 << 20

// DecodeJSON decodes an external JSON body into v with unknown fields
// rejected and the body size bounded. The provider name is used in errors.
func DecodeJSON(provider string, r io.Reader, v any) error {
	limited := io.LimitReader(r, MaxJSONResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return errkind.Newf(errkind.Transient, "reading %s response: %v", provider, err)
	}
	if len(data) > MaxJSONResponseBytes {
		return errkind.Newf(errkind.Validation, "%s response exceeds %d bytes", provider, MaxJSONResponseBytes)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errkind.New(errkind.Validation, fmt.Errorf("decoding %s response: %w", provider, err))
	}
	// Reject trailing garbage after the first JSON value.
	if dec.More() {
		return errkind.Newf(errkind.Validation, "%s response has trailing data", provider)
	}
	return nil
}

// DecodeJSONLoose decodes without DisallowUnknownFields, for providers whose
// schemas grow additive fields. Size bounds and trailing-data checks still
// apply.
func DecodeJSONLoose(provider string, r io.Reader, v any) error {
	limited := io.LimitReader(r, MaxJSONResponseBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return errkind.Newf(errkind.Transient, "reading %s response: %v", provider, err)
	}
	if len(data) > MaxJSONResponseBytes {
		return errkind.Newf(errkind.Validation, "%s response exceeds %d bytes", provider, MaxJSONResponseBytes)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errkind.New(errkind.Validation, fmt.Errorf("decoding %s response: %w", provider, err))
	}
	return nil
}
