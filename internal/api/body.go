package api

import (
	"fmt"
	"io"
	"net/http"
)

// maxCallbackBody bounds an Events API request body.
const maxCallbackBody = 1 << 20

// captureBody reads the whole request body once. The trace log, the
// envelope parser and the subtype lookup in Intake all read the same
// bytes.
func captureBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
