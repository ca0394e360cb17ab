// SPDX-License-Identifier: MIT

package relay

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// UpstreamStatusError reports a non-2xx status from the relayed host.
type UpstreamStatusError struct {
	Status int
}

func (e *UpstreamStatusError) Error() string {
	return fmt.Sprintf("upstream returned status %d", e.Status)
}

// relayError is the JSON body returned on every relay failure. The echoed
// url aids client-side debugging and is returned intentionally even on
// failure.
type relayError struct {
	Error string `json:"error"`
	URL   string `json:"url"`
}

func writeRelayError(w http.ResponseWriter, err error, echoURL string) {
	setCORS(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	_ = json.NewEncoder(w).Encode(relayError{
		Error: err.Error(),
		URL:   echoURL,
	})
}
