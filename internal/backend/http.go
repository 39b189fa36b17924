// ABOUTME: Shared HTTP plumbing for the backend adapters
// ABOUTME: Sends requests, bounds response bodies, and classifies failures

package backend

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// maxResponseBytes bounds JSON response bodies
const maxResponseBytes = 4 << 20

// doRequest sends req and returns the body of a 2xx response.
// Non-2xx responses and transport failures come back as *Error.
func doRequest(client *http.Client, adapter string, req *http.Request, limit int64) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransport(adapter, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classifyTransport(adapter, err)
	}
	if int64(len(body)) > limit {
		return nil, newError(adapter, KindMalformedResponse, fmt.Errorf("response exceeds %d bytes", limit))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyStatus(adapter, resp.StatusCode, body)
	}
	return body, nil
}

// decodeJSON unmarshals body into v, reporting failures as malformed responses
func decodeJSON(adapter string, body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return newError(adapter, KindMalformedResponse, fmt.Errorf("decoding response: %w: %s", err, truncate(string(body), 200)))
	}
	return nil
}
