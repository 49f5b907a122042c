package carrier

import (
	"fmt"
	"io"
	"net/http"
	"strings"
)

const maxErrorBody = 4 << 10

// HTTPError is returned for non-2xx carrier responses.
type HTTPError struct {
	Carrier    string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s http %d", e.Carrier, e.StatusCode)
	}
	return fmt.Sprintf("%s http %d: %s", e.Carrier, e.StatusCode, e.Body)
}

// CheckResponse turns a non-2xx response into *HTTPError, keeping a bounded body snippet.
func CheckResponse(code string, resp *http.Response) error {
	if resp.StatusCode/100 == 2 {
		return nil
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{Carrier: code, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
