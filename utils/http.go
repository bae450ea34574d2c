// utils/http.go
package utils

import (
	"net/http"
	"time"
)

// HTTPClient is the shared client for outbound service calls.
var HTTPClient = &http.Client{
	Timeout: 10 * time.Second,
}
