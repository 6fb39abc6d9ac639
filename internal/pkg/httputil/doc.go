// Package httputil provides shared HTTP response helpers for handlers.
//
// Handlers should use these helpers instead of writing raw
// http.ResponseWriter calls. This keeps JSON formatting, error envelopes,
// cache headers, and the tracking pixel consistent across endpoints.
package httputil
