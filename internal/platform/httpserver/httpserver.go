package httpserver

import (
	"net/http"
	"time"
)

// New builds the portal's HTTP server. Read and idle limits are set up front;
// per-request deadlines come from the timeout middleware so slow scorer calls
// fail inside the handler, not at the transport.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
