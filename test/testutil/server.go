// Package testutil provides a tiny in-process HTTP server used as the
// probing target in harness tests.
package testutil

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"testing"
)

// HealthServer is an HTTP server on a random loopback port with a working
// readiness endpoint, standing in for the real server under test.
type HealthServer struct {
	t        *testing.T
	Endpoint string
	Port     int

	// HealthStatus is the status the readiness endpoint answers with.
	// Mutable per test; defaults to 200.
	HealthStatus int

	listener net.Listener
	server   *http.Server
}

// NewHealthServer starts a server answering on /healthz.
func NewHealthServer(t *testing.T) *HealthServer {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}

	hs := &HealthServer{
		t:            t,
		Endpoint:     fmt.Sprintf("http://%s", listener.Addr().String()),
		HealthStatus: http.StatusOK,
		listener:     listener,
	}

	_, portStr, _ := net.SplitHostPort(listener.Addr().String())
	hs.Port, _ = strconv.Atoi(portStr)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(hs.HealthStatus)
	})
	mux.HandleFunc("/echo-headers", func(w http.ResponseWriter, r *http.Request) {
		var lines []string
		for name, values := range r.Header {
			for _, v := range values {
				lines = append(lines, name+": "+v)
			}
		}
		_, _ = w.Write([]byte(strings.Join(lines, "\n")))
	})

	hs.server = &http.Server{Handler: mux}
	go func() {
		_ = hs.server.Serve(listener)
	}()

	return hs
}

// Cleanup stops the server.
func (hs *HealthServer) Cleanup() {
	_ = hs.server.Close()
}
