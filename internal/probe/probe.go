// Package probe issues single HTTP(S) requests with fine control over
// socket-level behavior. It backs both readiness checks and deliberately
// pathological client behavior in protocol tests: callers can suppress
// headers the client would normally send, inject duplicate headers, and
// pick how the connection is torn down after the request is written.
package probe

import (
	"bufio"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"syscall"
	"time"
)

// CloseMode selects how the connection is closed after the request bytes
// have been written.
type CloseMode string

const (
	// CloseNone leaves teardown to the normal response-read path.
	CloseNone CloseMode = ""
	// CloseSoft performs an ordinary two-way shutdown.
	CloseSoft CloseMode = "soft"
	// CloseHard sets linger-to-zero at connect time so the shutdown
	// becomes an immediate reset.
	CloseHard CloseMode = "hard"
	// CloseHard2 additionally re-arms linger right before the shutdown,
	// diversifying races between send and shutdown.
	CloseHard2 CloseMode = "hard2"
	// CloseHardest forces an OS-level disconnect via an AF_UNSPEC
	// reconnect. Linux-only; other platforms report ErrResetUnsupported.
	CloseHardest CloseMode = "hardest"
)

// DefaultTimeout is the per-call read timeout.
const DefaultTimeout = 4 * time.Second

// ErrResetUnsupported is returned for CloseHardest on platforms without
// the AF_UNSPEC reconnect trick.
var ErrResetUnsupported = errors.New("probe: hardest close mode is not supported on this platform")

// ConnectionLostError marks a connection failure (reset or refused) that
// the caller asked not to mask. It is distinct from "not ready yet".
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string {
	return fmt.Sprintf("probe: connection lost: %v", e.Err)
}

func (e *ConnectionLostError) Unwrap() error {
	return e.Err
}

// Request describes a single probe call.
type Request struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    []byte

	// CACert verifies the server certificate; without it HTTPS calls
	// skip verification, matching test-harness usage.
	CACert string

	// SuppressHeaders lists header names the connection must never send,
	// including ones the probe would add itself. It has privilege over
	// ExtraHeaders.
	SuppressHeaders []string

	// ExtraHeaders are appended verbatim after the regular headers, so
	// names may collide on purpose.
	ExtraHeaders [][2]string

	CloseAfterSend CloseMode

	// MaskConnectionReset turns a reset/refused connection into a benign
	// status-zero response instead of an error, so readiness polling does
	// not die on transient resets during server startup.
	MaskConnectionReset bool

	Timeout time.Duration
}

// Response keeps the probe result in one structure. Status zero means the
// connection was lost before a real response arrived (masked resets only).
type Response struct {
	Status     int
	Header     http.Header
	Body       []byte
	TLSVersion uint16
}

// Do performs the request and returns the response. Timeout-class errors
// propagate as net.Error; unmasked resets come back as
// *ConnectionLostError.
func Do(req Request) (*Response, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("probe: parse url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("probe: scheme must be either http or https, got %q", parsed.Scheme)
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}

	addr := parsed.Host
	if parsed.Port() == "" {
		if parsed.Scheme == "https" {
			addr = net.JoinHostPort(parsed.Hostname(), "443")
		} else {
			addr = net.JoinHostPort(parsed.Hostname(), "80")
		}
	}

	dialer := &net.Dialer{Timeout: timeout}
	rawConn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return fail(err, req.MaskConnectionReset)
	}
	tcp := rawConn.(*net.TCPConn)
	defer tcp.Close()

	_ = tcp.SetDeadline(time.Now().Add(timeout))

	// Linger is armed at connect time to minimize the number of calls
	// between send and shutdown.
	if req.CloseAfterSend == CloseHard || req.CloseAfterSend == CloseHard2 {
		if err := tcp.SetLinger(0); err != nil {
			return nil, fmt.Errorf("probe: set linger: %w", err)
		}
	}

	var conn net.Conn = tcp
	var tlsConn *tls.Conn
	if parsed.Scheme == "https" {
		tlsConf, err := tlsConfig(req.CACert, parsed.Hostname())
		if err != nil {
			return nil, err
		}
		tlsConn = tls.Client(tcp, tlsConf)
		if err := tlsConn.Handshake(); err != nil {
			return fail(err, req.MaskConnectionReset)
		}
		conn = tlsConn
	}

	if _, err := conn.Write(buildRequest(req, parsed)); err != nil {
		return fail(err, req.MaskConnectionReset)
	}

	if req.CloseAfterSend != CloseNone {
		if err := closeAfterSend(tcp, req.CloseAfterSend); err != nil {
			return nil, err
		}
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		return fail(err, req.MaskConnectionReset)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(err, req.MaskConnectionReset)
	}

	result := &Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   body,
	}
	if tlsConn != nil {
		result.TLSVersion = tlsConn.ConnectionState().Version
	}
	return result, nil
}

func tlsConfig(caCert, serverName string) (*tls.Config, error) {
	if caCert == "" {
		return &tls.Config{InsecureSkipVerify: true}, nil
	}
	pem, err := os.ReadFile(caCert)
	if err != nil {
		return nil, fmt.Errorf("probe: read ca cert: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("probe: no certificates found in %s", caCert)
	}
	return &tls.Config{RootCAs: pool, ServerName: serverName}, nil
}

// buildRequest serializes the request line and headers by hand; net/http
// deduplicates headers and always sends ones we may need to suppress.
func buildRequest(req Request, parsed *url.URL) []byte {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	uri := parsed.Path
	if uri == "" {
		uri = "/"
	}
	if parsed.RawQuery != "" {
		uri = uri + "?" + parsed.RawQuery
	}

	suppressed := func(name string) bool {
		for _, s := range req.SuppressHeaders {
			if strings.EqualFold(s, name) {
				return true
			}
		}
		return false
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", method, uri)

	put := func(name, value string) {
		if !suppressed(name) {
			fmt.Fprintf(&b, "%s: %s\r\n", name, value)
		}
	}

	put("Host", parsed.Host)
	put("Connection", "close")

	names := make([]string, 0, len(req.Headers))
	for name := range req.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		put(name, req.Headers[name])
	}

	if len(req.Body) > 0 {
		put("Content-Length", fmt.Sprintf("%d", len(req.Body)))
	}

	// Extra headers go last, duplicates and all.
	for _, extra := range req.ExtraHeaders {
		put(extra[0], extra[1])
	}

	b.WriteString("\r\n")

	out := []byte(b.String())
	return append(out, req.Body...)
}

func closeAfterSend(tcp *net.TCPConn, mode CloseMode) error {
	switch mode {
	case CloseSoft, CloseHard:
		return shutdown(tcp)
	case CloseHard2:
		// Notify the peer we do not want to receive anything.
		if err := tcp.SetLinger(0); err != nil {
			return fmt.Errorf("probe: set linger: %w", err)
		}
		return shutdown(tcp)
	case CloseHardest:
		return resetConn(tcp)
	default:
		return fmt.Errorf("probe: unknown close mode %q", mode)
	}
}

func shutdown(tcp *net.TCPConn) error {
	if err := tcp.CloseWrite(); err != nil {
		return fmt.Errorf("probe: shutdown write: %w", err)
	}
	return nil
}

// fail maps socket-level failures onto the probe error model: masked
// resets become the benign status-zero response, unmasked ones become
// *ConnectionLostError, and timeouts propagate untouched.
func fail(err error, mask bool) (*Response, error) {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return nil, err
	}
	if isReset(err) {
		if mask {
			return &Response{Status: 0}, nil
		}
		return nil, &ConnectionLostError{Err: err}
	}
	return nil, err
}

func isReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
