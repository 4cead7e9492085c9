package gateway

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

// ConfigurationError reports a missing or unusable upstream credential.
type ConfigurationError struct {
	Key string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s is not configured on the server", e.Key)
}

// UpstreamError carries a non-2xx reply from the completion provider.
type UpstreamError struct {
	Status int
	Detail string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("Nvidia API error: %d %s", e.Status, e.Detail)
}

// ErrNetwork matches every NetworkError under errors.Is.
var ErrNetwork = errors.New("gateway: network failure")

// NetworkError wraps a transport failure before any HTTP status was seen.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string {
	return "network error: " + e.Err.Error()
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetwork
}

// StatusFromError maps a gateway error to the status the proxy route answers
// with: the upstream status for upstream errors, whatever non-2xx code it
// was, and 500 for everything else.
func StatusFromError(err error) int {
	var upstream *UpstreamError
	if errors.As(err, &upstream) && upstream.Status != 0 {
		return upstream.Status
	}
	return http.StatusInternalServerError
}

// IsConnectivityFailure reports whether err looks like the peer could not be
// reached at all: refused or reset connections, DNS failures, dial errors or
// timeouts.
func IsConnectivityFailure(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host")
}
