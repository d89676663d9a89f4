package engine

import "errors"

// Transport errors.
//
// ErrNotOpen aborts a run. The other errors are stored on the request cycle
// of the address they concern.
var (
	// ErrNotOpen is returned by Dispatch before Open or after Close.
	ErrNotOpen = errors.New("transport is not open")

	// ErrRobotsDisallowed is set on cycles whose address robots.txt forbids.
	ErrRobotsDisallowed = errors.New("disallowed by robots.txt")

	// ErrBodyTooLarge is set on cycles whose body exceeds the configured limit.
	ErrBodyTooLarge = errors.New("response body exceeds limit")

	// ErrUnsupportedProxy is returned for proxy schemes other than http, https and socks5.
	ErrUnsupportedProxy = errors.New("unsupported proxy protocol")

	// ErrProxyNotSOCKS5 is returned when a socks5 proxy does not speak the protocol.
	ErrProxyNotSOCKS5 = errors.New("proxy is not a SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when the proxy cannot be reached.
	ErrProxyCannotConnect = errors.New("cannot connect to proxy")

	// ErrProxyTimeout is returned when the proxy handshake times out.
	ErrProxyTimeout = errors.New("timeout connecting to proxy")

	// ErrTorNotRunning is returned when the embedded Tor daemon is used before Start.
	ErrTorNotRunning = errors.New("embedded Tor daemon is not running")
)

// ProxyStatus is the result of probing a SOCKS5 proxy.
type ProxyStatus int

const (
	// ProxyStatusOK means the proxy answered a SOCKS5 CONNECT.
	ProxyStatusOK ProxyStatus = iota
	// ProxyStatusWrongType means something answered, but not SOCKS5.
	ProxyStatusWrongType
	// ProxyStatusCannotConnect means no TCP connection could be made.
	ProxyStatusCannotConnect
	// ProxyStatusTimeout means the handshake did not finish in time.
	ProxyStatusTimeout
)

// String returns a human-readable description of the proxy status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "wrong type (not SOCKS5)"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the error for this status, or nil if OK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrProxyNotSOCKS5
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
