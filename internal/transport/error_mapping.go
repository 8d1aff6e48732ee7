package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// ErrorType is a stable label for a delivery failure, used in logs and metrics.
type ErrorType string

const (
	ErrorTypeNone      ErrorType = ""
	ErrorTypeDNS       ErrorType = "dns_error"
	ErrorTypeConnect   ErrorType = "connect_error"
	ErrorTypeTLS       ErrorType = "tls_error"
	ErrorTypeTimeout   ErrorType = "timeout"
	ErrorTypeHTTP      ErrorType = "http_error"
	ErrorTypeBuild     ErrorType = "build_error"
	ErrorTypeCancelled ErrorType = "cancelled"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// MapError returns the ErrorType of a delivery error.
func MapError(err error) ErrorType {
	if err == nil {
		return ErrorTypeNone
	}

	var buildErr *BuildError
	if errors.As(err, &buildErr) {
		return ErrorTypeBuild
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return ErrorTypeHTTP
	}

	if errors.Is(err, context.Canceled) {
		return ErrorTypeCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return ErrorTypeTimeout
		}
		return ErrorTypeDNS
	}

	var certErr *tls.CertificateVerificationError
	if errors.As(err, &certErr) {
		return ErrorTypeTLS
	}
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &unknownAuthErr) {
		return ErrorTypeTLS
	}
	var hostErr x509.HostnameError
	if errors.As(err, &hostErr) {
		return ErrorTypeTLS
	}
	var recordErr *tls.RecordHeaderError
	if errors.As(err, &recordErr) {
		return ErrorTypeTLS
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return ErrorTypeTimeout
		}
		return ErrorTypeConnect
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return ErrorTypeTimeout
	}

	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return ErrorTypeConnect
	}

	if strings.Contains(err.Error(), "tls:") {
		return ErrorTypeTLS
	}

	return ErrorTypeUnknown
}
