package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"syscall"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	ErrNone        ErrorKind = ""
	ErrTimeout     ErrorKind = "timeout"
	ErrRefused     ErrorKind = "connection_refused"
	ErrReset       ErrorKind = "connection_reset"
	ErrDNS         ErrorKind = "dns"
	ErrTLS         ErrorKind = "tls"
	ErrInterrupted ErrorKind = "interrupted"
	ErrInvalid     ErrorKind = "invalid_request"
	ErrOther       ErrorKind = "transport"
)

// Classify maps a client error to an ErrorKind.
func Classify(err error) ErrorKind {
	return classify(nil, err)
}

// classify checks the caller's context first: if it was cancelled the
// iteration was interrupted, whatever the error chain says.
func classify(ctx context.Context, err error) ErrorKind {
	if err == nil {
		return ErrNone
	}
	if ctx != nil && ctx.Err() != nil {
		return ErrInterrupted
	}

	var dnsErr *net.DNSError
	var certErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var recordErr tls.RecordHeaderError
	var netErr net.Error

	switch {
	case errors.Is(err, context.Canceled):
		return ErrInterrupted
	case errors.Is(err, context.DeadlineExceeded):
		return ErrTimeout
	case errors.As(err, &dnsErr):
		if dnsErr.IsTimeout {
			return ErrTimeout
		}
		return ErrDNS
	case errors.Is(err, syscall.ECONNREFUSED):
		return ErrRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE), errors.Is(err, io.ErrUnexpectedEOF):
		return ErrReset
	case errors.As(err, &certErr), errors.As(err, &unknownAuth), errors.As(err, &hostnameErr), errors.As(err, &recordErr):
		return ErrTLS
	case errors.As(err, &netErr) && netErr.Timeout():
		return ErrTimeout
	}

	return ErrOther
}
