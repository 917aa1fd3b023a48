package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"syscall"

	"scraper-backend/pkg/types"
)

// StatusFor 将 HTTP 状态码映射为检测结果。
// 跟随重定向之后的最终状态码小于 400 即视为成功，包括未被跟随的 3xx（如 304），
// 并非只有 2xx。
func StatusFor(code int) types.CheckStatus {
	if code < 400 {
		return types.CheckOK
	}
	return types.CheckHTTPError
}

// Classify 将请求错误归类，判断顺序决定了多种原因并存时的结果
func Classify(err error) types.CheckStatus {
	if err == nil {
		return types.CheckOK
	}

	var invalidProxy *InvalidProxyError
	if errors.As(err, &invalidProxy) {
		return types.CheckProxyInvalidURL
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return StatusFor(statusErr.Code)
	}

	if isTimeout(err) {
		return types.CheckTimeoutError
	}

	if isProxyFailure(err) {
		return types.CheckProxyError
	}

	if isTLSFailure(err) {
		return types.CheckSSLError
	}

	if isConnFailure(err) {
		return types.CheckConnError
	}

	return types.CheckGeneralError
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isProxyFailure(err error) bool {
	var connectErr *ProxyConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "proxyconnect" {
		return true
	}
	return strings.Contains(err.Error(), "proxyconnect")
}

func isTLSFailure(err error) bool {
	var (
		recordErr    tls.RecordHeaderError
		verifyErr    *tls.CertificateVerificationError
		authorityErr x509.UnknownAuthorityError
		hostnameErr  x509.HostnameError
		invalidErr   x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &recordErr),
		errors.As(err, &verifyErr),
		errors.As(err, &authorityErr),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "tls: ") || strings.Contains(msg, "x509: ")
}

func isConnFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
