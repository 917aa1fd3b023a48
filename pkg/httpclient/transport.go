package httpclient

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"
)

// InvalidProxyError 代理地址无法解析
type InvalidProxyError struct {
	Proxy string
	Err   error
}

func (e *InvalidProxyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid proxy url %q: %v", e.Proxy, e.Err)
	}
	return fmt.Sprintf("invalid proxy url %q", e.Proxy)
}

func (e *InvalidProxyError) Unwrap() error {
	return e.Err
}

// ProxyConnectError 代理拒绝了 CONNECT 请求
type ProxyConnectError struct {
	Proxy      string
	StatusCode int
}

func (e *ProxyConnectError) Error() string {
	return fmt.Sprintf("proxy %s rejected CONNECT with status %d", e.Proxy, e.StatusCode)
}

// StatusError 目标返回了失败状态码
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d", e.Code)
}

// ParseProxyURL 解析代理地址，裸的 ip:port 按 http:// 处理
func ParseProxyURL(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, &InvalidProxyError{Proxy: raw}
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		u, err = url.Parse("http://" + raw)
	}
	if err != nil {
		return nil, &InvalidProxyError{Proxy: raw, Err: err}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &InvalidProxyError{Proxy: raw, Err: fmt.Errorf("unsupported scheme %q", u.Scheme)}
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || host == "" || port == "" {
		return nil, &InvalidProxyError{Proxy: raw, Err: err}
	}
	return u, nil
}

// NewTransport 创建单次使用的 Transport，proxy 为空时直连
func NewTransport(proxy string, connectTimeout time.Duration) (*http.Transport, error) {
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		DisableKeepAlives:     true,
		TLSHandshakeTimeout:   connectTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	if proxy != "" {
		proxyURL, err := ParseProxyURL(proxy)
		if err != nil {
			return nil, err
		}
		transport.Proxy = http.ProxyURL(proxyURL)
		transport.OnProxyConnectResponse = func(_ context.Context, u *url.URL, _ *http.Request, resp *http.Response) error {
			if resp.StatusCode != http.StatusOK {
				return &ProxyConnectError{Proxy: u.Host, StatusCode: resp.StatusCode}
			}
			return nil
		}
	}

	return transport, nil
}

// NewClient 创建带总超时的 http.Client
func NewClient(proxy string, connectTimeout, timeout time.Duration) (*http.Client, error) {
	transport, err := NewTransport(proxy, connectTimeout)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, nil
}
