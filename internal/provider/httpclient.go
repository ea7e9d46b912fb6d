package provider

import (
	"net"
	"net/http"
	"time"
)

const (
	defaultHTTPTimeout   = 120 * time.Second
	defaultHeaderTimeout = 60 * time.Second
)

func pooledTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// StreamingHTTPClient is for generators. The body of a token stream has no
// overall deadline; the server must start responding within headerTimeout
// and the caller's context bounds the rest.
func StreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = defaultHeaderTimeout
	}
	return &http.Client{Transport: pooledTransport(headerTimeout)}
}

// RequestHTTPClient is for request/response calls such as embeddings, where
// the whole exchange is capped by timeout.
func RequestHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: pooledTransport(timeout),
	}
}
