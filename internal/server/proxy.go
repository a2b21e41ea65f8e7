package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/0xReLogic/Hypnos/internal/logging"
	"github.com/0xReLogic/Hypnos/internal/registry"
)

// context key for chosen upstream URL
type ctxKey int

const upstreamKey ctxKey = 0

// Resolver returns the candidate addresses for the guarded upstream.
type Resolver func() ([]string, error)

// StaticResolver always returns addr.
func StaticResolver(addr string) Resolver {
	return func() ([]string, error) { return []string{addr}, nil }
}

// RegistryResolver looks serviceName up in registryFile on every request so
// registry edits apply without a restart.
func RegistryResolver(registryFile, serviceName string) Resolver {
	return func() ([]string, error) {
		return registry.ResolveServiceAddresses(registryFile, serviceName)
	}
}

// Upstream reverse-proxies guarded requests to a resolved backend, picking
// addresses round robin and retrying idempotent requests that fail before
// a response arrives.
type Upstream struct {
	resolve    Resolver
	maxRetries int
	clientTLS  *tls.Config

	next atomic.Uint64
	rp   *httputil.ReverseProxy
}

// NewUpstream builds the proxy. A non-nil clientTLS switches upstream
// traffic to https.
func NewUpstream(resolve Resolver, maxRetries int, clientTLS *tls.Config) *Upstream {
	u := &Upstream{resolve: resolve, maxRetries: maxRetries, clientTLS: clientTLS}
	u.rp = u.createReverseProxy()
	return u
}

type retryTransport struct {
	base            http.RoundTripper
	maxRetries      int
	backoffFunc     func(int) time.Duration
	onRetryCallback func(method string)
}

func (rt *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error
	retries := 0
	for {
		resp, err = rt.base.RoundTrip(req)
		if err == nil || retries >= rt.maxRetries || !replayable(req) {
			break
		}
		rt.onRetryCallback(req.Method)
		retries++
		select {
		case <-time.After(rt.backoffFunc(retries)):
		case <-req.Context().Done():
			return nil, req.Context().Err()
		}
	}
	return resp, err
}

// replayable reports whether req can be sent again unchanged.
func replayable(req *http.Request) bool {
	if req.Body != nil && req.Body != http.NoBody {
		return false
	}
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	default:
		return false
	}
}

func (u *Upstream) createReverseProxy() *httputil.ReverseProxy {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       u.clientTLS,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}

	rt := &retryTransport{
		base:            transport,
		maxRetries:      u.maxRetries,
		backoffFunc:     func(i int) time.Duration { return time.Duration(1<<i) * 150 * time.Millisecond },
		onRetryCallback: func(method string) { proxyRetriesTotal.WithLabelValues(method).Inc() },
	}

	return &httputil.ReverseProxy{
		Director: func(req *http.Request) {
			upstream, _ := req.Context().Value(upstreamKey).(*url.URL)
			if upstream == nil {
				return
			}
			req.URL.Scheme = upstream.Scheme
			req.URL.Host = upstream.Host
			req.Host = upstream.Host
		},
		Transport: rt,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			up := "unknown"
			if upURL, ok := r.Context().Value(upstreamKey).(*url.URL); ok {
				up = upURL.Host
			}
			logging.LogUpstreamError(r.Context(), up, err)
			http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		},
	}
}

// pick resolves the upstream for one request.
func (u *Upstream) pick() (*url.URL, error) {
	addrs, err := u.resolve()
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("no upstream target resolved")
	}
	addr := addrs[int((u.next.Add(1)-1)%uint64(len(addrs)))]

	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		if u.clientTLS != nil {
			addr = "https://" + addr
		} else {
			addr = "http://" + addr
		}
	}
	return url.Parse(addr)
}

func (u *Upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target, err := u.pick()
	if err != nil {
		logging.LogUpstreamError(r.Context(), "unresolved", err)
		http.Error(w, http.StatusText(http.StatusBadGateway), http.StatusBadGateway)
		return
	}
	u.rp.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), upstreamKey, target)))
}
