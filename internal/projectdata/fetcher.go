package projectdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"showcase/api/internal/telemetry"
)

const maxBodyBytes = 2 << 20

var (
	errUnsupportedURL = errors.New("unsupported url")
	errPrivateAddress = errors.New("address is not public")
)

// Source reads a Document from one kind of location.
type Source interface {
	Name() string
	Match(u *url.URL) bool
	Fetch(ctx context.Context, u *url.URL) (Document, error)
}

type Fetcher struct {
	timeout   time.Duration
	sources   []Source
	checkHost func(ctx context.Context, host string) error
}

// NewFetcher builds the default source chain. The first matching source wins;
// the page source matches any http(s) URL and goes last. Unless allowPrivate
// is set, hosts that resolve to loopback, private or link-local addresses are
// refused before any source runs, and the HTTP client refuses to dial them.
func NewFetcher(timeout time.Duration, githubAPIURL string, allowPrivate bool) *Fetcher {
	client := newHTTPClient(timeout, allowPrivate)
	f := NewFetcherWithSources(timeout,
		NewGitHubSource(client, githubAPIURL),
		NewGitSource(),
		NewPageSource(client),
	)
	if !allowPrivate {
		f.checkHost = checkPublicHost
	}
	return f
}

func NewFetcherWithSources(timeout time.Duration, sources ...Source) *Fetcher {
	return &Fetcher{timeout: timeout, sources: sources}
}

func newHTTPClient(timeout time.Duration, allowPrivate bool) *http.Client {
	if allowPrivate {
		return &http.Client{Timeout: timeout}
	}
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			addr, err := netip.ParseAddrPort(address)
			if err != nil {
				return fmt.Errorf("dial %s: %w", address, err)
			}
			if !publicAddr(addr.Addr()) {
				return fmt.Errorf("dial %s: %w", address, errPrivateAddress)
			}
			return nil
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{Timeout: timeout, Transport: transport}
}

// publicAddr reports whether addr is a globally routable unicast address.
func publicAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	return addr.IsValid() &&
		!addr.IsLoopback() &&
		!addr.IsPrivate() &&
		!addr.IsLinkLocalUnicast() &&
		!addr.IsLinkLocalMulticast() &&
		!addr.IsInterfaceLocalMulticast() &&
		!addr.IsMulticast() &&
		!addr.IsUnspecified()
}

// checkPublicHost refuses host when any address it resolves to is not public.
func checkPublicHost(ctx context.Context, host string) error {
	if addr, err := netip.ParseAddr(host); err == nil {
		if !publicAddr(addr) {
			return fmt.Errorf("host %s: %w", host, errPrivateAddress)
		}
		return nil
	}
	addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", host, err)
	}
	for _, addr := range addrs {
		if !publicAddr(addr) {
			return fmt.Errorf("host %s resolves to %s: %w", host, addr, errPrivateAddress)
		}
	}
	return nil
}

// Fetch never fails: unreachable, malformed or timed out sources yield an
// empty Document, which callers treat as missing data.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) Document {
	ctx, span := telemetry.Tracer().Start(ctx, "projectdata.Fetch")
	defer span.End()

	u, err := parseURL(rawURL)
	if err != nil {
		log.Printf("projectdata: %q: %v", rawURL, err)
		span.SetStatus(codes.Error, err.Error())
		return Document{}
	}

	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	if f.checkHost != nil {
		if err := f.checkHost(ctx, u.Hostname()); err != nil {
			log.Printf("projectdata: refusing %s: %v", u.Redacted(), err)
			span.SetStatus(codes.Error, err.Error())
			return Document{}
		}
	}

	for _, source := range f.sources {
		if !source.Match(u) {
			continue
		}
		span.SetAttributes(attribute.String("projectdata.source", source.Name()))
		doc, err := source.Fetch(ctx, u)
		if err != nil {
			log.Printf("projectdata: %s fetch %s: %v", source.Name(), u.Redacted(), err)
			span.SetStatus(codes.Error, err.Error())
			return Document{}
		}
		return doc
	}

	log.Printf("projectdata: no source for %s", u.Redacted())
	return Document{}
}

func parseURL(rawURL string) (*url.URL, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errUnsupportedURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errUnsupportedURL
	}
	return u, nil
}

// getBody performs a GET and returns at most maxBodyBytes of a 2xx response.
func getBody(ctx context.Context, client *http.Client, target, accept string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	req.Header.Set("User-Agent", "showcase-api")

	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request %s: %w", target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, "", fmt.Errorf("request %s: status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}
