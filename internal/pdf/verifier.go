// Package pdf verifies that a paper's PDF source is reachable and serves
// a well-formed document. The pipeline gates summarization on the source
// being usable; verification reads only a small prefix of the file rather
// than downloading it, since the summarizer works from the abstract text.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotPDF is returned when the source does not serve a PDF document.
	ErrNotPDF = errors.New("pdf: source is not a PDF")
	// ErrTooLarge is returned when the advertised size exceeds the limit.
	ErrTooLarge = errors.New("pdf: file exceeds maximum size")
	// ErrUnreachable is returned when the source cannot be fetched.
	ErrUnreachable = errors.New("pdf: source unreachable")
	// ErrPrivateAddress is returned when the URL resolves to a private or
	// loopback address. Source URLs come from external APIs and must not
	// be allowed to reach internal services.
	ErrPrivateAddress = errors.New("pdf: request to private address denied")
)

// pdfMagic is the file header every PDF starts with. The format permits
// the header to appear within the first kilobyte, so verification reads
// that much of the body.
var pdfMagic = []byte("%PDF-")

const magicWindow = 1024

// VerifyResult describes a verified PDF source.
type VerifyResult struct {
	// SizeBytes is the advertised Content-Length, or -1 when the server
	// does not send one.
	SizeBytes int64
	// ContentType is the Content-Type header from the response.
	ContentType string
}

// Config holds verifier configuration.
type Config struct {
	// Timeout bounds the whole verification request. Default: 30 seconds.
	Timeout time.Duration
	// MaxSize rejects sources whose Content-Length exceeds it.
	// Default: 100MB.
	MaxSize int64
	// UserAgent identifies the crawler to publishers.
	UserAgent string
	// AllowPrivateHosts disables the private-address check so tests can
	// point the verifier at a local server. Never set in production.
	AllowPrivateHosts bool
}

// Verifier checks PDF source URLs.
type Verifier struct {
	client            *http.Client
	maxSize           int64
	userAgent         string
	allowPrivateHosts bool
}

// NewVerifier creates a Verifier with the given configuration.
func NewVerifier(cfg Config) *Verifier {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxSize == 0 {
		cfg.MaxSize = 100 * 1024 * 1024
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "citegraph-service/1.0"
	}

	v := &Verifier{
		maxSize:           cfg.MaxSize,
		userAgent:         cfg.UserAgent,
		allowPrivateHosts: cfg.AllowPrivateHosts,
	}

	v.client = &http.Client{
		Timeout: cfg.Timeout,
		// Open redirects on publisher sites must not become a path to
		// internal addresses, so every hop is re-checked.
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("%w: too many redirects", ErrUnreachable)
			}
			if !v.allowPrivateHosts {
				return checkHostPublic(req.URL)
			}
			return nil
		},
	}

	return v
}

// checkHostPublic resolves the URL's host and rejects private, loopback,
// link-local, and unspecified addresses, as well as non-HTTP schemes.
func checkHostPublic(u *url.URL) error {
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return fmt.Errorf("%w: scheme %q is not allowed", ErrPrivateAddress, u.Scheme)
	}

	host := u.Hostname()
	addrs, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("%w: resolve %s: %w", ErrUnreachable, host, err)
	}
	for _, addr := range addrs {
		ip := net.ParseIP(addr)
		if ip == nil {
			continue
		}
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() ||
			ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("%w: %s resolves to %s", ErrPrivateAddress, host, addr)
		}
	}
	return nil
}

// Verify fetches the start of the document at url and confirms it is a
// PDF within the size limit. Returns ErrNotPDF when the content type or
// file header disagrees, ErrTooLarge when the advertised size exceeds the
// limit, ErrPrivateAddress when the host is not public, and
// ErrUnreachable for network and HTTP failures.
func (v *Verifier) Verify(ctx context.Context, rawURL string) (*VerifyResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid URL: %w", ErrUnreachable, err)
	}
	if !v.allowPrivateHosts {
		if err := checkHostPublic(parsed); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrUnreachable, err)
	}
	req.Header.Set("User-Agent", v.userAgent)
	req.Header.Set("Accept", "application/pdf, */*;q=0.8")
	// Most publishers honor range requests; those that do not still only
	// get the prefix read below.
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", magicWindow-1))

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ErrUnreachable, resp.StatusCode)
	}

	size := advertisedSize(resp)
	if size > v.maxSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, size, v.maxSize)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(strings.ToLower(contentType), "pdf") &&
		!strings.Contains(strings.ToLower(contentType), "octet-stream") {
		return nil, fmt.Errorf("%w: Content-Type is %q", ErrNotPDF, contentType)
	}

	prefix := make([]byte, magicWindow)
	n, err := io.ReadFull(resp.Body, prefix)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, fmt.Errorf("%w: read prefix: %w", ErrUnreachable, err)
	}
	if !bytes.Contains(prefix[:n], pdfMagic) {
		return nil, fmt.Errorf("%w: missing %%PDF- header", ErrNotPDF)
	}

	return &VerifyResult{
		SizeBytes:   size,
		ContentType: contentType,
	}, nil
}

// advertisedSize returns the total document size the server reported.
// A ranged response carries it in Content-Range; otherwise Content-Length
// applies. Returns -1 when neither is usable.
func advertisedSize(resp *http.Response) int64 {
	if resp.StatusCode == http.StatusPartialContent {
		// Content-Range: bytes 0-1023/31415
		cr := resp.Header.Get("Content-Range")
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if total, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				return total
			}
		}
		return -1
	}
	if resp.ContentLength >= 0 {
		return resp.ContentLength
	}
	return -1
}
