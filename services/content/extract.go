// Package content extracts the plain text quizzes are generated from.
package content

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"path"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/pkg/errors"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/quizbank/core"
	"github.com/trezcool/quizbank/core/quiz"
)

const (
	maxBodyBytes     = 2 << 20
	fetchConcurrency = 4
	maxRedirects     = 5
)

var errForbiddenAddress = errors.New("address not allowed")

// reservedNets are the non-public ranges the net.IP predicates do not cover.
var reservedNets = []*net.IPNet{
	mustCIDR("0.0.0.0/8"),
	mustCIDR("100.64.0.0/10"),
	mustCIDR("192.0.0.0/24"),
	mustCIDR("198.18.0.0/15"),
}

func mustCIDR(s string) *net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return n
}

// DocumentExtensions are the accepted document types.
var DocumentExtensions = []string{".txt", ".md", ".csv", ".html", ".htm"}

var skippedElements = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Noscript: true,
	atom.Head:     true,
	atom.Template: true,
	atom.Svg:      true,
}

var blockElements = map[atom.Atom]bool{
	atom.P: true, atom.Div: true, atom.Br: true, atom.Li: true, atom.Tr: true, atom.Section: true,
	atom.Article: true, atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true,
	atom.H6: true, atom.Pre: true, atom.Blockquote: true, atom.Td: true, atom.Th: true,
}

type source struct {
	http         *http.Client
	allowPrivate bool
}

var _ quiz.ContentSource = (*source)(nil) // interface compliance check

type Option func(*source)

// AllowPrivateNetworks lets the source fetch loopback and private addresses.
func AllowPrivateNetworks() Option {
	return func(src *source) { src.allowPrivate = true }
}

// NewSource fetches public http(s) pages only: every connection, redirects included,
// is refused unless it reaches a public address.
func NewSource(timeout time.Duration, opts ...Option) quiz.ContentSource {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	src := &source{}
	for _, opt := range opts {
		opt(src)
	}

	dialer := &net.Dialer{Timeout: timeout}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !src.allowPrivate {
		dialer.Control = guardAddress
		transport.Proxy = nil // the proxy address would be checked instead of the page's
	}
	transport.DialContext = dialer.DialContext
	src.http = &http.Client{Timeout: timeout, Transport: transport, CheckRedirect: checkRedirect}
	return src
}

// guardAddress refuses connections to non-public IPs, once the host is resolved.
func guardAddress(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return errors.Wrap(err, "parsing address")
	}
	if ip := net.ParseIP(host); ip == nil || !publicIP(ip) {
		return errors.Wrapf(errForbiddenAddress, "%s", host)
	}
	return nil
}

func publicIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() || ip.IsMulticast() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsInterfaceLocalMulticast() {
		return false
	}
	for _, n := range reservedNets {
		if n.Contains(ip) {
			return false
		}
	}
	return true
}

func checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return errors.Errorf("unsupported redirect to %s", req.URL.Scheme)
	}
	return nil
}

// FetchURLs downloads the pages and joins their text in input order.
func (src *source) FetchURLs(ctx context.Context, urls []string) (string, error) {
	pages := make([]string, len(urls))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)
	for i, u := range urls {
		i, u := i, u
		g.Go(func() error {
			text, err := src.fetch(gctx, u)
			if err != nil {
				return err
			}
			pages[i] = text
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	return strings.Join(core.CleanStrings(pages), "\n\n"), nil
}

func urlError(u, msg string) error {
	return core.NewFieldError("urls", fmt.Sprintf("%s: %s", u, msg))
}

func (src *source) fetch(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil || (req.URL.Scheme != "http" && req.URL.Scheme != "https") {
		return "", urlError(u, "invalid url")
	}
	req.Header.Set("Accept", "text/html,text/plain;q=0.9")
	req.Header.Set("User-Agent", "QuizBank/1.0")

	resp, err := src.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, errForbiddenAddress) {
			return "", urlError(u, "the address is not allowed")
		}
		return "", urlError(u, "the page could not be downloaded")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", urlError(u, fmt.Sprintf("the page answered with status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", urlError(u, "the page could not be downloaded")
	}
	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch {
	case mediaType == "text/plain":
		return cleanText(body), nil
	case mediaType == "" || strings.Contains(mediaType, "html"):
		return HTMLText(strings.NewReader(cleanText(body)))
	default:
		return "", urlError(u, "unsupported content type "+mediaType)
	}
}

// ExtractDocument returns the text of an uploaded document.
func (src *source) ExtractDocument(_ context.Context, filename string, data []byte) (string, error) {
	switch strings.ToLower(path.Ext(filename)) {
	case ".txt", ".md", ".csv":
		return cleanText(data), nil
	case ".html", ".htm":
		return HTMLText(strings.NewReader(cleanText(data)))
	default:
		return "", core.NewFieldError("document", "supported documents are "+strings.Join(DocumentExtensions, ", "))
	}
}

// cleanText drops NUL bytes, which text columns reject, and replaces invalid UTF-8.
func cleanText(b []byte) string {
	return string(bytes.ToValidUTF8(bytes.ReplaceAll(b, []byte{0}, nil), []byte("\uFFFD")))
}

// HTMLText returns the visible text of an HTML document, one block per line.
func HTMLText(r io.Reader) (string, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return "", errors.Wrap(err, "parsing html")
	}

	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skippedElements[n.DataAtom] {
			return
		}
		if n.Type == html.TextNode {
			if text := collapseSpaces(n.Data); text != "" {
				if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
					b.WriteByte(' ')
				}
				b.WriteString(text)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockElements[n.DataAtom] && b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	walk(doc)
	return strings.TrimSpace(b.String()), nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.FieldsFunc(s, unicode.IsSpace), " ")
}
