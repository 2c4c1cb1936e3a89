// Package notes resolves xiaohongshu note links and scrapes the note title
// and summary text used as planning references.
package notes

import (
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/lvtu-ai/travel-planner/internal/types"
)

// Desktop UA; the mobile site renders notes behind a client-side app shell
// without the meta tags we read.
const userAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const maxBodyBytes = 2 << 20

var (
	exploreRe   = regexp.MustCompile(`/explore/([0-9a-zA-Z]+)`)
	discoveryRe = regexp.MustCompile(`/discovery/item/([0-9a-zA-Z]+)`)
)

// ExtractNoteID pulls the note id out of a xiaohongshu URL. Returns "" for
// short links and anything else without a recognizable id.
func ExtractNoteID(rawURL string) string {
	if m := exploreRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	if m := discoveryRe.FindStringSubmatch(rawURL); m != nil {
		return m[1]
	}
	return ""
}

// IsShortLink reports whether the URL is an xhslink.com share link that needs
// redirect resolution before the note id is visible.
func IsShortLink(rawURL string) bool {
	return strings.Contains(rawURL, "xhslink.com")
}

// Fetcher scrapes note metadata over plain HTTP.
type Fetcher struct {
	httpClient *http.Client
	logger     *slog.Logger
}

func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Fetcher{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "NoteFetcher")),
	}
}

// Resolve follows a short link's redirect chain and returns the final URL.
func (f *Fetcher) Resolve(ctx context.Context, shortURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, shortURL, nil)
	if err != nil {
		return "", fmt.Errorf("notes: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("notes: resolve short link: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	return resp.Request.URL.String(), nil
}

// FetchNote resolves the URL if needed and scrapes title and summary from the
// note page's meta tags. The returned ref always carries the original URL.
func (f *Fetcher) FetchNote(ctx context.Context, rawURL string) (*types.NoteRef, error) {
	pageURL := rawURL
	if IsShortLink(rawURL) {
		resolved, err := f.Resolve(ctx, rawURL)
		if err != nil {
			return nil, err
		}
		pageURL = resolved
	}

	ref := &types.NoteRef{URL: rawURL, NoteID: ExtractNoteID(pageURL)}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("notes: create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("notes: fetch note page: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("notes: fetch note page: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("notes: read note page: %w", err)
	}

	page := string(body)
	ref.Title = metaContent(page, "og:title")
	ref.Content = metaContent(page, "og:description")
	if ref.Content == "" {
		ref.Content = metaContent(page, "description")
	}
	return ref, nil
}

// FetchAll scrapes every URL, degrading per note: a failed fetch keeps a
// URL-only reference so planning can still mention the link.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []types.NoteRef {
	refs := make([]types.NoteRef, 0, len(urls))
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		ref, err := f.FetchNote(ctx, u)
		if err != nil {
			f.logger.Warn("Failed to fetch note, keeping URL only",
				slog.String("url", u), slog.Any("error", err))
			refs = append(refs, types.NoteRef{URL: u, NoteID: ExtractNoteID(u)})
			continue
		}
		refs = append(refs, *ref)
	}
	return refs
}

// metaContent extracts a meta tag's content attribute, tolerating either
// attribute order and property= vs name=.
func metaContent(page, key string) string {
	keyPat := regexp.QuoteMeta(key)
	patterns := []string{
		`<meta[^>]+(?:property|name)=["']` + keyPat + `["'][^>]+content=["']([^"']*)["']`,
		`<meta[^>]+content=["']([^"']*)["'][^>]+(?:property|name)=["']` + keyPat + `["']`,
	}
	for _, pat := range patterns {
		re := regexp.MustCompile(pat)
		if m := re.FindStringSubmatch(page); m != nil {
			return strings.TrimSpace(html.UnescapeString(m[1]))
		}
	}
	return ""
}
