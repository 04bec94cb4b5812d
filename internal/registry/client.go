package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"adregister/internal"
	"adregister/internal/config"
	"adregister/internal/source"
	"adregister/internal/util"
)

const defaultFileName = "register.xlsx"

type Client struct {
	cfg        config.Config
	httpClient *http.Client
	limiter    *RateLimiter
	maxBytes   int64
}

func NewClient(cfg config.Config) *Client {
	maxBytes := cfg.SourceMaxBytes
	if maxBytes <= 0 {
		maxBytes = source.DefaultMaxBytes
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: time.Duration(cfg.RegisterTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.RegisterRateLimitRPS),
		maxBytes:   maxBytes,
	}
}

type response struct {
	url         *url.URL
	contentType string
	fileName    string
	body        []byte
}

// Download fetches the published register workbook. When the configured URL
// serves an HTML landing page the first spreadsheet link on it is followed.
func (c *Client) Download(ctx context.Context) ([]byte, string, error) {
	if strings.TrimSpace(c.cfg.RegisterURL) == "" {
		return nil, "", errors.New("missing REGISTER_URL")
	}
	u, err := url.Parse(c.cfg.RegisterURL)
	if err != nil {
		return nil, "", err
	}

	resp, err := c.fetch(ctx, u)
	if err != nil {
		return nil, "", err
	}
	if isHTML(resp) {
		link, err := findSpreadsheetLink(resp.url, resp.body)
		if err != nil {
			return nil, "", err
		}
		if resp, err = c.fetch(ctx, link); err != nil {
			return nil, "", err
		}
		if isHTML(resp) {
			return nil, "", internal.NewSourceError("download", link.String(), internal.ErrNotSpreadsheet)
		}
	}
	if len(resp.body) == 0 {
		return nil, "", internal.NewSourceError("download", resp.url.String(), internal.ErrNotSpreadsheet)
	}
	return resp.body, resp.fileName, nil
}

func (c *Client) fetch(ctx context.Context, u *url.URL) (response, error) {
	var lastErr error
	for attempt := 1; attempt <= 5; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return response{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return response{}, err
		}
		req.Header.Set("Accept", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet, application/vnd.ms-excel, text/html;q=0.5, */*;q=0.1")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return response{}, ctx.Err()
			}
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, c.maxBytes+1))
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if isRetryableStatus(resp.StatusCode) && attempt < 5 {
				backoff := time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
				select {
				case <-ctx.Done():
					return response{}, ctx.Err()
				case <-time.After(backoff):
				}
				lastErr = fmt.Errorf("register status %d", resp.StatusCode)
				continue
			}
			return response{}, fmt.Errorf("register download error: status=%d url=%s", resp.StatusCode, u.String())
		}
		if int64(len(body)) > c.maxBytes {
			return response{}, internal.NewSourceError("download", u.String(), internal.ErrSourceTooLarge)
		}

		final := u
		if resp.Request != nil && resp.Request.URL != nil {
			final = resp.Request.URL
		}
		return response{
			url:         final,
			contentType: resp.Header.Get("Content-Type"),
			fileName:    fileName(resp.Header.Get("Content-Disposition"), final),
			body:        body,
		}, nil
	}

	if lastErr == nil {
		lastErr = errors.New("register request failed")
	}
	return response{}, lastErr
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func isHTML(r response) bool {
	mediaType, _, err := mime.ParseMediaType(r.contentType)
	if err == nil && (mediaType == "text/html" || mediaType == "application/xhtml+xml") {
		return true
	}
	head := strings.ToLower(strings.TrimSpace(string(r.body[:min(len(r.body), 512)])))
	return strings.HasPrefix(head, "<!doctype html") || strings.HasPrefix(head, "<html")
}

func fileName(disposition string, u *url.URL) string {
	if disposition != "" {
		if _, params, err := mime.ParseMediaType(disposition); err == nil {
			if name := strings.TrimSpace(params["filename"]); name != "" {
				return util.SafeFileName(name)
			}
		}
	}
	if base := path.Base(u.Path); source.IsSpreadsheetName(base) {
		return util.SafeFileName(base)
	}
	return defaultFileName
}

// findSpreadsheetLink returns the first anchor on the page that points at a
// workbook, resolved against the page URL.
func findSpreadsheetLink(page *url.URL, body []byte) (*url.URL, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, err
	}

	var found *url.URL
	doc.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		if !isSpreadsheetLink(ref, a.Text()) {
			return true
		}
		found = page.ResolveReference(ref)
		return false
	})
	if found == nil {
		return nil, internal.NewSourceError("download", page.String(), internal.ErrNotSpreadsheet)
	}
	return found, nil
}

func isSpreadsheetLink(ref *url.URL, text string) bool {
	if source.IsSpreadsheetName(ref.Path) {
		return true
	}
	q := ref.Query()
	if q.Get("view") == "download" || q.Get("task") == "doc_download" {
		return true
	}
	return strings.Contains(strings.ToLower(util.NormalizeSpaces(text)), "download")
}
