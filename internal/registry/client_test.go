package registry

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"adregister/internal"
	"adregister/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func reply(r *http.Request, status int, contentType, body string) *http.Response {
	h := make(http.Header)
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: h, Request: r}
}

func testClient(t *testing.T, url string, fn roundTripFunc) *Client {
	t.Helper()
	cfg, _ := config.Load()
	cfg.RegisterURL = url
	cfg.RegisterRateLimitRPS = 1000
	cfg.SourceMaxBytes = 1 << 20
	client := NewClient(cfg)
	client.httpClient = &http.Client{Transport: fn}
	return client
}

func TestDownloadRetriesThenReturnsWorkbook(t *testing.T) {
	attempt := 0
	client := testClient(t, "https://example.test/files/ad-register.xlsx", func(r *http.Request) (*http.Response, error) {
		attempt++
		if attempt == 1 {
			return reply(r, http.StatusServiceUnavailable, "text/plain", "busy"), nil
		}
		return reply(r, http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "PK-workbook"), nil
	})

	blob, name, err := client.Download(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if attempt != 2 || string(blob) != "PK-workbook" || name != "ad-register.xlsx" {
		t.Fatalf("attempt=%d blob=%q name=%q", attempt, blob, name)
	}
}

func TestDownloadFollowsLandingPageLink(t *testing.T) {
	page := `<!DOCTYPE html><html><body>
<a href="#top">Top</a>
<a href="/index.php?option=com_docman&view=document&alias=2136">Details</a>
<a href="/files/2136-gfa-ad-register.xlsx">GFA AD register</a>
</body></html>`
	client := testClient(t, "https://example.test/index.php?option=com_docman&alias=2136", func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == "/files/2136-gfa-ad-register.xlsx" {
			resp := reply(r, http.StatusOK, "application/octet-stream", "PK-workbook")
			resp.Header.Set("Content-Disposition", `attachment; filename="GFA AD register.xlsx"`)
			return resp, nil
		}
		return reply(r, http.StatusOK, "text/html; charset=utf-8", page), nil
	})

	blob, name, err := client.Download(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(blob) != "PK-workbook" || name != "GFA_AD_register.xlsx" {
		t.Fatalf("blob=%q name=%q", blob, name)
	}
}

func TestDownloadPageWithoutWorkbookLink(t *testing.T) {
	client := testClient(t, "https://example.test/register", func(r *http.Request) (*http.Response, error) {
		return reply(r, http.StatusOK, "text/html", `<html><body><a href="/about">About</a></body></html>`), nil
	})
	_, _, err := client.Download(context.Background())
	if !errors.Is(err, internal.ErrNotSpreadsheet) {
		t.Fatalf("err=%v", err)
	}
}

func TestDownloadRejectsOversizedBody(t *testing.T) {
	client := testClient(t, "https://example.test/register.xlsx", func(r *http.Request) (*http.Response, error) {
		return reply(r, http.StatusOK, "application/octet-stream", strings.Repeat("x", 64)), nil
	})
	client.maxBytes = 16
	_, _, err := client.Download(context.Background())
	if !errors.Is(err, internal.ErrSourceTooLarge) {
		t.Fatalf("err=%v", err)
	}
}

func TestDownloadDoesNotRetryClientErrors(t *testing.T) {
	attempt := 0
	client := testClient(t, "https://example.test/register.xlsx", func(r *http.Request) (*http.Response, error) {
		attempt++
		return reply(r, http.StatusNotFound, "text/plain", "gone"), nil
	})
	if _, _, err := client.Download(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if attempt != 1 {
		t.Fatalf("attempt=%d", attempt)
	}
}
