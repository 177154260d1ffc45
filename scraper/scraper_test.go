package scraper

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medreg-notifier/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const docBody = `<html><head><title>Guidance Detail</title></head><body>
<script>ignore()</script>
<nav>Home | About</nav>
<p>This guidance document describes the updated premarket submission requirements
for medical devices, including the mandatory conformity assessment under the
applicable quality management standard.</p>
</body></html>`

func newSourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/devices", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>
<a href="/docs/guidance-1">New Guidance on Sterilization</a>
<a href="/docs/news-1">Press release</a>
<a href="/docs/guidance-2">Updated Regulation Text</a>
<a href="/docs/guidance-1">New Guidance on Sterilization</a>
<a href="mailto:someone@example.com">guidance contact</a>
</body></html>`)
	})
	mux.HandleFunc("/docs/", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, docBody)
	})
	mux.HandleFunc("/stub", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="/docs/tiny-guidance">guidance</a></body></html>`)
	})
	mux.HandleFunc("/docs/tiny-guidance", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body>short</body></html>`)
	})
	return httptest.NewServer(mux)
}

func TestFetchCandidatesFiltersAndDedupes(t *testing.T) {
	srv := newSourceServer(t)
	defer srv.Close()

	src := config.SourceConfig{
		Name:         "FDA",
		Kind:         "html",
		BaseURL:      srv.URL,
		Paths:        []string{"/devices"},
		LinkKeywords: []string{"guidance", "regulation"},
	}

	fetchers, err := NewRegistry([]config.SourceConfig{src}, 25, srv.Client(), nil, testLogger())
	require.NoError(t, err)
	require.Len(t, fetchers, 1)
	assert.Equal(t, "FDA", fetchers[0].Name())

	docs, err := fetchers[0].FetchCandidates(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 2)

	assert.Equal(t, "New Guidance on Sterilization", docs[0].Title)
	assert.Equal(t, srv.URL+"/docs/guidance-1", docs[0].URL)
	assert.Equal(t, "FDA", docs[0].Source)
	assert.Contains(t, docs[0].Content, "premarket submission requirements")
	assert.NotContains(t, docs[0].Content, "ignore()")
	assert.NotContains(t, docs[0].Content, "Home | About")
	assert.False(t, docs[0].FetchedAt.IsZero())
}

func TestFetchCandidatesSkipsStubDocuments(t *testing.T) {
	srv := newSourceServer(t)
	defer srv.Close()

	src := config.SourceConfig{
		Name:         "FDA",
		BaseURL:      srv.URL,
		Paths:        []string{"/stub"},
		LinkKeywords: []string{"guidance"},
	}

	fetchers, err := NewRegistry([]config.SourceConfig{src}, 25, srv.Client(), nil, testLogger())
	require.NoError(t, err)

	docs, err := fetchers[0].FetchCandidates(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestFetchCandidatesCapsPerPath(t *testing.T) {
	srv := newSourceServer(t)
	defer srv.Close()

	src := config.SourceConfig{
		Name:         "FDA",
		BaseURL:      srv.URL,
		Paths:        []string{"/devices"},
		LinkKeywords: []string{"guidance", "regulation"},
	}

	fetchers, err := NewRegistry([]config.SourceConfig{src}, 1, srv.Client(), nil, testLogger())
	require.NoError(t, err)

	docs, err := fetchers[0].FetchCandidates(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestFetchCandidatesAllPathsFailing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	src := config.SourceConfig{
		Name:    "BfArM",
		BaseURL: srv.URL,
		Paths:   []string{"/a", "/b"},
	}

	fetchers, err := NewRegistry([]config.SourceConfig{src}, 25, srv.Client(), nil, testLogger())
	require.NoError(t, err)

	_, err = fetchers[0].FetchCandidates(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all 2 listing paths failed")
}

func TestNewRegistryUnknownKind(t *testing.T) {
	_, err := NewRegistry([]config.SourceConfig{
		{Name: "X", Kind: "ftp", BaseURL: "https://example.com", Paths: []string{"/"}},
	}, 25, http.DefaultClient, nil, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "ftp"`)
}

func TestRenderedFetcherRoutesThroughProxy(t *testing.T) {
	srv := newSourceServer(t)
	defer srv.Close()

	var proxied []string
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		target := r.URL.Query().Get("url")
		proxied = append(proxied, target)
		resp, err := http.Get(target)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(w, resp.Body)
	}))
	defer proxy.Close()

	src := config.SourceConfig{
		Name:           "ISO",
		Kind:           "rendered",
		BaseURL:        srv.URL,
		Paths:          []string{"/devices"},
		LinkKeywords:   []string{"guidance"},
		RenderProxyURL: proxy.URL,
	}

	fetchers, err := NewRegistry([]config.SourceConfig{src}, 25, srv.Client(), proxy.Client(), testLogger())
	require.NoError(t, err)

	docs, err := fetchers[0].FetchCandidates(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, docs)
	assert.NotEmpty(t, proxied)
	assert.Equal(t, srv.URL+"/devices", proxied[0])
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRenderedFetcherUsesRenderClient(t *testing.T) {
	srv := newSourceServer(t)
	defer srv.Close()

	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp, err := http.Get(r.URL.Query().Get("url"))
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		_, _ = io.Copy(w, resp.Body)
	}))
	defer proxy.Close()

	pageClient := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, fmt.Errorf("page client used for rendered source")
	})}

	src := config.SourceConfig{
		Name:           "ISO",
		Kind:           "rendered",
		BaseURL:        srv.URL,
		Paths:          []string{"/devices"},
		LinkKeywords:   []string{"guidance"},
		RenderProxyURL: proxy.URL,
	}

	fetchers, err := NewRegistry([]config.SourceConfig{src}, 25, pageClient, proxy.Client(), testLogger())
	require.NoError(t, err)

	docs, err := fetchers[0].FetchCandidates(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, docs)
}

func TestIsForbidden(t *testing.T) {
	err := fmt.Errorf("wrap: %w", &HTTPStatusError{URL: "https://example.com", StatusCode: http.StatusForbidden})
	assert.True(t, IsForbidden(err))

	err = fmt.Errorf("wrap: %w", &HTTPStatusError{URL: "https://example.com", StatusCode: http.StatusNotFound})
	assert.False(t, IsForbidden(err))
	assert.False(t, IsForbidden(nil))
}

func TestCleanText(t *testing.T) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(docBody))
	require.NoError(t, err)

	text := CleanText(doc)
	assert.NotContains(t, text, "ignore()")
	assert.NotContains(t, text, "Home | About")
	assert.Contains(t, text, "premarket submission requirements for medical devices")
	assert.NotContains(t, text, "\n")
}
