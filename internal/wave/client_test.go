package wave

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/accesswatch/accesswatch/internal/domain/model"
	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

const sampleResponse = `{
	"status": {"success": true, "httpstatuscode": 200},
	"statistics": {
		"pagetitle": "Example Page",
		"pageurl": "https://example.com/",
		"time": 1.42,
		"creditsremaining": 99,
		"waveurl": "https://scoring.example/report?url=https://example.com/",
		"totalelements": 120,
		"aim_score": 87.5
	},
	"categories": {
		"error": {
			"description": "Errors",
			"count": 3,
			"items": {
				"alt_missing": {
					"description": "Missing alternative text",
					"count": 2,
					"selectors": ["#hero > img", "#footer img.logo"]
				},
				"label_missing": {
					"description": "Missing form label",
					"count": 1,
					"selectors": ["#search input"]
				}
			}
		},
		"contrast": {
			"description": "Contrast Errors",
			"count": 1,
			"items": {
				"contrast": {
					"description": "Very low contrast",
					"count": 1,
					"selectors": ["#nav > a"],
					"contrastdata": [[2.31, "#777777", "#999999", false]]
				}
			}
		},
		"alert": {"description": "Alerts", "count": 2, "items": {}},
		"feature": {"description": "Features", "count": 5},
		"structure": {"description": "Structural Elements", "count": 12},
		"aria": {"description": "ARIA", "count": 7}
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		BaseURL: srv.URL + "/api/request",
		DocsURL: srv.URL + "/api/docs",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	return client, srv
}

func TestAnalyzeParsesReport(t *testing.T) {
	var gotQuery atomic.Value
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery.Store(r.URL.Query().Encode())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleResponse))
	})

	report, err := client.Analyze(context.Background(), "secret-key", "https://example.com/", model.ScanParams{
		DetailTier:    4,
		ViewportWidth: 1200,
		EvalDelay:     250 * time.Millisecond,
		UserAgent:     "accesswatch-bot",
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Errors)
	assert.Equal(t, 1, report.ContrastErrors)
	assert.Equal(t, 2, report.Alerts)
	assert.Equal(t, 5, report.Features)
	assert.Equal(t, 12, report.Structure)
	assert.Equal(t, 7, report.ARIA)
	assert.Equal(t, 120, report.TotalElements)
	assert.InDelta(t, 87.5, report.AIMScore, 0.001)
	assert.Equal(t, "Example Page", report.PageTitle)
	assert.Equal(t, "https://example.com/", report.FinalURL)
	assert.InDelta(t, 99, report.CreditsRemaining, 0.001)
	assert.Equal(t, http.StatusOK, report.HTTPStatus)
	assert.NotEmpty(t, report.RawCategories)

	require.Len(t, report.Items, 3)
	byID := map[string]ReportItem{}
	for _, item := range report.Items {
		byID[item.ItemID] = item
	}

	alt := byID["alt_missing"]
	assert.Equal(t, model.CategoryError, alt.Category)
	assert.Equal(t, 2, alt.Count)
	require.Len(t, alt.Elements, 2)
	assert.Equal(t, "#hero > img", alt.Elements[0].Selector)

	contrast := byID["contrast"]
	require.Len(t, contrast.Elements, 1)
	el := contrast.Elements[0]
	require.NotNil(t, el.ContrastRatio)
	assert.InDelta(t, 2.31, *el.ContrastRatio, 0.001)
	require.NotNil(t, el.ForegroundColor)
	assert.Equal(t, "#777777", *el.ForegroundColor)
	require.NotNil(t, el.LargeText)
	assert.False(t, *el.LargeText)

	query := gotQuery.Load().(string)
	assert.Contains(t, query, "key=secret-key")
	assert.Contains(t, query, "reporttype=4")
	assert.Contains(t, query, "viewportwidth=1200")
	assert.Contains(t, query, "evaldelay=250")
}

func TestAnalyzeClampsDetailTier(t *testing.T) {
	var gotTier atomic.Value
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotTier.Store(r.URL.Query().Get("reporttype"))
		_, _ = w.Write([]byte(sampleResponse))
	})

	_, err := client.Analyze(context.Background(), "k", "https://example.com/", model.ScanParams{DetailTier: 9})
	require.NoError(t, err)
	assert.Equal(t, "4", gotTier.Load())
}

func TestAnalyzeRequiresAPIKey(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not be made")
	})

	_, err := client.Analyze(context.Background(), "", "https://example.com/", model.ScanParams{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestAnalyzeNonOKIsUpstream(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	})

	_, err := client.Analyze(context.Background(), "k", "https://example.com/", model.ScanParams{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUpstream, apperrors.CodeOf(err))
	assert.True(t, apperrors.IsRetryable(err))

	last := client.LastRequest()
	assert.Equal(t, http.StatusTooManyRequests, last.Status)
	assert.Contains(t, last.Body, "rate limited")
	assert.Contains(t, last.URL, "key=REDACTED")
	assert.NotContains(t, last.URL, "key=k")
}

func TestAnalyzeInvalidJSONIsUpstream(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not json</html>"))
	})

	_, err := client.Analyze(context.Background(), "k", "https://example.com/", model.ScanParams{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUpstream, apperrors.CodeOf(err))
}

func TestAnalyzeVendorFailureFlag(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status": {"success": false}}`))
	})

	_, err := client.Analyze(context.Background(), "k", "https://example.com/", model.ScanParams{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUpstream, apperrors.CodeOf(err))
}

func TestLastRequestBodyTruncated(t *testing.T) {
	huge := strings.Repeat("x", maxDiagnosticBody*3)
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(huge))
	})

	_, err := client.Analyze(context.Background(), "k", "https://example.com/", model.ScanParams{})
	require.Error(t, err)
	assert.Len(t, client.LastRequest().Body, maxDiagnosticBody)
}

func TestDocLookupKeepsAnalyzeDiagnostic(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/docs" {
			_, _ = w.Write([]byte(`{"purpose": "p"}`))
			return
		}
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream melted"))
	})

	_, err := client.Analyze(context.Background(), "k", "https://example.com/", model.ScanParams{})
	require.Error(t, err)

	_, err = client.FetchDoc(context.Background(), "alt_missing")
	require.NoError(t, err)

	scan := client.LastRequest()
	assert.Equal(t, http.StatusBadGateway, scan.Status)
	assert.Equal(t, "upstream melted", scan.Body)
	assert.Contains(t, scan.URL, "/api/request")

	doc := client.LastDocRequest()
	assert.Equal(t, http.StatusOK, doc.Status)
	assert.Contains(t, doc.URL, "/api/docs")
}

func TestFetchDocCachesIndefinitely(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{
			"purpose": "Images must have alternative text",
			"details": "Each image must have an alt attribute.",
			"actions": "Add an alt attribute to the image.",
			"guidelines": ["1.1.1 Non-text Content (Level A)"]
		}`))
	})

	first, err := client.FetchDoc(context.Background(), "alt_missing")
	require.NoError(t, err)
	assert.Equal(t, "alt_missing", first.ItemID)
	assert.Equal(t, "Images must have alternative text", first.Purpose)
	require.Len(t, first.Guidelines, 1)

	second, err := client.FetchDoc(context.Background(), "alt_missing")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int64(1), calls.Load())
}

func TestFetchDocFailureNotCached(t *testing.T) {
	var calls atomic.Int64
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"purpose": "p"}`))
	})

	_, err := client.FetchDoc(context.Background(), "contrast")
	require.Error(t, err)

	doc, err := client.FetchDoc(context.Background(), "contrast")
	require.NoError(t, err)
	assert.Equal(t, "p", doc.Purpose)
	assert.Equal(t, int64(2), calls.Load())
}

func TestDetailTierOneStillParses(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"status": {"success": true},
			"statistics": {"totalelements": 40, "aim_score": 92},
			"categories": {
				"error": {"count": 1},
				"contrast": {"count": 0},
				"alert": {"count": 4}
			}
		}`))
	})

	report, err := client.Analyze(context.Background(), "k", "https://example.com/", model.ScanParams{DetailTier: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Errors)
	assert.Equal(t, 4, report.Alerts)
	assert.Empty(t, report.Items)
}
