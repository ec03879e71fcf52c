package wave

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"

	"github.com/accesswatch/accesswatch/internal/domain/model"
	apperrors "github.com/accesswatch/accesswatch/internal/errors"
)

// maxDiagnosticBody bounds the response excerpt kept for diagnostics.
const maxDiagnosticBody = 4 << 10

// Config captures the client knobs.
type Config struct {
	BaseURL string
	DocsURL string
	Timeout time.Duration
	Client  *http.Client
	Logger  *slog.Logger
}

// Client calls the scoring API over HTTP. It records the most recent
// analyze and doc requests separately, so a doc lookup never clobbers the
// failure diagnostic of an audit.
type Client struct {
	baseURL string
	docsURL string
	client  *http.Client
	logger  *slog.Logger

	mu       sync.Mutex
	lastScan RequestRecord
	lastDoc  RequestRecord

	docs docCache
}

// RequestRecord is the diagnostic snapshot of the last request made.
type RequestRecord struct {
	URL    string
	Status int
	Body   string
}

// NewClient builds a scoring client. Callers should pass a validated config.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("scoring api base url is required")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	hc := cfg.Client
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}

	docsURL := cfg.DocsURL
	if docsURL == "" {
		docsURL = cfg.BaseURL + "/docs"
	}

	return &Client{
		baseURL: cfg.BaseURL,
		docsURL: docsURL,
		client:  hc,
		logger:  cfg.Logger,
	}, nil
}

var _ Scorer = (*Client)(nil)

// Analyze runs one audit against the scoring API and parses the vendor
// response into a typed report. Non-2xx statuses and invalid JSON are
// upstream errors, which the retry wrapper treats as retryable.
func (c *Client) Analyze(ctx context.Context, apiKey, pageURL string, params model.ScanParams) (*Report, error) {
	if apiKey == "" {
		return nil, apperrors.Validation("api key is required")
	}
	if pageURL == "" {
		return nil, apperrors.Validation("page url is required")
	}

	q := url.Values{}
	q.Set("key", apiKey)
	q.Set("url", pageURL)
	q.Set("reporttype", strconv.Itoa(model.ClampDetailTier(params.DetailTier)))
	if params.ViewportWidth > 0 {
		q.Set("viewportwidth", strconv.Itoa(params.ViewportWidth))
	}
	if params.EvalDelay > 0 {
		q.Set("evaldelay", strconv.FormatInt(params.EvalDelay.Milliseconds(), 10))
	}
	if params.UserAgent != "" {
		q.Set("useragent", params.UserAgent)
	}

	status, body, err := c.get(ctx, c.baseURL+"?"+q.Encode(), &c.lastScan)
	if err != nil {
		return nil, err
	}

	report, err := parseReport(body)
	if err != nil {
		return nil, err
	}
	report.HTTPStatus = status
	return report, nil
}

// LastRequest returns the diagnostic record of the most recent analyze
// request.
func (c *Client) LastRequest() RequestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastScan
}

// LastDocRequest returns the diagnostic record of the most recent doc
// lookup.
func (c *Client) LastDocRequest() RequestRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastDoc
}

func (c *Client) get(ctx context.Context, requestURL string, rec *RequestRecord) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("create scoring request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.record(rec, requestURL, 0, nil)
		return 0, nil, apperrors.Upstream("scoring api request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		c.record(rec, requestURL, resp.StatusCode, nil)
		return 0, nil, apperrors.Upstream("read scoring response", err)
	}
	c.record(rec, requestURL, resp.StatusCode, body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, nil, apperrors.Upstream(
			fmt.Sprintf("scoring api returned status %d", resp.StatusCode), nil)
	}
	return resp.StatusCode, body, nil
}

// record stores a request snapshot with the API key redacted and the body
// truncated.
func (c *Client) record(rec *RequestRecord, requestURL string, status int, body []byte) {
	excerpt := body
	if len(excerpt) > maxDiagnosticBody {
		excerpt = excerpt[:maxDiagnosticBody]
	}
	c.mu.Lock()
	*rec = RequestRecord{
		URL:    redactKey(requestURL),
		Status: status,
		Body:   string(excerpt),
	}
	c.mu.Unlock()
}

func redactKey(requestURL string) string {
	u, err := url.Parse(requestURL)
	if err != nil {
		return requestURL
	}
	q := u.Query()
	if q.Has("key") {
		q.Set("key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// parseReport decodes the vendor JSON tolerantly: numeric statistics are
// extracted via JMESPath so shape drift in unrelated fields never breaks
// ingestion, while the category tree is walked for items and elements.
func parseReport(body []byte) (*Report, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.Upstream("invalid scoring response json", err)
	}

	if ok, found := jmesBool(doc, "status.success"); found && !ok {
		return nil, apperrors.Upstream("scoring api reported failure", nil)
	}

	report := &Report{
		AIMScore:         jmesNumber(doc, "statistics.aim_score"),
		TotalElements:    int(jmesNumber(doc, "statistics.totalelements")),
		PageTitle:        jmesString(doc, "statistics.pagetitle"),
		FinalURL:         jmesString(doc, "statistics.pageurl"),
		ReportURL:        jmesString(doc, "statistics.waveurl"),
		CreditsRemaining: jmesNumber(doc, "statistics.creditsremaining"),
		AnalysisDuration: jmesNumber(doc, "statistics.time"),
	}

	if raw, err := jmespath.Search("categories", doc); err == nil && raw != nil {
		if encoded, err := json.Marshal(raw); err == nil {
			report.RawCategories = encoded
		}
	}

	for _, category := range allCategories() {
		base := fmt.Sprintf("categories.%s", category)
		count := int(jmesNumber(doc, base+".count"))
		setCategoryCount(report, category, count)

		items, _ := jmespath.Search(base+".items", doc)
		itemMap, ok := items.(map[string]any)
		if !ok {
			continue
		}
		for _, itemID := range sortedKeys(itemMap) {
			entry, ok := itemMap[itemID].(map[string]any)
			if !ok {
				continue
			}
			report.Items = append(report.Items, parseItem(itemID, category, entry))
		}
	}

	return report, nil
}

func parseItem(itemID string, category model.Category, entry map[string]any) ReportItem {
	item := ReportItem{
		ItemID:      itemID,
		Category:    category,
		Description: jmesString(entry, "description"),
		Count:       int(jmesNumber(entry, "count")),
	}

	// Tier 4 carries CSS selectors; tier 3 carries coarse location paths.
	locations := stringSlice(entry["selectors"])
	if len(locations) == 0 {
		locations = stringSlice(entry["xpaths"])
	}
	contrast := contrastRows(entry["contrastdata"])

	for i, selector := range locations {
		el := ReportElement{Selector: selector}
		if i < len(contrast) {
			el.ContrastRatio = contrast[i].ratio
			el.ForegroundColor = contrast[i].foreground
			el.BackgroundColor = contrast[i].background
			el.LargeText = contrast[i].largeText
		}
		item.Elements = append(item.Elements, el)
	}
	return item
}

func allCategories() []model.Category {
	return []model.Category{
		model.CategoryError, model.CategoryContrast, model.CategoryAlert,
		model.CategoryFeature, model.CategoryStructure, model.CategoryARIA,
	}
}

func setCategoryCount(report *Report, category model.Category, count int) {
	switch category {
	case model.CategoryError:
		report.Errors = count
	case model.CategoryContrast:
		report.ContrastErrors = count
	case model.CategoryAlert:
		report.Alerts = count
	case model.CategoryFeature:
		report.Features = count
	case model.CategoryStructure:
		report.Structure = count
	case model.CategoryARIA:
		report.ARIA = count
	}
}

type contrastRow struct {
	ratio      *float64
	foreground *string
	background *string
	largeText  *bool
}

// contrastRows decodes the vendor's positional contrast arrays:
// [ratio, foreground, background, largeText] per element.
func contrastRows(raw any) []contrastRow {
	rows, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]contrastRow, 0, len(rows))
	for _, r := range rows {
		fields, ok := r.([]any)
		if !ok {
			out = append(out, contrastRow{})
			continue
		}
		var row contrastRow
		if len(fields) > 0 {
			if ratio, ok := fields[0].(float64); ok {
				row.ratio = &ratio
			}
		}
		if len(fields) > 1 {
			if fg, ok := fields[1].(string); ok {
				row.foreground = &fg
			}
		}
		if len(fields) > 2 {
			if bg, ok := fields[2].(string); ok {
				row.background = &bg
			}
		}
		if len(fields) > 3 {
			if large, ok := fields[3].(bool); ok {
				row.largeText = &large
			}
		}
		out = append(out, row)
	}
	return out
}

func stringSlice(raw any) []string {
	values, ok := raw.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func jmesNumber(data any, expr string) float64 {
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return 0
	}
	n, _ := v.(float64)
	return n
}

func jmesString(data any, expr string) string {
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func jmesBool(data any, expr string) (value, found bool) {
	v, err := jmespath.Search(expr, data)
	if err != nil || v == nil {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
