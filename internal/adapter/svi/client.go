// Package svi queries the CDC/ATSDR Social Vulnerability Index ArcGIS
// feature services.
package svi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flood-skill-eval/internal/domain"
)

// Theme names emitted for every county, paired with the rank and value
// attributes of the feature service.
var themes = []struct {
	name  string
	rank  string
	value string
}{
	{"svi", "RPL_THEMES", "SPL_THEMES"},
	{"socioeconomic", "RPL_THEME1", "SPL_THEME1"},
	{"household_comp_and_disability", "RPL_THEME2", "SPL_THEME2"},
	{"minority_status_and_language", "RPL_THEME3", "SPL_THEME3"},
	{"housing_type_and_transportation", "RPL_THEME4", "SPL_THEME4"},
}

// Feature layer per geographic scale.
var layers = map[string]int{
	"county":       1,
	"census_tract": 2,
}

// DefaultPageSize is the number of features requested per query page.
const DefaultPageSize = 1000

// Client implements domain.VulnerabilitySource.
type Client struct {
	httpClient *http.Client
	baseURL    string
	pageSize   int
	logger     *slog.Logger
}

// NewClient creates an SVI client rooted at the ArcGIS services directory
// (e.g. https://onemap.cdc.gov/OneMapServices/rest/services/SVI).
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		pageSize:   DefaultPageSize,
		logger:     logger,
	}
}

// FetchVulnerability returns one row per (county, theme) for the state
// abbreviation region. Pages are requested until the service stops
// reporting exceeded transfer limits.
func (c *Client) FetchVulnerability(ctx context.Context, region, scale, year string) ([]domain.RawVulnerability, error) {
	layer, ok := layers[scale]
	if !ok {
		return nil, fmt.Errorf("unsupported svi geographic scale %q", scale)
	}
	endpoint := fmt.Sprintf("%s/CDC_ATSDR_Social_Vulnerability_Index_%s_USA/FeatureServer/%d/query", c.baseURL, year, layer)

	var out []domain.RawVulnerability
	for offset := 0; ; offset += c.pageSize {
		page, err := c.query(ctx, endpoint, region, offset)
		if err != nil {
			return nil, err
		}
		for _, f := range page.Features {
			out = append(out, f.rows()...)
		}
		c.logger.Debug("svi page retrieved", "region", region, "offset", offset, "features", len(page.Features))
		if !page.ExceededTransferLimit || len(page.Features) == 0 {
			return out, nil
		}
	}
}

func (c *Client) query(ctx context.Context, endpoint, region string, offset int) (*queryResponse, error) {
	outFields := []string{"FIPS", "ST_ABBR"}
	for _, th := range themes {
		outFields = append(outFields, th.rank, th.value)
	}
	params := url.Values{
		"where":             {fmt.Sprintf("ST_ABBR='%s'", strings.ToUpper(region))},
		"outFields":         {strings.Join(outFields, ",")},
		"returnGeometry":    {"false"},
		"orderByFields":     {"FIPS"},
		"resultOffset":      {strconv.Itoa(offset)},
		"resultRecordCount": {strconv.Itoa(c.pageSize)},
		"f":                 {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("svi request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("svi API error: status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var page queryResponse
	if err := dec.Decode(&page); err != nil {
		return nil, fmt.Errorf("decode svi response: %w", err)
	}
	// ArcGIS reports query errors in the body of a 200 response.
	if page.Error != nil {
		return nil, fmt.Errorf("svi API error: code %d: %s", page.Error.Code, page.Error.Message)
	}
	return &page, nil
}

// ArcGIS query response types.

type queryResponse struct {
	Features              []feature  `json:"features"`
	ExceededTransferLimit bool       `json:"exceededTransferLimit"`
	Error                 *arcgisErr `json:"error"`
}

type arcgisErr struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type feature struct {
	Attributes map[string]any `json:"attributes"`
}

func (f feature) rows() []domain.RawVulnerability {
	fips := fipsOf(f.Attributes["FIPS"])
	if fips == "" {
		return nil
	}
	out := make([]domain.RawVulnerability, 0, len(themes))
	for _, th := range themes {
		out = append(out, domain.RawVulnerability{
			FIPS:  fips,
			Rank:  number(f.Attributes[th.rank]),
			Value: number(f.Attributes[th.value]),
			Theme: th.name,
		})
	}
	return out
}

// fipsOf normalizes a FIPS attribute that some service years publish as a
// number. County codes are zero-padded to five digits.
func fipsOf(v any) string {
	var s string
	switch x := v.(type) {
	case string:
		s = strings.TrimSpace(x)
	case json.Number:
		s = x.String()
	default:
		return ""
	}
	if len(s) < 5 && s != "" {
		s = strings.Repeat("0", 5-len(s)) + s
	}
	return s
}

func number(v any) float64 {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}
