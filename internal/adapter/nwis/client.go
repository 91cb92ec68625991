// Package nwis retrieves site metadata, annual peaks and instantaneous
// streamflow from the USGS National Water Information System.
package nwis

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

// Streamflow parameter code (discharge, ft³/s).
const parameterDischarge = "00060"

// Client implements domain.SiteSource, domain.PeakSource and
// domain.ObservationSource.
type Client struct {
	httpClient *http.Client
	baseURL    string
	peakURL    string
	logger     *slog.Logger
}

// NewClient creates an NWIS client. baseURL is the water services root
// (e.g. https://waterservices.usgs.gov/nwis) and peakURL the peak-flow
// service endpoint.
func NewClient(baseURL, peakURL string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		peakURL:    peakURL,
		logger:     logger,
	}
}

// FetchSites returns expanded site metadata for siteIDs.
func (c *Client) FetchSites(ctx context.Context, siteIDs []string) ([]domain.RawSite, error) {
	params := url.Values{
		"format":      {"rdb"},
		"sites":       {strings.Join(siteIDs, ",")},
		"parameterCd": {parameterDischarge},
		"siteOutput":  {"expanded"},
		"siteStatus":  {"all"},
	}
	body, err := c.get(ctx, c.baseURL+"/site/", params, "site")
	if err != nil || body == nil {
		return nil, err
	}

	rows, err := parseRDB(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse site response: %w", err)
	}
	out := make([]domain.RawSite, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RawSite{
			SiteID:     r["site_no"],
			StateCode:  r["state_cd"],
			CountyCode: r["county_cd"],
		})
	}
	return out, nil
}

// FetchPeaks returns the annual peak-flow history of siteIDs. Dates and
// values are passed through as provider strings.
func (c *Client) FetchPeaks(ctx context.Context, siteIDs []string) ([]domain.RawPeak, error) {
	params := url.Values{
		"format":                    {"rdb"},
		"multiple_site_no":          {strings.Join(siteIDs, ",")},
		"search_site_no_match_type": {"exact"},
		"group_key":                 {"NONE"},
		"list_of_search_criteria":   {"multiple_site_no"},
	}
	body, err := c.get(ctx, c.peakURL, params, "peak")
	if err != nil || body == nil {
		return nil, err
	}

	rows, err := parseRDB(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse peak response: %w", err)
	}
	out := make([]domain.RawPeak, 0, len(rows))
	for _, r := range rows {
		if r["site_no"] == "" {
			continue
		}
		out = append(out, domain.RawPeak{
			SiteID:    r["site_no"],
			PeakDate:  r["peak_dt"],
			PeakValue: r["peak_va"],
		})
	}
	return out, nil
}

// FetchObservations returns instantaneous discharge for siteIDs between start
// and end. Provider no-data values decode as NaN.
func (c *Client) FetchObservations(ctx context.Context, siteIDs []string, start, end time.Time) ([]domain.RawValue, error) {
	params := url.Values{
		"format":      {"json"},
		"sites":       {strings.Join(siteIDs, ",")},
		"parameterCd": {parameterDischarge},
		"startDT":     {start.UTC().Format(requestTimeLayout)},
		"endDT":       {end.UTC().Format(requestTimeLayout)},
		"siteStatus":  {"all"},
	}
	body, err := c.get(ctx, c.baseURL+"/iv/", params, "iv")
	if err != nil || body == nil {
		return nil, err
	}

	var resp ivResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode iv response: %w", err)
	}
	return resp.values(), nil
}

const requestTimeLayout = "2006-01-02T15:04Z07:00"

// get issues a GET request and returns the response body. A 404 means the
// service found no matching sites and yields a nil body.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, service string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("nwis %s request: %w", service, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		c.logger.Debug("nwis returned no data", "service", service)
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("nwis %s error: status %d: %s", service, resp.StatusCode, bytes.TrimSpace(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read nwis %s response: %w", service, err)
	}
	return body, nil
}

// NWIS WaterML-JSON response types.

type ivResponse struct {
	Value struct {
		TimeSeries []timeSeries `json:"timeSeries"`
	} `json:"value"`
}

type timeSeries struct {
	SourceInfo struct {
		SiteCode []struct {
			Value string `json:"value"`
		} `json:"siteCode"`
	} `json:"sourceInfo"`
	Variable struct {
		NoDataValue *float64 `json:"noDataValue"`
	} `json:"variable"`
	Values []struct {
		Value []struct {
			Value    string `json:"value"`
			DateTime string `json:"dateTime"`
		} `json:"value"`
	} `json:"values"`
}

func (r ivResponse) values() []domain.RawValue {
	var out []domain.RawValue
	for _, ts := range r.Value.TimeSeries {
		if len(ts.SourceInfo.SiteCode) == 0 {
			continue
		}
		site := ts.SourceInfo.SiteCode[0].Value
		for _, block := range ts.Values {
			for _, v := range block.Value {
				at, err := time.Parse(time.RFC3339, v.DateTime)
				if err != nil {
					continue
				}
				out = append(out, domain.RawValue{
					SiteID:    site,
					Timestamp: at.UTC(),
					Value:     ts.flow(v.Value),
				})
			}
		}
	}
	return out
}

func (ts timeSeries) flow(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	if ts.Variable.NoDataValue != nil && v == *ts.Variable.NoDataValue {
		return math.NaN()
	}
	return v
}
