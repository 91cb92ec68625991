package domain

import (
	"context"
	"errors"
	"time"
)

// ErrReferenceTimeUnavailable is returned by a SimulationSource when a
// reference time cannot be retrieved. Callers skip that reference time.
var ErrReferenceTimeUnavailable = errors.New("reference time unavailable")

// ReferenceTimeLayout formats NWM reference times, e.g. "20210826T16Z".
const ReferenceTimeLayout = "20060102T15Z"

// SimulationSource retrieves one NWM simulation cycle.
type SimulationSource interface {
	FetchSimulation(ctx context.Context, referenceTime string) ([]RawValue, error)
}

// SiteSource retrieves site metadata for a batch of sites.
type SiteSource interface {
	FetchSites(ctx context.Context, siteIDs []string) ([]RawSite, error)
}

// PeakSource retrieves annual peak-flow history for a batch of sites.
type PeakSource interface {
	FetchPeaks(ctx context.Context, siteIDs []string) ([]RawPeak, error)
}

// ObservationSource retrieves observed time series for sites over a window.
type ObservationSource interface {
	FetchObservations(ctx context.Context, siteIDs []string, start, end time.Time) ([]RawValue, error)
}

// VulnerabilitySource retrieves SVI rows for a region (state abbreviation).
type VulnerabilitySource interface {
	FetchVulnerability(ctx context.Context, region, scale, year string) ([]RawVulnerability, error)
}

// ReferenceTimes lists one reference time per day from start to end
// inclusive, at the given UTC hour.
func ReferenceTimes(start, end time.Time, hour int) []string {
	first := time.Date(start.Year(), start.Month(), start.Day(), hour, 0, 0, 0, time.UTC)
	last := time.Date(end.Year(), end.Month(), end.Day(), hour, 0, 0, 0, time.UTC)

	var out []string
	for t := first; !t.After(last); t = t.AddDate(0, 0, 1) {
		out = append(out, t.Format(ReferenceTimeLayout))
	}
	return out
}
