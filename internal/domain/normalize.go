package domain

import (
	"math"
	"sort"
	"time"
)

// cubicMetersPerCubicFoot is 0.3048³. Dividing m³/s by it yields ft³/s.
const cubicMetersPerCubicFoot = 0.3048 * 0.3048 * 0.3048

// IsGaugeID reports whether id is a USGS stream gauge id (digits only).
func IsGaugeID(id string) bool {
	if id == "" {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// NormalizeSimulation restricts raw simulation rows to stream gauges,
// deduplicates and buckets them hourly, and converts m³/s to ft³/s.
func NormalizeSimulation(raw []RawValue) []TimeSeriesRecord {
	gauges := make([]RawValue, 0, len(raw))
	for _, r := range raw {
		if IsGaugeID(r.SiteID) {
			gauges = append(gauges, r)
		}
	}

	out := normalizeSeries(gauges, ChannelSimulated)
	for i := range out {
		out[i].Value /= cubicMetersPerCubicFoot
	}
	return out
}

// NormalizeObservations deduplicates and buckets raw observations hourly.
// Values keep their provider units (ft³/s).
func NormalizeObservations(raw []RawValue) []TimeSeriesRecord {
	return normalizeSeries(raw, ChannelObserved)
}

type seriesKey struct {
	site string
	at   int64
}

// normalizeSeries keeps the first row per exact (site, timestamp), then the
// first non-NaN value per (site, hour). Buckets without a usable value are
// omitted. Output is ordered by site, then hour.
func normalizeSeries(raw []RawValue, ch Channel) []TimeSeriesRecord {
	seen := make(map[seriesKey]struct{}, len(raw))
	buckets := make(map[seriesKey]int, len(raw))
	out := make([]TimeSeriesRecord, 0, len(raw))

	for _, r := range raw {
		exact := seriesKey{site: r.SiteID, at: r.Timestamp.UnixNano()}
		if _, dup := seen[exact]; dup {
			continue
		}
		seen[exact] = struct{}{}

		if math.IsNaN(r.Value) {
			continue
		}
		hour := r.Timestamp.UTC().Truncate(time.Hour)
		bucket := seriesKey{site: r.SiteID, at: hour.UnixNano()}
		if _, ok := buckets[bucket]; ok {
			continue
		}
		buckets[bucket] = len(out)
		out = append(out, TimeSeriesRecord{
			SiteID:    r.SiteID,
			Timestamp: hour,
			Value:     r.Value,
			Channel:   ch,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SiteID != out[j].SiteID {
			return out[i].SiteID < out[j].SiteID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// NormalizeSites builds site metadata from raw rows. Non-gauge ids are
// excluded and the first row per site wins. FIPS is empty unless both state
// and county codes are present.
func NormalizeSites(raw []RawSite) []SiteMetadata {
	seen := make(map[string]struct{}, len(raw))
	out := make([]SiteMetadata, 0, len(raw))
	for _, r := range raw {
		if !IsGaugeID(r.SiteID) {
			continue
		}
		if _, dup := seen[r.SiteID]; dup {
			continue
		}
		seen[r.SiteID] = struct{}{}

		site := SiteMetadata{
			SiteID:            r.SiteID,
			StateAbbreviation: StateAbbreviation(r.StateCode),
		}
		if r.StateCode != "" && r.CountyCode != "" {
			site.FIPS = r.StateCode + r.CountyCode
		}
		out = append(out, site)
	}
	return out
}

// NormalizeVulnerability keeps overall SVI rows ("svi" theme) with a valid
// rank, one per county (first wins).
func NormalizeVulnerability(raw []RawVulnerability) []VulnerabilityRecord {
	seen := make(map[string]struct{}, len(raw))
	out := make([]VulnerabilityRecord, 0, len(raw))
	for _, r := range raw {
		if r.Theme != "svi" || r.FIPS == "" {
			continue
		}
		if math.IsNaN(r.Rank) || r.Rank < 0 {
			continue
		}
		if _, dup := seen[r.FIPS]; dup {
			continue
		}
		seen[r.FIPS] = struct{}{}
		out = append(out, VulnerabilityRecord(r))
	}
	return out
}

// SiteIDs returns the distinct site ids of records in first-seen order.
func SiteIDs(records []TimeSeriesRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, r := range records {
		if _, ok := seen[r.SiteID]; ok {
			continue
		}
		seen[r.SiteID] = struct{}{}
		out = append(out, r.SiteID)
	}
	return out
}

// PairedSiteIDs returns the distinct site ids of paired records in first-seen order.
func PairedSiteIDs(pairs []PairedRecord) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range pairs {
		if _, ok := seen[p.SiteID]; ok {
			continue
		}
		seen[p.SiteID] = struct{}{}
		out = append(out, p.SiteID)
	}
	return out
}

// StateAbbreviations returns the sorted distinct non-empty state abbreviations.
func StateAbbreviations(sites []SiteMetadata) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range sites {
		if s.StateAbbreviation == "" {
			continue
		}
		if _, ok := seen[s.StateAbbreviation]; ok {
			continue
		}
		seen[s.StateAbbreviation] = struct{}{}
		out = append(out, s.StateAbbreviation)
	}
	sort.Strings(out)
	return out
}
