package domain

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultThresholdQuantile is the annual-peak quantile used as flood threshold.
const DefaultThresholdQuantile = 0.333

const peakDateLayout = "2006-01-02"

// CleanPeaks coerces raw peak rows. Rows whose value or date does not parse
// are dropped; NWIS partial dates such as "1936-03-00" do not parse.
func CleanPeaks(raw []RawPeak) []Peak {
	out := make([]Peak, 0, len(raw))
	for _, r := range raw {
		value, err := strconv.ParseFloat(strings.TrimSpace(r.PeakValue), 64)
		if err != nil || math.IsNaN(value) {
			continue
		}
		date, err := time.Parse(peakDateLayout, strings.TrimSpace(r.PeakDate))
		if err != nil {
			continue
		}
		out = append(out, Peak{SiteID: r.SiteID, Date: date, Value: value})
	}
	return out
}

// Quantile returns the q-quantile of values using linear interpolation
// between order statistics at rank (n-1)*q. It reports false for empty input.
func Quantile(values []float64, q float64) (float64, bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	if q <= 0 {
		return sorted[0], true
	}
	if q >= 1 {
		return sorted[len(sorted)-1], true
	}

	index := q * float64(len(sorted)-1)
	lower := int(math.Floor(index))
	upper := int(math.Ceil(index))
	if lower == upper {
		return sorted[lower], true
	}
	weight := index - float64(lower)
	return sorted[lower] + (sorted[upper]-sorted[lower])*weight, true
}

// ComputeThresholds derives one threshold per site with peak history,
// ordered by site id.
func ComputeThresholds(peaks []Peak, q float64) []Threshold {
	bySite := make(map[string][]float64)
	for _, p := range peaks {
		bySite[p.SiteID] = append(bySite[p.SiteID], p.Value)
	}

	out := make([]Threshold, 0, len(bySite))
	for site, values := range bySite {
		if v, ok := Quantile(values, q); ok {
			out = append(out, Threshold{SiteID: site, Value: v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SiteID < out[j].SiteID })
	return out
}

// Classify labels each pair against its site threshold (value >= threshold is
// a flood). Pairs for sites without a threshold keep nil labels.
func Classify(pairs []PairedRecord, thresholds []Threshold) []LabeledRecord {
	index := make(map[string]float64, len(thresholds))
	for _, t := range thresholds {
		index[t.SiteID] = t.Value
	}

	out := make([]LabeledRecord, len(pairs))
	for i, p := range pairs {
		out[i] = LabeledRecord{PairedRecord: p}
		threshold, ok := index[p.SiteID]
		if !ok {
			continue
		}
		obs := p.Observed >= threshold
		sim := p.Simulated >= threshold
		out[i].Threshold = &threshold
		out[i].ObservedExceeds = &obs
		out[i].SimulatedExceeds = &sim
	}
	return out
}
