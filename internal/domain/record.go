package domain

import "time"

// Channel distinguishes the two time series being compared.
type Channel string

const (
	ChannelSimulated Channel = "simulated"
	ChannelObserved  Channel = "observed"
)

// RawValue is a single provider time-series sample before normalization.
// Simulation and observation sources both produce it.
type RawValue struct {
	SiteID    string
	Timestamp time.Time
	Value     float64
}

// RawSite is a row from the site metadata service.
type RawSite struct {
	SiteID     string
	StateCode  string // two-digit state FIPS code, e.g. "24"
	CountyCode string // three-digit county FIPS code, e.g. "031"
}

// RawPeak is a row from the annual peak-flow service. Date and value are kept
// as provider strings; coercion happens in [CleanPeaks].
type RawPeak struct {
	SiteID    string
	PeakDate  string
	PeakValue string
}

// RawVulnerability is one (county, theme) row from the SVI provider.
type RawVulnerability struct {
	FIPS  string
	Rank  float64
	Value float64
	Theme string
}

// TimeSeriesRecord is a normalized hourly sample.
type TimeSeriesRecord struct {
	SiteID    string
	Timestamp time.Time
	Value     float64
	Channel   Channel
}

// SiteMetadata carries the geographic context of a gauge.
type SiteMetadata struct {
	SiteID            string
	FIPS              string
	StateAbbreviation string
}

// VulnerabilityRecord is a county SVI score.
type VulnerabilityRecord struct {
	FIPS  string
	Rank  float64
	Value float64
	Theme string
}

// Peak is a cleaned annual peak-flow observation.
type Peak struct {
	SiteID string
	Date   time.Time
	Value  float64
}

// PairedRecord joins one simulated and one observed value for a site and hour.
// Empty FIPS or StateAbbreviation and a nil VulnerabilityRank mean the context
// was unavailable.
type PairedRecord struct {
	SiteID            string    `json:"site_id"`
	Timestamp         time.Time `json:"timestamp"`
	Simulated         float64   `json:"simulated"`
	Observed          float64   `json:"observed"`
	FIPS              string    `json:"fips,omitempty"`
	StateAbbreviation string    `json:"state,omitempty"`
	VulnerabilityRank *float64  `json:"svi,omitempty"`
}

// Threshold is the flood threshold for one site.
type Threshold struct {
	SiteID string
	Value  float64
}

// LabeledRecord is a PairedRecord classified against its site threshold.
// The labels are nil when the site has no threshold.
type LabeledRecord struct {
	PairedRecord
	Threshold        *float64
	ObservedExceeds  *bool
	SimulatedExceeds *bool
}

// Labeled reports whether both channels carry a flood label.
func (r LabeledRecord) Labeled() bool {
	return r.ObservedExceeds != nil && r.SimulatedExceeds != nil
}

// ContingencyTable holds the 2x2 outcome counts and derived scores for a site.
type ContingencyTable struct {
	SiteID        string   `json:"site_id"`
	TruePositive  int64    `json:"true_positive"`
	FalsePositive int64    `json:"false_positive"`
	FalseNegative int64    `json:"false_negative"`
	TrueNegative  int64    `json:"true_negative"`
	POD           *float64 `json:"pod"`
	POFA          *float64 `json:"pofa"`
	TS            *float64 `json:"ts"`
}

// CountyScore is the mean of site scores within a county.
type CountyScore struct {
	FIPS              string   `json:"fips"`
	StateAbbreviation string   `json:"state,omitempty"`
	Sites             int      `json:"sites"`
	VulnerabilityRank float64  `json:"svi"`
	POD               *float64 `json:"pod"`
	POFA              *float64 `json:"pofa"`
	TS                *float64 `json:"ts"`
}

// Coverage describes how gauges are distributed over county vulnerability.
type Coverage struct {
	GagedSiteRanks     []float64 `json:"gaged_site_ranks"`
	UngagedCountyRanks []float64 `json:"ungaged_county_ranks"`
	GagedCounties      int       `json:"gaged_counties"`
	UngagedCounties    int       `json:"ungaged_counties"`
}

// Evaluation is the complete output of one evaluation run.
type Evaluation struct {
	Sites       []ContingencyTable `json:"sites"`
	Counties    []CountyScore      `json:"counties"`
	Coverage    Coverage           `json:"coverage"`
	EvaluatedAt time.Time          `json:"evaluated_at"`
}
