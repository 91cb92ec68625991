// Package domain models streamflow evaluation data: National Water Model (NWM)
// simulations paired with USGS gauge observations, and the categorical flood
// skill scores derived from them.
//
// # Data Sources
//
// Simulations come from NWM analysis cycles identified by a reference time.
// Observations are USGS NWIS instantaneous values (parameter 00060, discharge).
// Site metadata and annual peak flows come from the NWIS site and peak
// services. County vulnerability comes from the CDC/ATSDR Social Vulnerability
// Index (SVI).
//
// # Conventions
//
// Site identifiers:
//
//	USGS stream gauges use all-digit ids, e.g. "01646500". NWM routing links
//	also carry lake and reservoir codes containing letters; those are not
//	stream gauges and are excluded during normalization. See [IsGaugeID].
//
// Reference times:
//
//	"20060102T15Z", e.g. "20210826T16Z". One simulation per reference time.
//
// Units:
//
//	NWM reports discharge in cubic meters per second. Values are converted
//	to cubic feet per second (divide by 0.3048³) to match NWIS.
//
// County codes:
//
//	FIPS = two-digit state code + three-digit county code, e.g. "24" + "031".
//	State codes map to USPS abbreviations through [StateAbbreviation].
//
// SVI ranks:
//
//	Percentile ranks in [0,1]. The provider uses -999 for "no data"; such
//	rows are discarded during normalization.
//
// # Flood Threshold
//
// A site's flood threshold is the 0.333 quantile of its annual peak-flow
// history (linear interpolation between order statistics). A value is a
// flood when value >= threshold.
//
// # Skill Scores
//
//	POD  = tp / (tp + fn)        probability of detection
//	POFA = fp / (fp + tp)        probability of false alarm
//	TS   = tp / (tp + fp + fn)   threat score (critical success index)
//
// A score is nil when its denominator is zero.
package domain
