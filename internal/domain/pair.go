package domain

import "math"

// Pair inner-joins simulated and observed hourly records on (site, hour) and
// attaches county context. Pairs with a negative or NaN value on either side
// are dropped. Missing site metadata or SVI leaves the context empty; the pair
// is kept. Output follows the order of sim.
func Pair(sim, obs []TimeSeriesRecord, sites []SiteMetadata, svi []VulnerabilityRecord) []PairedRecord {
	observed := make(map[seriesKey]float64, len(obs))
	for _, o := range obs {
		observed[seriesKey{site: o.SiteID, at: o.Timestamp.UnixNano()}] = o.Value
	}

	siteIndex := make(map[string]SiteMetadata, len(sites))
	for _, s := range sites {
		siteIndex[s.SiteID] = s
	}
	rankIndex := make(map[string]float64, len(svi))
	for _, v := range svi {
		rankIndex[v.FIPS] = v.Rank
	}

	out := make([]PairedRecord, 0, min(len(sim), len(obs)))
	for _, s := range sim {
		o, ok := observed[seriesKey{site: s.SiteID, at: s.Timestamp.UnixNano()}]
		if !ok {
			continue
		}
		if !validFlow(s.Value) || !validFlow(o) {
			continue
		}

		p := PairedRecord{
			SiteID:    s.SiteID,
			Timestamp: s.Timestamp,
			Simulated: s.Value,
			Observed:  o,
		}
		if meta, ok := siteIndex[s.SiteID]; ok {
			p.FIPS = meta.FIPS
			p.StateAbbreviation = meta.StateAbbreviation
		}
		if rank, ok := rankIndex[p.FIPS]; ok && p.FIPS != "" {
			p.VulnerabilityRank = &rank
		}
		out = append(out, p)
	}
	return out
}

func validFlow(v float64) bool {
	return !math.IsNaN(v) && v >= 0
}
