package domain

import "sort"

// SiteContext returns the first paired record of each site, which carries the
// site's county and vulnerability context.
func SiteContext(pairs []PairedRecord) map[string]PairedRecord {
	out := make(map[string]PairedRecord)
	for _, p := range pairs {
		if _, ok := out[p.SiteID]; !ok {
			out[p.SiteID] = p
		}
	}
	return out
}

type countyAccumulator struct {
	state string
	sites int
	rank  mean
	pod   mean
	pofa  mean
	ts    mean
}

type mean struct {
	sum float64
	n   int
}

func (m *mean) add(v *float64) {
	if v == nil {
		return
	}
	m.sum += *v
	m.n++
}

func (m mean) value() *float64 {
	if m.n == 0 {
		return nil
	}
	v := m.sum / float64(m.n)
	return &v
}

// AggregateByCounty averages site scores per county. Sites lacking a FIPS code
// or vulnerability rank are excluded. Each score is averaged over the sites
// where it is defined and stays nil when no site defines it. Output is ordered
// by FIPS.
func AggregateByCounty(tables []ContingencyTable, pairs []PairedRecord) []CountyScore {
	bySite := SiteContext(pairs)

	counties := make(map[string]*countyAccumulator)
	for _, t := range tables {
		site, ok := bySite[t.SiteID]
		if !ok || site.FIPS == "" || site.VulnerabilityRank == nil {
			continue
		}
		acc, ok := counties[site.FIPS]
		if !ok {
			acc = &countyAccumulator{state: site.StateAbbreviation}
			counties[site.FIPS] = acc
		}
		acc.sites++
		acc.rank.add(site.VulnerabilityRank)
		acc.pod.add(t.POD)
		acc.pofa.add(t.POFA)
		acc.ts.add(t.TS)
	}

	out := make([]CountyScore, 0, len(counties))
	for fips, acc := range counties {
		out = append(out, CountyScore{
			FIPS:              fips,
			StateAbbreviation: acc.state,
			Sites:             acc.sites,
			VulnerabilityRank: *acc.rank.value(),
			POD:               acc.pod.value(),
			POFA:              acc.pofa.value(),
			TS:                acc.ts.value(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FIPS < out[j].FIPS })
	return out
}

// ComputeCoverage reports the vulnerability ranks of gauged sites and of
// counties that have no paired gauge.
func ComputeCoverage(pairs []PairedRecord, svi []VulnerabilityRecord) Coverage {
	bySite := SiteContext(pairs)
	sites := make([]string, 0, len(bySite))
	for id := range bySite {
		sites = append(sites, id)
	}
	sort.Strings(sites)

	cov := Coverage{
		GagedSiteRanks:     []float64{},
		UngagedCountyRanks: []float64{},
	}
	gaged := make(map[string]struct{})
	for _, id := range sites {
		p := bySite[id]
		if p.FIPS != "" {
			gaged[p.FIPS] = struct{}{}
		}
		if p.VulnerabilityRank != nil && *p.VulnerabilityRank >= 0 {
			cov.GagedSiteRanks = append(cov.GagedSiteRanks, *p.VulnerabilityRank)
		}
	}

	for _, v := range svi {
		if _, ok := gaged[v.FIPS]; ok {
			cov.GagedCounties++
			continue
		}
		if v.Rank < 0 {
			continue
		}
		cov.UngagedCounties++
		cov.UngagedCountyRanks = append(cov.UngagedCountyRanks, v.Rank)
	}
	return cov
}
