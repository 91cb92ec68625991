package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

func TestAggregateByCounty(t *testing.T) {
	pairs := []PairedRecord{
		{SiteID: "01000001", FIPS: "24031", StateAbbreviation: "MD", VulnerabilityRank: ptr(0.4)},
		{SiteID: "01000002", FIPS: "24031", StateAbbreviation: "MD", VulnerabilityRank: ptr(0.4)},
		{SiteID: "01000003", FIPS: "51013", StateAbbreviation: "VA"},
		{SiteID: "01000004"},
	}
	tables := []ContingencyTable{
		{SiteID: "01000001", POD: ptr(1.0), POFA: ptr(0.2), TS: ptr(0.6)},
		{SiteID: "01000002", POD: ptr(0.5), POFA: nil, TS: ptr(0.8)},
		{SiteID: "01000003", POD: ptr(1.0), TS: ptr(1.0)},
		{SiteID: "01000004", POD: ptr(1.0), TS: ptr(1.0)},
	}

	counties := AggregateByCounty(tables, pairs)

	require.Len(t, counties, 1, "sites without FIPS or rank are excluded")
	c := counties[0]
	assert.Equal(t, "24031", c.FIPS)
	assert.Equal(t, "MD", c.StateAbbreviation)
	assert.Equal(t, 2, c.Sites)
	assert.InDelta(t, 0.4, c.VulnerabilityRank, 1e-12)
	assert.InDelta(t, 0.7, *c.TS, 1e-12)
	assert.InDelta(t, 0.75, *c.POD, 1e-12)
	assert.InDelta(t, 0.2, *c.POFA, 1e-12, "undefined scores are skipped in the mean")
}

func TestAggregateByCounty_AllScoresUndefined(t *testing.T) {
	pairs := []PairedRecord{{SiteID: testSiteA, FIPS: "24031", VulnerabilityRank: ptr(0.1)}}
	tables := []ContingencyTable{{SiteID: testSiteA, TrueNegative: 10}}

	counties := AggregateByCounty(tables, pairs)

	require.Len(t, counties, 1)
	assert.Nil(t, counties[0].POD)
	assert.Nil(t, counties[0].POFA)
	assert.Nil(t, counties[0].TS)
}

func TestAggregateByCounty_OrderedByFIPS(t *testing.T) {
	pairs := []PairedRecord{
		{SiteID: testSiteA, FIPS: "51013", VulnerabilityRank: ptr(0.1)},
		{SiteID: testSiteB, FIPS: "24031", VulnerabilityRank: ptr(0.2)},
	}
	tables := []ContingencyTable{{SiteID: testSiteA}, {SiteID: testSiteB}}

	counties := AggregateByCounty(tables, pairs)

	require.Len(t, counties, 2)
	assert.Equal(t, "24031", counties[0].FIPS)
	assert.Equal(t, "51013", counties[1].FIPS)
}

func TestComputeCoverage(t *testing.T) {
	pairs := []PairedRecord{
		{SiteID: testSiteA, FIPS: "24031", VulnerabilityRank: ptr(0.4)},
		{SiteID: testSiteA, FIPS: "24031", VulnerabilityRank: ptr(0.4)},
		{SiteID: testSiteB, FIPS: "51013"},
	}
	svi := []VulnerabilityRecord{
		{FIPS: "24031", Rank: 0.4},
		{FIPS: "51013", Rank: 0.7},
		{FIPS: "24033", Rank: 0.9},
		{FIPS: "24035", Rank: 0.1},
	}

	cov := ComputeCoverage(pairs, svi)

	assert.Equal(t, []float64{0.4}, cov.GagedSiteRanks)
	assert.Equal(t, 2, cov.GagedCounties)
	assert.Equal(t, 2, cov.UngagedCounties)
	assert.Equal(t, []float64{0.9, 0.1}, cov.UngagedCountyRanks)
}

func TestComputeCoverage_Empty(t *testing.T) {
	cov := ComputeCoverage(nil, nil)
	assert.NotNil(t, cov.GagedSiteRanks)
	assert.NotNil(t, cov.UngagedCountyRanks)
	assert.Zero(t, cov.GagedCounties)
}
