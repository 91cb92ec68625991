package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func simRecord(site string, at time.Time, v float64) TimeSeriesRecord {
	return TimeSeriesRecord{SiteID: site, Timestamp: at, Value: v, Channel: ChannelSimulated}
}

func obsRecord(site string, at time.Time, v float64) TimeSeriesRecord {
	return TimeSeriesRecord{SiteID: site, Timestamp: at, Value: v, Channel: ChannelObserved}
}

func TestPair_JoinsOnSiteAndHour(t *testing.T) {
	sim := []TimeSeriesRecord{
		simRecord(testSiteA, testHour, 10.0),
		simRecord(testSiteA, testHour.Add(time.Hour), 11.0),
	}
	obs := []TimeSeriesRecord{
		obsRecord(testSiteA, testHour, 12.0),
	}

	pairs := Pair(sim, obs, nil, nil)

	require.Len(t, pairs, 1, "hour present only in simulation must not pair")
	assert.Equal(t, testSiteA, pairs[0].SiteID)
	assert.Equal(t, testHour, pairs[0].Timestamp)
	assert.Equal(t, 10.0, pairs[0].Simulated)
	assert.Equal(t, 12.0, pairs[0].Observed)
}

func TestPair_DropsNegativeValues(t *testing.T) {
	sim := []TimeSeriesRecord{
		simRecord(testSiteA, testHour, -1.0),
		simRecord(testSiteA, testHour.Add(time.Hour), 5.0),
		simRecord(testSiteA, testHour.Add(2*time.Hour), 0.0),
	}
	obs := []TimeSeriesRecord{
		obsRecord(testSiteA, testHour, 3.0),
		obsRecord(testSiteA, testHour.Add(time.Hour), -999999),
		obsRecord(testSiteA, testHour.Add(2*time.Hour), 0.0),
	}

	pairs := Pair(sim, obs, nil, nil)

	require.Len(t, pairs, 1)
	assert.Equal(t, testHour.Add(2*time.Hour), pairs[0].Timestamp)
}

func TestPair_AttachesContext(t *testing.T) {
	sim := []TimeSeriesRecord{
		simRecord(testSiteA, testHour, 1),
		simRecord(testSiteB, testHour, 1),
		simRecord("09999999", testHour, 1),
	}
	obs := []TimeSeriesRecord{
		obsRecord(testSiteA, testHour, 1),
		obsRecord(testSiteB, testHour, 1),
		obsRecord("09999999", testHour, 1),
	}
	sites := []SiteMetadata{
		{SiteID: testSiteA, FIPS: "24031", StateAbbreviation: "MD"},
		{SiteID: testSiteB, FIPS: "51013", StateAbbreviation: "VA"},
	}
	svi := []VulnerabilityRecord{{FIPS: "24031", Rank: 0.4, Theme: "svi"}}

	pairs := Pair(sim, obs, sites, svi)

	require.Len(t, pairs, 3, "missing context must not drop records")

	assert.Equal(t, "24031", pairs[0].FIPS)
	assert.Equal(t, "MD", pairs[0].StateAbbreviation)
	require.NotNil(t, pairs[0].VulnerabilityRank)
	assert.Equal(t, 0.4, *pairs[0].VulnerabilityRank)

	assert.Equal(t, "51013", pairs[1].FIPS)
	assert.Nil(t, pairs[1].VulnerabilityRank)

	assert.Empty(t, pairs[2].FIPS)
	assert.Empty(t, pairs[2].StateAbbreviation)
	assert.Nil(t, pairs[2].VulnerabilityRank)
}

func TestPair_RankPointersAreIndependent(t *testing.T) {
	sim := []TimeSeriesRecord{simRecord(testSiteA, testHour, 1), simRecord(testSiteB, testHour, 1)}
	obs := []TimeSeriesRecord{obsRecord(testSiteA, testHour, 1), obsRecord(testSiteB, testHour, 1)}
	sites := []SiteMetadata{{SiteID: testSiteA, FIPS: "24031"}, {SiteID: testSiteB, FIPS: "51013"}}
	svi := []VulnerabilityRecord{{FIPS: "24031", Rank: 0.1}, {FIPS: "51013", Rank: 0.9}}

	pairs := Pair(sim, obs, sites, svi)

	require.Len(t, pairs, 2)
	assert.Equal(t, 0.1, *pairs[0].VulnerabilityRank)
	assert.Equal(t, 0.9, *pairs[1].VulnerabilityRank)
}
