package domain

import (
	"context"
	"hash/fnv"
	"sort"

	"golang.org/x/sync/errgroup"
)

// DefaultPartitions is the default size of the contingency worker pool.
const DefaultPartitions = 4

type outcome struct {
	observed  bool
	simulated bool
}

// Total returns the number of classified records behind the table.
func (c ContingencyTable) Total() int64 {
	return c.TruePositive + c.FalsePositive + c.FalseNegative + c.TrueNegative
}

// WithScores returns a copy with POD, POFA and TS derived from the counts.
func (c ContingencyTable) WithScores() ContingencyTable {
	c.POD = ratio(c.TruePositive, c.TruePositive+c.FalseNegative)
	c.POFA = ratio(c.FalsePositive, c.FalsePositive+c.TruePositive)
	c.TS = ratio(c.TruePositive, c.TruePositive+c.FalsePositive+c.FalseNegative)
	return c
}

func ratio(num, den int64) *float64 {
	if den == 0 {
		return nil
	}
	v := float64(num) / float64(den)
	return &v
}

// countOutcomes builds the contingency table for one site's outcomes.
func countOutcomes(siteID string, outcomes []outcome) ContingencyTable {
	ct := ContingencyTable{SiteID: siteID}
	for _, o := range outcomes {
		switch {
		case o.observed && o.simulated:
			ct.TruePositive++
		case !o.observed && o.simulated:
			ct.FalsePositive++
		case o.observed && !o.simulated:
			ct.FalseNegative++
		default:
			ct.TrueNegative++
		}
	}
	return ct.WithScores()
}

// ComputeContingency partitions labeled records by site and counts outcomes
// on a fixed pool of partitions workers. Unlabeled records are ignored. The
// result has one row per labeled site, ordered by site id, independent of the
// partition count.
func ComputeContingency(ctx context.Context, records []LabeledRecord, partitions int) ([]ContingencyTable, error) {
	if partitions <= 0 {
		partitions = DefaultPartitions
	}

	bySite := make(map[string][]outcome)
	for _, r := range records {
		if !r.Labeled() {
			continue
		}
		bySite[r.SiteID] = append(bySite[r.SiteID], outcome{
			observed:  *r.ObservedExceeds,
			simulated: *r.SimulatedExceeds,
		})
	}

	assigned := make([][]string, partitions)
	for site := range bySite {
		p := partitionOf(site, partitions)
		assigned[p] = append(assigned[p], site)
	}

	results := make([][]ContingencyTable, partitions)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(partitions)
	for i, sites := range assigned {
		g.Go(func() error {
			rows := make([]ContingencyTable, 0, len(sites))
			for _, site := range sites {
				if err := gctx.Err(); err != nil {
					return err
				}
				rows = append(rows, countOutcomes(site, bySite[site]))
			}
			results[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make([]ContingencyTable, 0, len(bySite))
	for _, rows := range results {
		merged = append(merged, rows...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].SiteID < merged[j].SiteID })
	return merged, nil
}

func partitionOf(siteID string, partitions int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(siteID))
	return int(h.Sum32() % uint32(partitions))
}
