package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/flood-skill-eval/internal/cache"
	"github.com/couchcryptid/flood-skill-eval/internal/domain"
)

// Adapter names used as the source metric label.
const (
	sourceSimulation    = "nwm"
	sourceSites         = "nwis_site"
	sourcePeaks         = "nwis_peak"
	sourceObservations  = "nwis_iv"
	sourceVulnerability = "svi"
)

// stage wraps a cache lookup with timing and row-count metrics.
func (e *Evaluator) stage(ctx context.Context, key string, compute cache.ComputeFunc) (*cache.Table, error) {
	start := e.clock.Now()
	t, err := e.store.GetOrCompute(ctx, key, compute)
	e.metrics.StageDuration.WithLabelValues(key).Observe(e.clock.Since(start).Seconds())
	if err != nil {
		return nil, err
	}
	e.metrics.StageRecords.WithLabelValues(key).Set(float64(t.Len()))
	return t, nil
}

func (e *Evaluator) recordRequest(source string, err error) {
	outcome := "success"
	switch {
	case errors.Is(err, domain.ErrReferenceTimeUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "error"
	}
	e.metrics.AdapterRequests.WithLabelValues(source, outcome).Inc()
}

// simulation returns normalized simulated flows for every reference time in
// the window. Reference times that cannot be retrieved are skipped.
func (e *Evaluator) simulation(ctx context.Context) ([]domain.TimeSeriesRecord, error) {
	t, err := e.stage(ctx, cache.KeySim, func(ctx context.Context) (*cache.Table, error) {
		var all []domain.RawValue
		for _, rt := range domain.ReferenceTimes(e.opts.Start, e.opts.End, e.opts.ReferenceHour) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := e.sources.Simulation.FetchSimulation(ctx, rt)
			e.recordRequest(sourceSimulation, err)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				level := slog.LevelError
				if errors.Is(err, domain.ErrReferenceTimeUnavailable) {
					level = slog.LevelWarn
				}
				e.logger.Log(ctx, level, "simulation retrieval failed, skipping reference time",
					"reference_time", rt,
					"error", err,
				)
				continue
			}
			e.logger.Debug("simulation retrieved", "reference_time", rt, "rows", len(rows))
			all = append(all, rows...)
		}
		if len(all) == 0 {
			e.logger.Warn("no simulation data retrieved for any reference time")
		}
		return RawValuesTable(all), nil
	})
	if err != nil {
		return nil, err
	}
	raw, err := RawValuesFromTable(t)
	if err != nil {
		return nil, err
	}
	return domain.NormalizeSimulation(raw), nil
}

// siteData returns metadata for siteIDs, retrieved in chunks with a
// single-site re-attempt for missing sites.
func (e *Evaluator) siteData(ctx context.Context, siteIDs []string) ([]domain.SiteMetadata, error) {
	t, err := e.stage(ctx, cache.KeySiteData, func(ctx context.Context) (*cache.Table, error) {
		fetch := func(ctx context.Context, ids []string) ([]domain.RawSite, error) {
			rows, err := e.sources.Sites.FetchSites(ctx, ids)
			e.recordRequest(sourceSites, err)
			return rows, err
		}
		raw, err := domain.FetchChunked(ctx, siteIDs, e.opts.SiteChunkSize, fetch,
			func(r domain.RawSite) string { return r.SiteID },
			e.logger.With("stage", cache.KeySiteData),
		)
		if err != nil {
			return nil, err
		}
		return RawSitesTable(raw), nil
	})
	if err != nil {
		return nil, err
	}
	raw, err := RawSitesFromTable(t)
	if err != nil {
		return nil, err
	}
	return domain.NormalizeSites(raw), nil
}

// annualPeaks returns cleaned annual peaks for siteIDs.
func (e *Evaluator) annualPeaks(ctx context.Context, siteIDs []string) ([]domain.Peak, error) {
	t, err := e.stage(ctx, cache.KeyAnnualPeaks, func(ctx context.Context) (*cache.Table, error) {
		fetch := func(ctx context.Context, ids []string) ([]domain.RawPeak, error) {
			rows, err := e.sources.Peaks.FetchPeaks(ctx, ids)
			e.recordRequest(sourcePeaks, err)
			return rows, err
		}
		raw, err := domain.FetchChunked(ctx, siteIDs, e.opts.SiteChunkSize, fetch,
			func(r domain.RawPeak) string { return r.SiteID },
			e.logger.With("stage", cache.KeyAnnualPeaks),
		)
		if err != nil {
			return nil, err
		}
		return RawPeaksTable(raw), nil
	})
	if err != nil {
		return nil, err
	}
	raw, err := RawPeaksFromTable(t)
	if err != nil {
		return nil, err
	}
	peaks := domain.CleanPeaks(raw)
	if dropped := len(raw) - len(peaks); dropped > 0 {
		e.logger.Debug("dropped unparseable annual peaks", "dropped", dropped, "kept", len(peaks))
	}
	return peaks, nil
}

// observations returns normalized observed flows for siteIDs. Failed batches
// are logged and their sites left without observations.
func (e *Evaluator) observations(ctx context.Context, siteIDs []string) ([]domain.TimeSeriesRecord, error) {
	t, err := e.stage(ctx, cache.KeyObs, func(ctx context.Context) (*cache.Table, error) {
		var all []domain.RawValue
		for i, batch := range domain.Batches(siteIDs, e.opts.SiteChunkSize) {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := e.sources.Observations.FetchObservations(ctx, batch, e.opts.Start, e.opts.End)
			e.recordRequest(sourceObservations, err)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.logger.Error("observation retrieval failed, skipping batch",
					"batch", i,
					"sites", len(batch),
					"error", err,
				)
				continue
			}
			all = append(all, rows...)
		}
		return RawValuesTable(all), nil
	})
	if err != nil {
		return nil, err
	}
	raw, err := RawValuesFromTable(t)
	if err != nil {
		return nil, err
	}
	return domain.NormalizeObservations(raw), nil
}

// vulnerability returns county SVI records for the given states. States whose
// retrieval fails are skipped.
func (e *Evaluator) vulnerability(ctx context.Context, states []string) ([]domain.VulnerabilityRecord, error) {
	t, err := e.stage(ctx, cache.KeySVI, func(ctx context.Context) (*cache.Table, error) {
		var all []domain.RawVulnerability
		for _, state := range states {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rows, err := e.sources.Vulnerability.FetchVulnerability(ctx, state, e.opts.SVIScale, e.opts.SVIYear)
			e.recordRequest(sourceVulnerability, err)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				e.logger.Error("vulnerability retrieval failed, skipping state", "state", state, "error", err)
				continue
			}
			all = append(all, rows...)
		}
		return RawVulnerabilityTable(all), nil
	})
	if err != nil {
		return nil, err
	}
	raw, err := RawVulnerabilityFromTable(t)
	if err != nil {
		return nil, err
	}
	return domain.NormalizeVulnerability(raw), nil
}

// pairs returns the joined simulation/observation records with county
// context. Its inputs are only loaded on a miss.
func (e *Evaluator) pairs(ctx context.Context) ([]domain.PairedRecord, error) {
	t, err := e.stage(ctx, cache.KeyPairs, func(ctx context.Context) (*cache.Table, error) {
		sim, err := e.simulation(ctx)
		if err != nil {
			return nil, err
		}
		siteIDs := domain.SiteIDs(sim)

		sites, err := e.siteData(ctx, siteIDs)
		if err != nil {
			return nil, err
		}
		obs, err := e.observations(ctx, siteIDs)
		if err != nil {
			return nil, err
		}
		svi, err := e.vulnerability(ctx, domain.StateAbbreviations(sites))
		if err != nil {
			return nil, err
		}

		pairs := domain.Pair(sim, obs, sites, svi)
		e.logger.Info("pairing complete",
			"simulated", len(sim),
			"observed", len(obs),
			"pairs", len(pairs),
		)
		return PairsTable(pairs), nil
	})
	if err != nil {
		return nil, err
	}
	return PairsFromTable(t)
}

// evaluation returns one contingency table per site with a flood threshold.
func (e *Evaluator) evaluation(ctx context.Context, pairs []domain.PairedRecord) ([]domain.ContingencyTable, error) {
	t, err := e.stage(ctx, cache.KeyEvaluation, func(ctx context.Context) (*cache.Table, error) {
		peaks, err := e.annualPeaks(ctx, domain.PairedSiteIDs(pairs))
		if err != nil {
			return nil, err
		}
		thresholds := domain.ComputeThresholds(peaks, e.opts.ThresholdQuantile)
		labeled := domain.Classify(pairs, thresholds)

		tables, err := domain.ComputeContingency(ctx, labeled, e.opts.Partitions)
		if err != nil {
			return nil, err
		}
		e.logger.Info("contingency tables computed",
			"thresholds", len(thresholds),
			"sites", len(tables),
		)
		return ContingencyTable(tables), nil
	})
	if err != nil {
		return nil, err
	}
	return ContingencyFromTable(t)
}
