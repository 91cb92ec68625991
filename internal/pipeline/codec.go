package pipeline

import (
	"github.com/couchcryptid/flood-skill-eval/internal/cache"
	"github.com/couchcryptid/flood-skill-eval/internal/domain"
)

// Table schemas of the cached stages. Provider stages hold raw rows so that
// normalization is re-applied on every load.
var (
	rawValueFields = []cache.Field{
		{Name: "site_id", Type: cache.FieldString},
		{Name: "value_time", Type: cache.FieldTime},
		{Name: "value", Type: cache.FieldFloat},
	}
	rawSiteFields = []cache.Field{
		{Name: "site_no", Type: cache.FieldString},
		{Name: "state_cd", Type: cache.FieldString},
		{Name: "county_cd", Type: cache.FieldString},
	}
	rawPeakFields = []cache.Field{
		{Name: "site_no", Type: cache.FieldString},
		{Name: "peak_dt", Type: cache.FieldString},
		{Name: "peak_va", Type: cache.FieldString},
	}
	rawVulnerabilityFields = []cache.Field{
		{Name: "fips", Type: cache.FieldString},
		{Name: "rank", Type: cache.FieldFloat},
		{Name: "value", Type: cache.FieldFloat},
		{Name: "theme", Type: cache.FieldString},
	}
	pairFields = []cache.Field{
		{Name: "site_id", Type: cache.FieldString},
		{Name: "value_time", Type: cache.FieldTime},
		{Name: "sim", Type: cache.FieldFloat},
		{Name: "obs", Type: cache.FieldFloat},
		{Name: "fips", Type: cache.FieldString},
		{Name: "state_ab", Type: cache.FieldString},
		{Name: "svi", Type: cache.FieldFloat},
	}
	contingencyFields = []cache.Field{
		{Name: "site_id", Type: cache.FieldString},
		{Name: "true_positive", Type: cache.FieldInt},
		{Name: "false_positive", Type: cache.FieldInt},
		{Name: "false_negative", Type: cache.FieldInt},
		{Name: "true_negative", Type: cache.FieldInt},
		{Name: "pod", Type: cache.FieldFloat},
		{Name: "pofa", Type: cache.FieldFloat},
		{Name: "ts", Type: cache.FieldFloat},
	}
)

// decodeRows resolves the named columns of t and calls fn with each row
// reordered to match names.
func decodeRows(t *cache.Table, names []string, fn func(cells []any)) error {
	idx, err := t.Columns(names...)
	if err != nil {
		return err
	}
	cells := make([]any, len(idx))
	for _, row := range t.Rows {
		for i, j := range idx {
			cells[i] = row[j]
		}
		fn(cells)
	}
	return nil
}

func fieldNames(fields []cache.Field) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}

// RawValuesTable encodes provider time-series samples.
func RawValuesTable(values []domain.RawValue) *cache.Table {
	t := cache.NewTable(rawValueFields...)
	for _, v := range values {
		t.Append(v.SiteID, v.Timestamp.UTC(), v.Value)
	}
	return t
}

// RawValuesFromTable decodes provider time-series samples. A null value
// decodes as NaN.
func RawValuesFromTable(t *cache.Table) ([]domain.RawValue, error) {
	out := make([]domain.RawValue, 0, t.Len())
	err := decodeRows(t, fieldNames(rawValueFields), func(c []any) {
		out = append(out, domain.RawValue{
			SiteID:    cache.String(c[0]),
			Timestamp: cache.Time(c[1]),
			Value:     cache.Float(c[2]),
		})
	})
	return out, err
}

// RawSitesTable encodes site metadata rows.
func RawSitesTable(sites []domain.RawSite) *cache.Table {
	t := cache.NewTable(rawSiteFields...)
	for _, s := range sites {
		t.Append(s.SiteID, cache.NullString(s.StateCode), cache.NullString(s.CountyCode))
	}
	return t
}

// RawSitesFromTable decodes site metadata rows.
func RawSitesFromTable(t *cache.Table) ([]domain.RawSite, error) {
	out := make([]domain.RawSite, 0, t.Len())
	err := decodeRows(t, fieldNames(rawSiteFields), func(c []any) {
		out = append(out, domain.RawSite{
			SiteID:     cache.String(c[0]),
			StateCode:  cache.String(c[1]),
			CountyCode: cache.String(c[2]),
		})
	})
	return out, err
}

// RawPeaksTable encodes annual peak rows as provider strings.
func RawPeaksTable(peaks []domain.RawPeak) *cache.Table {
	t := cache.NewTable(rawPeakFields...)
	for _, p := range peaks {
		t.Append(p.SiteID, p.PeakDate, p.PeakValue)
	}
	return t
}

// RawPeaksFromTable decodes annual peak rows.
func RawPeaksFromTable(t *cache.Table) ([]domain.RawPeak, error) {
	out := make([]domain.RawPeak, 0, t.Len())
	err := decodeRows(t, fieldNames(rawPeakFields), func(c []any) {
		out = append(out, domain.RawPeak{
			SiteID:    cache.String(c[0]),
			PeakDate:  cache.String(c[1]),
			PeakValue: cache.String(c[2]),
		})
	})
	return out, err
}

// RawVulnerabilityTable encodes SVI rows of every theme.
func RawVulnerabilityTable(rows []domain.RawVulnerability) *cache.Table {
	t := cache.NewTable(rawVulnerabilityFields...)
	for _, r := range rows {
		t.Append(r.FIPS, r.Rank, r.Value, r.Theme)
	}
	return t
}

// RawVulnerabilityFromTable decodes SVI rows.
func RawVulnerabilityFromTable(t *cache.Table) ([]domain.RawVulnerability, error) {
	out := make([]domain.RawVulnerability, 0, t.Len())
	err := decodeRows(t, fieldNames(rawVulnerabilityFields), func(c []any) {
		out = append(out, domain.RawVulnerability{
			FIPS:  cache.String(c[0]),
			Rank:  cache.Float(c[1]),
			Value: cache.Float(c[2]),
			Theme: cache.String(c[3]),
		})
	})
	return out, err
}

// PairsTable encodes paired records.
func PairsTable(pairs []domain.PairedRecord) *cache.Table {
	t := cache.NewTable(pairFields...)
	for _, p := range pairs {
		t.Append(
			p.SiteID,
			p.Timestamp.UTC(),
			p.Simulated,
			p.Observed,
			cache.NullString(p.FIPS),
			cache.NullString(p.StateAbbreviation),
			cache.Nullable(p.VulnerabilityRank),
		)
	}
	return t
}

// PairsFromTable decodes paired records.
func PairsFromTable(t *cache.Table) ([]domain.PairedRecord, error) {
	out := make([]domain.PairedRecord, 0, t.Len())
	err := decodeRows(t, fieldNames(pairFields), func(c []any) {
		out = append(out, domain.PairedRecord{
			SiteID:            cache.String(c[0]),
			Timestamp:         cache.Time(c[1]),
			Simulated:         cache.Float(c[2]),
			Observed:          cache.Float(c[3]),
			FIPS:              cache.String(c[4]),
			StateAbbreviation: cache.String(c[5]),
			VulnerabilityRank: cache.FloatPtr(c[6]),
		})
	})
	return out, err
}

// ContingencyTable encodes per-site contingency tables and scores.
func ContingencyTable(tables []domain.ContingencyTable) *cache.Table {
	t := cache.NewTable(contingencyFields...)
	for _, ct := range tables {
		t.Append(
			ct.SiteID,
			ct.TruePositive,
			ct.FalsePositive,
			ct.FalseNegative,
			ct.TrueNegative,
			cache.Nullable(ct.POD),
			cache.Nullable(ct.POFA),
			cache.Nullable(ct.TS),
		)
	}
	return t
}

// ContingencyFromTable decodes per-site contingency tables.
func ContingencyFromTable(t *cache.Table) ([]domain.ContingencyTable, error) {
	out := make([]domain.ContingencyTable, 0, t.Len())
	err := decodeRows(t, fieldNames(contingencyFields), func(c []any) {
		out = append(out, domain.ContingencyTable{
			SiteID:        cache.String(c[0]),
			TruePositive:  cache.Int(c[1]),
			FalsePositive: cache.Int(c[2]),
			FalseNegative: cache.Int(c[3]),
			TrueNegative:  cache.Int(c[4]),
			POD:           cache.FloatPtr(c[5]),
			POFA:          cache.FloatPtr(c[6]),
			TS:            cache.FloatPtr(c[7]),
		})
	})
	return out, err
}
