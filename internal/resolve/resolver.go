// Package resolve merges a detailed record, a summary record and a cached
// record into one display-ready MarketRecord.
//
// Every field is resolved on its own, in a fixed order: detailed, summary,
// cached, then unknown. A value missing from one source never disqualifies
// the other values of that source.
package resolve

import (
	"slices"
	"time"

	"github.com/blockclass/marketview/internal/domain"
)

// Level grades how degraded a resolution is.
type Level int

const (
	// LevelNone means the detailed source was available.
	LevelNone Level = iota
	// LevelPartial means only the summary source answered; extended
	// metadata may be stale or missing.
	LevelPartial
	// LevelStale means only the cached snapshot was available.
	LevelStale
	// LevelUnavailable means no source of any kind was available.
	LevelUnavailable
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelPartial:
		return "partial"
	case LevelStale:
		return "stale"
	case LevelUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Resolution is the output of Resolve.
type Resolution struct {
	Record domain.MarketRecord
	Level  Level
	// Sources lists the kinds of input that were present, in priority order.
	Sources []domain.SourceKind
}

// Warning reports whether the caller should show a non-fatal warning.
func (r Resolution) Warning() bool { return r.Level != LevelNone }

// Resolve merges the available inputs. Any of them may be nil.
func Resolve(detailed *domain.DetailedRecord, summary *domain.SummaryRecord, cached *domain.MarketRecord) Resolution {
	sources := make([]domain.Source, 0, 3)
	if detailed != nil {
		ext := detailed.Extended
		sources = append(sources, domain.Source{Kind: domain.SourceDetailed, Fields: detailed.MarketFields, Extended: &ext})
	}
	if summary != nil {
		sources = append(sources, domain.Source{Kind: domain.SourceSummary, Fields: summary.MarketFields})
	}
	if cached != nil {
		sources = append(sources, domain.Source{Kind: domain.SourceCached, Fields: cached.MarketFields, Extended: cached.Extended})
	}
	return Sources(sources)
}

// Sources resolves an ordered list of sources. Earlier sources win.
func Sources(sources []domain.Source) Resolution {
	res := Resolution{Level: level(sources)}
	for _, s := range sources {
		res.Sources = append(res.Sources, s.Kind)
	}

	rec := domain.MarketRecord{}
	f := &rec.MarketFields

	f.ID = firstString(sources, func(m *domain.MarketFields) string { return m.ID })
	f.Symbol = firstString(sources, func(m *domain.MarketFields) string { return m.Symbol })
	f.Name = firstString(sources, func(m *domain.MarketFields) string { return m.Name })
	f.Image = firstString(sources, func(m *domain.MarketFields) string { return m.Image })

	f.CurrentPrice = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.CurrentPrice })
	f.High24h = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.High24h })
	f.Low24h = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.Low24h })
	f.PriceChangePct24h = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.PriceChangePct24h })
	f.MarketCap = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.MarketCap })
	f.TotalVolume = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.TotalVolume })
	f.CirculatingSupply = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.CirculatingSupply })
	f.MaxSupply = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.MaxSupply })
	f.MarketCapRank = firstRank(sources)

	f.ATH = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.ATH })
	f.ATHDate = firstTime(sources, func(m *domain.MarketFields) *time.Time { return m.ATHDate })
	f.ATL = firstFloat(sources, func(m *domain.MarketFields) *float64 { return m.ATL })
	f.ATLDate = firstTime(sources, func(m *domain.MarketFields) *time.Time { return m.ATLDate })

	rec.Extended = firstExtended(sources)

	rec.PriceChangeClass = ClassifyChange(f.PriceChangePct24h)
	rec.CirculatingRatioPct = CirculatingRatio(f.CirculatingSupply, f.MaxSupply)
	if rec.Extended != nil {
		rec.Consensus = InferConsensus(rec.Extended.Categories, rec.Extended.HashingAlgorithm)
	} else {
		rec.Consensus = InferConsensus(nil, nil)
	}

	res.Record = rec
	return res
}

func level(sources []domain.Source) Level {
	var detailed, summary, cached bool
	for _, s := range sources {
		switch s.Kind {
		case domain.SourceDetailed:
			detailed = true
		case domain.SourceSummary:
			summary = true
		case domain.SourceCached:
			cached = true
		}
	}
	switch {
	case detailed:
		return LevelNone
	case summary:
		return LevelPartial
	case cached:
		return LevelStale
	default:
		return LevelUnavailable
	}
}

func firstString(sources []domain.Source, get func(*domain.MarketFields) string) string {
	for i := range sources {
		if v := get(&sources[i].Fields); v != "" {
			return v
		}
	}
	return ""
}

func firstFloat(sources []domain.Source, get func(*domain.MarketFields) *float64) *float64 {
	for i := range sources {
		if v := domain.FiniteOrNil(get(&sources[i].Fields)); v != nil {
			return v
		}
	}
	return nil
}

func firstRank(sources []domain.Source) *int {
	for i := range sources {
		if r := sources[i].Fields.MarketCapRank; r != nil && *r > 0 {
			v := *r
			return &v
		}
	}
	return nil
}

func firstTime(sources []domain.Source, get func(*domain.MarketFields) *time.Time) *time.Time {
	for i := range sources {
		if t := get(&sources[i].Fields); t != nil && !t.IsZero() {
			v := *t
			return &v
		}
	}
	return nil
}

func firstExtended(sources []domain.Source) *domain.Extended {
	for i := range sources {
		if e := sources[i].Extended; e != nil {
			out := *e
			out.Categories = slices.Clone(e.Categories)
			if e.HashingAlgorithm != nil {
				h := *e.HashingAlgorithm
				out.HashingAlgorithm = &h
			}
			return &out
		}
	}
	return nil
}

// ClassifyChange returns the sign class of a percentage change.
func ClassifyChange(pct *float64) domain.PriceChangeClass {
	switch {
	case pct == nil:
		return domain.PriceChangeUnknown
	case *pct < 0:
		return domain.PriceChangeNegative
	default:
		return domain.PriceChangePositive
	}
}

// CirculatingRatio returns 100*circulating/max, or nil unless both are known
// and max is positive.
func CirculatingRatio(circulating, max *float64) *float64 {
	if circulating == nil || max == nil || *max <= 0 {
		return nil
	}
	return domain.Finite(100 * *circulating / *max)
}
