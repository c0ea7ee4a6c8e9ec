package resolve

import (
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/blockclass/marketview/internal/domain"
)

func f64(v float64) *float64 { return &v }
func intp(v int) *int        { return &v }
func strp(v string) *string  { return &v }

func TestResolve_FieldLevelFallback(t *testing.T) {
	detailed := &domain.DetailedRecord{MarketFields: domain.MarketFields{
		ID: "bitcoin", CurrentPrice: f64(100), MarketCap: nil,
	}}
	summary := &domain.SummaryRecord{MarketFields: domain.MarketFields{
		ID: "bitcoin", CurrentPrice: f64(50), MarketCap: f64(9000),
	}}

	res := Resolve(detailed, summary, nil)

	if got := res.Record.CurrentPrice; got == nil || *got != 100 {
		t.Errorf("CurrentPrice = %v, want 100 (detailed wins)", got)
	}
	if got := res.Record.MarketCap; got == nil || *got != 9000 {
		t.Errorf("MarketCap = %v, want 9000 (summary fills gap)", got)
	}
	if res.Warning() {
		t.Errorf("Warning set with detailed source present (level %s)", res.Level)
	}
}

func TestResolve_CachedFillsRemainingGaps(t *testing.T) {
	summary := &domain.SummaryRecord{MarketFields: domain.MarketFields{
		ID: "ethereum", Name: "Ethereum", CurrentPrice: f64(3000),
	}}
	cached := &domain.MarketRecord{
		MarketFields: domain.MarketFields{
			ID: "ethereum", Symbol: "eth", CurrentPrice: f64(2500), TotalVolume: f64(1e9),
		},
		Extended: &domain.Extended{Description: "cached text", Categories: []string{"Smart Contract Platform"}},
	}

	res := Resolve(nil, summary, cached)
	rec := res.Record

	if *rec.CurrentPrice != 3000 {
		t.Errorf("CurrentPrice = %v, want 3000", *rec.CurrentPrice)
	}
	if rec.TotalVolume == nil || *rec.TotalVolume != 1e9 {
		t.Errorf("TotalVolume = %v, want cached 1e9", rec.TotalVolume)
	}
	if rec.Symbol != "eth" {
		t.Errorf("Symbol = %q, want cached eth", rec.Symbol)
	}
	if rec.Extended == nil || rec.Extended.Description != "cached text" {
		t.Errorf("Extended = %+v, want cached extended metadata", rec.Extended)
	}
	if res.Level != LevelPartial || !res.Warning() {
		t.Errorf("Level = %s, want partial with warning", res.Level)
	}
}

func TestResolve_NonFiniteValuesAreSkipped(t *testing.T) {
	detailed := &domain.DetailedRecord{MarketFields: domain.MarketFields{
		CurrentPrice: f64(math.NaN()),
		High24h:      f64(math.Inf(1)),
	}}
	summary := &domain.SummaryRecord{MarketFields: domain.MarketFields{
		CurrentPrice: f64(42),
	}}

	rec := Resolve(detailed, summary, nil).Record

	if rec.CurrentPrice == nil || *rec.CurrentPrice != 42 {
		t.Errorf("CurrentPrice = %v, want summary 42", rec.CurrentPrice)
	}
	if rec.High24h != nil {
		t.Errorf("High24h = %v, want unknown", *rec.High24h)
	}
}

func TestResolve_UnknownPropagation(t *testing.T) {
	res := Resolve(nil, nil, nil)

	if !res.Warning() || res.Level != LevelUnavailable {
		t.Errorf("Level = %s, want unavailable with warning", res.Level)
	}
	want := domain.MarketRecord{
		PriceChangeClass: domain.PriceChangeUnknown,
		Consensus:        domain.Consensus{Label: domain.ConsensusUnknown, Basis: basisNone},
	}
	if !reflect.DeepEqual(res.Record, want) {
		t.Errorf("Record = %+v, want all-unknown %+v", res.Record, want)
	}
}

func TestResolve_CacheOnlyIsStale(t *testing.T) {
	cached := &domain.MarketRecord{MarketFields: domain.MarketFields{ID: "solana", CurrentPrice: f64(150)}}
	res := Resolve(nil, nil, cached)
	if res.Level != LevelStale || !res.Warning() {
		t.Errorf("Level = %s, want stale", res.Level)
	}
	if *res.Record.CurrentPrice != 150 {
		t.Errorf("CurrentPrice = %v, want 150", *res.Record.CurrentPrice)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	ath := time.Date(2021, 11, 10, 14, 24, 11, 0, time.UTC)
	detailed := &domain.DetailedRecord{
		MarketFields: domain.MarketFields{
			ID: "bitcoin", Symbol: "btc", Name: "Bitcoin",
			CurrentPrice: f64(64000), PriceChangePct24h: f64(-1.25),
			CirculatingSupply: f64(19000000), MaxSupply: f64(21000000),
			ATH: f64(69045), ATHDate: &ath,
		},
		Extended: domain.Extended{
			Description:      "Bitcoin est la première cryptomonnaie.",
			DescriptionLang:  "fr",
			Categories:       []string{"Cryptocurrency", "Layer 1 (L1)"},
			HashingAlgorithm: strp("SHA-256"),
		},
	}
	summary := &domain.SummaryRecord{MarketFields: domain.MarketFields{
		ID: "bitcoin", MarketCap: f64(1.2e12), MarketCapRank: intp(1),
	}}
	cached := &domain.MarketRecord{MarketFields: domain.MarketFields{ID: "bitcoin", TotalVolume: f64(3e10)}}

	inputs := []struct {
		name string
		d    *domain.DetailedRecord
		s    *domain.SummaryRecord
		c    *domain.MarketRecord
	}{
		{"all", detailed, summary, cached},
		{"detailed only", detailed, nil, nil},
		{"summary and cache", nil, summary, cached},
		{"nothing", nil, nil, nil},
	}

	for _, in := range inputs {
		t.Run(in.name, func(t *testing.T) {
			first := Resolve(in.d, in.s, in.c).Record
			again := Resolve(nil, nil, &first).Record
			if !reflect.DeepEqual(first, again) {
				t.Errorf("re-resolving changed the record:\nfirst = %+v\nagain = %+v", first, again)
			}
		})
	}
}

func TestResolve_DoesNotAliasInputs(t *testing.T) {
	detailed := &domain.DetailedRecord{
		MarketFields: domain.MarketFields{CurrentPrice: f64(10)},
		Extended:     domain.Extended{Categories: []string{"a"}},
	}
	rec := Resolve(detailed, nil, nil).Record

	*detailed.CurrentPrice = 99
	detailed.Extended.Categories[0] = "b"

	if *rec.CurrentPrice != 10 {
		t.Errorf("CurrentPrice aliased input: %v", *rec.CurrentPrice)
	}
	if rec.Extended.Categories[0] != "a" {
		t.Errorf("Categories aliased input: %v", rec.Extended.Categories)
	}
}

func TestCirculatingRatio(t *testing.T) {
	got := CirculatingRatio(f64(19000000), f64(21000000))
	if got == nil || math.Abs(*got-90.476) > 0.01 {
		t.Errorf("CirculatingRatio(19M, 21M) = %v, want ~90.48", got)
	}

	tests := []struct {
		name string
		circ *float64
		max  *float64
	}{
		{"unknown max", f64(19000000), nil},
		{"unknown circulating", nil, f64(21000000)},
		{"zero max", f64(100), f64(0)},
		{"negative max", f64(100), f64(-5)},
	}
	for _, tt := range tests {
		if got := CirculatingRatio(tt.circ, tt.max); got != nil {
			t.Errorf("%s: ratio = %v, want unknown", tt.name, *got)
		}
	}
}

func TestClassifyChange(t *testing.T) {
	tests := []struct {
		pct  *float64
		want domain.PriceChangeClass
	}{
		{nil, domain.PriceChangeUnknown},
		{f64(2.5), domain.PriceChangePositive},
		{f64(0), domain.PriceChangePositive},
		{f64(-0.01), domain.PriceChangeNegative},
	}
	for _, tt := range tests {
		if got := ClassifyChange(tt.pct); got != tt.want {
			t.Errorf("ClassifyChange(%v) = %s, want %s", tt.pct, got, tt.want)
		}
	}
}

func TestInferConsensus(t *testing.T) {
	tests := []struct {
		name       string
		categories []string
		hashing    *string
		label      domain.ConsensusLabel
		indicative bool
	}{
		{"stake tag", []string{"Smart Contract Platform", "Proof of Stake (PoS)"}, nil, domain.ConsensusPoS, false},
		{"work tag", []string{"Proof of Work (PoW)"}, strp("SHA-256"), domain.ConsensusPoW, false},
		{"stake wins over hashing", []string{"proof of stake"}, strp("Ethash"), domain.ConsensusPoS, false},
		{"hashing only", []string{"Meme"}, strp("Scrypt"), domain.ConsensusPoW, true},
		{"blank hashing", nil, strp("  "), domain.ConsensusUnknown, false},
		{"nothing", nil, nil, domain.ConsensusUnknown, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := InferConsensus(tt.categories, tt.hashing)
			if got.Label != tt.label || got.Indicative != tt.indicative {
				t.Errorf("InferConsensus = %+v, want label %s indicative %v", got, tt.label, tt.indicative)
			}
			if got.Basis == "" {
				t.Error("Basis must always describe the heuristic")
			}
		})
	}
}
