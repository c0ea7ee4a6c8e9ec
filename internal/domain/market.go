package domain

import (
	"math"
	"time"
)

// MarketFields holds the attributes every market data source can supply. A
// nil pointer means the value is unknown; it is never a placeholder zero.
type MarketFields struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Image  string `json:"image,omitempty"`

	CurrentPrice      *float64 `json:"currentPrice"`
	High24h           *float64 `json:"high24h"`
	Low24h            *float64 `json:"low24h"`
	PriceChangePct24h *float64 `json:"priceChangePct24h"`
	MarketCap         *float64 `json:"marketCap"`
	TotalVolume       *float64 `json:"totalVolume"`
	CirculatingSupply *float64 `json:"circulatingSupply"`
	MaxSupply         *float64 `json:"maxSupply"`
	MarketCapRank     *int     `json:"marketCapRank"`

	ATH     *float64   `json:"ath"`
	ATHDate *time.Time `json:"athDate"`
	ATL     *float64   `json:"atl"`
	ATLDate *time.Time `json:"atlDate"`
}

// Extended is the metadata only the detailed endpoint provides.
type Extended struct {
	Description      string   `json:"description"`
	DescriptionLang  string   `json:"descriptionLang,omitempty"`
	Homepage         string   `json:"homepage,omitempty"`
	Whitepaper       string   `json:"whitepaper,omitempty"`
	Explorer         string   `json:"explorer,omitempty"`
	Categories       []string `json:"categories"`
	HashingAlgorithm *string  `json:"hashingAlgorithm"`
}

// DetailedRecord is one asset as returned by the single-asset endpoint.
type DetailedRecord struct {
	MarketFields
	Extended Extended
}

// SummaryRecord is one asset as returned by the multi-asset listing.
type SummaryRecord struct {
	MarketFields
}

// Valid reports whether the record can be shown as a list card: it needs an
// identity and a known price.
func (s SummaryRecord) Valid() bool {
	return s.ID != "" && s.Name != "" && s.Symbol != "" && s.CurrentPrice != nil
}

// PriceChangeClass is the sign of the 24h price change.
type PriceChangeClass string

const (
	PriceChangePositive PriceChangeClass = "positive"
	PriceChangeNegative PriceChangeClass = "negative"
	PriceChangeUnknown  PriceChangeClass = "unknown"
)

// ConsensusLabel names the consensus family of a chain.
type ConsensusLabel string

const (
	ConsensusPoS     ConsensusLabel = "PoS"
	ConsensusPoW     ConsensusLabel = "PoW"
	ConsensusUnknown ConsensusLabel = "unknown"
)

// Consensus is a best-effort classification inferred from category tags and
// the hashing algorithm. It is never authoritative.
type Consensus struct {
	Label      ConsensusLabel `json:"label"`
	Indicative bool           `json:"indicative"`
	Basis      string         `json:"basis"`
}

// MarketRecord is the resolved, display-ready view of one asset.
type MarketRecord struct {
	MarketFields

	// Extended is nil unless a detailed fetch succeeded now or when the
	// cached snapshot was taken.
	Extended *Extended `json:"extended"`

	PriceChangeClass    PriceChangeClass `json:"priceChangeClass"`
	CirculatingRatioPct *float64         `json:"circulatingRatioPct"`
	Consensus           Consensus        `json:"consensus"`
}

// SourceKind tags where a Source came from.
type SourceKind int

const (
	SourceDetailed SourceKind = iota
	SourceSummary
	SourceCached
)

func (k SourceKind) String() string {
	switch k {
	case SourceDetailed:
		return "detailed"
	case SourceSummary:
		return "summary"
	case SourceCached:
		return "cached"
	default:
		return "unknown"
	}
}

// Source is one candidate input to the resolver. Extended is nil for sources
// that never carry extended metadata.
type Source struct {
	Kind     SourceKind
	Fields   MarketFields
	Extended *Extended
}

// PricePoint is one sample of a historical price series.
type PricePoint struct {
	Timestamp time.Time `json:"timestamp"`
	Date      string    `json:"date"`
	Price     float64   `json:"price"`
}

// Finite returns a pointer to v when v is a finite number and nil otherwise.
func Finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// FiniteOrNil is Finite for values that may already be unknown.
func FiniteOrNil(v *float64) *float64 {
	if v == nil {
		return nil
	}
	return Finite(*v)
}
