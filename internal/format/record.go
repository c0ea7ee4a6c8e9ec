package format

import (
	"strings"

	"github.com/blockclass/marketview/internal/domain"
)

// Display is a MarketRecord rendered field by field.
type Display struct {
	ID                string `json:"id"`
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	Rank              string `json:"rank"`
	Price             string `json:"price"`
	Change24h         string `json:"change24h"`
	ChangeClass       string `json:"changeClass"`
	High24h           string `json:"high24h"`
	Low24h            string `json:"low24h"`
	MarketCap         string `json:"marketCap"`
	Volume            string `json:"volume"`
	CirculatingSupply string `json:"circulatingSupply"`
	MaxSupply         string `json:"maxSupply"`
	CirculatingRatio  string `json:"circulatingRatio"`
	ATH               string `json:"ath"`
	ATHDate           string `json:"athDate"`
	ATL               string `json:"atl"`
	ATLDate           string `json:"atlDate"`
	Consensus         string `json:"consensus"`
	ConsensusBasis    string `json:"consensusBasis"`
	Categories        string `json:"categories"`
	Description       string `json:"description"`
	Homepage          string `json:"homepage"`
	Whitepaper        string `json:"whitepaper"`
	Explorer          string `json:"explorer"`
}

// Record renders rec for display.
func Record(rec domain.MarketRecord) Display {
	d := Display{
		ID:                rec.ID,
		Name:              orUnknown(rec.Name),
		Symbol:            orUnknown(strings.ToUpper(rec.Symbol)),
		Rank:              Rank(rec.MarketCapRank),
		Price:             Price(rec.CurrentPrice),
		Change24h:         Percent(rec.PriceChangePct24h),
		ChangeClass:       string(rec.PriceChangeClass),
		High24h:           Price(rec.High24h),
		Low24h:            Price(rec.Low24h),
		MarketCap:         Short(rec.MarketCap),
		Volume:            Short(rec.TotalVolume),
		CirculatingSupply: Short(rec.CirculatingSupply),
		MaxSupply:         Short(rec.MaxSupply),
		CirculatingRatio:  Percent(rec.CirculatingRatioPct),
		ATH:               Price(rec.ATH),
		ATHDate:           Date(rec.ATHDate),
		ATL:               Price(rec.ATL),
		ATLDate:           Date(rec.ATLDate),
		Consensus:         Consensus(rec.Consensus),
		ConsensusBasis:    rec.Consensus.Basis,
		Categories:        Unknown,
		Description:       Unknown,
		Homepage:          Unknown,
		Whitepaper:        Unknown,
		Explorer:          Unknown,
	}

	if ext := rec.Extended; ext != nil {
		if len(ext.Categories) > 0 {
			d.Categories = strings.Join(ext.Categories[:min(3, len(ext.Categories))], ", ")
		}
		limit := DescriptionExcerpt
		if ext.DescriptionLang != "" && ext.DescriptionLang != "fr" {
			limit = FallbackDescriptionExcerpt
		}
		d.Description = orUnknown(Excerpt(ext.Description, limit))
		d.Homepage = orUnknown(ext.Homepage)
		d.Whitepaper = orUnknown(ext.Whitepaper)
		d.Explorer = orUnknown(ext.Explorer)
	}
	return d
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}
