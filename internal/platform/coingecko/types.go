package coingecko

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/blockclass/marketview/internal/domain"
)

// --------------------------------------------------------------------------
// /coins/markets DTOs
// --------------------------------------------------------------------------

// APICoinMarket is one row of the /coins/markets listing. Every field is
// optional on the wire.
type APICoinMarket struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	Image                    string   `json:"image"`
	CurrentPrice             *float64 `json:"current_price"`
	MarketCap                *float64 `json:"market_cap"`
	MarketCapRank            *int     `json:"market_cap_rank"`
	TotalVolume              *float64 `json:"total_volume"`
	High24h                  *float64 `json:"high_24h"`
	Low24h                   *float64 `json:"low_24h"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
	CirculatingSupply        *float64 `json:"circulating_supply"`
	TotalSupply              *float64 `json:"total_supply"`
	MaxSupply                *float64 `json:"max_supply"`
	ATH                      *float64 `json:"ath"`
	ATHDate                  *string  `json:"ath_date"`
	ATL                      *float64 `json:"atl"`
	ATLDate                  *string  `json:"atl_date"`
	LastUpdated              *string  `json:"last_updated"`
}

// ToDomain converts the listing row to a SummaryRecord.
func (a *APICoinMarket) ToDomain() domain.SummaryRecord {
	return domain.SummaryRecord{MarketFields: domain.MarketFields{
		ID:                a.ID,
		Symbol:            a.Symbol,
		Name:              a.Name,
		Image:             httpOnly(a.Image),
		CurrentPrice:      domain.FiniteOrNil(a.CurrentPrice),
		High24h:           domain.FiniteOrNil(a.High24h),
		Low24h:            domain.FiniteOrNil(a.Low24h),
		PriceChangePct24h: domain.FiniteOrNil(a.PriceChangePercentage24h),
		MarketCap:         domain.FiniteOrNil(a.MarketCap),
		TotalVolume:       domain.FiniteOrNil(a.TotalVolume),
		CirculatingSupply: domain.FiniteOrNil(a.CirculatingSupply),
		MaxSupply:         domain.FiniteOrNil(a.MaxSupply),
		MarketCapRank:     positiveRank(a.MarketCapRank),
		ATH:               domain.FiniteOrNil(a.ATH),
		ATHDate:           parseTime(a.ATHDate),
		ATL:               domain.FiniteOrNil(a.ATL),
		ATLDate:           parseTime(a.ATLDate),
	}}
}

// --------------------------------------------------------------------------
// /coins/{id} DTOs
// --------------------------------------------------------------------------

// usdValue holds a per-currency map of which only "usd" is read.
type usdValue struct {
	USD *float64 `json:"usd"`
}

type usdDate struct {
	USD *string `json:"usd"`
}

// APICoinDetail is the /coins/{id} document.
type APICoinDetail struct {
	ID               string            `json:"id"`
	Symbol           string            `json:"symbol"`
	Name             string            `json:"name"`
	HashingAlgorithm *string           `json:"hashing_algorithm"`
	Categories       []*string         `json:"categories"`
	Description      map[string]string `json:"description"`
	Links            APILinks          `json:"links"`
	Image            APIImage          `json:"image"`
	MarketCapRank    *int              `json:"market_cap_rank"`
	MarketData       *APIMarketData    `json:"market_data"`
}

// APILinks is the links block of the detail document.
type APILinks struct {
	Homepage       []string `json:"homepage"`
	Whitepaper     string   `json:"whitepaper"`
	BlockchainSite []string `json:"blockchain_site"`
}

// APIImage is the image block of the detail document.
type APIImage struct {
	Thumb string `json:"thumb"`
	Small string `json:"small"`
	Large string `json:"large"`
}

// APIMarketData is the market_data block of the detail document.
type APIMarketData struct {
	CurrentPrice             usdValue `json:"current_price"`
	High24h                  usdValue `json:"high_24h"`
	Low24h                   usdValue `json:"low_24h"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
	MarketCap                usdValue `json:"market_cap"`
	MarketCapRank            *int     `json:"market_cap_rank"`
	TotalVolume              usdValue `json:"total_volume"`
	CirculatingSupply        *float64 `json:"circulating_supply"`
	MaxSupply                *float64 `json:"max_supply"`
	ATH                      usdValue `json:"ath"`
	ATHDate                  usdDate  `json:"ath_date"`
	ATL                      usdValue `json:"atl"`
	ATLDate                  usdDate  `json:"atl_date"`
}

// ToDomain converts the detail document to a DetailedRecord.
func (a *APICoinDetail) ToDomain() domain.DetailedRecord {
	rec := domain.DetailedRecord{
		MarketFields: domain.MarketFields{
			ID:            a.ID,
			Symbol:        a.Symbol,
			Name:          a.Name,
			Image:         firstNonEmpty(httpOnly(a.Image.Large), httpOnly(a.Image.Small), httpOnly(a.Image.Thumb)),
			MarketCapRank: positiveRank(a.MarketCapRank),
		},
	}

	if md := a.MarketData; md != nil {
		f := &rec.MarketFields
		f.CurrentPrice = domain.FiniteOrNil(md.CurrentPrice.USD)
		f.High24h = domain.FiniteOrNil(md.High24h.USD)
		f.Low24h = domain.FiniteOrNil(md.Low24h.USD)
		f.PriceChangePct24h = domain.FiniteOrNil(md.PriceChangePercentage24h)
		f.MarketCap = domain.FiniteOrNil(md.MarketCap.USD)
		f.TotalVolume = domain.FiniteOrNil(md.TotalVolume.USD)
		f.CirculatingSupply = domain.FiniteOrNil(md.CirculatingSupply)
		f.MaxSupply = domain.FiniteOrNil(md.MaxSupply)
		f.ATH = domain.FiniteOrNil(md.ATH.USD)
		f.ATHDate = parseTime(md.ATHDate.USD)
		f.ATL = domain.FiniteOrNil(md.ATL.USD)
		f.ATLDate = parseTime(md.ATLDate.USD)
		if f.MarketCapRank == nil {
			f.MarketCapRank = positiveRank(md.MarketCapRank)
		}
	}

	desc, lang := pickDescription(a.Description)
	rec.Extended = domain.Extended{
		Description:     desc,
		DescriptionLang: lang,
		Homepage:        firstHTTP(a.Links.Homepage),
		Whitepaper:      httpOnly(a.Links.Whitepaper),
		Explorer:        firstHTTP(a.Links.BlockchainSite),
		Categories:      cleanCategories(a.Categories),
	}
	if a.HashingAlgorithm != nil && strings.TrimSpace(*a.HashingAlgorithm) != "" {
		h := strings.TrimSpace(*a.HashingAlgorithm)
		rec.Extended.HashingAlgorithm = &h
	}
	return rec
}

// --------------------------------------------------------------------------
// /coins/{id}/market_chart DTOs
// --------------------------------------------------------------------------

// APIMarketChart is the market_chart document. Each pair is
// [unix milliseconds, price].
type APIMarketChart struct {
	Prices [][]*float64 `json:"prices"`
}

// ToDomain converts the raw pairs to price points. Input order is kept;
// pairs without a finite price or timestamp are dropped.
func (a *APIMarketChart) ToDomain() []domain.PricePoint {
	return PricePoints(a.Prices)
}

// PricePoints transforms raw [ms, price] pairs into dated price points.
func PricePoints(raw [][]*float64) []domain.PricePoint {
	points := make([]domain.PricePoint, 0, len(raw))
	for _, pair := range raw {
		if len(pair) < 2 || pair[0] == nil || pair[1] == nil {
			continue
		}
		ms := domain.Finite(*pair[0])
		price := domain.Finite(*pair[1])
		if ms == nil || price == nil {
			continue
		}
		ts := time.UnixMilli(int64(*ms)).UTC()
		points = append(points, domain.PricePoint{
			Timestamp: ts,
			Date:      ts.Format(time.DateOnly),
			Price:     *price,
		})
	}
	return points
}

// --------------------------------------------------------------------------
// Helpers
// --------------------------------------------------------------------------

// descriptionLangs is the preference order for description text.
var descriptionLangs = []string{"fr", "en"}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// pickDescription returns the first non-empty description in preference
// order with tags stripped, and the language it was taken from.
func pickDescription(desc map[string]string) (string, string) {
	for _, lang := range descriptionLangs {
		if text := StripHTML(desc[lang]); text != "" {
			return text, lang
		}
	}
	return "", ""
}

// StripHTML removes markup and decodes entities.
func StripHTML(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	return strings.TrimSpace(html.UnescapeString(s))
}

func httpOnly(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return ""
}

func firstHTTP(links []string) string {
	for _, l := range links {
		if v := httpOnly(l); v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func cleanCategories(raw []*string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]bool, len(raw))
	for _, c := range raw {
		if c == nil {
			continue
		}
		v := strings.TrimSpace(*c)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}

func positiveRank(r *int) *int {
	if r == nil || *r <= 0 {
		return nil
	}
	v := *r
	return &v
}

func parseTime(s *string) *time.Time {
	if s == nil || *s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}
