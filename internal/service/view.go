package service

import (
	"time"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/resolve"
)

// LoadState is a step of the detail load sequence.
type LoadState string

const (
	StateIdle                LoadState = "idle"
	StateLoadingFromCache    LoadState = "loading_from_cache"
	StateRefreshing          LoadState = "refreshing"
	StateResolved            LoadState = "resolved"
	StateResolvedWithWarning LoadState = "resolved_with_warning"
)

// Terminal reports whether s ends a load sequence.
func (s LoadState) Terminal() bool {
	return s == StateResolved || s == StateResolvedWithWarning
}

// Freshness tells the consumer where the shown data came from.
type Freshness string

const (
	FreshnessLive   Freshness = "live"
	FreshnessCached Freshness = "cached"
	FreshnessNone   Freshness = "none"
)

// Warning messages shown on degraded data.
const (
	warnPartial     = "Detailed information is temporarily unavailable; showing market summary."
	warnStale       = "Live data is unavailable; showing the last saved data."
	warnUnavailable = "Market data is unavailable right now."
	warnListStale   = "Live list is unavailable; showing the last saved list."

	warnHistoryStale       = "Live price history is unavailable; showing the last saved series."
	warnHistoryUnavailable = "Price history is unavailable right now."
)

// DetailView is the presentation state of one asset at a point in a load.
type DetailView struct {
	ID        string              `json:"id"`
	State     LoadState           `json:"state"`
	Record    domain.MarketRecord `json:"record"`
	Freshness Freshness           `json:"freshness"`
	UpdatedAt *time.Time          `json:"updatedAt"`

	History          []domain.PricePoint `json:"history"`
	HistoryFreshness Freshness           `json:"historyFreshness"`
	HistoryUpdatedAt *time.Time          `json:"historyUpdatedAt"`

	WarningLevel string `json:"warningLevel"`
	Warning      string `json:"warning,omitempty"`
	Unavailable  bool   `json:"unavailable"`
}

// ListView is the presentation state of the top-N market list.
type ListView struct {
	Markets     []domain.MarketRecord `json:"markets"`
	Freshness   Freshness             `json:"freshness"`
	UpdatedAt   *time.Time            `json:"updatedAt"`
	Warning     string                `json:"warning,omitempty"`
	Unavailable bool                  `json:"unavailable"`
}

// HistoryView is a price series of one asset and where it came from.
type HistoryView struct {
	ID          string              `json:"id"`
	Days        int                 `json:"days"`
	Points      []domain.PricePoint `json:"points"`
	Freshness   Freshness           `json:"freshness"`
	UpdatedAt   *time.Time          `json:"updatedAt"`
	Warning     string              `json:"warning,omitempty"`
	Unavailable bool                `json:"unavailable"`
}

func warningText(level resolve.Level) string {
	switch level {
	case resolve.LevelPartial:
		return warnPartial
	case resolve.LevelStale:
		return warnStale
	case resolve.LevelUnavailable:
		return warnUnavailable
	default:
		return ""
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
