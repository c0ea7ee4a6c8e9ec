package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/blockclass/marketview/internal/domain"
	"github.com/blockclass/marketview/internal/format"
	"github.com/blockclass/marketview/internal/platform/coingecko"
	"github.com/blockclass/marketview/internal/service"
)

// MarketService defines the methods that the market handler requires from the
// service layer. It is declared locally so the handler package does not depend
// on the concrete service implementation.
type MarketService interface {
	List(ctx context.Context) service.ListView
	Compare(ctx context.Context, ids []string) ([]domain.MarketRecord, error)
}

// DetailLoader runs single-asset loads.
type DetailLoader interface {
	Load(ctx context.Context, id string, emit func(service.DetailView)) service.DetailView
	History(ctx context.Context, id string, days int) service.HistoryView
	HistoryDays() int
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketService
	loader  DetailLoader
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given services and logger.
func NewMarketHandler(markets MarketService, loader DetailLoader, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{
		markets: markets,
		loader:  loader,
		logger:  logHandler(logger, "market"),
	}
}

type listMarketsResponse struct {
	service.ListView
	Display []format.Display `json:"display"`
}

type marketResponse struct {
	service.DetailView
	Display format.Display `json:"display"`
}

type compareResponse struct {
	Markets []domain.MarketRecord `json:"markets"`
	Display []format.Display      `json:"display"`
}

type historyQuery struct {
	Days int `validate:"min=1,max=365"`
}

// ListMarkets returns the top-N market list. Degraded data is a 200 with a
// warning, never an error status.
// GET /api/markets
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	view := h.markets.List(r.Context())
	writeJSON(w, http.StatusOK, listMarketsResponse{
		ListView: view,
		Display:  displayAll(view.Markets),
	})
}

// GetMarket runs the full load sequence for one asset and returns its final
// view.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := coingecko.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	view := h.loader.Load(r.Context(), id, nil)
	if r.Context().Err() != nil {
		return
	}
	if view.Unavailable {
		h.logger.InfoContext(r.Context(), "market unavailable",
			slog.String("id", id),
		)
	}

	writeJSON(w, http.StatusOK, marketResponse{
		DetailView: view,
		Display:    format.Record(view.Record),
	})
}

// GetHistory returns the price series of one asset.
// GET /api/markets/{id}/history?days=7
func (h *MarketHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if err := coingecko.ValidateID(id); err != nil {
		writeError(w, http.StatusBadRequest, "invalid asset id")
		return
	}

	q := historyQuery{Days: h.loader.HistoryDays()}
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "days must be an integer")
			return
		}
		q.Days = n
	}
	if err := validate.Struct(q); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	writeJSON(w, http.StatusOK, h.loader.History(r.Context(), id, q.Days))
}

// CompareMarkets returns up to two assets side by side.
// GET /api/markets/compare?ids=bitcoin,ethereum
func (h *MarketHandler) CompareMarkets(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if err := coingecko.ValidateID(id); err != nil {
			writeError(w, http.StatusBadRequest, "invalid asset id: "+id)
			return
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		writeError(w, http.StatusBadRequest, "missing ids")
		return
	}

	records, err := h.markets.Compare(r.Context(), ids)
	if err != nil {
		if errors.Is(err, service.ErrTooManyCompare) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if r.Context().Err() != nil {
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: compare markets failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to compare markets")
		return
	}

	writeJSON(w, http.StatusOK, compareResponse{
		Markets: records,
		Display: displayAll(records),
	})
}

func displayAll(records []domain.MarketRecord) []format.Display {
	out := make([]format.Display, 0, len(records))
	for _, rec := range records {
		out = append(out, format.Record(rec))
	}
	return out
}
