package handler

import (
	"context"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"
	"tradejournal/src/model"
	"tradejournal/src/structure"
)

type structureReader interface {
	Latest(ctx context.Context, symbol, timeframe string) (*model.MarketStructure, error)
}

type structureResponse struct {
	Structure *model.MarketStructure `json:"structure"`
	Score     *structure.Score       `json:"score,omitempty"`
}

// StructureHandler returns the latest market structure snapshot for symbol
// and timeframe. With side and entry it also scores that entry.
func StructureHandler(repo structureReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		symbol := q.Get("symbol")
		if symbol == "" {
			http.Error(w, "symbol is required", http.StatusBadRequest)
			return
		}
		timeframe := q.Get("timeframe")
		if timeframe == "" {
			timeframe = model.Timeframe1h
		}
		if _, err := structure.StaleAfter(timeframe); err != nil {
			http.Error(w, "invalid timeframe", http.StatusBadRequest)
			return
		}

		var entry float64
		if entryParam := q.Get("entry"); entryParam != "" {
			parsed, err := strconv.ParseFloat(entryParam, 64)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid entry", http.StatusBadRequest)
				return
			}
			entry = parsed
			if model.NormalizeSide(q.Get("side")) == "" {
				http.Error(w, "invalid side", http.StatusBadRequest)
				return
			}
		}

		ms, err := repo.Latest(r.Context(), symbol, timeframe)
		if err != nil {
			logger.WithError(err).Error("failed to load market structure")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if ms == nil {
			http.Error(w, "Not Found", http.StatusNotFound)
			return
		}

		resp := structureResponse{Structure: ms}
		if entry > 0 {
			score := structure.ScoreTrade(q.Get("side"), entry, ms)
			resp.Score = &score
		}
		writeJSON(w, resp)
	}
}
