package engine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voltex/trade-engine/internal/ledger"
	"github.com/voltex/trade-engine/internal/model"
)

// In-process read surface exposed to the API layer. The write path stays on
// the streams; the one exception is the synchronous close endpoint, which
// funnels into the same CloseOrder used by the close runner.

// HandleGetPrice handles GET /api/v1/price/{asset}
func (e *Engine) HandleGetPrice(w http.ResponseWriter, r *http.Request) {
	asset := chi.URLParam(r, "asset")

	sample, ok := e.CurrentPrice(asset)
	if !ok {
		writeError(w, "no price data for asset: "+asset, http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sample)
}

// HandleCloseOrder handles POST /api/v1/orders/{orderID}/close
func (e *Engine) HandleCloseOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	closed, err := e.CloseOrder(r.Context(), orderID)
	switch {
	case errors.Is(err, ledger.ErrOrderNotFound):
		writeError(w, "order not found: "+orderID, http.StatusNotFound)
		return
	case errors.Is(err, ErrNoPriceData):
		writeError(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, "close failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(closed)
}

// HandleGetOrders handles GET /api/v1/users/{userID}/orders
func (e *Engine) HandleGetOrders(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	orders := e.OpenOrdersByUser(userID)
	if orders == nil {
		orders = []model.Order{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(orders)
}

// HandleGetBalance handles GET /api/v1/users/{userID}/balance
func (e *Engine) HandleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"user_id": userID,
		"balance": e.Balance(userID).String(),
	})
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
