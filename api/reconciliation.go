package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"botpay/models"
	"botpay/services"
)

type ReconciliationHandler struct {
	reconciliationService *services.ReconciliationService
}

func CreateReconciliationHandler(reconciliationService *services.ReconciliationService) *ReconciliationHandler {
	return &ReconciliationHandler{
		reconciliationService: reconciliationService,
	}
}

type ReconciliationResponse struct {
	Rows        []*models.ReconciliationRow `json:"rows"`
	Count       int                         `json:"count"`
	GeneratedAt time.Time                   `json:"generated_at"`
}

func (h *ReconciliationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	rows, err := h.reconciliationService.List(r.Context(), clampLimit(limit), offset)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ReconciliationResponse{
		Rows:        rows,
		Count:       len(rows),
		GeneratedAt: time.Now(),
	})
}

func (h *ReconciliationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/reconciliation", h.HandleList).Methods("GET")
}
