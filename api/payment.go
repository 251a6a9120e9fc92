package api

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"botpay/models"
	"botpay/services"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func CreatePaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) HandleCreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req models.CreatePurchaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
		return
	}

	resp, err := h.paymentService.CreatePurchase(r.Context(), &req)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *PaymentHandler) HandleConfirmPurchase(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["id"]

	var req models.ConfirmPurchaseRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Invalid request body"})
			return
		}
	}

	view, err := h.paymentService.ConfirmPurchase(r.Context(), paymentID, req.PayerID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *PaymentHandler) HandleGetPurchase(w http.ResponseWriter, r *http.Request) {
	paymentID := mux.Vars(r)["id"]

	view, err := h.paymentService.GetPaymentStatus(r.Context(), paymentID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (h *PaymentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/purchases", h.HandleCreatePurchase).Methods("POST")
	router.HandleFunc("/purchases/{id}/confirm", h.HandleConfirmPurchase).Methods("POST")
	router.HandleFunc("/purchases/{id}", h.HandleGetPurchase).Methods("GET")
}
