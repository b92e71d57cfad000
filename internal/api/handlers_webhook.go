package api

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/fundflow/settlement-service/internal/domain"
	"github.com/fundflow/settlement-service/pkg/paystackclient"
)

type reconciliationResponse struct {
	Status          string              `json:"status"`
	AlreadyRecorded bool                `json:"already_recorded"`
	Transaction     *domain.Transaction `json:"transaction,omitempty"`
	Account         *domain.Account     `json:"account,omitempty"`
}

func reconciliationBody(result *domain.SettlementResult) reconciliationResponse {
	status := "settled"
	switch {
	case result.Ignored:
		status = "ignored"
	case result.AlreadyRecorded:
		status = "already_recorded"
	}
	return reconciliationResponse{
		Status:          status,
		AlreadyRecorded: result.AlreadyRecorded,
		Transaction:     result.Transaction,
		Account:         result.Account,
	}
}

// PaystackWebhookHandler settles pending credits pushed by the payment aggregator. The raw
// body is needed for signature verification, so it is read before any decoding.
func (h *Handlers) PaystackWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Unable to read request body")
		return
	}

	result, err := h.service.ReconcileWebhook(r.Context(), body, r.Header.Get(paystackclient.SignatureHeader))
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, reconciliationBody(result))
}

// PaystackCallbackHandler settles a pending credit after the client returns from checkout.
// Paystack appends both reference and trxref; either is accepted.
func (h *Handlers) PaystackCallbackHandler(w http.ResponseWriter, r *http.Request) {
	reference := strings.TrimSpace(r.URL.Query().Get("reference"))
	if reference == "" {
		reference = strings.TrimSpace(r.URL.Query().Get("trxref"))
	}

	result, err := h.service.ReconcileCallback(r.Context(), reference)
	if err != nil {
		respondWithServiceError(w, r, err)
		return
	}
	if result.AlreadyRecorded {
		log.Printf("level=info component=api reference=%s msg=\"callback for already recorded payment\"", reference)
	}
	respondWithJSON(w, http.StatusOK, reconciliationBody(result))
}
