package services

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opencbs/ledger/internal/idgen"
	"github.com/opencbs/ledger/internal/ledger"
	"github.com/opencbs/ledger/internal/models"
)

// LedgerService exposes the ledger mutation engine over HTTP. Amounts
// travel as strings so fixed-point values survive JSON untouched, and every
// request names the acting user explicitly; there is no ambient session
// state.
type LedgerService struct {
	engine    *ledger.Engine
	validator *ValidationHelper
}

func NewLedgerService(engine *ledger.Engine) *LedgerService {
	return &LedgerService{
		engine:    engine,
		validator: NewValidationHelper(),
	}
}

// RegisterRoutes mounts the ledger endpoints on a router.
func (ls *LedgerService) RegisterRoutes(r chi.Router) {
	r.Post("/transactions/withdraw", ls.Withdraw)
	r.Post("/transactions/transfer", ls.Transfer)
	r.Post("/transactions/billpay", ls.PayBill)
	r.Post("/transactions/{txId}/reverse", ls.Reverse)
	r.Get("/transactions/{txId}", ls.GetTransaction)
	r.Get("/identifiers/validate", ls.ValidateIdentifier)
	r.Get("/accounts/{accountNumber}/eligibility", ls.CheckEligibility)
}

type withdrawRequest struct {
	CardNumber    string `json:"cardNumber"`
	AccountNumber string `json:"accountNumber"`
	Amount        string `json:"amount" validate:"required"`
	Channel       string `json:"channel" validate:"required,channel"`
	Remarks       string `json:"remarks" validate:"max=200"`
	InitiatedBy   string `json:"initiatedBy" validate:"required"`
	TransactionID string `json:"transactionId"`
}

type transferRequest struct {
	SourceAccount      string `json:"sourceAccount" validate:"required"`
	DestinationAccount string `json:"destinationAccount" validate:"required"`
	Amount             string `json:"amount" validate:"required"`
	Remarks            string `json:"remarks" validate:"max=200"`
	InitiatedBy        string `json:"initiatedBy" validate:"required"`
	TransactionID      string `json:"transactionId"`
}

type billPaymentRequest struct {
	AccountNumber string `json:"accountNumber" validate:"required"`
	BillerCode    string `json:"billerCode" validate:"required,max=20"`
	Amount        string `json:"amount" validate:"required"`
	Remarks       string `json:"remarks" validate:"max=200"`
	InitiatedBy   string `json:"initiatedBy" validate:"required"`
	TransactionID string `json:"transactionId"`
}

type reverseRequest struct {
	Remarks       string `json:"remarks" validate:"max=200"`
	InitiatedBy   string `json:"initiatedBy" validate:"required"`
	TransactionID string `json:"transactionId"`
}

// decodeBody applies the shared request-body discipline: size cap, unknown
// fields rejected, exactly one JSON object.
func (ls *LedgerService) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	maxBytes := 1_048_576 // 1 MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}
	if err := ls.validator.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

// writeResult maps engine statuses onto HTTP: committed results are 200,
// business rejections 422, infrastructure failures 500. The transaction ID
// is always present so a FAILED attempt can be retried idempotently.
func writeResult(w http.ResponseWriter, res *ledger.Result) {
	status := http.StatusOK
	switch res.Status {
	case models.StatusRejected:
		status = http.StatusUnprocessableEntity
	case models.StatusFailed:
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(res)
}

// Withdraw handles POST /transactions/withdraw.
func (ls *LedgerService) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if !ls.decodeBody(w, r, &req) {
		return
	}
	if req.CardNumber == "" && req.AccountNumber == "" {
		SendErrorResponse(w, "cardNumber or accountNumber is required", http.StatusBadRequest, nil)
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	res, err := ls.engine.Withdraw(r.Context(), ledger.WithdrawRequest{
		CardNumber:    req.CardNumber,
		AccountNumber: req.AccountNumber,
		Amount:        amount,
		Channel:       models.Channel(req.Channel),
		Remarks:       req.Remarks,
		InitiatedBy:   req.InitiatedBy,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		log.Printf("[WITHDRAW] transaction %s failed: %v", res.TransactionID, err)
	}
	writeResult(w, res)
}

// Transfer handles POST /transactions/transfer.
func (ls *LedgerService) Transfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if !ls.decodeBody(w, r, &req) {
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	res, err := ls.engine.Transfer(r.Context(), ledger.TransferRequest{
		SourceAccount:      req.SourceAccount,
		DestinationAccount: req.DestinationAccount,
		Amount:             amount,
		Remarks:            req.Remarks,
		InitiatedBy:        req.InitiatedBy,
		TransactionID:      req.TransactionID,
	})
	if err != nil {
		log.Printf("[TRANSFER] transaction %s failed: %v", res.TransactionID, err)
	}
	writeResult(w, res)
}

// PayBill handles POST /transactions/billpay.
func (ls *LedgerService) PayBill(w http.ResponseWriter, r *http.Request) {
	var req billPaymentRequest
	if !ls.decodeBody(w, r, &req) {
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	res, err := ls.engine.PayBill(r.Context(), ledger.BillPaymentRequest{
		AccountNumber: req.AccountNumber,
		BillerCode:    req.BillerCode,
		Amount:        amount,
		Remarks:       req.Remarks,
		InitiatedBy:   req.InitiatedBy,
		TransactionID: req.TransactionID,
	})
	if err != nil {
		log.Printf("[BILLPAY] transaction %s failed: %v", res.TransactionID, err)
	}
	writeResult(w, res)
}

// Reverse handles POST /transactions/{txId}/reverse.
func (ls *LedgerService) Reverse(w http.ResponseWriter, r *http.Request) {
	var req reverseRequest
	if !ls.decodeBody(w, r, &req) {
		return
	}

	res, err := ls.engine.Reverse(r.Context(), ledger.ReverseRequest{
		OriginalTransactionID: chi.URLParam(r, "txId"),
		Remarks:               req.Remarks,
		InitiatedBy:           req.InitiatedBy,
		TransactionID:         req.TransactionID,
	})
	if err != nil {
		log.Printf("[REVERSE] transaction %s failed: %v", res.TransactionID, err)
	}
	writeResult(w, res)
}

// GetTransaction handles GET /transactions/{txId}.
func (ls *LedgerService) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "txId")

	row, err := ls.engine.GetTransaction(r.Context(), txID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			SendErrorResponse(w, "Transaction not found", http.StatusNotFound, nil)
		} else {
			log.Printf("[TRANSACTION] failed to fetch %s: %v", txID, err)
			SendErrorResponse(w, "Failed to fetch transaction", http.StatusInternalServerError, nil)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(row)
}

// ValidateIdentifier handles GET /identifiers/validate?kind=&value=. It
// re-parses the identifier against its grammar, including the account
// number checksum and transaction ID calendar date.
func (ls *LedgerService) ValidateIdentifier(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	value := r.URL.Query().Get("value")
	if kind == "" || value == "" {
		SendErrorResponse(w, "kind and value are required", http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"kind":  kind,
		"value": value,
		"valid": idgen.Validate(idgen.Kind(kind), value),
	})
}

// CheckEligibility handles GET /accounts/{accountNumber}/eligibility. This
// is an advisory read: the engine re-evaluates the same gates under the
// account lock before any mutation.
func (ls *LedgerService) CheckEligibility(w http.ResponseWriter, r *http.Request) {
	accountNumber := chi.URLParam(r, "accountNumber")
	cardNumber := r.URL.Query().Get("cardNumber")
	amount, err := ParseAmount(r.URL.Query().Get("amount"))
	if err != nil {
		SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}
	channel := models.Channel(r.URL.Query().Get("channel"))
	if !channel.Valid() {
		SendErrorResponse(w, "unknown channel", http.StatusBadRequest, nil)
		return
	}

	decision, err := ls.engine.CheckEligibility(r.Context(), accountNumber, cardNumber, amount, channel)
	if err != nil {
		log.Printf("[ELIGIBILITY] check for %s failed: %v", accountNumber, err)
		SendErrorResponse(w, "Failed to check eligibility", http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(decision)
}
