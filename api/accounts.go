package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	ledgerkit "github.com/ledgerkit/ledgerkit"
)

type openAccountRequest struct {
	AccountID      string `json:"accountId"`
	OwnerName      string `json:"ownerName"`
	InitialBalance int64  `json:"initialBalance"`
	Currency       string `json:"currency"`
}

type transactionRequest struct {
	Amount        int64  `json:"amount"`
	Description   string `json:"description"`
	TransactionID string `json:"transactionId"`
}

type closeAccountRequest struct {
	Reason string `json:"reason"`
}

type accountResponse struct {
	AccountID string                  `json:"accountId"`
	OwnerName string                  `json:"ownerName"`
	Balance   int64                   `json:"balance"`
	Currency  string                  `json:"currency"`
	Status    ledgerkit.AccountStatus `json:"status"`
	Version   int64                   `json:"version"`
}

func accountFromState(state ledgerkit.AccountState) accountResponse {
	return accountResponse{
		AccountID: state.AccountID,
		OwnerName: state.OwnerName,
		Balance:   state.Balance,
		Currency:  state.Currency,
		Status:    state.Status,
		Version:   state.Version,
	}
}

func (s *Server) handleOpenAccount(w http.ResponseWriter, r *http.Request) {
	var req openAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ledgerkit.NewValidationError("body", "invalid JSON"))
		return
	}

	state, err := s.service.OpenAccount(r.Context(), req.AccountID, req.OwnerName, req.InitialBalance, req.Currency)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, accountFromState(state))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	state, err := s.ledger.LoadAccount(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, accountFromState(state))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ledgerkit.NewValidationError("body", "invalid JSON"))
		return
	}

	state, err := s.service.Deposit(r.Context(), accountID, req.Amount, req.Description, req.TransactionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, accountFromState(state))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req transactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, ledgerkit.NewValidationError("body", "invalid JSON"))
		return
	}

	state, err := s.service.Withdraw(r.Context(), accountID, req.Amount, req.Description, req.TransactionID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, accountFromState(state))
}

func (s *Server) handleCloseAccount(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	var req closeAccountRequest
	if r.Body != nil {
		// Body is optional for close.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}

	state, err := s.service.Close(r.Context(), accountID, req.Reason)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, accountFromState(state))
}

type eventResponse struct {
	ID          string      `json:"id"`
	Type        string      `json:"type"`
	Payload     interface{} `json:"payload"`
	EventNumber int64       `json:"eventNumber"`
	Timestamp   time.Time   `json:"timestamp"`
}

func (s *Server) handleAccountEvents(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	events, err := s.ledger.History(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	response := make([]eventResponse, len(events))
	for i, event := range events {
		response[i] = eventResponse{
			ID:          event.ID,
			Type:        event.Type,
			Payload:     event.Payload,
			EventNumber: event.EventNumber,
			Timestamp:   event.Timestamp,
		}
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleBalanceAt(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	accountID := vars["id"]

	at, err := time.Parse(time.RFC3339, vars["timestamp"])
	if err != nil {
		s.writeError(w, ledgerkit.NewValidationError("timestamp", "must be RFC 3339"))
		return
	}

	state, err := s.ledger.StateAt(r.Context(), accountID, at)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"accountId": state.AccountID,
		"balance":   state.Balance,
		"currency":  state.Currency,
		"status":    state.Status,
		"version":   state.Version,
		"at":        at,
	})
}

type transactionsResponse struct {
	Transactions []ledgerkit.TransactionEntry `json:"transactions"`
	Total        int64                        `json:"total"`
	Page         int                          `json:"page"`
	PageSize     int                          `json:"pageSize"`
}

func (s *Server) handleTransactions(w http.ResponseWriter, r *http.Request) {
	accountID := mux.Vars(r)["id"]

	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := queryInt(r, "pageSize", 50)
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	entries, err := s.readModels.ListTransactions(r.Context(), accountID, pageSize, (page-1)*pageSize)
	if err != nil {
		s.writeError(w, err)
		return
	}

	total, err := s.readModels.CountTransactions(r.Context(), accountID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, transactionsResponse{
		Transactions: entries,
		Total:        total,
		Page:         page,
		PageSize:     pageSize,
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
