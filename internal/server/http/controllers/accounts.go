package controllers

import (
	"encoding/json"
	"net/http"

	"github.com/rivermail/syncd/internal/runtime"
)

// AccountsController exposes the control-plane account operations: create,
// run-flag and rebalancing-hint updates, and the worker claim/release pair.
type AccountsController struct {
	rt *runtime.Runtime
}

func NewAccountsController(rt *runtime.Runtime) *AccountsController {
	return &AccountsController{rt: rt}
}

func (c *AccountsController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/accounts/create", c.handleCreate)
	mux.HandleFunc("/v1/accounts/sync_enable", c.handleSyncEnable)
	mux.HandleFunc("/v1/accounts/assign", c.handleAssign)
	mux.HandleFunc("/v1/accounts/sync_start", c.handleSyncStart)
	mux.HandleFunc("/v1/accounts/sync_stop", c.handleSyncStop)
}

type createAccountReq struct {
	ShardID  int64  `json:"shard_id"`
	Email    string `json:"email"`
	Provider string `json:"provider"`
}

func (c *AccountsController) handleCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req createAccountReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	acct, err := c.rt.Tenants().Create(r.Context(), req.ShardID, req.Email, req.Provider)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create account")
		return
	}
	w.WriteHeader(http.StatusCreated)
	writeJSON(w, map[string]any{
		"account_id":   acct.ID,
		"public_id":    acct.PublicID,
		"namespace_id": acct.NamespaceID,
	})
}

type syncEnableReq struct {
	AccountID int64 `json:"account_id"`
	ShouldRun bool  `json:"should_run"`
}

func (c *AccountsController) handleSyncEnable(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req syncEnableReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := c.rt.Tenants().SetSyncShouldRun(r.Context(), req.AccountID, req.ShouldRun); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignReq struct {
	AccountID int64  `json:"account_id"`
	Host      string `json:"host"`
}

func (c *AccountsController) handleAssign(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req assignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := c.rt.Tenants().SetDesiredSyncHost(r.Context(), req.AccountID, req.Host); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *AccountsController) handleSyncStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req assignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := c.rt.Tenants().StartSync(r.Context(), req.AccountID, req.Host); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to claim account")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *AccountsController) handleSyncStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req assignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Host == "" {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	cleared, err := c.rt.Tenants().StopSync(r.Context(), req.AccountID, req.Host)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to release account")
		return
	}
	writeJSON(w, map[string]bool{"cleared": cleared})
}
