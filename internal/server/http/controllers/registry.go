package controllers

import (
	"net/http"

	"github.com/rivermail/syncd/internal/runtime"
	logpkg "github.com/rivermail/syncd/pkg/log"
)

// ControllerRegistry manages all HTTP controllers.
type ControllerRegistry struct {
	general  *GeneralController
	delta    *DeltaController
	accounts *AccountsController
}

// NewControllerRegistry initializes all controllers against the runtime.
func NewControllerRegistry(rt *runtime.Runtime, logger logpkg.Logger) *ControllerRegistry {
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &ControllerRegistry{
		general:  NewGeneralController(rt),
		delta:    NewDeltaController(rt, logger),
		accounts: NewAccountsController(rt),
	}
}

// RegisterAllRoutes registers every endpoint with the given mux.
func (r *ControllerRegistry) RegisterAllRoutes(mux *http.ServeMux) {
	r.general.RegisterRoutes(mux)
	r.delta.RegisterRoutes(mux)
	r.accounts.RegisterRoutes(mux)
}
