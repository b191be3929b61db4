package controllers

import (
	"net/http"

	"github.com/rivermail/syncd/internal/runtime"
)

// GeneralController handles health and introspection endpoints.
type GeneralController struct {
	rt *runtime.Runtime
}

func NewGeneralController(rt *runtime.Runtime) *GeneralController {
	return &GeneralController{rt: rt}
}

func (c *GeneralController) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/healthz", c.handleHealth)
	mux.HandleFunc("/v1/shards", c.handleShards)
}

// handleHealth returns 200 with {"status":"ok"} when every shard pool
// responds, 503 otherwise.
func (c *GeneralController) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := c.rt.CheckHealth(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "not_serving")
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

type shardInfo struct {
	ID       int64  `json:"id"`
	Schema   string `json:"schema"`
	Zone     string `json:"zone"`
	Disabled bool   `json:"disabled"`
}

// handleShards lists the configured shard topology.
func (c *GeneralController) handleShards(w http.ResponseWriter, r *http.Request) {
	var out []shardInfo
	for _, sh := range c.rt.Registry().Shards() {
		out = append(out, shardInfo{ID: sh.ID, Schema: sh.SchemaName, Zone: sh.Zone, Disabled: sh.Disabled})
	}
	writeJSON(w, map[string]any{"shards": out})
}
