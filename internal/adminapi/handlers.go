// Package adminapi wires up the Gin HTTP router exposing operator-facing
// health, document, and peer-registry endpoints over the store and sync
// orchestrator — the "HTTP/health-check surface" the engine consumes as
// an external collaborator rather than owning the wire protocol itself.
package adminapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"entgldb/internal/coordinator"
	"entgldb/internal/model"
	"entgldb/internal/store"
	"entgldb/internal/syncorch"
	"entgldb/internal/syncserver"

	"github.com/gin-gonic/gin"
)

// Handler holds every dependency injected from main.
type Handler struct {
	engine  store.Engine
	coord   *coordinator.Coordinator
	orch    *syncorch.Orchestrator
	syncSrv *syncserver.Server
	selfID  string
}

// NewHandler creates a Handler.
func NewHandler(engine store.Engine, coord *coordinator.Coordinator, orch *syncorch.Orchestrator, syncSrv *syncserver.Server, selfID string) *Handler {
	return &Handler{engine: engine, coord: coord, orch: orch, syncSrv: syncSrv, selfID: selfID}
}

// Register mounts all routes on r.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/status", h.Status)

	docs := r.Group("/documents/:collection")
	docs.GET("", h.ListKeys)
	docs.GET("/:key", h.GetDocument)
	docs.PUT("/:key", h.PutDocument)
	docs.DELETE("/:key", h.DeleteDocument)

	peers := r.Group("/peers")
	peers.GET("", h.ListPeers)
	peers.POST("", h.AddPeer)
	peers.DELETE("/:node_id", h.RemovePeer)
}

// ─── Health and status ────────────────────────────────────────────────────────

// Health handles GET /health — a liveness probe, not a readiness probe:
// it reports process-up, not sync-caught-up.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"node":   h.selfID,
		"status": "ok",
		"clock":  h.engine.LatestTimestamp(),
	})
}

// Status handles GET /status — per-peer sync health and connection
// counters, the "Observables" the spec's configuration section calls out.
func (h *Handler) Status(c *gin.Context) {
	resp := gin.H{
		"node":  h.selfID,
		"peers": h.orch.Registry().Snapshot(),
	}
	if h.syncSrv != nil {
		resp["connections_accepted"] = h.syncSrv.Counters.ConnectionsAccepted.Load()
		resp["connections_rejected"] = h.syncSrv.Counters.ConnectionsRejected.Load()
		resp["bytes_in"] = h.syncSrv.Counters.BytesIn.Load()
		resp["bytes_out"] = h.syncSrv.Counters.BytesOut.Load()
	}
	c.JSON(http.StatusOK, resp)
}

// ─── Document handlers ────────────────────────────────────────────────────────

// GetDocument handles GET /documents/:collection/:key
func (h *Handler) GetDocument(c *gin.Context) {
	doc, ok, err := h.engine.GetDocument(c.Param("collection"), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !ok || doc.IsDeleted {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not found"})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ListKeys handles GET /documents/:collection
func (h *Handler) ListKeys(c *gin.Context) {
	keys, err := h.engine.Keys(c.Param("collection"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"collection": c.Param("collection"), "keys": keys})
}

// PutDocument handles PUT /documents/:collection/:key
// Body: the raw JSON content to store.
func (h *Handler) PutDocument(c *gin.Context) {
	var content json.RawMessage
	if err := c.ShouldBindJSON(&content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	doc, err := h.coord.Put(c.Param("collection"), c.Param("key"), content)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// DeleteDocument handles DELETE /documents/:collection/:key
func (h *Handler) DeleteDocument(c *gin.Context) {
	doc, err := h.coord.Delete(c.Param("collection"), c.Param("key"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ─── Peer registry handlers ───────────────────────────────────────────────────

// ListPeers handles GET /peers
func (h *Handler) ListPeers(c *gin.Context) {
	peers, err := h.engine.Peers()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": peers})
}

// AddPeer handles POST /peers
// Body: a RemotePeer row; it is written through the coordinator so it
// replicates to every other node via the ordinary oplog path.
func (h *Handler) AddPeer(c *gin.Context) {
	var p model.RemotePeer
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if p.NodeID == "" || p.Address == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "node_id and address are required"})
		return
	}
	p.Enabled = true
	if _, err := h.coord.PutPeer(p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.UpsertPeer(p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.orch.Registry().Upsert(p)
	c.JSON(http.StatusOK, gin.H{"added": p.NodeID})
}

// RemovePeer handles DELETE /peers/:node_id
func (h *Handler) RemovePeer(c *gin.Context) {
	nodeID := c.Param("node_id")
	p, ok := h.orch.Registry().Get(nodeID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown peer"})
		return
	}
	p.Enabled = false
	if _, err := h.coord.PutPeer(p); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := h.engine.RemovePeer(nodeID); err != nil && !errors.Is(err, store.ErrUnknownPeer) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.orch.Registry().Remove(nodeID)
	c.JSON(http.StatusOK, gin.H{"removed": nodeID})
}
