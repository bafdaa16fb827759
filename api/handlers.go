/*
handlers.go - HTTP API handlers for the colony dashboard backend

PURPOSE:
  Exposes the catalog, the ledger engine, and the dashboard summary via
  REST. Handles HTTP request/response, JSON serialization, and delegates
  to domain logic.

ENDPOINTS:
  Domes:
    GET    /api/domes                List all domes
    POST   /api/domes                Create dome
    GET    /api/domes/{id}           Get dome
    PUT    /api/domes/{id}           Update dome
    DELETE /api/domes/{id}           Delete dome
    GET    /api/domes/{id}/inventory Stock of a dome

  Resources:
    GET    /api/resources            List all resources
    POST   /api/resources            Create resource
    GET    /api/resources/{id}       Get resource
    PUT    /api/resources/{id}       Update resource
    DELETE /api/resources/{id}       Delete resource

  Inventory:
    POST   /api/inventory            Administrative absolute set
    POST   /api/inventory/inbound    Receive a supply shipment
    POST   /api/inventory/transfer   Transfer between domes
    POST   /api/inventory/movements  Record a local movement

  Ledger:
    GET    /api/resource-logs        Query the movement ledger

  Summary:
    GET    /api/summary              Dashboard aggregates

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input (bad amount, same-dome transfer, malformed body)
  - 404: Unknown dome or resource
  - 409: Insufficient stock
  - 503: Store unavailable (retryable; nothing was committed)
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ares/colony-engine/colony"
	"github.com/ares/colony-engine/store/sqlite"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store  *sqlite.Store
	Engine *colony.Engine
}

// NewHandler creates a new handler over the store and engine.
func NewHandler(store *sqlite.Store, engine *colony.Engine) *Handler {
	return &Handler{Store: store, Engine: engine}
}

// =============================================================================
// DOME HANDLERS
// =============================================================================

// ListDomes returns all domes ordered by code.
func (h *Handler) ListDomes(w http.ResponseWriter, r *http.Request) {
	domes, err := h.Store.ListDomes(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list domes", err)
		return
	}

	dtos := make([]DomeDTO, len(domes))
	for i, d := range domes {
		dtos[i] = toDomeDTO(d)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetDome returns a single dome.
func (h *Handler) GetDome(w http.ResponseWriter, r *http.Request) {
	id := colony.DomeID(chi.URLParam(r, "id"))

	dome, err := h.Store.GetDome(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get dome", err)
		return
	}
	if dome == nil {
		writeError(w, http.StatusNotFound, "Dome not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toDomeDTO(*dome))
}

// CreateDome creates a new dome.
func (h *Handler) CreateDome(w http.ResponseWriter, r *http.Request) {
	var req CreateDomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" || req.Name == "" {
		writeError(w, http.StatusBadRequest, "code and name are required", nil)
		return
	}

	dome := colony.Dome{
		ID:         colony.DomeID(req.ID),
		Code:       req.Code,
		Name:       req.Name,
		Type:       colony.DomeType(req.DomeType),
		Status:     colony.DomeStatus(req.Status),
		AlertLevel: req.AlertLevel,
	}
	if dome.ID == "" {
		dome.ID = colony.DomeID(uuid.NewString())
	}
	if dome.Status == "" {
		dome.Status = colony.DomeOperational
	}

	if err := h.Store.SaveDome(r.Context(), dome); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create dome", err)
		return
	}

	stored, err := h.Store.GetDome(r.Context(), dome.ID)
	if err != nil || stored == nil {
		writeError(w, http.StatusInternalServerError, "Failed to read back dome", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDomeDTO(*stored))
}

// UpdateDome applies a partial update to a dome.
func (h *Handler) UpdateDome(w http.ResponseWriter, r *http.Request) {
	id := colony.DomeID(chi.URLParam(r, "id"))

	dome, err := h.Store.GetDome(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get dome", err)
		return
	}
	if dome == nil {
		writeError(w, http.StatusNotFound, "Dome not found", nil)
		return
	}

	var req UpdateDomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Code != nil {
		dome.Code = *req.Code
	}
	if req.Name != nil {
		dome.Name = *req.Name
	}
	if req.DomeType != nil {
		dome.Type = colony.DomeType(*req.DomeType)
	}
	if req.Status != nil {
		dome.Status = colony.DomeStatus(*req.Status)
	}
	if req.AlertLevel != nil {
		dome.AlertLevel = *req.AlertLevel
	}

	if err := h.Store.SaveDome(r.Context(), *dome); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update dome", err)
		return
	}
	writeJSON(w, http.StatusOK, toDomeDTO(*dome))
}

// DeleteDome removes a dome from the catalog.
func (h *Handler) DeleteDome(w http.ResponseWriter, r *http.Request) {
	id := colony.DomeID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteDome(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete dome", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// RESOURCE HANDLERS
// =============================================================================

// ListResources returns all resources ordered by code.
func (h *Handler) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.Store.ListResources(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list resources", err)
		return
	}

	dtos := make([]ResourceDTO, len(resources))
	for i, res := range resources {
		dtos[i] = toResourceDTO(res)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetResource returns a single resource.
func (h *Handler) GetResource(w http.ResponseWriter, r *http.Request) {
	id := colony.ResourceID(chi.URLParam(r, "id"))

	res, err := h.Store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get resource", err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "Resource not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toResourceDTO(*res))
}

// CreateResource creates a new resource.
func (h *Handler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Code == "" || req.Name == "" || req.Unit == "" {
		writeError(w, http.StatusBadRequest, "code, name and unit are required", nil)
		return
	}

	res := colony.Resource{
		ID:       colony.ResourceID(req.ID),
		Code:     req.Code,
		Name:     req.Name,
		Unit:     req.Unit,
		Category: colony.CategoryCode(req.Category),
		IsVital:  req.IsVital,
		Metadata: req.Metadata,
	}
	if res.ID == "" {
		res.ID = colony.ResourceID(uuid.NewString())
	}
	if res.Category == "" {
		res.Category = colony.CategoryMisc
	}

	if err := h.Store.SaveResource(r.Context(), res); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create resource", err)
		return
	}

	stored, err := h.Store.GetResource(r.Context(), res.ID)
	if err != nil || stored == nil {
		writeError(w, http.StatusInternalServerError, "Failed to read back resource", err)
		return
	}
	writeJSON(w, http.StatusCreated, toResourceDTO(*stored))
}

// UpdateResource applies a partial update to a resource.
func (h *Handler) UpdateResource(w http.ResponseWriter, r *http.Request) {
	id := colony.ResourceID(chi.URLParam(r, "id"))

	res, err := h.Store.GetResource(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get resource", err)
		return
	}
	if res == nil {
		writeError(w, http.StatusNotFound, "Resource not found", nil)
		return
	}

	var req UpdateResourceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if req.Code != nil {
		res.Code = *req.Code
	}
	if req.Name != nil {
		res.Name = *req.Name
	}
	if req.Unit != nil {
		res.Unit = *req.Unit
	}
	if req.Category != nil {
		res.Category = colony.CategoryCode(*req.Category)
	}
	if req.IsVital != nil {
		res.IsVital = *req.IsVital
	}
	if req.Metadata != nil {
		res.Metadata = *req.Metadata
	}

	if err := h.Store.SaveResource(r.Context(), *res); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update resource", err)
		return
	}
	writeJSON(w, http.StatusOK, toResourceDTO(*res))
}

// DeleteResource removes a resource from the catalog.
func (h *Handler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	id := colony.ResourceID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteResource(r.Context(), id); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to delete resource", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// INVENTORY HANDLERS
// =============================================================================

// GetDomeInventory returns the stock of one dome.
func (h *Handler) GetDomeInventory(w http.ResponseWriter, r *http.Request) {
	id := colony.DomeID(chi.URLParam(r, "id"))

	rows, err := h.Engine.ListStock(r.Context(), id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTOs(rows))
}

// UpsertInventory sets a stock row to absolute values. No ledger entry
// is produced; this is the administrative seeding/correction path.
func (h *Handler) UpsertInventory(w http.ResponseWriter, r *http.Request) {
	var req UpsertStockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	row, err := h.Engine.DirectSet(r.Context(), colony.StockUpsert{
		DomeID:       colony.DomeID(req.DomeID),
		ResourceID:   colony.ResourceID(req.ResourceID),
		Quantity:     decimal.NewFromFloat(req.Quantity),
		Reserved:     decimal.NewFromFloat(req.Reserved),
		MinThreshold: optDecimal(req.MinThreshold),
		MaxThreshold: optDecimal(req.MaxThreshold),
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockDTO(*row))
}

// ReceiveInbound records a supply shipment from Earth.
func (h *Handler) ReceiveInbound(w http.ResponseWriter, r *http.Request) {
	var req InboundRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	items := make([]colony.InboundItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = colony.InboundItem{
			ResourceID: colony.ResourceID(item.ResourceID),
			Amount:     decimal.NewFromFloat(item.Amount),
		}
	}

	result, err := h.Engine.RecordInbound(r.Context(), colony.InboundRequest{
		DomeID:      colony.DomeID(req.DomeID),
		Items:       items,
		MissionName: req.MissionName,
		OperatorID:  req.OperatorID,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, InboundResponseDTO{
		DomeID:      string(result.DomeID),
		MissionName: result.MissionName,
		Entries:     toEntryDTOs(result.Entries),
		Inventory:   toStockDTOs(result.Stock),
	})
}

// Transfer moves a resource between two domes.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	var req TransferRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	result, err := h.Engine.TransferResources(r.Context(), colony.TransferRequest{
		FromDomeID: colony.DomeID(req.FromDomeID),
		ToDomeID:   colony.DomeID(req.ToDomeID),
		ResourceID: colony.ResourceID(req.ResourceID),
		Amount:     decimal.NewFromFloat(req.Amount),
		OperatorID: req.OperatorID,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, TransferResponseDTO{
		TransferID:      string(result.TransferID),
		Entries:         toEntryDTOs(result.Entries),
		SourceInventory: toStockDTOs(result.SourceStock),
		TargetInventory: toStockDTOs(result.TargetStock),
	})
}

// RecordMovement records a local extraction/production/consumption/loss/
// adjustment movement.
func (h *Handler) RecordMovement(w http.ResponseWriter, r *http.Request) {
	var req MovementRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	entry, stock, err := h.Engine.RecordMovement(r.Context(), colony.MovementRequest{
		DomeID:     colony.DomeID(req.DomeID),
		ResourceID: colony.ResourceID(req.ResourceID),
		Kind:       colony.MovementKind(req.Kind),
		Amount:     decimal.NewFromFloat(req.Amount),
		OperatorID: req.OperatorID,
		Notes:      req.Notes,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, MovementResponseDTO{
		Entry: toEntryDTO(*entry),
		Stock: toStockDTO(*stock),
	})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// ListLogs queries the movement ledger. Filters come from query params:
// dome_id, resource_id, kind, from, to (RFC3339), limit.
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := colony.EntryFilter{
		DomeID:     colony.DomeID(q.Get("dome_id")),
		ResourceID: colony.ResourceID(q.Get("resource_id")),
		Kind:       colony.MovementKind(q.Get("kind")),
	}

	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'from' timestamp (use RFC3339)", err)
			return
		}
		filter.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid 'to' timestamp (use RFC3339)", err)
			return
		}
		filter.To = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid 'limit'", err)
			return
		}
		filter.Limit = n
	}

	entries, err := h.Engine.QueryLedger(r.Context(), filter)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// =============================================================================
// SUMMARY HANDLER
// =============================================================================

// GetSummary returns dashboard aggregates: dome counts and per-resource
// quantity totals.
func (h *Handler) GetSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.Store.GetSummary(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute summary", err)
		return
	}

	dto := SummaryDTO{
		TotalDomes:       sum.TotalDomes,
		DomesByStatus:    make(map[string]int, len(sum.DomesByStatus)),
		TotalsByResource: make(map[string]float64, len(sum.TotalsByResource)),
	}
	for status, n := range sum.DomesByStatus {
		dto.DomesByStatus[string(status)] = n
	}
	for code, total := range sum.TotalsByResource {
		v, _ := total.Float64()
		dto.TotalsByResource[code] = v
	}
	writeJSON(w, http.StatusOK, dto)
}

// ResetDatabase clears all data. Dev only.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeEngineError maps the engine's error taxonomy onto HTTP statuses.
// Retryable errors become 503 so callers know nothing was committed and
// a retry is safe.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, colony.ErrInsufficientStock):
		writeError(w, http.StatusConflict, "Insufficient stock", err)
	case errors.Is(err, colony.ErrInvalidTransfer):
		writeError(w, http.StatusBadRequest, "Invalid transfer", err)
	case errors.Is(err, colony.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "Invalid amount", err)
	case colony.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Unknown dome or resource", err)
	case colony.IsRetryable(err):
		writeError(w, http.StatusServiceUnavailable, "Store unavailable, retry later", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
