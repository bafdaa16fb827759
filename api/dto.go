/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

QUANTITIES:
  Stock and ledger amounts travel as JSON numbers (float64) at the API
  boundary and are converted to decimals at the edge. The engine and the
  stores never do float arithmetic.

SEE ALSO:
  - handlers.go: Uses these types
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ares/colony-engine/colony"
)

// =============================================================================
// DOME TYPES
// =============================================================================

// DomeDTO represents a dome in API responses.
type DomeDTO struct {
	ID         string `json:"id"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	DomeType   string `json:"dome_type"`
	Status     string `json:"status"`
	AlertLevel int    `json:"alert_level"`
	CreatedAt  string `json:"created_at,omitempty"`
	UpdatedAt  string `json:"updated_at,omitempty"`
}

// CreateDomeRequest is the request to create a dome.
type CreateDomeRequest struct {
	ID         string `json:"id,omitempty"`
	Code       string `json:"code"`
	Name       string `json:"name"`
	DomeType   string `json:"dome_type"`
	Status     string `json:"status,omitempty"`
	AlertLevel int    `json:"alert_level,omitempty"`
}

// UpdateDomeRequest is a partial update; nil fields are left unchanged.
type UpdateDomeRequest struct {
	Code       *string `json:"code,omitempty"`
	Name       *string `json:"name,omitempty"`
	DomeType   *string `json:"dome_type,omitempty"`
	Status     *string `json:"status,omitempty"`
	AlertLevel *int    `json:"alert_level,omitempty"`
}

// =============================================================================
// RESOURCE TYPES
// =============================================================================

// ResourceDTO represents a resource in API responses.
type ResourceDTO struct {
	ID        string            `json:"id"`
	Code      string            `json:"code"`
	Name      string            `json:"name"`
	Unit      string            `json:"unit"`
	Category  string            `json:"category"`
	IsVital   bool              `json:"is_vital"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt string            `json:"created_at,omitempty"`
	UpdatedAt string            `json:"updated_at,omitempty"`
}

// CreateResourceRequest is the request to create a resource.
type CreateResourceRequest struct {
	ID       string            `json:"id,omitempty"`
	Code     string            `json:"code"`
	Name     string            `json:"name"`
	Unit     string            `json:"unit"`
	Category string            `json:"category,omitempty"`
	IsVital  bool              `json:"is_vital,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// UpdateResourceRequest is a partial update; nil fields are left unchanged.
type UpdateResourceRequest struct {
	Code     *string            `json:"code,omitempty"`
	Name     *string            `json:"name,omitempty"`
	Unit     *string            `json:"unit,omitempty"`
	Category *string            `json:"category,omitempty"`
	IsVital  *bool              `json:"is_vital,omitempty"`
	Metadata *map[string]string `json:"metadata,omitempty"`
}

// =============================================================================
// STOCK TYPES
// =============================================================================

// StockDTO represents one inventory row.
type StockDTO struct {
	DomeID       string   `json:"dome_id"`
	ResourceID   string   `json:"resource_id"`
	Quantity     float64  `json:"quantity"`
	Reserved     float64  `json:"reserved"`
	MinThreshold *float64 `json:"min_threshold,omitempty"`
	MaxThreshold *float64 `json:"max_threshold,omitempty"`
	UpdatedAt    string   `json:"updated_at"`
}

// UpsertStockRequest sets an inventory row to absolute values.
// Administrative path; no ledger entry is produced.
type UpsertStockRequest struct {
	DomeID       string   `json:"dome_id"`
	ResourceID   string   `json:"resource_id"`
	Quantity     float64  `json:"quantity"`
	Reserved     float64  `json:"reserved"`
	MinThreshold *float64 `json:"min_threshold,omitempty"`
	MaxThreshold *float64 `json:"max_threshold,omitempty"`
}

// =============================================================================
// MUTATION TYPES
// =============================================================================

// InboundItemDTO is one line of an inbound shipment.
type InboundItemDTO struct {
	ResourceID string  `json:"resource_id"`
	Amount     float64 `json:"amount"`
}

// InboundRequestDTO receives a supply shipment into one dome.
type InboundRequestDTO struct {
	DomeID      string           `json:"dome_id"`
	MissionName string           `json:"mission_name,omitempty"`
	OperatorID  string           `json:"operator_id,omitempty"`
	Items       []InboundItemDTO `json:"items"`
}

// InboundResponseDTO reports the committed shipment.
type InboundResponseDTO struct {
	DomeID      string           `json:"dome_id"`
	MissionName string           `json:"mission_name,omitempty"`
	Entries     []LedgerEntryDTO `json:"entries"`
	Inventory   []StockDTO       `json:"inventory"`
}

// TransferRequestDTO moves one resource between two domes.
type TransferRequestDTO struct {
	FromDomeID string  `json:"from_dome_id"`
	ToDomeID   string  `json:"to_dome_id"`
	ResourceID string  `json:"resource_id"`
	Amount     float64 `json:"amount"`
	OperatorID string  `json:"operator_id,omitempty"`
}

// TransferResponseDTO reports a committed transfer.
type TransferResponseDTO struct {
	TransferID      string           `json:"transfer_id"`
	Entries         []LedgerEntryDTO `json:"entries"`
	SourceInventory []StockDTO       `json:"source_inventory"`
	TargetInventory []StockDTO       `json:"target_inventory"`
}

// MovementRequestDTO records a single-dome movement (extraction,
// production, consumption, loss, adjustment).
type MovementRequestDTO struct {
	DomeID     string            `json:"dome_id"`
	ResourceID string            `json:"resource_id"`
	Kind       string            `json:"kind"`
	Amount     float64           `json:"amount"`
	OperatorID string            `json:"operator_id,omitempty"`
	Notes      string            `json:"notes,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// MovementResponseDTO reports a committed movement.
type MovementResponseDTO struct {
	Entry LedgerEntryDTO `json:"entry"`
	Stock StockDTO       `json:"stock"`
}

// =============================================================================
// LEDGER TYPES
// =============================================================================

// LedgerEntryDTO represents one movement record.
type LedgerEntryDTO struct {
	ID          string            `json:"id"`
	DomeID      string            `json:"dome_id"`
	ResourceID  string            `json:"resource_id"`
	Kind        string            `json:"kind"`
	Amount      float64           `json:"amount"`
	TransferID  string            `json:"transfer_id,omitempty"`
	MissionName string            `json:"mission_name,omitempty"`
	OperatorID  string            `json:"operator_id,omitempty"`
	Notes       string            `json:"notes,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CreatedAt   string            `json:"created_at"`
}

// SummaryDTO is the dashboard landing aggregate.
type SummaryDTO struct {
	TotalDomes       int                `json:"total_domes"`
	DomesByStatus    map[string]int     `json:"domes_by_status"`
	TotalsByResource map[string]float64 `json:"totals_by_resource"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toDomeDTO(d colony.Dome) DomeDTO {
	return DomeDTO{
		ID:         string(d.ID),
		Code:       d.Code,
		Name:       d.Name,
		DomeType:   string(d.Type),
		Status:     string(d.Status),
		AlertLevel: d.AlertLevel,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  d.UpdatedAt.Format(time.RFC3339),
	}
}

func toResourceDTO(r colony.Resource) ResourceDTO {
	return ResourceDTO{
		ID:        string(r.ID),
		Code:      r.Code,
		Name:      r.Name,
		Unit:      r.Unit,
		Category:  string(r.Category),
		IsVital:   r.IsVital,
		Metadata:  r.Metadata,
		CreatedAt: r.CreatedAt.Format(time.RFC3339),
		UpdatedAt: r.UpdatedAt.Format(time.RFC3339),
	}
}

func toStockDTO(row colony.StockRow) StockDTO {
	qty, _ := row.Quantity.Float64()
	res, _ := row.Reserved.Float64()
	dto := StockDTO{
		DomeID:     string(row.DomeID),
		ResourceID: string(row.ResourceID),
		Quantity:   qty,
		Reserved:   res,
		UpdatedAt:  row.LastUpdated.Format(time.RFC3339),
	}
	if row.MinThreshold != nil {
		v, _ := row.MinThreshold.Float64()
		dto.MinThreshold = &v
	}
	if row.MaxThreshold != nil {
		v, _ := row.MaxThreshold.Float64()
		dto.MaxThreshold = &v
	}
	return dto
}

func toStockDTOs(rows []colony.StockRow) []StockDTO {
	dtos := make([]StockDTO, len(rows))
	for i, row := range rows {
		dtos[i] = toStockDTO(row)
	}
	return dtos
}

func toEntryDTO(e colony.LedgerEntry) LedgerEntryDTO {
	amount, _ := e.Amount.Float64()
	return LedgerEntryDTO{
		ID:          string(e.ID),
		DomeID:      string(e.DomeID),
		ResourceID:  string(e.ResourceID),
		Kind:        string(e.Kind),
		Amount:      amount,
		TransferID:  string(e.TransferID),
		MissionName: e.MissionName,
		OperatorID:  e.OperatorID,
		Notes:       e.Notes,
		Metadata:    e.Metadata,
		CreatedAt:   e.CreatedAt.Format(time.RFC3339Nano),
	}
}

func toEntryDTOs(es []colony.LedgerEntry) []LedgerEntryDTO {
	dtos := make([]LedgerEntryDTO, len(es))
	for i, e := range es {
		dtos[i] = toEntryDTO(e)
	}
	return dtos
}

func optDecimal(v *float64) *decimal.Decimal {
	if v == nil {
		return nil
	}
	d := decimal.NewFromFloat(*v)
	return &d
}
