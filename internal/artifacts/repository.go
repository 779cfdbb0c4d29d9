package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

// PurchaseOrderFilter narrows purchase order listings
type PurchaseOrderFilter struct {
	Statuses []PurchaseOrderStatus
	Search   string
}

// Repository defines persistence for request artifacts
type Repository interface {
	// WithTx runs fn with artifact and workflow repositories bound to one transaction
	WithTx(ctx context.Context, fn func(repo Repository, requests workflow.Repository) error) error

	CreateReport(ctx context.Context, report *Report) error
	UpdateReport(ctx context.Context, report *Report) error
	GetReportByRequest(ctx context.Context, requestID uuid.UUID) (*Report, error)

	CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error
	UpdatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error
	GetPurchaseOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error)
	GetPurchaseOrderByReport(ctx context.Context, reportID uuid.UUID) (*PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, filter PurchaseOrderFilter) ([]PurchaseOrder, error)

	CreateInventoryOrder(ctx context.Context, order *InventoryOrder) error
	UpdateInventoryOrder(ctx context.Context, order *InventoryOrder) error
	GetInventoryOrder(ctx context.Context, id uuid.UUID) (*InventoryOrder, error)
	GetInventoryOrderByReport(ctx context.Context, reportID uuid.UUID) (*InventoryOrder, error)

	CreateCompletionReport(ctx context.Context, report *CompletionReport) error
	UpdateCompletionReport(ctx context.Context, report *CompletionReport) error
	GetCompletionReport(ctx context.Context, id uuid.UUID) (*CompletionReport, error)
	GetCompletionReportByReport(ctx context.Context, reportID uuid.UUID) (*CompletionReport, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a gorm-backed artifact repository
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", what, workflow.ErrNotFound)
	}
	return err
}

func (r *gormRepository) WithTx(ctx context.Context, fn func(repo Repository, requests workflow.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx}, workflow.NewRepository(tx))
	})
}

// ============================================================================
// Reports
// ============================================================================

func (r *gormRepository) CreateReport(ctx context.Context, report *Report) error {
	return r.db.WithContext(ctx).Create(report).Error
}

func (r *gormRepository) UpdateReport(ctx context.Context, report *Report) error {
	return r.db.WithContext(ctx).Save(report).Error
}

func (r *gormRepository) GetReportByRequest(ctx context.Context, requestID uuid.UUID) (*Report, error) {
	var report Report
	if err := r.db.WithContext(ctx).First(&report, "service_request_id = ?", requestID).Error; err != nil {
		return nil, notFound(err, "report")
	}
	return &report, nil
}

// ============================================================================
// Purchase orders
// ============================================================================

func (r *gormRepository) CreatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error {
	return r.db.WithContext(ctx).Omit("Report").Create(order).Error
}

func (r *gormRepository) UpdatePurchaseOrder(ctx context.Context, order *PurchaseOrder) error {
	return r.db.WithContext(ctx).Omit("Report").Save(order).Error
}

func (r *gormRepository) GetPurchaseOrder(ctx context.Context, id uuid.UUID) (*PurchaseOrder, error) {
	var order PurchaseOrder
	if err := r.db.WithContext(ctx).Preload("Report").First(&order, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "purchase order")
	}
	return &order, nil
}

func (r *gormRepository) GetPurchaseOrderByReport(ctx context.Context, reportID uuid.UUID) (*PurchaseOrder, error) {
	var order PurchaseOrder
	if err := r.db.WithContext(ctx).First(&order, "report_id = ?", reportID).Error; err != nil {
		return nil, notFound(err, "purchase order")
	}
	return &order, nil
}

func (r *gormRepository) ListPurchaseOrders(ctx context.Context, filter PurchaseOrderFilter) ([]PurchaseOrder, error) {
	var orders []PurchaseOrder
	db := r.db.WithContext(ctx).Preload("Report")
	if len(filter.Statuses) > 0 {
		db = db.Where("status IN ?", filter.Statuses)
	}
	if s := strings.TrimSpace(filter.Search); s != "" {
		db = db.Where("LOWER(reference_number) LIKE ?", "%"+strings.ToLower(s)+"%")
	}
	err := db.Order("created_at DESC").Find(&orders).Error
	return orders, err
}

// ============================================================================
// Inventory orders
// ============================================================================

func (r *gormRepository) CreateInventoryOrder(ctx context.Context, order *InventoryOrder) error {
	return r.db.WithContext(ctx).Omit("Report").Create(order).Error
}

func (r *gormRepository) UpdateInventoryOrder(ctx context.Context, order *InventoryOrder) error {
	return r.db.WithContext(ctx).Omit("Report").Save(order).Error
}

func (r *gormRepository) GetInventoryOrder(ctx context.Context, id uuid.UUID) (*InventoryOrder, error) {
	var order InventoryOrder
	if err := r.db.WithContext(ctx).Preload("Report").First(&order, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "inventory order")
	}
	return &order, nil
}

func (r *gormRepository) GetInventoryOrderByReport(ctx context.Context, reportID uuid.UUID) (*InventoryOrder, error) {
	var order InventoryOrder
	if err := r.db.WithContext(ctx).First(&order, "report_id = ?", reportID).Error; err != nil {
		return nil, notFound(err, "inventory order")
	}
	return &order, nil
}

// ============================================================================
// Completion reports
// ============================================================================

func (r *gormRepository) CreateCompletionReport(ctx context.Context, report *CompletionReport) error {
	return r.db.WithContext(ctx).Omit("Report").Create(report).Error
}

func (r *gormRepository) UpdateCompletionReport(ctx context.Context, report *CompletionReport) error {
	return r.db.WithContext(ctx).Omit("Report").Save(report).Error
}

func (r *gormRepository) GetCompletionReport(ctx context.Context, id uuid.UUID) (*CompletionReport, error) {
	var report CompletionReport
	if err := r.db.WithContext(ctx).First(&report, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "completion report")
	}
	return &report, nil
}

func (r *gormRepository) GetCompletionReportByReport(ctx context.Context, reportID uuid.UUID) (*CompletionReport, error) {
	var report CompletionReport
	if err := r.db.WithContext(ctx).First(&report, "report_id = ?", reportID).Error; err != nil {
		return nil, notFound(err, "completion report")
	}
	return &report, nil
}
