package artifacts

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"maintenance-portal/service-desk-backend/internal/workflow"
)

const defaultCompletionTitle = "Completion report"

// Refusal reasons carried by a failed workflow.Result
var (
	ErrReportExists     = errors.New("report already exists")
	ErrReportMissing    = errors.New("report not found")
	ErrOrderExists      = errors.New("order already exists")
	ErrCompletionExists = errors.New("completion report already exists")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrInvalidInput     = errors.New("invalid input")
)

// ReportInput carries the fields of a new report
type ReportInput struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description" binding:"required"`
}

// OrderInput carries the reference of a new purchase or inventory order
type OrderInput struct {
	ReferenceNumber string `json:"reference_number" binding:"required"`
}

// CompletionInput carries the fields of a completion report
type CompletionInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description" binding:"required"`
	Checklist   []ChecklistItem `json:"checklist"`
}

type gate func(p *workflow.StationPolicy) bool

// Service manages the reports and orders attached to service requests
type Service struct {
	repo   Repository
	engine *workflow.Engine
	logger *zap.Logger
}

// NewService creates a new artifact service
func NewService(repo Repository, engine *workflow.Engine, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		engine: engine,
		logger: logger,
	}
}

// Get returns every artifact of a request; missing ones are nil
func (s *Service) Get(ctx context.Context, requestID uuid.UUID) (*Bundle, error) {
	if _, err := s.engine.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	bundle := &Bundle{}
	report, err := s.repo.GetReportByRequest(ctx, requestID)
	if errors.Is(err, workflow.ErrNotFound) {
		return bundle, nil
	}
	if err != nil {
		return nil, err
	}
	bundle.Report = report

	if bundle.PurchaseOrder, err = optional(s.repo.GetPurchaseOrderByReport(ctx, report.ID)); err != nil {
		return nil, err
	}
	if bundle.InventoryOrder, err = optional(s.repo.GetInventoryOrderByReport(ctx, report.ID)); err != nil {
		return nil, err
	}
	if bundle.CompletionReport, err = optional(s.repo.GetCompletionReportByReport(ctx, report.ID)); err != nil {
		return nil, err
	}
	return bundle, nil
}

// ListPurchaseOrders returns purchase orders newest first
func (s *Service) ListPurchaseOrders(ctx context.Context, filter PurchaseOrderFilter) ([]PurchaseOrder, error) {
	for _, status := range filter.Statuses {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
		}
	}
	return s.repo.ListPurchaseOrders(ctx, filter)
}

// ============================================================================
// Reports
// ============================================================================

// CreateReport files the single report of a request
func (s *Service) CreateReport(ctx context.Context, requestID uuid.UUID, actor workflow.Actor, in ReportInput) (*Report, workflow.Result, error) {
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Description) == "" {
		return nil, refused(ErrInvalidInput, "Report title and description are required"), nil
	}
	req, err := s.engine.GetRequest(ctx, requestID)
	if err != nil {
		return nil, workflow.Result{}, err
	}
	if _, err := s.repo.GetReportByRequest(ctx, requestID); err == nil {
		return nil, refused(ErrReportExists, "Report already exists"), nil
	} else if !errors.Is(err, workflow.ErrNotFound) {
		return nil, workflow.Result{}, err
	}

	report := &Report{
		ServiceRequestID: req.ID,
		Title:            in.Title,
		Description:      in.Description,
		CreatedByID:      actor.UserID,
	}
	err = s.record(ctx, req, actor, "Report created", func(repo Repository) error {
		return repo.CreateReport(ctx, report)
	})
	if err != nil {
		return nil, workflow.Result{}, fmt.Errorf("failed to create report: %w", err)
	}

	s.logger.Info("Report created", zap.String("request_id", requestID.String()), zap.String("report_id", report.ID.String()))
	return report, succeeded("Report created successfully"), nil
}

// ============================================================================
// Purchase orders
// ============================================================================

// CreatePurchaseOrder raises the purchase order of a request's report
func (s *Service) CreatePurchaseOrder(ctx context.Context, requestID uuid.UUID, actor workflow.Actor, in OrderInput) (*PurchaseOrder, workflow.Result, error) {
	req, report, res, err := s.prepareOrder(ctx, requestID, actor, in,
		func(p *workflow.StationPolicy) bool { return p.CanCreatePurchaseOrder },
		"This station does not allow creating purchase orders")
	if err != nil || !res.Success {
		return nil, res, err
	}
	if _, err := s.repo.GetPurchaseOrderByReport(ctx, report.ID); err == nil {
		return nil, refused(ErrOrderExists, "Purchase order already exists"), nil
	} else if !errors.Is(err, workflow.ErrNotFound) {
		return nil, workflow.Result{}, err
	}

	order := &PurchaseOrder{
		ReportID:        report.ID,
		ReferenceNumber: strings.TrimSpace(in.ReferenceNumber),
		Status:          PurchaseOrderApproved,
		CreatedByID:     actor.UserID,
	}
	err = s.record(ctx, req, actor, "Purchase order created", func(repo Repository) error {
		if err := repo.CreatePurchaseOrder(ctx, order); err != nil {
			return err
		}
		report.NeedsOutsourcing = true
		return repo.UpdateReport(ctx, report)
	})
	if err != nil {
		return nil, workflow.Result{}, fmt.Errorf("failed to create purchase order: %w", err)
	}
	return order, succeeded("Purchase order created successfully"), nil
}

// UpdatePurchaseOrderStatus moves a purchase order between approved, supplied and used.
// Supplied orders are announced to the service provider's managers.
func (s *Service) UpdatePurchaseOrderStatus(ctx context.Context, orderID uuid.UUID, actor workflow.Actor, status PurchaseOrderStatus) (*PurchaseOrder, workflow.Result, error) {
	if !status.Valid() {
		return nil, refused(ErrInvalidStatus, fmt.Sprintf("Invalid purchase order status %q", status)), nil
	}
	order, err := s.repo.GetPurchaseOrder(ctx, orderID)
	if err != nil {
		return nil, workflow.Result{}, err
	}
	req, err := s.engine.GetRequest(ctx, order.Report.ServiceRequestID)
	if err != nil {
		return nil, workflow.Result{}, err
	}
	if res, err := s.permitted(ctx, req, actor, func(p *workflow.StationPolicy) bool { return p.CanEditPurchaseOrder },
		"This station does not allow editing purchase orders"); err != nil || !res.Success {
		return nil, res, err
	}

	order.Status = status
	err = s.record(ctx, req, actor, fmt.Sprintf("Purchase order status changed to %s", status), func(repo Repository) error {
		return repo.UpdatePurchaseOrder(ctx, order)
	})
	if err != nil {
		return nil, workflow.Result{}, fmt.Errorf("failed to update purchase order: %w", err)
	}

	if status == PurchaseOrderSupplied && req.ServiceProvider != nil {
		s.engine.Announce(ctx, workflow.EventOrderSupplied, req, order.ReferenceNumber, actor, req.ServiceProvider.Managers)
	}
	return order, succeeded(fmt.Sprintf("Purchase order marked as %s", status)), nil
}

// ============================================================================
// Inventory orders
// ============================================================================

// CreateInventoryOrder raises the inventory order of a request's report
func (s *Service) CreateInventoryOrder(ctx context.Context, requestID uuid.UUID, actor workflow.Actor, in OrderInput) (*InventoryOrder, workflow.Result, error) {
	req, report, res, err := s.prepareOrder(ctx, requestID, actor, in,
		func(p *workflow.StationPolicy) bool { return p.CanCreateInventoryOrder },
		"This station does not allow creating inventory orders")
	if err != nil || !res.Success {
		return nil, res, err
	}
	if _, err := s.repo.GetInventoryOrderByReport(ctx, report.ID); err == nil {
		return nil, refused(ErrOrderExists, "Inventory order already exists"), nil
	} else if !errors.Is(err, workflow.ErrNotFound) {
		return nil, workflow.Result{}, err
	}

	order := &InventoryOrder{
		ReportID:        report.ID,
		ReferenceNumber: strings.TrimSpace(in.ReferenceNumber),
		Status:          InventoryOrderPending,
		CreatedByID:     actor.UserID,
	}
	err = s.record(ctx, req, actor, "Inventory order created", func(repo Repository) error {
		if err := repo.CreateInventoryOrder(ctx, order); err != nil {
			return err
		}
		report.NeedsItems = true
		return repo.UpdateReport(ctx, report)
	})
	if err != nil {
		return nil, workflow.Result{}, fmt.Errorf("failed to create inventory order: %w", err)
	}
	return order, succeeded("Inventory order created successfully"), nil
}

// UpdateInventoryOrderStatus moves an inventory order between pending and used
func (s *Service) UpdateInventoryOrderStatus(ctx context.Context, orderID uuid.UUID, actor workflow.Actor, status InventoryOrderStatus) (*InventoryOrder, workflow.Result, error) {
	if !status.Valid() {
		return nil, refused(ErrInvalidStatus, fmt.Sprintf("Invalid inventory order status %q", status)), nil
	}
	order, err := s.repo.GetInventoryOrder(ctx, orderID)
	if err != nil {
		return nil, workflow.Result{}, err
	}
	req, err := s.engine.GetRequest(ctx, order.Report.ServiceRequestID)
	if err != nil {
		return nil, workflow.Result{}, err
	}
	if res, err := s.permitted(ctx, req, actor, func(p *workflow.StationPolicy) bool { return p.CanEditInventoryOrder },
		"This station does not allow editing inventory orders"); err != nil || !res.Success {
		return nil, res, err
	}

	order.Status = status
	err = s.record(ctx, req, actor, fmt.Sprintf("Inventory order status changed to %s", status), func(repo Repository) error {
		return repo.UpdateInventoryOrder(ctx, order)
	})
	if err != nil {
		return nil, workflow.Result{}, fmt.Errorf("failed to update inventory order: %w", err)
	}
	return order, succeeded(fmt.Sprintf("Inventory order marked as %s", status)), nil
}

// ============================================================================
// Completion reports
// ============================================================================

// CreateCompletionReport records the finished work, creating the report if needed,
// then advances the request to its next station
func (s *Service) CreateCompletionReport(ctx context.Context, requestID uuid.UUID, actor workflow.Actor, in CompletionInput) (*CompletionReport, workflow.Result, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, refused(ErrInvalidInput, "Completion details are required"), nil
	}
	req, err := s.engine.GetRequest(ctx, requestID)
	if err != nil {
		return nil, workflow.Result{}, err
	}
	if res, err := s.permitted(ctx, req, actor, func(p *workflow.StationPolicy) bool { return p.CanCreateCompletionReport },
		"This station does not allow creating completion reports"); err != nil || !res.Success {
		return nil, res, err
	}

	report, err := optional(s.repo.GetReportByRequest(ctx, requestID))
	if err != nil {
		return nil, workflow.Result{}, err
	}
	if report != nil {
		if _, err := s.repo.GetCompletionReportByReport(ctx, report.ID); err == nil {
			return nil, refused(ErrCompletionExists, "Completion report already exists"), nil
		} else if !errors.Is(err, workflow.ErrNotFound) {
			return nil, workflow.Result{}, err
		}
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = defaultCompletionTitle
	}
	completion := &CompletionReport{
		ServiceRequestID: req.ID,
		Title:            title,
		Description:      in.Description,
		Checklist:        in.Checklist,
		CreatedByID:      actor.UserID,
	}
	err = s.record(ctx, req, actor, "Completion report created", func(repo Repository) error {
		if report == nil {
			report = &Report{
				ServiceRequestID: req.ID,
				Title:            defaultCompletionTitle,
				CreatedByID:      actor.UserID,
			}
			if err := repo.CreateReport(ctx, report); err != nil {
				return err
			}
		}
		completion.ReportID = report.ID
		return repo.CreateCompletionReport(ctx, completion)
	})
	if err != nil {
		return nil, workflow.Result{}, fmt.Errorf("failed to create completion report: %w", err)
	}

	move, err := s.engine.MoveToNextStation(ctx, requestID, actor, "Completion report created - moving to the next station")
	if err != nil {
		s.logger.Error("Failed to advance request after completion report",
			zap.String("request_id", requestID.String()),
			zap.Error(err))
		return completion, succeeded("Completion report created; the request could not be advanced"), nil
	}
	if !move.Success {
		s.logger.Warn("Request not advanced after completion report",
			zap.String("request_id", requestID.String()),
			zap.String("reason", move.Message))
		return completion, succeeded("Completion report created. " + move.Message), nil
	}
	return completion, succeeded("Completion report created. " + move.Message), nil
}

// UpdateCompletionReport edits the details of a completion report
func (s *Service) UpdateCompletionReport(ctx context.Context, id uuid.UUID, actor workflow.Actor, in CompletionInput) (*CompletionReport, workflow.Result, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, refused(ErrInvalidInput, "Completion details are required"), nil
	}
	completion, err := s.repo.GetCompletionReport(ctx, id)
	if err != nil {
		return nil, workflow.Result{}, err
	}
	req, err := s.engine.GetRequest(ctx, completion.ServiceRequestID)
	if err != nil {
		return nil, workflow.Result{}, err
	}
	if res, err := s.permitted(ctx, req, actor, func(p *workflow.StationPolicy) bool { return p.CanEditCompletionReport },
		"This station does not allow editing completion reports"); err != nil || !res.Success {
		return nil, res, err
	}

	if title := strings.TrimSpace(in.Title); title != "" {
		completion.Title = title
	}
	completion.Description = in.Description
	if in.Checklist != nil {
		completion.Checklist = in.Checklist
	}
	err = s.record(ctx, req, actor, "Completion report updated", func(repo Repository) error {
		return repo.UpdateCompletionReport(ctx, completion)
	})
	if err != nil {
		return nil, workflow.Result{}, fmt.Errorf("failed to update completion report: %w", err)
	}
	return completion, succeeded("Completion report updated successfully"), nil
}

// ============================================================================
// Helpers
// ============================================================================

// prepareOrder loads the request and its report and checks the creation gate
func (s *Service) prepareOrder(ctx context.Context, requestID uuid.UUID, actor workflow.Actor, in OrderInput, allow gate, denied string) (*workflow.ServiceRequest, *Report, workflow.Result, error) {
	if strings.TrimSpace(in.ReferenceNumber) == "" {
		return nil, nil, refused(ErrInvalidInput, "Reference number is required"), nil
	}
	req, err := s.engine.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, workflow.Result{}, err
	}
	if res, err := s.permitted(ctx, req, actor, allow, denied); err != nil || !res.Success {
		return nil, nil, res, err
	}
	report, err := s.repo.GetReportByRequest(ctx, requestID)
	if errors.Is(err, workflow.ErrNotFound) {
		return nil, nil, refused(ErrReportMissing, "Report not found"), nil
	}
	if err != nil {
		return nil, nil, workflow.Result{}, err
	}
	return req, report, succeeded(""), nil
}

// permitted checks the actor against the binding of the request's current station and its flag
func (s *Service) permitted(ctx context.Context, req *workflow.ServiceRequest, actor workflow.Actor, allow gate, denied string) (workflow.Result, error) {
	ps, err := s.engine.Access().CurrentPermissions(ctx, req)
	switch {
	case errors.Is(err, workflow.ErrNoPipeline):
		return refused(workflow.ErrNoPipeline, "No pipeline assigned to this request"), nil
	case errors.Is(err, workflow.ErrNotFound):
		return refused(workflow.ErrNotAuthorized, denied), nil
	case err != nil:
		return workflow.Result{}, err
	}
	if !actor.IsSuperuser && !ps.Allows(actor.UserID) {
		return refused(workflow.ErrNotAuthorized, "You do not have access to this station"), nil
	}
	if !allow(&ps.StationPolicy) {
		return refused(workflow.ErrNotAuthorized, denied), nil
	}
	return succeeded(""), nil
}

// record applies fn and the request's update entry in one transaction
func (s *Service) record(ctx context.Context, req *workflow.ServiceRequest, actor workflow.Actor, comment string, fn func(repo Repository) error) error {
	return s.repo.WithTx(ctx, func(repo Repository, requests workflow.Repository) error {
		if err := fn(repo); err != nil {
			return err
		}
		return s.engine.RecordUpdate(ctx, requests, req, actor, comment)
	})
}

func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, workflow.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func succeeded(message string) workflow.Result {
	return workflow.Result{Success: true, Message: message}
}

func refused(reason error, message string) workflow.Result {
	return workflow.Result{Success: false, Message: message, Reason: reason}
}
