package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/duetrack/duetrack/pkg/audit"
)

// CreateAssignment enrolls a user on a plan. The anchor date defaults to the
// current date and becomes the permanent reference for the assignment's
// schedule: the first cycle is due on the anchor itself and every later
// cycle is derived from it. The user must exist and be active in the
// directory, and the plan must be active and belong to the user's
// organization.
func (e *Engine) CreateAssignment(ctx context.Context, req CreateAssignmentRequest) (*SubscriptionAssignment, error) {
	ctx, span := billingTracer.Start(ctx, "billing.create_assignment")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("billing.user_id", req.UserID),
		attribute.String("billing.plan_id", req.PlanID),
	)

	user, err := e.users.GetUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if !user.Active {
		return nil, &ConfigurationError{Field: "user_id", Detail: fmt.Sprintf("user %d is inactive", req.UserID)}
	}

	plan, err := e.plans.Lookup(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, &ConfigurationError{Field: "plan_id", Detail: fmt.Sprintf("plan %q is inactive", req.PlanID)}
	}
	if plan.OrganizationID != 0 && plan.OrganizationID != user.OrganizationID {
		return nil, &ConfigurationError{Field: "plan_id", Detail: fmt.Sprintf("plan %q belongs to a different organization", req.PlanID)}
	}

	anchor := DateOnly(e.now())
	if req.AnchorDate != nil && !req.AnchorDate.IsZero() {
		anchor = DateOnly(*req.AnchorDate)
	}
	// Cycle zero falls on the anchor, so the next billing date of a fresh
	// assignment is the anchor itself.
	next := anchor

	assignment := &SubscriptionAssignment{
		UserID:          user.ID,
		OrganizationID:  user.OrganizationID,
		PlanID:          plan.ID,
		CycleType:       plan.CycleType,
		Active:          true,
		PaymentStatus:   PaymentStatusActive,
		AnchorDate:      &anchor,
		CycleIndex:      0,
		NextBillingDate: &next,
	}
	if err := assignment.Validate(); err != nil {
		return nil, err
	}
	if err := e.store.CreateAssignment(ctx, assignment); err != nil {
		return nil, err
	}

	e.logger.WithFields(map[string]interface{}{
		"assignment_id": assignment.ID,
		"user_id":       assignment.UserID,
		"plan_id":       assignment.PlanID,
		"anchor_date":   anchor.Format(time.DateOnly),
	}).Info("assignment created")

	e.emit(ctx, EventAssignmentCreated, assignmentEventData(assignment))
	if err := e.audit.LogAssignmentMutation(ctx, audit.EventAssignmentCreated, &assignment.UserID, assignment.ID, nil,
		fmt.Sprintf("user %d enrolled on plan %s", assignment.UserID, assignment.PlanID)); err != nil {
		e.logger.WithError(err).Debug("audit write failed")
	}
	return assignment, nil
}

// GetAssignment loads one assignment by ID.
func (e *Engine) GetAssignment(ctx context.Context, id int64) (*SubscriptionAssignment, error) {
	return e.store.GetAssignment(ctx, id)
}

// ListAssignments returns assignments matching the filter, ordered by ID.
func (e *Engine) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]*SubscriptionAssignment, error) {
	if filter.Limit <= 0 {
		filter.Limit = 100
	}
	return e.store.ListAssignments(ctx, filter)
}

// DeactivateAssignment removes an assignment from billing selection while
// keeping its payment history. Deactivating an inactive assignment is a
// no-op. Obligations already created stay collectable.
func (e *Engine) DeactivateAssignment(ctx context.Context, id int64) (*SubscriptionAssignment, error) {
	ctx, span := billingTracer.Start(ctx, "billing.deactivate_assignment")
	defer span.End()
	span.SetAttributes(attribute.Int64("billing.assignment_id", id))

	assignment, err := e.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !assignment.Active {
		return assignment, nil
	}
	if err := e.store.DeactivateAssignment(ctx, id); err != nil {
		if errors.Is(err, ErrAssignmentNotFound) {
			return nil, err
		}
		return nil, &TransientStoreError{Op: "deactivate_assignment", Err: err}
	}
	assignment.Active = false

	e.logger.WithFields(map[string]interface{}{
		"assignment_id": assignment.ID,
		"user_id":       assignment.UserID,
	}).Info("assignment deactivated")

	e.emit(ctx, EventAssignmentDeactivated, assignmentEventData(assignment))
	if err := e.audit.LogAssignmentMutation(ctx, audit.EventAssignmentDeactivated, &assignment.UserID, assignment.ID, nil,
		"assignment deactivated"); err != nil {
		e.logger.WithError(err).Debug("audit write failed")
	}
	return assignment, nil
}
