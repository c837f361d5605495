package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store"
)

// CreateServiceCommand is a new catalog entry. Fee is a pointer so that a
// missing fee can be told apart from a free service.
type CreateServiceCommand struct {
	Name           string
	Description    string
	Fee            *float64
	DepartmentID   string
	ProcessingTime string
}

// Catalog serves the service and department listings and their
// administration.
type Catalog struct {
	store store.Store
	clock clock.Clock
	log   logrus.FieldLogger
}

func NewCatalog(s store.Store, clk clock.Clock, log logrus.FieldLogger) *Catalog {
	return &Catalog{store: s, clock: clk, log: log}
}

// ListServices returns the active catalog, optionally searched by service or
// department name.
func (c *Catalog) ListServices(ctx context.Context, search string) ([]domain.Service, error) {
	return c.store.ListServices(ctx, store.ServiceFilter{ActiveOnly: true, Search: search})
}

// ListAllServices includes inactive services. Administrators only.
func (c *Catalog) ListAllServices(ctx context.Context, actor domain.Actor, search string) ([]domain.Service, error) {
	if !actor.Can(domain.CapManageCatalog) {
		return nil, domain.ErrNotPermitted
	}
	return c.store.ListServices(ctx, store.ServiceFilter{Search: search})
}

func (c *Catalog) GetService(ctx context.Context, id string) (domain.Service, error) {
	if !validID(id) {
		return domain.Service{}, domain.ErrServiceNotFound
	}
	return c.store.GetService(ctx, id)
}

func (c *Catalog) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	return c.store.ListDepartments(ctx)
}

// CreateService adds an active service. Every field is required and the fee
// may not be negative.
func (c *Catalog) CreateService(ctx context.Context, actor domain.Actor, cmd CreateServiceCommand) (domain.Service, error) {
	if !actor.Can(domain.CapManageCatalog) {
		return domain.Service{}, domain.ErrNotPermitted
	}

	name := strings.TrimSpace(cmd.Name)
	description := strings.TrimSpace(cmd.Description)
	processing := strings.TrimSpace(cmd.ProcessingTime)
	departmentID := strings.TrimSpace(cmd.DepartmentID)
	if name == "" || description == "" || processing == "" || departmentID == "" || cmd.Fee == nil {
		return domain.Service{}, domain.ErrIncompleteService
	}
	if *cmd.Fee < 0 {
		return domain.Service{}, domain.ErrNegativeFee
	}
	if !validID(departmentID) {
		return domain.Service{}, domain.ErrDepartmentNotFound
	}
	if dept, scoped := actor.Department(); scoped && dept != departmentID {
		return domain.Service{}, domain.ErrOutsideScope
	}

	now := c.clock.Now().UTC()
	id := uuid.NewString()
	svc, err := c.store.CreateService(ctx, store.CreateServiceInput{
		ID:             id,
		Name:           name,
		Description:    description,
		Fee:            *cmd.Fee,
		DepartmentID:   departmentID,
		ProcessingTime: processing,
		CreatedAt:      now,
		Audit: domain.AuditEntry{
			ID:          uuid.NewString(),
			UserID:      actor.UserID,
			Action:      "service.created",
			Description: fmt.Sprintf("service %s %q created", id, name),
			Timestamp:   now,
		},
	})
	if err != nil {
		return domain.Service{}, err
	}

	c.log.WithField("service_id", svc.ID).WithField("actor", actor.UserID).Info("service created")
	return svc, nil
}

// SetServiceActive opens or closes a service for new applications.
// Existing requests are unaffected.
func (c *Catalog) SetServiceActive(ctx context.Context, actor domain.Actor, id string, active bool) (domain.Service, error) {
	if !actor.Can(domain.CapManageCatalog) {
		return domain.Service{}, domain.ErrNotPermitted
	}
	if !validID(id) {
		return domain.Service{}, domain.ErrServiceNotFound
	}
	if _, scoped := actor.Department(); scoped {
		svc, err := c.store.GetService(ctx, id)
		if err != nil {
			return domain.Service{}, err
		}
		if err := checkScope(actor, svc); err != nil {
			return domain.Service{}, err
		}
	}

	action := "service.deactivated"
	if active {
		action = "service.activated"
	}
	now := c.clock.Now().UTC()
	svc, err := c.store.SetServiceActive(ctx, store.SetServiceActiveInput{
		ServiceID: id,
		Active:    active,
		Audit: domain.AuditEntry{
			ID:          uuid.NewString(),
			UserID:      actor.UserID,
			Action:      action,
			Description: "service " + id,
			Timestamp:   now,
		},
	})
	if err != nil {
		return domain.Service{}, err
	}

	c.log.WithFields(logrus.Fields{"service_id": id, "active": active, "actor": actor.UserID}).Info("service availability changed")
	return svc, nil
}
