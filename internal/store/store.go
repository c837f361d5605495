// Package store is the data access boundary of the portal. Implementations
// live alongside it: PostgresStore talks to Postgres directly, while the
// supabase and memory subpackages serve the same contract over PostgREST and
// in process.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/punchamoorthee/egovportal/internal/domain"
)

// SubmitInput is everything needed to write a request and its payment.
type SubmitInput struct {
	RequestID     string
	PaymentID     string
	CitizenID     string
	ServiceID     string
	OperatorID    *string
	Method        domain.PaymentMethod
	TransactionID string
	SubmittedAt   time.Time
}

// StatusUpdate moves a request from one status to another. The write only
// applies while the stored status still equals From.
type StatusUpdate struct {
	RequestID string
	From      domain.RequestStatus
	To        domain.RequestStatus
	Remarks   *string
	UpdatedAt time.Time
	Audit     domain.AuditEntry
}

// RequestFilter narrows ListRequests. Zero values match everything.
type RequestFilter struct {
	CitizenID    string
	DepartmentID string
	Status       domain.RequestStatus
}

// ServiceFilter narrows ListServices.
type ServiceFilter struct {
	ActiveOnly bool
	Search     string
}

// CreateServiceInput is a new catalog entry.
type CreateServiceInput struct {
	ID             string
	Name           string
	Description    string
	Fee            float64
	DepartmentID   string
	ProcessingTime string
	CreatedAt      time.Time
	Audit          domain.AuditEntry
}

// SetServiceActiveInput toggles catalog visibility.
type SetServiceActiveInput struct {
	ServiceID string
	Active    bool
	Audit     domain.AuditEntry
}

// Store is implemented by every backend.
//
// Lookups of a single row return an error wrapping errors.NotFound when the
// row is missing. Transport and query failures wrap domain.Unavailable.
// ListRequests orders by date_submitted, newest first.
type Store interface {
	ListDepartments(ctx context.Context) ([]domain.Department, error)
	ListServices(ctx context.Context, filter ServiceFilter) ([]domain.Service, error)
	GetService(ctx context.Context, id string) (domain.Service, error)
	CreateService(ctx context.Context, input CreateServiceInput) (domain.Service, error)
	SetServiceActive(ctx context.Context, input SetServiceActiveInput) (domain.Service, error)

	// SubmitRequest writes the request and its completed payment as one
	// unit. The service must exist and be active at write time; the payment
	// amount is the service fee read in the same unit.
	SubmitRequest(ctx context.Context, input SubmitInput) (domain.RequestDetail, error)
	GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error)
	GetRequestDetail(ctx context.Context, id string) (domain.RequestDetail, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]domain.RequestDetail, error)
	// UpdateRequestStatus fails with domain.ErrConcurrentUpdate when the
	// stored status no longer equals update.From.
	UpdateRequestStatus(ctx context.Context, update StatusUpdate) (domain.ServiceRequest, error)

	GetUserRole(ctx context.Context, userID string) (domain.UserRole, error)
	GetProfiles(ctx context.Context, ids []string) (map[string]domain.Profile, error)
}

// MatchesSearch reports whether a service matches a case-insensitive search
// over its name and department name.
func MatchesSearch(s domain.Service, search string) bool {
	if search == "" {
		return true
	}
	needle := strings.ToLower(strings.TrimSpace(search))
	return strings.Contains(strings.ToLower(s.Name), needle) ||
		strings.Contains(strings.ToLower(s.DepartmentName), needle)
}
