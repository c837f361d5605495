package domain

import (
	"time"
)

// Department owns a set of services.
type Department struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	Email       *string   `json:"email,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Service is a catalog entry a citizen can apply for.
// Only IsActive changes once the service exists.
type Service struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Description    string    `json:"description"`
	Fee            float64   `json:"fee"`
	DepartmentID   string    `json:"department_id"`
	DepartmentName string    `json:"department_name,omitempty"`
	IsActive       bool      `json:"is_active"`
	ProcessingTime string    `json:"processing_time"`
	CreatedAt      time.Time `json:"created_at"`
}

// ServiceRequest is a citizen's application for a Service.
type ServiceRequest struct {
	ID            string        `json:"id"`
	CitizenID     string        `json:"citizen_id"`
	ServiceID     string        `json:"service_id"`
	Status        RequestStatus `json:"status"`
	DateSubmitted time.Time     `json:"date_submitted"`
	Remarks       *string       `json:"remarks,omitempty"`
	OperatorID    *string       `json:"operator_id,omitempty"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// Payment is the simulated fee payment recorded with a request.
// It is written once, together with its request, and never mutated.
type Payment struct {
	ID            string        `json:"id"`
	RequestID     string        `json:"request_id"`
	Amount        float64       `json:"amount"`
	Method        PaymentMethod `json:"method"`
	Status        string        `json:"status"`
	TransactionID string        `json:"transaction_id"`
	CreatedAt     time.Time     `json:"created_at"`
}

// PaymentCompleted is the only payment status the simulated gateway produces.
const PaymentCompleted = "completed"

// UserRole binds a user to a role, optionally scoped to a department.
type UserRole struct {
	UserID       string    `json:"user_id"`
	Role         Role      `json:"role"`
	DepartmentID *string   `json:"department_id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Profile carries the citizen contact details shown to administrators.
type Profile struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Email   *string `json:"email,omitempty"`
	Mobile  *string `json:"mobile,omitempty"`
	Address *string `json:"address,omitempty"`
}

// AuditEntry records who changed what.
type AuditEntry struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	Timestamp   time.Time `json:"timestamp"`
}

// RequestDetail is a request joined with its service, department and payments.
type RequestDetail struct {
	ServiceRequest
	Service     Service   `json:"service"`
	Payments    []Payment `json:"payments"`
	CitizenName string    `json:"citizen_name,omitempty"`
}

// Tracking is the public view of a request. It deliberately leaves out the
// citizen, remarks and payment data.
type Tracking struct {
	ID             string        `json:"id"`
	Status         RequestStatus `json:"status"`
	DateSubmitted  time.Time     `json:"date_submitted"`
	UpdatedAt      time.Time     `json:"updated_at"`
	ServiceName    string        `json:"service_name"`
	DepartmentName string        `json:"department_name"`
}

// TrackingFor redacts a detail down to its public view.
func TrackingFor(d RequestDetail) Tracking {
	return Tracking{
		ID:             d.ID,
		Status:         d.Status,
		DateSubmitted:  d.DateSubmitted,
		UpdatedAt:      d.UpdatedAt,
		ServiceName:    d.Service.Name,
		DepartmentName: d.Service.DepartmentName,
	}
}

// Stats is the dashboard summary. Approved counts completed requests too.
type Stats struct {
	Total    int `json:"total"`
	Pending  int `json:"pending"`
	Approved int `json:"approved"`
	Rejected int `json:"rejected"`
}

// CountStats summarises a list of requests.
func CountStats(requests []RequestDetail) Stats {
	var s Stats
	for _, r := range requests {
		s.Total++
		switch r.Status {
		case StatusPending:
			s.Pending++
		case StatusApproved, StatusCompleted:
			s.Approved++
		case StatusRejected:
			s.Rejected++
		}
	}
	return s
}
