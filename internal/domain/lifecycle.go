package domain

import (
	"strings"
)

// RequestStatus is the lifecycle state of a ServiceRequest.
type RequestStatus string

const (
	StatusPending     RequestStatus = "pending"
	StatusUnderReview RequestStatus = "under_review"
	StatusApproved    RequestStatus = "approved"
	StatusRejected    RequestStatus = "rejected"
	StatusCompleted   RequestStatus = "completed"
)

// Statuses lists every status a request can hold.
var Statuses = []RequestStatus{
	StatusPending,
	StatusUnderReview,
	StatusApproved,
	StatusRejected,
	StatusCompleted,
}

// transitions maps a current status to the statuses it may move to.
// Statuses absent as keys are terminal.
var transitions = map[RequestStatus][]RequestStatus{
	StatusPending:  {StatusApproved, StatusRejected, StatusUnderReview},
	StatusApproved: {StatusCompleted},
}

// Valid reports whether s is one of the defined statuses.
func (s RequestStatus) Valid() bool {
	for _, status := range Statuses {
		if status == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s RequestStatus) Terminal() bool {
	return len(transitions[s]) == 0
}

// ParseStatus normalises and validates a status string.
func ParseStatus(raw string) (RequestStatus, error) {
	s := RequestStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", ErrInvalidStatus
	}
	return s, nil
}

// CanTransition reports whether a request in from may move to to.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// RequiresRemarks reports whether moving to s needs approver remarks.
func RequiresRemarks(s RequestStatus) bool {
	return s == StatusRejected
}

// PaymentMethod is how the simulated fee was paid.
type PaymentMethod string

const (
	PaymentCard       PaymentMethod = "card"
	PaymentUPI        PaymentMethod = "upi"
	PaymentNetBanking PaymentMethod = "net_banking"
)

// ParsePaymentMethod normalises and validates a payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch m := PaymentMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case PaymentCard, PaymentUPI, PaymentNetBanking:
		return m, nil
	default:
		return "", ErrInvalidPaymentMethod
	}
}

// Role is one of the closed set of portal roles.
type Role string

const (
	RoleCitizen         Role = "citizen"
	RoleDataEntry       Role = "data_entry_operator"
	RoleDepartmentAdmin Role = "department_admin"
	RoleSuperAdmin      Role = "super_admin"
)

// ParseRole validates a role string.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.TrimSpace(raw)); r {
	case RoleCitizen, RoleDataEntry, RoleDepartmentAdmin, RoleSuperAdmin:
		return r, nil
	default:
		return "", ErrUnknownRole
	}
}

// Capability is something a role may do.
type Capability int

const (
	// CapSubmit lets a user apply for a service for themselves.
	CapSubmit Capability = iota
	// CapSubmitOnBehalf lets a user file an application for a named citizen.
	CapSubmitOnBehalf
	// CapProcess lets a user move requests through the lifecycle.
	CapProcess
	// CapViewAll lets a user list and read every request in scope.
	CapViewAll
	// CapManageCatalog lets a user add services and toggle availability.
	CapManageCatalog
)

var capabilities = map[Role][]Capability{
	RoleCitizen:         {CapSubmit},
	RoleDataEntry:       {CapSubmit, CapSubmitOnBehalf},
	RoleDepartmentAdmin: {CapProcess, CapViewAll, CapManageCatalog},
	RoleSuperAdmin:      {CapProcess, CapViewAll, CapManageCatalog},
}

// Can reports whether r holds c.
func (r Role) Can(c Capability) bool {
	for _, held := range capabilities[r] {
		if held == c {
			return true
		}
	}
	return false
}

// Actor is the authenticated caller of a lifecycle operation.
type Actor struct {
	UserID       string  `json:"user_id"`
	Role         Role    `json:"role"`
	DepartmentID *string `json:"department_id,omitempty"`
}

// Can reports whether the actor's role holds c.
func (a Actor) Can(c Capability) bool {
	return a.Role.Can(c)
}

// Department returns the department an admin is confined to. Super admins
// and department admins without an assigned department are unscoped.
func (a Actor) Department() (string, bool) {
	if a.Role != RoleDepartmentAdmin || a.DepartmentID == nil || *a.DepartmentID == "" {
		return "", false
	}
	return *a.DepartmentID, true
}

// ActorFor builds the actor for a user's role row.
func ActorFor(role UserRole) Actor {
	return Actor{UserID: role.UserID, Role: role.Role, DepartmentID: role.DepartmentID}
}
