// Package models holds the JSON payloads of the HTTP API.
package models

import "github.com/punchamoorthee/egovportal/internal/domain"

// SubmitRequest is the payload for filing an application.
type SubmitRequest struct {
	ServiceID     string `json:"service_id"`
	PaymentMethod string `json:"payment_method"`
	// CitizenID is only honoured for data entry operators.
	CitizenID string `json:"citizen_id,omitempty"`
}

// TransitionRequest moves a request to a new status.
type TransitionRequest struct {
	Status  string `json:"status"`
	Remarks string `json:"remarks,omitempty"`
}

// CreateServiceRequest adds a catalog entry.
type CreateServiceRequest struct {
	Name           string   `json:"name"`
	Description    string   `json:"description"`
	Fee            *float64 `json:"fee"`
	DepartmentID   string   `json:"department_id"`
	ProcessingTime string   `json:"processing_time"`
}

// UpdateServiceRequest toggles a service's availability.
type UpdateServiceRequest struct {
	IsActive *bool `json:"is_active"`
}

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ListResponse wraps collections so they can grow metadata later.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	domain.Actor
	Email string `json:"email,omitempty"`
}
