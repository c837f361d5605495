// Package service holds the request lifecycle and the service catalog.
// Every operation takes the acting user explicitly; nothing is read from
// ambient session state.
package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/juju/clock"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store"
)

var (
	requestsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egov_requests_submitted_total",
		Help: "Service requests submitted, by payment method",
	}, []string{"method"})

	requestTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "egov_request_transitions_total",
		Help: "Applied request status transitions",
	}, []string{"from", "to"})
)

const tracerName = "github.com/punchamoorthee/egovportal/internal/service"

// SubmitCommand is an application for a service. CitizenID is only set when
// an operator files on a citizen's behalf.
type SubmitCommand struct {
	ServiceID     string
	PaymentMethod string
	CitizenID     string
}

// TransitionCommand moves a request to Status.
type TransitionCommand struct {
	Status  string
	Remarks string
}

// Manager runs the request lifecycle.
type Manager struct {
	store  store.Store
	clock  clock.Clock
	log    logrus.FieldLogger
	tracer trace.Tracer
}

func NewManager(s store.Store, clk clock.Clock, log logrus.FieldLogger) *Manager {
	return &Manager{
		store:  s,
		clock:  clk,
		log:    log,
		tracer: otel.Tracer(tracerName),
	}
}

// ResolveActor loads the user's role. Users without a role row, or with a
// role outside the known set, act as citizens.
func (m *Manager) ResolveActor(ctx context.Context, userID string) (domain.Actor, error) {
	role, err := m.store.GetUserRole(ctx, userID)
	if err != nil {
		if errors.Is(err, domain.ErrRoleNotFound) {
			return domain.Actor{UserID: userID, Role: domain.RoleCitizen}, nil
		}
		return domain.Actor{}, err
	}
	if _, err := domain.ParseRole(string(role.Role)); err != nil {
		m.log.WithField("user_id", userID).WithField("role", role.Role).Warn("unknown role, treating as citizen")
		return domain.Actor{UserID: userID, Role: domain.RoleCitizen}, nil
	}
	return domain.ActorFor(role), nil
}

// Submit files a request together with its settled payment.
func (m *Manager) Submit(ctx context.Context, actor domain.Actor, cmd SubmitCommand) (_ domain.RequestDetail, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Submit", trace.WithAttributes(
		attribute.String("service.id", cmd.ServiceID),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer func() { endSpan(span, err) }()

	if !actor.Can(domain.CapSubmit) {
		return domain.RequestDetail{}, domain.ErrNotPermitted
	}
	method, err := domain.ParsePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return domain.RequestDetail{}, err
	}
	if !validID(cmd.ServiceID) {
		return domain.RequestDetail{}, domain.ErrServiceNotFound
	}

	citizenID := actor.UserID
	var operatorID *string
	if c := strings.TrimSpace(cmd.CitizenID); c != "" && c != actor.UserID {
		if !actor.Can(domain.CapSubmitOnBehalf) {
			return domain.RequestDetail{}, domain.ErrNotPermitted
		}
		if !validID(c) {
			return domain.RequestDetail{}, fmt.Errorf("citizen_id: %w", domain.ErrMalformedID)
		}
		citizenID = c
		operatorID = &actor.UserID
	}
	if citizenID == "" {
		return domain.RequestDetail{}, domain.ErrCitizenRequired
	}

	now := m.clock.Now().UTC()
	detail, err := m.store.SubmitRequest(ctx, store.SubmitInput{
		RequestID:     uuid.NewString(),
		PaymentID:     uuid.NewString(),
		CitizenID:     citizenID,
		ServiceID:     cmd.ServiceID,
		OperatorID:    operatorID,
		Method:        method,
		TransactionID: newTransactionID(now.UnixMilli()),
		SubmittedAt:   now,
	})
	if err != nil {
		return domain.RequestDetail{}, err
	}

	requestsSubmitted.WithLabelValues(string(method)).Inc()
	m.log.WithFields(logrus.Fields{
		"request_id": detail.ID,
		"service_id": detail.ServiceID,
		"citizen_id": detail.CitizenID,
		"method":     method,
	}).Info("service request submitted")
	return detail, nil
}

// Transition applies a status change on behalf of an administrator.
func (m *Manager) Transition(ctx context.Context, actor domain.Actor, requestID string, cmd TransitionCommand) (_ domain.ServiceRequest, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Transition", trace.WithAttributes(
		attribute.String("request.id", requestID),
		attribute.String("request.target", cmd.Status),
	))
	defer func() { endSpan(span, err) }()

	if !actor.Can(domain.CapProcess) {
		return domain.ServiceRequest{}, domain.ErrNotPermitted
	}
	target, err := domain.ParseStatus(cmd.Status)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if !validID(requestID) {
		return domain.ServiceRequest{}, domain.ErrRequestNotFound
	}

	current, err := m.store.GetRequestDetail(ctx, requestID)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if err := checkScope(actor, current.Service); err != nil {
		return domain.ServiceRequest{}, err
	}
	if !domain.CanTransition(current.Status, target) {
		return domain.ServiceRequest{}, fmt.Errorf("%w: %s to %s", domain.ErrInvalidTransition, current.Status, target)
	}
	remarks := strings.TrimSpace(cmd.Remarks)
	if remarks == "" && domain.RequiresRemarks(target) {
		return domain.ServiceRequest{}, domain.ErrRemarksRequired
	}

	now := m.clock.Now().UTC()
	var remarksPtr *string
	description := fmt.Sprintf("%s -> %s", current.Status, target)
	if remarks != "" {
		remarksPtr = &remarks
		description += ": " + remarks
	}

	updated, err := m.store.UpdateRequestStatus(ctx, store.StatusUpdate{
		RequestID: requestID,
		From:      current.Status,
		To:        target,
		Remarks:   remarksPtr,
		UpdatedAt: now,
		Audit: domain.AuditEntry{
			ID:          uuid.NewString(),
			UserID:      actor.UserID,
			Action:      "request." + string(target),
			Description: fmt.Sprintf("request %s %s", requestID, description),
			Timestamp:   now,
		},
	})
	if err != nil {
		return domain.ServiceRequest{}, err
	}

	requestTransitions.WithLabelValues(string(current.Status), string(target)).Inc()
	m.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"from":       current.Status,
		"to":         target,
		"actor":      actor.UserID,
	}).Info("service request transitioned")
	return updated, nil
}

// Track returns the public view of a request. It needs no actor.
func (m *Manager) Track(ctx context.Context, requestID string) (_ domain.Tracking, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Track")
	defer func() { endSpan(span, err) }()

	if !validID(requestID) {
		return domain.Tracking{}, domain.ErrRequestNotFound
	}
	detail, err := m.store.GetRequestDetail(ctx, requestID)
	if err != nil {
		return domain.Tracking{}, err
	}
	return domain.TrackingFor(detail), nil
}

// Lookup returns the full detail of a request to its citizen, to the
// operator who filed it, or to an administrator in scope.
func (m *Manager) Lookup(ctx context.Context, actor domain.Actor, requestID string) (_ domain.RequestDetail, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Lookup")
	defer func() { endSpan(span, err) }()

	if !validID(requestID) {
		return domain.RequestDetail{}, domain.ErrRequestNotFound
	}
	detail, err := m.store.GetRequestDetail(ctx, requestID)
	if err != nil {
		return domain.RequestDetail{}, err
	}

	if actor.Can(domain.CapViewAll) {
		if err := checkScope(actor, detail.Service); err != nil {
			return domain.RequestDetail{}, err
		}
		return detail, nil
	}
	if detail.CitizenID == actor.UserID {
		return detail, nil
	}
	if detail.OperatorID != nil && *detail.OperatorID == actor.UserID {
		return detail, nil
	}
	return domain.RequestDetail{}, domain.ErrNotOwner
}

// ListForCitizen returns a citizen's requests, newest first.
func (m *Manager) ListForCitizen(ctx context.Context, actor domain.Actor, citizenID string) (_ []domain.RequestDetail, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.ListForCitizen")
	defer func() { endSpan(span, err) }()

	filter := store.RequestFilter{CitizenID: citizenID}
	if citizenID != actor.UserID {
		if !actor.Can(domain.CapViewAll) {
			return nil, domain.ErrNotOwner
		}
		filter.DepartmentID, _ = actor.Department()
	}
	if !validID(citizenID) {
		return nil, fmt.Errorf("citizen_id: %w", domain.ErrMalformedID)
	}
	return m.store.ListRequests(ctx, filter)
}

// ListAll returns every request in the administrator's scope, newest first,
// optionally narrowed to one status.
func (m *Manager) ListAll(ctx context.Context, actor domain.Actor, status string) (_ []domain.RequestDetail, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.ListAll")
	defer func() { endSpan(span, err) }()

	if !actor.Can(domain.CapViewAll) {
		return nil, domain.ErrNotPermitted
	}
	filter := store.RequestFilter{}
	if status != "" {
		if filter.Status, err = domain.ParseStatus(status); err != nil {
			return nil, err
		}
	}
	filter.DepartmentID, _ = actor.Department()
	return m.store.ListRequests(ctx, filter)
}

// Stats summarises the requests the actor can see: all in scope for
// administrators, their own otherwise.
func (m *Manager) Stats(ctx context.Context, actor domain.Actor) (_ domain.Stats, err error) {
	ctx, span := m.tracer.Start(ctx, "lifecycle.Stats")
	defer func() { endSpan(span, err) }()

	var requests []domain.RequestDetail
	if actor.Can(domain.CapViewAll) {
		requests, err = m.ListAll(ctx, actor, "")
	} else {
		requests, err = m.ListForCitizen(ctx, actor, actor.UserID)
	}
	if err != nil {
		return domain.Stats{}, err
	}
	return domain.CountStats(requests), nil
}

// checkScope confines department admins to their own department's services.
func checkScope(actor domain.Actor, svc domain.Service) error {
	if dept, scoped := actor.Department(); scoped && svc.DepartmentID != dept {
		return domain.ErrOutsideScope
	}
	return nil
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// newTransactionID builds the simulated gateway reference: the submission
// time in milliseconds plus a random suffix.
func newTransactionID(unixMilli int64) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return "TXN" + strconv.FormatInt(unixMilli, 10) + suffix
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
