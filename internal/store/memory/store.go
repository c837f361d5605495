// Package memory is an in-process Store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store"
)

// Store keeps every table in maps guarded by one mutex, so each call is
// atomic in the same way a database transaction is.
type Store struct {
	mu          sync.RWMutex
	departments map[string]domain.Department
	services    map[string]domain.Service
	requests    map[string]domain.ServiceRequest
	payments    map[string][]domain.Payment
	roles       map[string]domain.UserRole
	profiles    map[string]domain.Profile
	audit       []domain.AuditEntry

	// Fail, when set, is consulted before every operation; a non-nil
	// result is returned as an Unavailable error.
	Fail func(op string) error
}

func New() *Store {
	return &Store{
		departments: map[string]domain.Department{},
		services:    map[string]domain.Service{},
		requests:    map[string]domain.ServiceRequest{},
		payments:    map[string][]domain.Payment{},
		roles:       map[string]domain.UserRole{},
		profiles:    map[string]domain.Profile{},
	}
}

// PutDepartment inserts or replaces a department.
func (s *Store) PutDepartment(d domain.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departments[d.ID] = d
}

// PutService inserts or replaces a service.
func (s *Store) PutService(svc domain.Service) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[svc.ID] = svc
}

// PutRole assigns a role.
func (s *Store) PutRole(r domain.UserRole) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[r.UserID] = r
}

// PutProfile inserts or replaces a profile.
func (s *Store) PutProfile(p domain.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ID] = p
}

// AuditLog returns a copy of the audit entries written so far.
func (s *Store) AuditLog() []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AuditEntry(nil), s.audit...)
}

func (s *Store) check(op string) error {
	if s.Fail == nil {
		return nil
	}
	if err := s.Fail(op); err != nil {
		return domain.UnavailableError(op, err)
	}
	return nil
}

// withDepartment fills the denormalised department name. Callers hold mu.
func (s *Store) withDepartment(svc domain.Service) domain.Service {
	svc.DepartmentName = s.departments[svc.DepartmentID].Name
	return svc
}

func (s *Store) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	if err := s.check("list departments"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Department, 0, len(s.departments))
	for _, d := range s.departments {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListServices(ctx context.Context, filter store.ServiceFilter) ([]domain.Service, error) {
	if err := s.check("list services"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.Service{}
	for _, svc := range s.services {
		svc = s.withDepartment(svc)
		if filter.ActiveOnly && !svc.IsActive {
			continue
		}
		if !store.MatchesSearch(svc, filter.Search) {
			continue
		}
		out = append(out, svc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) GetService(ctx context.Context, id string) (domain.Service, error) {
	if err := s.check("get service"); err != nil {
		return domain.Service{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	svc, ok := s.services[id]
	if !ok {
		return domain.Service{}, domain.ErrServiceNotFound
	}
	return s.withDepartment(svc), nil
}

func (s *Store) CreateService(ctx context.Context, input store.CreateServiceInput) (domain.Service, error) {
	if err := s.check("create service"); err != nil {
		return domain.Service{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.departments[input.DepartmentID]; !ok {
		return domain.Service{}, domain.ErrDepartmentNotFound
	}
	svc := domain.Service{
		ID:             input.ID,
		Name:           input.Name,
		Description:    input.Description,
		Fee:            input.Fee,
		DepartmentID:   input.DepartmentID,
		IsActive:       true,
		ProcessingTime: input.ProcessingTime,
		CreatedAt:      input.CreatedAt,
	}
	s.services[svc.ID] = svc
	s.appendAudit(input.Audit)
	return s.withDepartment(svc), nil
}

func (s *Store) SetServiceActive(ctx context.Context, input store.SetServiceActiveInput) (domain.Service, error) {
	if err := s.check("set service active"); err != nil {
		return domain.Service{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[input.ServiceID]
	if !ok {
		return domain.Service{}, domain.ErrServiceNotFound
	}
	svc.IsActive = input.Active
	s.services[svc.ID] = svc
	s.appendAudit(input.Audit)
	return s.withDepartment(svc), nil
}

func (s *Store) SubmitRequest(ctx context.Context, input store.SubmitInput) (domain.RequestDetail, error) {
	if err := s.check("submit request"); err != nil {
		return domain.RequestDetail{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, ok := s.services[input.ServiceID]
	if !ok {
		return domain.RequestDetail{}, domain.ErrServiceNotFound
	}
	if !svc.IsActive {
		return domain.RequestDetail{}, domain.ErrServiceInactive
	}

	req := domain.ServiceRequest{
		ID:            input.RequestID,
		CitizenID:     input.CitizenID,
		ServiceID:     input.ServiceID,
		Status:        domain.StatusPending,
		DateSubmitted: input.SubmittedAt,
		OperatorID:    input.OperatorID,
		UpdatedAt:     input.SubmittedAt,
	}
	payment := domain.Payment{
		ID:            input.PaymentID,
		RequestID:     req.ID,
		Amount:        svc.Fee,
		Method:        input.Method,
		Status:        domain.PaymentCompleted,
		TransactionID: input.TransactionID,
		CreatedAt:     input.SubmittedAt,
	}
	s.requests[req.ID] = req
	s.payments[req.ID] = []domain.Payment{payment}

	return s.detail(req), nil
}

// detail joins a request with its service and payments. Callers hold mu.
func (s *Store) detail(req domain.ServiceRequest) domain.RequestDetail {
	return domain.RequestDetail{
		ServiceRequest: req,
		Service:        s.withDepartment(s.services[req.ServiceID]),
		Payments:       append([]domain.Payment{}, s.payments[req.ID]...),
		CitizenName:    s.profiles[req.CitizenID].Name,
	}
}

func (s *Store) GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error) {
	if err := s.check("get request"); err != nil {
		return domain.ServiceRequest{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.ServiceRequest{}, domain.ErrRequestNotFound
	}
	return req, nil
}

func (s *Store) GetRequestDetail(ctx context.Context, id string) (domain.RequestDetail, error) {
	if err := s.check("get request detail"); err != nil {
		return domain.RequestDetail{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[id]
	if !ok {
		return domain.RequestDetail{}, domain.ErrRequestNotFound
	}
	return s.detail(req), nil
}

func (s *Store) ListRequests(ctx context.Context, filter store.RequestFilter) ([]domain.RequestDetail, error) {
	if err := s.check("list requests"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []domain.RequestDetail{}
	for _, req := range s.requests {
		if filter.CitizenID != "" && req.CitizenID != filter.CitizenID {
			continue
		}
		if filter.Status != "" && req.Status != filter.Status {
			continue
		}
		if filter.DepartmentID != "" && s.services[req.ServiceID].DepartmentID != filter.DepartmentID {
			continue
		}
		out = append(out, s.detail(req))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DateSubmitted.After(out[j].DateSubmitted)
	})
	return out, nil
}

func (s *Store) UpdateRequestStatus(ctx context.Context, update store.StatusUpdate) (domain.ServiceRequest, error) {
	if err := s.check("update request status"); err != nil {
		return domain.ServiceRequest{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[update.RequestID]
	if !ok {
		return domain.ServiceRequest{}, domain.ErrRequestNotFound
	}
	if req.Status != update.From {
		return domain.ServiceRequest{}, domain.ErrConcurrentUpdate
	}
	req.Status = update.To
	if update.Remarks != nil {
		remarks := *update.Remarks
		req.Remarks = &remarks
	}
	req.UpdatedAt = update.UpdatedAt
	s.requests[req.ID] = req
	s.appendAudit(update.Audit)
	return req, nil
}

func (s *Store) GetUserRole(ctx context.Context, userID string) (domain.UserRole, error) {
	if err := s.check("get user role"); err != nil {
		return domain.UserRole{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[userID]
	if !ok {
		return domain.UserRole{}, domain.ErrRoleNotFound
	}
	return role, nil
}

func (s *Store) GetProfiles(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	if err := s.check("get profiles"); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := map[string]domain.Profile{}
	for _, id := range ids {
		if p, ok := s.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// appendAudit records entry when it names an action. Callers hold mu.
func (s *Store) appendAudit(entry domain.AuditEntry) {
	if entry.Action != "" {
		s.audit = append(s.audit, entry)
	}
}

var _ store.Store = (*Store)(nil)
