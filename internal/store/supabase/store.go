package supabase

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/supabase-community/postgrest-go"

	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store"
)

const (
	serviceSelect      = "*,departments(name)"
	detailSelect       = "*,services(*,departments(name)),payments(*)"
	scopedDetailSelect = "*,services!inner(*,departments(name)),payments(*)"
)

// Store implements store.Store over PostgREST. PostgREST has no
// multi-statement transactions, so SubmitRequest compensates by deleting
// the request when its payment cannot be written, and audit rows are
// written after the change they describe.
type Store struct {
	client *Client
	log    logrus.FieldLogger
}

func NewStore(client *Client, log logrus.FieldLogger) *Store {
	return &Store{client: client, log: log}
}

type departmentRef struct {
	Name string `json:"name"`
}

type serviceRow struct {
	domain.Service
	Departments *departmentRef `json:"departments"`
}

func (r serviceRow) toDomain() domain.Service {
	svc := r.Service
	if r.Departments != nil {
		svc.DepartmentName = r.Departments.Name
	}
	return svc
}

type requestRow struct {
	domain.ServiceRequest
	Services *serviceRow     `json:"services"`
	Payments []domain.Payment `json:"payments"`
}

func (r requestRow) toDomain() domain.RequestDetail {
	d := domain.RequestDetail{ServiceRequest: r.ServiceRequest, Payments: r.Payments}
	if d.Payments == nil {
		d.Payments = []domain.Payment{}
	}
	if r.Services != nil {
		d.Service = r.Services.toDomain()
	}
	return d
}

// run executes q and decodes the response into out. Every failure is
// Unavailable; the *APIError, when there is one, stays reachable as the cause.
func (s *Store) run(ctx context.Context, op string, q *postgrest.FilterBuilder, out any) error {
	if err := s.client.execute(ctx, q, out); err != nil {
		return domain.UnavailableError(op, err)
	}
	return nil
}

func errorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

var (
	ascending  = &postgrest.OrderOpts{Ascending: true}
	descending = &postgrest.OrderOpts{}
)

func (s *Store) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	departments := []domain.Department{}
	q := s.client.From("departments").Select("*", "", false).Order("name", ascending)
	if err := s.run(ctx, "list departments", q, &departments); err != nil {
		return nil, err
	}
	return departments, nil
}

func (s *Store) ListServices(ctx context.Context, filter store.ServiceFilter) ([]domain.Service, error) {
	q := s.client.From("services").Select(serviceSelect, "", false).Order("name", ascending)
	if filter.ActiveOnly {
		q = q.Eq("is_active", "true")
	}

	var rows []serviceRow
	if err := s.run(ctx, "list services", q, &rows); err != nil {
		return nil, err
	}

	services := []domain.Service{}
	for _, row := range rows {
		svc := row.toDomain()
		if store.MatchesSearch(svc, filter.Search) {
			services = append(services, svc)
		}
	}
	return services, nil
}

func (s *Store) GetService(ctx context.Context, id string) (domain.Service, error) {
	var rows []serviceRow
	q := s.client.From("services").Select(serviceSelect, "", false).Eq("id", id)
	if err := s.run(ctx, "get service", q, &rows); err != nil {
		return domain.Service{}, err
	}
	if len(rows) == 0 {
		return domain.Service{}, domain.ErrServiceNotFound
	}
	return rows[0].toDomain(), nil
}

// CreateService inserts the row and reads it back with its department name,
// which PostgREST cannot embed in an insert's representation.
func (s *Store) CreateService(ctx context.Context, input store.CreateServiceInput) (domain.Service, error) {
	q := s.client.From("services").Insert(map[string]any{
		"id":              input.ID,
		"name":            input.Name,
		"description":     input.Description,
		"fee":             input.Fee,
		"department_id":   input.DepartmentID,
		"is_active":       true,
		"processing_time": input.ProcessingTime,
		"created_at":      input.CreatedAt,
	}, false, "", "minimal", "")
	err := s.run(ctx, "create service", q, nil)
	switch errorCode(err) {
	case "23503":
		return domain.Service{}, domain.ErrDepartmentNotFound
	case "23514":
		return domain.Service{}, domain.ErrNegativeFee
	}
	if err != nil {
		return domain.Service{}, err
	}

	svc, err := s.GetService(ctx, input.ID)
	if err != nil {
		return domain.Service{}, err
	}
	s.audit(ctx, input.Audit)
	return svc, nil
}

func (s *Store) SetServiceActive(ctx context.Context, input store.SetServiceActiveInput) (domain.Service, error) {
	var rows []serviceRow
	q := s.client.From("services").
		Update(map[string]any{"is_active": input.Active}, "representation", "").
		Eq("id", input.ServiceID)
	if err := s.run(ctx, "set service active", q, &rows); err != nil {
		return domain.Service{}, err
	}
	if len(rows) == 0 {
		return domain.Service{}, domain.ErrServiceNotFound
	}

	svc, err := s.GetService(ctx, input.ServiceID)
	if err != nil {
		return domain.Service{}, err
	}
	s.audit(ctx, input.Audit)
	return svc, nil
}

func (s *Store) SubmitRequest(ctx context.Context, input store.SubmitInput) (domain.RequestDetail, error) {
	svc, err := s.GetService(ctx, input.ServiceID)
	if err != nil {
		return domain.RequestDetail{}, err
	}
	if !svc.IsActive {
		return domain.RequestDetail{}, domain.ErrServiceInactive
	}

	var inserted []domain.ServiceRequest
	q := s.client.From("service_requests").Insert(map[string]any{
		"id":             input.RequestID,
		"citizen_id":     input.CitizenID,
		"service_id":     input.ServiceID,
		"status":         domain.StatusPending,
		"date_submitted": input.SubmittedAt,
		"operator_id":    input.OperatorID,
		"updated_at":     input.SubmittedAt,
	}, false, "", "representation", "")
	err = s.run(ctx, "request insert", q, &inserted)
	if errorCode(err) == "23503" {
		return domain.RequestDetail{}, domain.ErrServiceNotFound
	}
	if err != nil {
		return domain.RequestDetail{}, err
	}
	if len(inserted) == 0 {
		return domain.RequestDetail{}, domain.UnavailableError("request insert", errEmptyRepresentation)
	}

	payment := domain.Payment{
		ID:            input.PaymentID,
		RequestID:     input.RequestID,
		Amount:        svc.Fee,
		Method:        input.Method,
		Status:        domain.PaymentCompleted,
		TransactionID: input.TransactionID,
		CreatedAt:     input.SubmittedAt,
	}
	q = s.client.From("payments").Insert(payment, false, "", "minimal", "")
	if err := s.run(ctx, "payment insert", q, nil); err != nil {
		s.compensate(input.RequestID, err)
		return domain.RequestDetail{}, err
	}

	return domain.RequestDetail{
		ServiceRequest: inserted[0],
		Service:        svc,
		Payments:       []domain.Payment{payment},
	}, nil
}

// compensate removes a request whose payment failed. It runs on a fresh
// context so a cancelled caller does not leave the orphan behind.
func (s *Store) compensate(requestID string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log := s.log.WithField("request_id", requestID).WithField("cause", cause.Error())
	q := s.client.From("service_requests").Delete("minimal", "").Eq("id", requestID)
	if err := s.run(ctx, "compensate request", q, nil); err != nil {
		log.WithError(err).Error("orphaned service request left without payment")
		return
	}
	log.Warn("service request rolled back after payment failure")
}

func (s *Store) GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error) {
	var rows []domain.ServiceRequest
	q := s.client.From("service_requests").Select("*", "", false).Eq("id", id)
	if err := s.run(ctx, "get request", q, &rows); err != nil {
		return domain.ServiceRequest{}, err
	}
	if len(rows) == 0 {
		return domain.ServiceRequest{}, domain.ErrRequestNotFound
	}
	return rows[0], nil
}

func (s *Store) GetRequestDetail(ctx context.Context, id string) (domain.RequestDetail, error) {
	var rows []requestRow
	q := s.client.From("service_requests").Select(detailSelect, "", false).Eq("id", id)
	if err := s.run(ctx, "get request detail", q, &rows); err != nil {
		return domain.RequestDetail{}, err
	}
	if len(rows) == 0 {
		return domain.RequestDetail{}, domain.ErrRequestNotFound
	}
	details, err := s.withCitizenNames(ctx, rows[:1])
	if err != nil {
		return domain.RequestDetail{}, err
	}
	return details[0], nil
}

func (s *Store) ListRequests(ctx context.Context, filter store.RequestFilter) ([]domain.RequestDetail, error) {
	selectColumns := detailSelect
	if filter.DepartmentID != "" {
		selectColumns = scopedDetailSelect
	}
	q := s.client.From("service_requests").Select(selectColumns, "", false)
	if filter.DepartmentID != "" {
		q = q.Eq("services.department_id", filter.DepartmentID)
	}
	if filter.CitizenID != "" {
		q = q.Eq("citizen_id", filter.CitizenID)
	}
	if filter.Status != "" {
		q = q.Eq("status", string(filter.Status))
	}
	q = q.Order("date_submitted", descending)

	var rows []requestRow
	if err := s.run(ctx, "list requests", q, &rows); err != nil {
		return nil, err
	}
	return s.withCitizenNames(ctx, rows)
}

func (s *Store) withCitizenNames(ctx context.Context, rows []requestRow) ([]domain.RequestDetail, error) {
	seen := map[string]bool{}
	var ids []string
	for _, row := range rows {
		if !seen[row.CitizenID] {
			seen[row.CitizenID] = true
			ids = append(ids, row.CitizenID)
		}
	}
	profiles, err := s.GetProfiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	details := make([]domain.RequestDetail, 0, len(rows))
	for _, row := range rows {
		d := row.toDomain()
		d.CitizenName = profiles[row.CitizenID].Name
		details = append(details, d)
	}
	return details, nil
}

func (s *Store) UpdateRequestStatus(ctx context.Context, update store.StatusUpdate) (domain.ServiceRequest, error) {
	patch := map[string]any{
		"status":     update.To,
		"updated_at": update.UpdatedAt,
	}
	if update.Remarks != nil {
		patch["remarks"] = *update.Remarks
	}

	var rows []domain.ServiceRequest
	q := s.client.From("service_requests").
		Update(patch, "representation", "").
		Eq("id", update.RequestID).
		Eq("status", string(update.From))
	if err := s.run(ctx, "status update", q, &rows); err != nil {
		return domain.ServiceRequest{}, err
	}
	if len(rows) == 0 {
		if _, err := s.GetRequest(ctx, update.RequestID); err != nil {
			return domain.ServiceRequest{}, err
		}
		return domain.ServiceRequest{}, domain.ErrConcurrentUpdate
	}
	s.audit(ctx, update.Audit)
	return rows[0], nil
}

func (s *Store) GetUserRole(ctx context.Context, userID string) (domain.UserRole, error) {
	var rows []domain.UserRole
	q := s.client.From("user_roles").Select("*", "", false).
		Eq("user_id", userID).
		Order("created_at", ascending).
		Limit(1, "")
	if err := s.run(ctx, "get role", q, &rows); err != nil {
		return domain.UserRole{}, err
	}
	if len(rows) == 0 {
		return domain.UserRole{}, domain.ErrRoleNotFound
	}
	return rows[0], nil
}

func (s *Store) GetProfiles(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	profiles := map[string]domain.Profile{}
	if len(ids) == 0 {
		return profiles, nil
	}

	var rows []domain.Profile
	q := s.client.From("profiles").Select("id,name,email,mobile,address", "", false).In("id", ids)
	if err := s.run(ctx, "get profiles", q, &rows); err != nil {
		return nil, err
	}
	for _, p := range rows {
		profiles[p.ID] = p
	}
	return profiles, nil
}

// audit writes entry after the change it describes has committed. A failed
// write is logged and does not undo the change.
func (s *Store) audit(ctx context.Context, entry domain.AuditEntry) {
	if entry.Action == "" {
		return
	}
	q := s.client.From("audit_logs").Insert(entry, false, "", "minimal", "")
	if err := s.run(ctx, "audit insert", q, nil); err != nil {
		s.log.WithError(err).WithField("action", entry.Action).Warn("audit entry not written")
	}
}

var errEmptyRepresentation = errors.New("no rows returned")

var _ store.Store = (*Store)(nil)
