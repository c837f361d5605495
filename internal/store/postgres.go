package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/punchamoorthee/egovportal/internal/domain"
)

const (
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore serves the Store contract from a Postgres database.
type PostgresStore struct {
	Db DB
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{Db: db}
}

// Connect opens and pings a pool for connString.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return pool, nil
}

const serviceColumns = `
	s.id, s.name, s.description, s.fee, s.department_id, d.name,
	s.is_active, s.processing_time, s.created_at`

const serviceFrom = `
	FROM services s
	JOIN departments d ON d.id = s.department_id`

const requestColumns = `
	r.id, r.citizen_id, r.service_id, r.status, r.date_submitted,
	r.remarks, r.operator_id, r.updated_at`

const detailFrom = `
	FROM service_requests r
	JOIN services s ON s.id = r.service_id
	JOIN departments d ON d.id = s.department_id
	LEFT JOIN profiles p ON p.id = r.citizen_id`

func scanService(row pgx.Row) (domain.Service, error) {
	var svc domain.Service
	err := row.Scan(&svc.ID, &svc.Name, &svc.Description, &svc.Fee, &svc.DepartmentID,
		&svc.DepartmentName, &svc.IsActive, &svc.ProcessingTime, &svc.CreatedAt)
	return svc, err
}

func scanRequest(row pgx.Row) (domain.ServiceRequest, error) {
	var r domain.ServiceRequest
	err := row.Scan(&r.ID, &r.CitizenID, &r.ServiceID, &r.Status, &r.DateSubmitted,
		&r.Remarks, &r.OperatorID, &r.UpdatedAt)
	return r, err
}

func scanDetail(row pgx.Row) (domain.RequestDetail, error) {
	var d domain.RequestDetail
	svc := &d.Service
	err := row.Scan(
		&d.ID, &d.CitizenID, &d.ServiceID, &d.Status, &d.DateSubmitted,
		&d.Remarks, &d.OperatorID, &d.UpdatedAt,
		&svc.ID, &svc.Name, &svc.Description, &svc.Fee, &svc.DepartmentID,
		&svc.DepartmentName, &svc.IsActive, &svc.ProcessingTime, &svc.CreatedAt,
		&d.CitizenName,
	)
	return d, err
}

// ListDepartments returns every department ordered by name.
func (s *PostgresStore) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT id, name, description, email, created_at FROM departments ORDER BY name")
	if err != nil {
		return nil, domain.UnavailableError("list departments", err)
	}
	defer rows.Close()

	departments := []domain.Department{}
	for rows.Next() {
		var d domain.Department
		if err := rows.Scan(&d.ID, &d.Name, &d.Description, &d.Email, &d.CreatedAt); err != nil {
			return nil, domain.UnavailableError("scan department", err)
		}
		departments = append(departments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.UnavailableError("list departments", err)
	}
	return departments, nil
}

// ListServices returns catalog entries ordered by name.
func (s *PostgresStore) ListServices(ctx context.Context, filter ServiceFilter) ([]domain.Service, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT"+serviceColumns+serviceFrom+`
		WHERE ($1 = false OR s.is_active)
		  AND ($2 = '' OR s.name ILIKE '%' || $2 || '%' OR d.name ILIKE '%' || $2 || '%')
		ORDER BY s.name`,
		filter.ActiveOnly, strings.TrimSpace(filter.Search))
	if err != nil {
		return nil, domain.UnavailableError("list services", err)
	}
	defer rows.Close()

	services := []domain.Service{}
	for rows.Next() {
		svc, err := scanService(rows)
		if err != nil {
			return nil, domain.UnavailableError("scan service", err)
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.UnavailableError("list services", err)
	}
	return services, nil
}

// GetService retrieves one catalog entry.
func (s *PostgresStore) GetService(ctx context.Context, id string) (domain.Service, error) {
	svc, err := scanService(s.Db.QueryRow(ctx, "SELECT"+serviceColumns+serviceFrom+" WHERE s.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Service{}, domain.ErrServiceNotFound
		}
		return domain.Service{}, domain.UnavailableError("get service", err)
	}
	return svc, nil
}

// CreateService inserts an active catalog entry.
func (s *PostgresStore) CreateService(ctx context.Context, input CreateServiceInput) (domain.Service, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Service{}, domain.UnavailableError("tx begin", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO services (id, name, description, fee, department_id, is_active, processing_time, created_at)
		VALUES ($1, $2, $3, $4, $5, true, $6, $7)`,
		input.ID, input.Name, input.Description, input.Fee, input.DepartmentID, input.ProcessingTime, input.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return domain.Service{}, domain.ErrDepartmentNotFound
		}
		if errors.As(err, &pgErr) && pgErr.Code == pgCheckViolation {
			return domain.Service{}, domain.ErrNegativeFee
		}
		return domain.Service{}, domain.UnavailableError("service insert", err)
	}

	if err := insertAudit(ctx, tx, input.Audit); err != nil {
		return domain.Service{}, err
	}

	svc, err := scanService(tx.QueryRow(ctx, "SELECT"+serviceColumns+serviceFrom+" WHERE s.id = $1", input.ID))
	if err != nil {
		return domain.Service{}, domain.UnavailableError("service reload", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Service{}, domain.UnavailableError("tx commit", err)
	}
	return svc, nil
}

// SetServiceActive toggles whether citizens can see and apply for a service.
func (s *PostgresStore) SetServiceActive(ctx context.Context, input SetServiceActiveInput) (domain.Service, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.Service{}, domain.UnavailableError("tx begin", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, "UPDATE services SET is_active = $2 WHERE id = $1", input.ServiceID, input.Active)
	if err != nil {
		return domain.Service{}, domain.UnavailableError("service update", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.Service{}, domain.ErrServiceNotFound
	}

	if err := insertAudit(ctx, tx, input.Audit); err != nil {
		return domain.Service{}, err
	}

	svc, err := scanService(tx.QueryRow(ctx, "SELECT"+serviceColumns+serviceFrom+" WHERE s.id = $1", input.ServiceID))
	if err != nil {
		return domain.Service{}, domain.UnavailableError("service reload", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Service{}, domain.UnavailableError("tx commit", err)
	}
	return svc, nil
}

// SubmitRequest writes the request and its payment in one transaction. The
// service row is share-locked so it cannot be deactivated mid-submission.
func (s *PostgresStore) SubmitRequest(ctx context.Context, input SubmitInput) (domain.RequestDetail, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.RequestDetail{}, domain.UnavailableError("tx begin", err)
	}
	defer tx.Rollback(ctx)

	// 1. Service must exist and still be active
	svc, err := scanService(tx.QueryRow(ctx,
		"SELECT"+serviceColumns+serviceFrom+" WHERE s.id = $1 FOR SHARE OF s", input.ServiceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RequestDetail{}, domain.ErrServiceNotFound
		}
		return domain.RequestDetail{}, domain.UnavailableError("service lock", err)
	}
	if !svc.IsActive {
		return domain.RequestDetail{}, domain.ErrServiceInactive
	}

	// 2. Request
	req, err := scanRequest(tx.QueryRow(ctx, `
		INSERT INTO service_requests (id, citizen_id, service_id, status, date_submitted, operator_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $5)
		RETURNING id, citizen_id, service_id, status, date_submitted, remarks, operator_id, updated_at`,
		input.RequestID, input.CitizenID, input.ServiceID, domain.StatusPending, input.SubmittedAt, input.OperatorID,
	))
	if err != nil {
		return domain.RequestDetail{}, domain.UnavailableError("request insert", err)
	}

	// 3. Payment, settled immediately
	payment := domain.Payment{
		ID:            input.PaymentID,
		RequestID:     req.ID,
		Amount:        svc.Fee,
		Method:        input.Method,
		Status:        domain.PaymentCompleted,
		TransactionID: input.TransactionID,
		CreatedAt:     input.SubmittedAt,
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO payments (id, request_id, amount, method, status, transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		payment.ID, payment.RequestID, payment.Amount, payment.Method, payment.Status, payment.TransactionID, payment.CreatedAt,
	)
	if err != nil {
		return domain.RequestDetail{}, domain.UnavailableError("payment insert", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return domain.RequestDetail{}, domain.UnavailableError("tx commit", err)
	}

	return domain.RequestDetail{
		ServiceRequest: req,
		Service:        svc,
		Payments:       []domain.Payment{payment},
	}, nil
}

// GetRequest retrieves the bare request row.
func (s *PostgresStore) GetRequest(ctx context.Context, id string) (domain.ServiceRequest, error) {
	req, err := scanRequest(s.Db.QueryRow(ctx, "SELECT"+requestColumns+" FROM service_requests r WHERE r.id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ServiceRequest{}, domain.ErrRequestNotFound
		}
		return domain.ServiceRequest{}, domain.UnavailableError("get request", err)
	}
	return req, nil
}

// GetRequestDetail retrieves a request with its service and payments.
func (s *PostgresStore) GetRequestDetail(ctx context.Context, id string) (domain.RequestDetail, error) {
	details, err := s.queryDetails(ctx, " WHERE r.id = $1", id)
	if err != nil {
		return domain.RequestDetail{}, err
	}
	if len(details) == 0 {
		return domain.RequestDetail{}, domain.ErrRequestNotFound
	}
	return details[0], nil
}

// ListRequests returns matching requests, newest first.
func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]domain.RequestDetail, error) {
	var where []string
	var args []any
	if filter.CitizenID != "" {
		args = append(args, filter.CitizenID)
		where = append(where, fmt.Sprintf("r.citizen_id = $%d", len(args)))
	}
	if filter.DepartmentID != "" {
		args = append(args, filter.DepartmentID)
		where = append(where, fmt.Sprintf("s.department_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("r.status = $%d", len(args)))
	}

	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	return s.queryDetails(ctx, clause, args...)
}

func (s *PostgresStore) queryDetails(ctx context.Context, where string, args ...any) ([]domain.RequestDetail, error) {
	rows, err := s.Db.Query(ctx,
		"SELECT"+requestColumns+","+serviceColumns+", COALESCE(p.name, '')"+detailFrom+where+
			" ORDER BY r.date_submitted DESC", args...)
	if err != nil {
		return nil, domain.UnavailableError("list requests", err)
	}
	defer rows.Close()

	details := []domain.RequestDetail{}
	index := map[string]int{}
	var ids []string
	for rows.Next() {
		d, err := scanDetail(rows)
		if err != nil {
			return nil, domain.UnavailableError("scan request", err)
		}
		d.Payments = []domain.Payment{}
		index[d.ID] = len(details)
		ids = append(ids, d.ID)
		details = append(details, d)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.UnavailableError("list requests", err)
	}
	if len(ids) == 0 {
		return details, nil
	}

	payRows, err := s.Db.Query(ctx, `
		SELECT id, request_id, amount, method, status, transaction_id, created_at
		FROM payments WHERE request_id = ANY($1::uuid[])
		ORDER BY created_at`, ids)
	if err != nil {
		return nil, domain.UnavailableError("list payments", err)
	}
	defer payRows.Close()

	for payRows.Next() {
		var p domain.Payment
		if err := payRows.Scan(&p.ID, &p.RequestID, &p.Amount, &p.Method, &p.Status, &p.TransactionID, &p.CreatedAt); err != nil {
			return nil, domain.UnavailableError("scan payment", err)
		}
		if i, ok := index[p.RequestID]; ok {
			details[i].Payments = append(details[i].Payments, p)
		}
	}
	if err := payRows.Err(); err != nil {
		return nil, domain.UnavailableError("list payments", err)
	}
	return details, nil
}

// UpdateRequestStatus applies a guarded status change and records it in the
// audit log in the same transaction.
func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, update StatusUpdate) (domain.ServiceRequest, error) {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.ServiceRequest{}, domain.UnavailableError("tx begin", err)
	}
	defer tx.Rollback(ctx)

	req, err := scanRequest(tx.QueryRow(ctx, `
		UPDATE service_requests
		SET status = $3, remarks = COALESCE($4::text, remarks), updated_at = $5
		WHERE id = $1 AND status = $2
		RETURNING id, citizen_id, service_id, status, date_submitted, remarks, operator_id, updated_at`,
		update.RequestID, update.From, update.To, update.Remarks, update.UpdatedAt,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM service_requests WHERE id = $1)", update.RequestID).Scan(&exists); err != nil {
			return domain.ServiceRequest{}, domain.UnavailableError("request lookup", err)
		}
		if !exists {
			return domain.ServiceRequest{}, domain.ErrRequestNotFound
		}
		return domain.ServiceRequest{}, domain.ErrConcurrentUpdate
	}
	if err != nil {
		return domain.ServiceRequest{}, domain.UnavailableError("status update", err)
	}

	if err := insertAudit(ctx, tx, update.Audit); err != nil {
		return domain.ServiceRequest{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.ServiceRequest{}, domain.UnavailableError("tx commit", err)
	}
	return req, nil
}

// GetUserRole returns the user's earliest role assignment.
func (s *PostgresStore) GetUserRole(ctx context.Context, userID string) (domain.UserRole, error) {
	var role domain.UserRole
	err := s.Db.QueryRow(ctx, `
		SELECT user_id, role, department_id, created_at
		FROM user_roles WHERE user_id = $1
		ORDER BY created_at LIMIT 1`, userID,
	).Scan(&role.UserID, &role.Role, &role.DepartmentID, &role.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.UserRole{}, domain.ErrRoleNotFound
		}
		return domain.UserRole{}, domain.UnavailableError("get role", err)
	}
	return role, nil
}

// GetProfiles returns the profiles that exist for ids, keyed by id.
func (s *PostgresStore) GetProfiles(ctx context.Context, ids []string) (map[string]domain.Profile, error) {
	profiles := map[string]domain.Profile{}
	if len(ids) == 0 {
		return profiles, nil
	}

	rows, err := s.Db.Query(ctx,
		"SELECT id, name, email, mobile, address FROM profiles WHERE id = ANY($1::uuid[])", ids)
	if err != nil {
		return nil, domain.UnavailableError("get profiles", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p domain.Profile
		if err := rows.Scan(&p.ID, &p.Name, &p.Email, &p.Mobile, &p.Address); err != nil {
			return nil, domain.UnavailableError("scan profile", err)
		}
		profiles[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, domain.UnavailableError("get profiles", err)
	}
	return profiles, nil
}

func insertAudit(ctx context.Context, tx pgx.Tx, entry domain.AuditEntry) error {
	if entry.Action == "" {
		return nil
	}
	_, err := tx.Exec(ctx,
		"INSERT INTO audit_logs (id, user_id, action, description, timestamp) VALUES ($1, $2, $3, $4, $5)",
		entry.ID, entry.UserID, entry.Action, entry.Description, entry.Timestamp)
	if err != nil {
		return domain.UnavailableError("audit insert", err)
	}
	return nil
}

var _ Store = (*PostgresStore)(nil)
