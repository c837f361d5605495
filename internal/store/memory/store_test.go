package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store"
)

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	s.PutDepartment(domain.Department{ID: "dep-1", Name: "Revenue"})
	s.PutService(domain.Service{ID: "svc-1", Name: "Income Certificate", Fee: 25, DepartmentID: "dep-1", IsActive: true})
	s.PutService(domain.Service{ID: "svc-2", Name: "Old Pension", Fee: 0, DepartmentID: "dep-1", IsActive: false})
	s.PutProfile(domain.Profile{ID: "cit-1", Name: "Asha"})
	return s
}

func TestSubmitRequestRecordsPayment(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	detail, err := s.SubmitRequest(ctx, store.SubmitInput{
		RequestID: "req-1", PaymentID: "pay-1", CitizenID: "cit-1", ServiceID: "svc-1",
		Method: domain.PaymentCard, TransactionID: "TXN1", SubmittedAt: time.Unix(100, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, detail.Status)
	assert.Equal(t, "Revenue", detail.Service.DepartmentName)
	assert.Equal(t, "Asha", detail.CitizenName)
	require.Len(t, detail.Payments, 1)
	assert.Equal(t, 25.0, detail.Payments[0].Amount)

	_, err = s.SubmitRequest(ctx, store.SubmitInput{RequestID: "req-2", ServiceID: "svc-2"})
	assert.ErrorIs(t, err, domain.ErrServiceInactive)
	_, err = s.SubmitRequest(ctx, store.SubmitInput{RequestID: "req-3", ServiceID: "svc-9"})
	assert.ErrorIs(t, err, domain.ErrServiceNotFound)

	_, err = s.GetRequest(ctx, "req-2")
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func TestUpdateRequestStatusCompareAndSet(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()
	_, err := s.SubmitRequest(ctx, store.SubmitInput{RequestID: "req-1", CitizenID: "cit-1", ServiceID: "svc-1"})
	require.NoError(t, err)

	remarks := "documents verified"
	req, err := s.UpdateRequestStatus(ctx, store.StatusUpdate{
		RequestID: "req-1", From: domain.StatusPending, To: domain.StatusApproved, Remarks: &remarks,
		Audit: domain.AuditEntry{ID: "a-1", Action: "request.approved"},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusApproved, req.Status)
	assert.Equal(t, "documents verified", *req.Remarks)

	_, err = s.UpdateRequestStatus(ctx, store.StatusUpdate{
		RequestID: "req-1", From: domain.StatusPending, To: domain.StatusRejected,
	})
	assert.ErrorIs(t, err, domain.ErrConcurrentUpdate)

	req, err = s.UpdateRequestStatus(ctx, store.StatusUpdate{
		RequestID: "req-1", From: domain.StatusApproved, To: domain.StatusCompleted,
	})
	require.NoError(t, err)
	assert.Equal(t, "documents verified", *req.Remarks)

	_, err = s.UpdateRequestStatus(ctx, store.StatusUpdate{RequestID: "nope", From: domain.StatusPending})
	assert.ErrorIs(t, err, domain.ErrRequestNotFound)

	assert.Len(t, s.AuditLog(), 1)
}

func TestListRequestsFiltersAndOrders(t *testing.T) {
	s := seeded(t)
	s.PutDepartment(domain.Department{ID: "dep-2", Name: "Transport"})
	s.PutService(domain.Service{ID: "svc-3", Name: "Driving Licence", DepartmentID: "dep-2", IsActive: true})
	ctx := context.Background()

	for i, in := range []store.SubmitInput{
		{RequestID: "r1", CitizenID: "cit-1", ServiceID: "svc-1"},
		{RequestID: "r2", CitizenID: "cit-2", ServiceID: "svc-3"},
		{RequestID: "r3", CitizenID: "cit-1", ServiceID: "svc-3"},
	} {
		in.SubmittedAt = time.Unix(int64(100+i), 0)
		_, err := s.SubmitRequest(ctx, in)
		require.NoError(t, err)
	}

	all, err := s.ListRequests(ctx, store.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "r3", all[0].ID)
	assert.Equal(t, "r1", all[2].ID)

	mine, err := s.ListRequests(ctx, store.RequestFilter{CitizenID: "cit-1"})
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	transport, err := s.ListRequests(ctx, store.RequestFilter{DepartmentID: "dep-2"})
	require.NoError(t, err)
	assert.Len(t, transport, 2)
}

func TestListServicesSearch(t *testing.T) {
	s := seeded(t)
	ctx := context.Background()

	active, err := s.ListServices(ctx, store.ServiceFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 1)

	all, err := s.ListServices(ctx, store.ServiceFilter{Search: "REVENUE"})
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestFailHookReportsUnavailable(t *testing.T) {
	s := seeded(t)
	s.Fail = func(op string) error { return errors.New("connection reset") }

	_, err := s.ListDepartments(context.Background())
	assert.ErrorIs(t, err, domain.Unavailable)
}
