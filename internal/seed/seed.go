// Package seed holds the demo catalog loaded by the seeder and by the
// in-memory backend.
package seed

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/punchamoorthee/egovportal/internal/domain"
	"github.com/punchamoorthee/egovportal/internal/store/memory"
)

// namespace keeps demo ids stable across runs and backends.
var namespace = uuid.MustParse("6f1c2a8e-4b7d-4e0f-9a51-2d3c4b5a6e7f")

func id(name string) string {
	return uuid.NewSHA1(namespace, []byte(name)).String()
}

// DepartmentID returns the demo id of a department by name.
func DepartmentID(name string) string { return id("department:" + name) }

var createdAt = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func strPtr(s string) *string { return &s }

func Departments() []domain.Department {
	depts := []struct{ name, desc, email string }{
		{"Revenue Department", "Land records, certificates and revenue services", "revenue@gov.example"},
		{"Municipal Corporation", "Trade licences, property tax and civic services", "municipal@gov.example"},
		{"Transport Department", "Driving licences and vehicle registration", "transport@gov.example"},
		{"Health Department", "Birth and death registration, health permits", "health@gov.example"},
	}
	out := make([]domain.Department, 0, len(depts))
	for _, d := range depts {
		out = append(out, domain.Department{
			ID:          DepartmentID(d.name),
			Name:        d.name,
			Description: strPtr(d.desc),
			Email:       strPtr(d.email),
			CreatedAt:   createdAt,
		})
	}
	return out
}

// LookupDepartment finds a seeded department by name, ignoring case and
// surrounding space.
func LookupDepartment(name string) (domain.Department, bool) {
	name = strings.TrimSpace(name)
	for _, d := range Departments() {
		if strings.EqualFold(d.Name, name) {
			return d, true
		}
	}
	return domain.Department{}, false
}

func Services() []domain.Service {
	services := []struct {
		name, desc, dept, processing string
		fee                          float64
	}{
		{"Income Certificate", "Certificate of annual family income", "Revenue Department", "7 days", 50},
		{"Caste Certificate", "Community certificate for reservations", "Revenue Department", "15 days", 30},
		{"Land Record Extract", "Copy of record of rights for a survey number", "Revenue Department", "3 days", 25},
		{"Trade Licence", "Licence to run a trade within city limits", "Municipal Corporation", "21 days", 500},
		{"Property Tax Assessment", "New assessment of property tax", "Municipal Corporation", "30 days", 0},
		{"Learner Driving Licence", "Learner licence for two and four wheelers", "Transport Department", "1 day", 200},
		{"Vehicle Ownership Transfer", "Transfer of registered ownership", "Transport Department", "10 days", 300},
		{"Birth Certificate", "Certified copy of a birth registration", "Health Department", "5 days", 20},
	}
	out := make([]domain.Service, 0, len(services))
	for _, s := range services {
		out = append(out, domain.Service{
			ID:             id("service:" + s.name),
			Name:           s.name,
			Description:    s.desc,
			Fee:            s.fee,
			DepartmentID:   DepartmentID(s.dept),
			DepartmentName: s.dept,
			IsActive:       true,
			ProcessingTime: s.processing,
			CreatedAt:      createdAt,
		})
	}
	return out
}

// Memory loads the demo catalog and roles into an in-memory store.
func Memory(s *memory.Store, roles []domain.UserRole) {
	for _, d := range Departments() {
		s.PutDepartment(d)
	}
	for _, svc := range Services() {
		s.PutService(svc)
	}
	for _, r := range roles {
		s.PutRole(r)
	}
}
