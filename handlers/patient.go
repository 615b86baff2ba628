package handlers

import (
	"errors"
	"slices"
	"strings"

	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
	"github.com/jmcleod/clinicdesk/storage"
)

const msgPatientNotFound = "Patient not found"

func (s *Service) patientModule() routes.Module {
	return routes.Module{
		Path:           "query/patient",
		RequireSession: true,
		Exports: []routes.Export{
			routes.Func("list", s.listPatients),
			routes.Func("getById", s.getPatient),
			routes.Func("create", s.createPatient),
			routes.Func("update", s.updatePatient),
			routes.Func("deleteById", s.deletePatient),
		},
	}
}

// newestFirst orders records by creation time, most recent first.
func newestFirst[T any](items []T, meta func(*T) records.Meta) {
	slices.SortStableFunc(items, func(a, b T) int {
		return meta(&b).CreatedAt.Compare(meta(&a).CreatedAt)
	})
}

func patientMatches(p *records.Patient, q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	return strings.Contains(strings.ToLower(p.Name), q) || strings.Contains(strings.ToLower(p.Kode), q)
}

func (s *Service) listPatients(c *ipc.Call, args ListArgs) (ListResult[records.Patient], error) {
	all, err := s.clinic.Patients.List(c.Context())
	if err != nil {
		return listFail[records.Patient](err.Error())
	}
	newestFirst(all, func(p *records.Patient) records.Meta { return p.Meta })
	all = slices.DeleteFunc(all, func(p records.Patient) bool { return !patientMatches(&p, args.Q) })
	return listOK(all, args)
}

// getPatient succeeds without data when the id is unknown.
func (s *Service) getPatient(c *ipc.Call, args IDArgs) (Result[*records.Patient], error) {
	p, err := s.clinic.Patients.Get(c.Context(), string(args.ID))
	if errors.Is(err, storage.ErrNotFound) {
		return ok[*records.Patient](nil)
	}
	if err != nil {
		return fail[*records.Patient](err.Error())
	}
	return ok(&p)
}

func (s *Service) kodeTaken(c *ipc.Call, kode, exceptID string) (bool, error) {
	_, found, err := s.clinic.Patients.Find(c.Context(), func(p *records.Patient) bool {
		return p.Kode == kode && p.ID != exceptID
	})
	return found, err
}

func (s *Service) createPatient(c *ipc.Call, args records.Patient) (Result[*records.Patient], error) {
	args.ID = ""
	if args.Active == nil {
		active := true
		args.Active = &active
	}
	args.CreatedBy = userRef(c)
	args.UpdatedBy = nil

	taken, err := s.kodeTaken(c, args.Kode, "")
	if err != nil {
		return fail[*records.Patient](err.Error())
	}
	if taken {
		return fail[*records.Patient]("Patient kode already exists")
	}
	created, err := s.clinic.Patients.Create(c.Context(), args)
	if err != nil {
		return fail[*records.Patient](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordCreated, c.WindowID, userID(c), records.KindPatient, created.ID)
	return ok(&created)
}

func (s *Service) updatePatient(c *ipc.Call, args records.Patient) (Result[*records.Patient], error) {
	existing, err := s.clinic.Patients.Get(c.Context(), args.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fail[*records.Patient](msgPatientNotFound)
	}
	if err != nil {
		return fail[*records.Patient](err.Error())
	}
	taken, err := s.kodeTaken(c, args.Kode, args.ID)
	if err != nil {
		return fail[*records.Patient](err.Error())
	}
	if taken {
		return fail[*records.Patient]("Patient kode already exists")
	}

	args.CreatedBy = existing.CreatedBy
	args.UpdatedBy = userRef(c)
	updated, err := s.clinic.Patients.Update(c.Context(), args)
	if err != nil {
		return fail[*records.Patient](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordUpdated, c.WindowID, userID(c), records.KindPatient, updated.ID)
	return ok(&updated)
}

func (s *Service) deletePatient(c *ipc.Call, args IDArgs) (Ack, error) {
	err := s.clinic.Patients.Delete(c.Context(), string(args.ID))
	if err == nil {
		s.audit.logRecord(c.Context(), AuditRecordDeleted, c.WindowID, userID(c), records.KindPatient, string(args.ID))
	}
	return ack(err, msgPatientNotFound)
}
