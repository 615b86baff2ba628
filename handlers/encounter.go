package handlers

import (
	"errors"
	"slices"

	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
	"github.com/jmcleod/clinicdesk/storage"
)

const msgEncounterNotFound = "Encounter not found"

func (s *Service) encounterModule() routes.Module {
	return routes.Module{
		Path:           "query/encounter",
		RequireSession: true,
		Exports: []routes.Export{
			routes.Func("list", s.listEncounters),
			routes.Func("getById", s.getEncounter),
			routes.Func("create", s.createEncounter),
			routes.Func("update", s.updateEncounter),
			routes.Func("deleteById", s.deleteEncounter),
		},
	}
}

// patientSummaries indexes every patient's summary by id.
func (s *Service) patientSummaries(c *ipc.Call) (map[string]*records.PatientSummary, error) {
	patients, err := s.clinic.Patients.List(c.Context())
	if err != nil {
		return nil, err
	}
	out := make(map[string]*records.PatientSummary, len(patients))
	for i := range patients {
		out[patients[i].ID] = patients[i].Summary()
	}
	return out, nil
}

func (s *Service) view(c *ipc.Call, e records.Encounter) records.EncounterView {
	v := records.EncounterView{Encounter: e}
	if p, err := s.clinic.Patients.Get(c.Context(), e.PatientID); err == nil {
		v.Patient = p.Summary()
	}
	return v
}

// listEncounters returns encounters joined with their patients, latest
// visit first, filtered by args.Q.
func (s *Service) listEncounters(c *ipc.Call, args ListArgs) (ListResult[records.EncounterView], error) {
	all, err := s.clinic.Encounters.List(c.Context())
	if err != nil {
		return listFail[records.EncounterView](err.Error())
	}
	patients, err := s.patientSummaries(c)
	if err != nil {
		return listFail[records.EncounterView](err.Error())
	}

	views := make([]records.EncounterView, 0, len(all))
	for _, e := range all {
		v := records.EncounterView{Encounter: e, Patient: patients[e.PatientID]}
		if v.Matches(args.Q) {
			views = append(views, v)
		}
	}
	slices.SortStableFunc(views, func(a, b records.EncounterView) int {
		return b.VisitDate.Compare(a.VisitDate)
	})
	return listOK(views, args)
}

func (s *Service) getEncounter(c *ipc.Call, args IDArgs) (Result[*records.EncounterView], error) {
	e, err := s.clinic.Encounters.Get(c.Context(), string(args.ID))
	if errors.Is(err, storage.ErrNotFound) {
		return ok[*records.EncounterView](nil)
	}
	if err != nil {
		return fail[*records.EncounterView](err.Error())
	}
	v := s.view(c, e)
	return ok(&v)
}

func (s *Service) requirePatient(c *ipc.Call, id string) error {
	if id == "" {
		return nil
	}
	_, err := s.clinic.Patients.Get(c.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return errors.New(msgPatientNotFound)
	}
	return err
}

func (s *Service) createEncounter(c *ipc.Call, args records.Encounter) (Result[*records.EncounterView], error) {
	args.ID = ""
	args.CreatedBy = userRef(c)
	args.UpdatedBy = nil
	args.Normalize()

	if err := s.requirePatient(c, args.PatientID); err != nil {
		return fail[*records.EncounterView](err.Error())
	}
	created, err := s.clinic.Encounters.Create(c.Context(), args)
	if err != nil {
		return fail[*records.EncounterView](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordCreated, c.WindowID, userID(c), records.KindEncounter, created.ID)
	v := s.view(c, created)
	return ok(&v)
}

func (s *Service) updateEncounter(c *ipc.Call, args records.Encounter) (Result[*records.EncounterView], error) {
	existing, err := s.clinic.Encounters.Get(c.Context(), args.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fail[*records.EncounterView](msgEncounterNotFound)
	}
	if err != nil {
		return fail[*records.EncounterView](err.Error())
	}
	if err := s.requirePatient(c, args.PatientID); err != nil {
		return fail[*records.EncounterView](err.Error())
	}

	args.CreatedBy = existing.CreatedBy
	args.UpdatedBy = userRef(c)
	args.Normalize()
	updated, err := s.clinic.Encounters.Update(c.Context(), args)
	if err != nil {
		return fail[*records.EncounterView](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordUpdated, c.WindowID, userID(c), records.KindEncounter, updated.ID)
	v := s.view(c, updated)
	return ok(&v)
}

func (s *Service) deleteEncounter(c *ipc.Call, args IDArgs) (Ack, error) {
	err := s.clinic.Encounters.Delete(c.Context(), string(args.ID))
	if err == nil {
		s.audit.logRecord(c.Context(), AuditRecordDeleted, c.WindowID, userID(c), records.KindEncounter, string(args.ID))
	}
	return ack(err, msgEncounterNotFound)
}
