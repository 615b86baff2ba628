package handlers

import (
	"github.com/jmcleod/clinicdesk/backend"
	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
)

// diagnosticModule serves diagnostic reports from the remote backend using
// the calling window's backend token.
func (s *Service) diagnosticModule() routes.Module {
	return routes.Module{
		Path:           "query/diagnostic",
		RequireSession: true,
		Exports: []routes.Export{
			routes.Func("list", s.listDiagnostics),
			routes.Func("getById", s.getDiagnostic),
			routes.Func("create", s.createDiagnostic),
			routes.Func("update", s.updateDiagnostic),
			routes.Func("deleteById", s.deleteDiagnostic),
		},
	}
}

func (s *Service) requester(c *ipc.Call) (*backend.Requester, error) {
	return s.backend.ForWindow(s.sessions, c.WindowID)
}

type DiagnosticListResult struct {
	Success    bool                       `json:"success"`
	Data       []records.DiagnosticReport `json:"data,omitzero"`
	Pagination *backend.Pagination        `json:"pagination,omitempty"`
	Error      string                     `json:"error,omitempty"`
}

func (s *Service) listDiagnostics(c *ipc.Call, _ ipc.NoArgs) (DiagnosticListResult, error) {
	r, err := s.requester(c)
	if err != nil {
		return DiagnosticListResult{Error: err.Error()}, nil
	}
	list, page, err := r.ListDiagnosticReports(c.Context())
	if err != nil {
		return DiagnosticListResult{Error: err.Error()}, nil
	}
	return DiagnosticListResult{Success: true, Data: list, Pagination: page}, nil
}

func (s *Service) getDiagnostic(c *ipc.Call, args IDArgs) (Result[*records.DiagnosticReport], error) {
	r, err := s.requester(c)
	if err != nil {
		return fail[*records.DiagnosticReport](err.Error())
	}
	report, err := r.GetDiagnosticReport(c.Context(), string(args.ID))
	if err != nil {
		return fail[*records.DiagnosticReport](err.Error())
	}
	return ok(report)
}

func (s *Service) createDiagnostic(c *ipc.Call, args records.DiagnosticReport) (Result[*records.DiagnosticReport], error) {
	if err := args.Validate(); err != nil {
		return fail[*records.DiagnosticReport](err.Error())
	}
	r, err := s.requester(c)
	if err != nil {
		return fail[*records.DiagnosticReport](err.Error())
	}
	report, err := r.CreateDiagnosticReport(c.Context(), args)
	if err != nil {
		return fail[*records.DiagnosticReport](err.Error())
	}
	if report != nil {
		s.audit.logRecord(c.Context(), AuditRecordCreated, c.WindowID, userID(c), "DIAGNOSTIC_REPORT", string(report.ID))
	}
	return ok(report)
}

func (s *Service) updateDiagnostic(c *ipc.Call, args records.DiagnosticReport) (Result[*records.DiagnosticReport], error) {
	if args.ID == "" {
		return fail[*records.DiagnosticReport]("id: is required")
	}
	if err := args.Validate(); err != nil {
		return fail[*records.DiagnosticReport](err.Error())
	}
	r, err := s.requester(c)
	if err != nil {
		return fail[*records.DiagnosticReport](err.Error())
	}
	report, err := r.UpdateDiagnosticReport(c.Context(), args)
	if err != nil {
		return fail[*records.DiagnosticReport](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordUpdated, c.WindowID, userID(c), "DIAGNOSTIC_REPORT", string(args.ID))
	return ok(report)
}

func (s *Service) deleteDiagnostic(c *ipc.Call, args IDArgs) (Ack, error) {
	r, err := s.requester(c)
	if err != nil {
		return Ack{Error: err.Error()}, nil
	}
	if err := r.DeleteDiagnosticReport(c.Context(), string(args.ID)); err != nil {
		return Ack{Error: err.Error()}, nil
	}
	s.audit.logRecord(c.Context(), AuditRecordDeleted, c.WindowID, userID(c), "DIAGNOSTIC_REPORT", string(args.ID))
	return Ack{Success: true}, nil
}
