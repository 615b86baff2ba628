package backend

import (
	"context"
	"net/url"

	"github.com/jmcleod/clinicdesk/records"
)

const diagnosticPath = "/api/diagnosticreport"

// ListDiagnosticReports returns the first page of up to 100 reports with
// their references expanded one level.
func (r *Requester) ListDiagnosticReports(ctx context.Context) ([]records.DiagnosticReport, *Pagination, error) {
	reply, err := r.Get(ctx, diagnosticPath+"?items=100&depth=1")
	if err != nil {
		return nil, nil, err
	}
	env, err := Decode[[]records.DiagnosticReport](reply)
	if err != nil {
		return nil, nil, err
	}
	if env.Result == nil {
		env.Result = []records.DiagnosticReport{}
	}
	return env.Result, env.Pagination, nil
}

// GetDiagnosticReport returns nil without error when the backend answers
// successfully with no report.
func (r *Requester) GetDiagnosticReport(ctx context.Context, id string) (*records.DiagnosticReport, error) {
	reply, err := r.Get(ctx, diagnosticPath+"/"+url.PathEscape(id)+"/read")
	if err != nil {
		return nil, err
	}
	env, err := Decode[*records.DiagnosticReport](reply)
	if err != nil {
		return nil, err
	}
	return env.Result, nil
}

func (r *Requester) CreateDiagnosticReport(ctx context.Context, report records.DiagnosticReport) (*records.DiagnosticReport, error) {
	report.ID = ""
	reply, err := r.Post(ctx, diagnosticPath, report)
	if err != nil {
		return nil, err
	}
	env, err := Decode[*records.DiagnosticReport](reply)
	if err != nil {
		return nil, err
	}
	return env.Result, nil
}

func (r *Requester) UpdateDiagnosticReport(ctx context.Context, report records.DiagnosticReport) (*records.DiagnosticReport, error) {
	reply, err := r.Put(ctx, diagnosticPath+"/"+url.PathEscape(string(report.ID)), report)
	if err != nil {
		return nil, err
	}
	env, err := Decode[*records.DiagnosticReport](reply)
	if err != nil {
		return nil, err
	}
	return env.Result, nil
}

func (r *Requester) DeleteDiagnosticReport(ctx context.Context, id string) error {
	reply, err := r.Delete(ctx, diagnosticPath+"/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	_, err = Decode[any](reply)
	return err
}
