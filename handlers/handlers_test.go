package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/clinicdesk/backend"
	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
	"github.com/jmcleod/clinicdesk/session"
	"github.com/jmcleod/clinicdesk/storage/memory"
)

type harness struct {
	t        *testing.T
	router   *ipc.Router
	sessions *session.Store
	clinic   *records.Clinic
	clock    *manualClock
	reg      *prometheus.Registry
	svc      *Service
}

func newHarness(t *testing.T, backendURL string) *harness {
	t.Helper()
	clock := newManualClock()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	key, err := records.NewKey()
	require.NoError(t, err)
	clinic := records.NewClinic(records.NewStore(memory.NewRepository(), key, records.WithClock(clock.Now)))
	sessions := session.NewStore(session.WithClock(clock.Now))

	deps := Deps{
		Sessions: sessions,
		Clinic:   clinic,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
		Now:      clock.Now,
	}
	if backendURL != "" {
		deps.Backend = backend.New(backendURL, backend.WithLogger(logger))
	}
	svc := New(deps)

	router := ipc.NewRouter(sessions, ipc.WithLogger(logger))
	n := routes.Register(router, svc.Modules(), routes.WithSessions(sessions), routes.WithLogger(logger))
	require.Positive(t, n)

	return &harness{
		t:        t,
		router:   router,
		sessions: sessions,
		clinic:   clinic,
		clock:    clock,
		reg:      deps.Registry.(*prometheus.Registry),
		svc:      svc,
	}
}

func (h *harness) call(window int, channel string, args any) any {
	h.t.Helper()
	var raw json.RawMessage
	if args != nil {
		b, err := json.Marshal(args)
		require.NoError(h.t, err)
		raw = b
	}
	res, err := h.router.Dispatch(context.Background(), ipc.Inbound{WindowID: window, Channel: channel, Args: raw})
	require.NoError(h.t, err, channel)
	return res
}

func callAs[R any](h *harness, window int, channel string, args any) R {
	h.t.Helper()
	res := h.call(window, channel, args)
	v, ok := res.(R)
	require.Truef(h.t, ok, "%s returned %T: %#v", channel, res, res)
	return v
}

func (h *harness) login(window int) LoginResult {
	h.t.Helper()
	res := callAs[LoginResult](h, window, "auth:login", Credentials{Username: "admin", Password: "admin"})
	require.True(h.t, res.Success, res.Error)
	return res
}

func counterValue(t *testing.T, reg *prometheus.Registry, name, event string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, m := range fam.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "event" && l.GetValue() == event {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func ptr[T any](v T) *T { return &v }

// ---------------------------------------------------------------------------
// Auth
// ---------------------------------------------------------------------------

func TestModulesChannels(t *testing.T) {
	h := newHarness(t, "")
	assert.True(t, h.router.Has("auth:login"))
	assert.True(t, h.router.Has("query:patient:list"))
	assert.True(t, h.router.Has("query:income:deleteById"))
	assert.False(t, h.router.Has("auth:backendLogin"), "backend channels need a backend")
	assert.False(t, h.router.Has("query:diagnostic:list"))

	h = newHarness(t, "http://backend.invalid")
	assert.True(t, h.router.Has("auth:backendLogin"))
	assert.True(t, h.router.Has("query:diagnostic:list"))
}

func TestLoginSeedsAdmin(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	res := h.login(1)
	assert.NotEmpty(t, res.Token)
	require.NotNil(t, res.User)
	assert.Equal(t, "admin", res.User.Username)

	sess, ok := h.sessions.WindowSession(1)
	require.True(t, ok)
	assert.Equal(t, res.Token, sess.Token)
	assert.Equal(t, res.User.ID, sess.UserID)

	h.login(2)
	n, err := h.clinic.Users.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "admin is seeded once")

	assert.Equal(t, float64(2), counterValue(t, h.reg, "clinicdesk_audit_events_total", string(AuditLoginSuccess)))
}

func TestLoginNormalizesUsername(t *testing.T) {
	h := newHarness(t, "")
	res := callAs[LoginResult](h, 1, "auth:login", Credentials{Username: "  ADMIN ", Password: "admin"})
	assert.True(t, res.Success, res.Error)
}

func TestLoginInvalidCredentials(t *testing.T) {
	h := newHarness(t, "")

	res := callAs[LoginResult](h, 1, "auth:login", Credentials{Username: "admin", Password: "wrong"})
	assert.False(t, res.Success)
	assert.Equal(t, msgInvalidCredentials, res.Error)
	assert.Empty(t, res.Token)

	res = callAs[LoginResult](h, 1, "auth:login", Credentials{Username: "ghost", Password: "admin"})
	assert.Equal(t, msgInvalidCredentials, res.Error)

	_, ok := h.sessions.WindowSession(1)
	assert.False(t, ok)
	assert.Equal(t, float64(2), counterValue(t, h.reg, "clinicdesk_audit_events_total", string(AuditLoginFailure)))
}

func TestLoginLockout(t *testing.T) {
	h := newHarness(t, "")

	for i := 0; i < maxFailures; i++ {
		res := callAs[LoginResult](h, 1, "auth:login", Credentials{Username: "admin", Password: "nope"})
		require.Equal(t, msgInvalidCredentials, res.Error)
	}

	res := callAs[LoginResult](h, 1, "auth:login", Credentials{Username: "admin", Password: "admin"})
	assert.False(t, res.Success, "correct password is refused while locked")
	assert.Equal(t, "too many failed login attempts; try again in 60 seconds", res.Error)
	assert.Equal(t, float64(1), counterValue(t, h.reg, "clinicdesk_audit_events_total", string(AuditLoginRateLimited)))

	h.clock.Advance(baseLockout)
	h.login(1)
}

func TestLoginWithoutWindow(t *testing.T) {
	h := newHarness(t, "")

	res := h.login(0)
	_, ok := h.sessions.Get(res.Token)
	assert.True(t, ok)

	status := callAs[StatusResult](h, 0, "auth:status", StatusArgs{Token: res.Token})
	assert.True(t, status.Success)
	assert.True(t, status.Authenticated)
	assert.Equal(t, res.User.ID, status.UserID)

	status = callAs[StatusResult](h, 0, "auth:status", StatusArgs{Token: "bogus"})
	assert.False(t, status.Authenticated)
	status = callAs[StatusResult](h, 0, "auth:status", nil)
	assert.False(t, status.Authenticated)
}

func TestLogout(t *testing.T) {
	h := newHarness(t, "")
	res := h.login(1)

	ack := callAs[Ack](h, 1, "auth:logout", nil)
	assert.True(t, ack.Success)
	_, ok := h.sessions.WindowSession(1)
	assert.False(t, ok)
	_, ok = h.sessions.Get(res.Token)
	assert.False(t, ok, "logout deletes the session")

	ack = callAs[Ack](h, 1, "auth:logout", nil)
	assert.Equal(t, msgNoWindowSession, ack.Error)
	ack = callAs[Ack](h, 0, "auth:logout", nil)
	assert.Equal(t, ipc.MsgNoWindow, ack.Error)
}

func TestGetSessionAndRefresh(t *testing.T) {
	h := newHarness(t, "")
	login := h.login(3)

	got := callAs[SessionResult](h, 3, "auth:getSession", nil)
	require.True(t, got.Success)
	require.NotNil(t, got.Session)
	assert.Equal(t, login.Token, got.Session.Token)
	require.NotNil(t, got.User)
	assert.Equal(t, "admin", got.User.Username)

	h.clock.Advance(time.Hour)
	refreshed := callAs[SessionResult](h, 3, "auth:refresh", nil)
	require.True(t, refreshed.Success)
	assert.Equal(t, h.clock.Now().Add(h.sessions.TTL()), refreshed.Session.ExpiresAt)
	assert.True(t, refreshed.Session.ExpiresAt.After(got.Session.ExpiresAt))

	missing := callAs[SessionResult](h, 4, "auth:getSession", nil)
	assert.Equal(t, msgNoWindowSession, missing.Error)
	missing = callAs[SessionResult](h, 0, "auth:refresh", nil)
	assert.Equal(t, ipc.MsgNoWindow, missing.Error)
}

func TestSessionRequired(t *testing.T) {
	h := newHarness(t, "")

	res := callAs[ipc.Failure](h, 2, "query:patient:list", nil)
	assert.Equal(t, ipc.MsgInvalidSession, res.Error)
	res = callAs[ipc.Failure](h, 0, "user:list", nil)
	assert.Equal(t, ipc.MsgNoWindow, res.Error)

	h.login(2)
	h.clock.Advance(session.DefaultTTL)
	res = callAs[ipc.Failure](h, 2, "query:patient:list", nil)
	assert.Equal(t, ipc.MsgInvalidSession, res.Error, "expired sessions are rejected")
}

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

func TestUsers(t *testing.T) {
	h := newHarness(t, "")
	admin := h.login(1)

	fail := callAs[ipc.Failure](h, 1, "user:create", Credentials{Username: "nurse", Password: "abc"})
	assert.Equal(t, "password: must be at least 6 characters", fail.Error)

	created := callAs[records.UserInfo](h, 1, "user:create", Credentials{Username: "Nurse", Password: "s3cret!"})
	assert.Equal(t, "nurse", created.Username)
	assert.NotEmpty(t, created.ID)

	fail = callAs[ipc.Failure](h, 1, "user:create", Credentials{Username: "NURSE", Password: "another1"})
	assert.Contains(t, fail.Error, records.ErrDuplicate.Error())

	list := callAs[[]records.UserInfo](h, 1, "user:list", nil)
	assert.Len(t, list, 2)

	got := callAs[*records.UserInfo](h, 1, "user:get", IDArgs{ID: records.FlexID(admin.User.ID)})
	require.NotNil(t, got)
	assert.Equal(t, "admin", got.Username)
	got = callAs[*records.UserInfo](h, 1, "user:get", IDArgs{ID: "missing"})
	assert.Nil(t, got)

	login := callAs[LoginResult](h, 2, "auth:login", Credentials{Username: "nurse", Password: "s3cret!"})
	assert.True(t, login.Success, login.Error)
	assert.Equal(t, created.ID, login.User.ID)
}

// ---------------------------------------------------------------------------
// Patients and encounters
// ---------------------------------------------------------------------------

func patientArgs(kode, name string) records.Patient {
	return records.Patient{
		Kode:      kode,
		Name:      name,
		Gender:    records.GenderFemale,
		BirthDate: time.Date(1988, 7, 2, 0, 0, 0, 0, time.UTC),
	}
}

func createPatient(h *harness, window int, kode, name string) *records.Patient {
	h.t.Helper()
	res := callAs[Result[*records.Patient]](h, window, "query:patient:create", patientArgs(kode, name))
	require.True(h.t, res.Success, res.Error)
	require.NotNil(h.t, res.Data)
	h.clock.Advance(time.Second)
	return res.Data
}

func TestPatientCRUD(t *testing.T) {
	h := newHarness(t, "")
	login := h.login(1)

	first := createPatient(h, 1, "P-001", "Siti Rahma")
	assert.True(t, first.IsActive())
	require.NotNil(t, first.CreatedBy)
	assert.Equal(t, login.User.ID, *first.CreatedBy)
	second := createPatient(h, 1, "P-002", "Budi Santoso")

	dup := callAs[Result[*records.Patient]](h, 1, "query:patient:create", patientArgs("P-001", "Other"))
	assert.False(t, dup.Success)
	assert.Equal(t, "Patient kode already exists", dup.Error)

	invalid := callAs[Result[*records.Patient]](h, 1, "query:patient:create", records.Patient{Kode: "P-003"})
	assert.False(t, invalid.Success)
	assert.Contains(t, invalid.Error, "name: is required")

	list := callAs[ListResult[records.Patient]](h, 1, "query:patient:list", ListArgs{})
	require.True(t, list.Success)
	require.Len(t, list.Data, 2)
	assert.Equal(t, second.ID, list.Data[0].ID, "newest first")
	assert.Nil(t, list.Pagination)

	list = callAs[ListResult[records.Patient]](h, 1, "query:patient:list", ListArgs{Q: "siti"})
	require.Len(t, list.Data, 1)
	assert.Equal(t, first.ID, list.Data[0].ID)

	list = callAs[ListResult[records.Patient]](h, 1, "query:patient:list", ListArgs{Limit: 1})
	require.Len(t, list.Data, 1)
	require.NotNil(t, list.Pagination)
	assert.True(t, list.Pagination.HasMore)
	assert.Equal(t, 2, list.Pagination.TotalCount)

	got := callAs[Result[*records.Patient]](h, 1, "query:patient:getById", IDArgs{ID: records.FlexID(first.ID)})
	require.True(t, got.Success)
	assert.Equal(t, "Siti Rahma", got.Data.Name)
	got = callAs[Result[*records.Patient]](h, 1, "query:patient:getById", IDArgs{ID: "missing"})
	assert.True(t, got.Success)
	assert.Nil(t, got.Data)

	upd := *first
	upd.Name = "Siti Rahmawati"
	upd.Kode = "P-002"
	res := callAs[Result[*records.Patient]](h, 1, "query:patient:update", upd)
	assert.Equal(t, "Patient kode already exists", res.Error)

	upd.Kode = "P-001"
	res = callAs[Result[*records.Patient]](h, 1, "query:patient:update", upd)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "Siti Rahmawati", res.Data.Name)
	assert.Equal(t, first.CreatedAt, res.Data.CreatedAt)
	require.NotNil(t, res.Data.UpdatedBy)

	upd.ID = "missing"
	res = callAs[Result[*records.Patient]](h, 1, "query:patient:update", upd)
	assert.Equal(t, msgPatientNotFound, res.Error)

	ack := callAs[Ack](h, 1, "query:patient:deleteById", IDArgs{ID: records.FlexID(first.ID)})
	assert.True(t, ack.Success)
	ack = callAs[Ack](h, 1, "query:patient:deleteById", IDArgs{ID: records.FlexID(first.ID)})
	assert.Equal(t, msgPatientNotFound, ack.Error)
}

func TestIDArgsAcceptsNumbers(t *testing.T) {
	h := newHarness(t, "")
	h.login(1)

	var args IDArgs
	require.NoError(t, json.Unmarshal([]byte(`{"id":42}`), &args))
	assert.Equal(t, records.FlexID("42"), args.ID)

	ack := callAs[Ack](h, 1, "query:expense:deleteById", json.RawMessage(`{"id":42}`))
	assert.Equal(t, msgExpenseNotFound, ack.Error)
}

func encounterArgs(patientID, service string, visit time.Time) records.Encounter {
	return records.Encounter{
		PatientID:   patientID,
		VisitDate:   visit,
		ServiceType: service,
		Status:      records.EncounterPlanned,
	}
}

func TestEncounters(t *testing.T) {
	h := newHarness(t, "")
	h.login(1)
	siti := createPatient(h, 1, "P-001", "Siti Rahma")
	budi := createPatient(h, 1, "P-002", "Budi Santoso")

	day := time.Date(2026, 2, 10, 8, 30, 0, 0, time.UTC)
	created := callAs[Result[*records.EncounterView]](h, 1, "query:encounter:create", encounterArgs(siti.ID, "General", day))
	require.True(t, created.Success, created.Error)
	assert.Equal(t, "Encounter", created.Data.ResourceType)
	require.NotNil(t, created.Data.Subject)
	assert.Equal(t, "Patient/"+siti.ID, created.Data.Subject.Reference)
	require.NotNil(t, created.Data.Period)
	assert.Equal(t, "2026-02-10T08:30:00Z", created.Data.Period.Start)
	require.NotNil(t, created.Data.Patient)
	assert.Equal(t, "Siti Rahma", created.Data.Patient.Name)

	later := callAs[Result[*records.EncounterView]](h, 1, "query:encounter:create", encounterArgs(budi.ID, "Dental", day.AddDate(0, 0, 3)))
	require.True(t, later.Success, later.Error)

	orphan := callAs[Result[*records.EncounterView]](h, 1, "query:encounter:create", encounterArgs("missing", "General", day))
	assert.Equal(t, msgPatientNotFound, orphan.Error)

	bad := encounterArgs(siti.ID, "General", day)
	bad.Status = "waiting"
	res := callAs[Result[*records.EncounterView]](h, 1, "query:encounter:create", bad)
	assert.Contains(t, res.Error, "status: must be one of")

	list := callAs[ListResult[records.EncounterView]](h, 1, "query:encounter:list", ListArgs{})
	require.Len(t, list.Data, 2)
	assert.Equal(t, later.Data.ID, list.Data[0].ID, "latest visit first")
	require.NotNil(t, list.Data[1].Patient)
	assert.Equal(t, "P-001", list.Data[1].Patient.Kode)

	list = callAs[ListResult[records.EncounterView]](h, 1, "query:encounter:list", ListArgs{Q: "budi"})
	require.Len(t, list.Data, 1)
	assert.Equal(t, "Dental", list.Data[0].ServiceType)

	upd := created.Data.Encounter
	upd.Status = records.EncounterFinished
	upd.Reason = ptr("follow-up")
	updated := callAs[Result[*records.EncounterView]](h, 1, "query:encounter:update", upd)
	require.True(t, updated.Success, updated.Error)
	assert.Equal(t, records.EncounterFinished, updated.Data.Status)
	assert.Equal(t, created.Data.CreatedBy, updated.Data.CreatedBy)

	got := callAs[Result[*records.EncounterView]](h, 1, "query:encounter:getById", IDArgs{ID: records.FlexID(upd.ID)})
	require.True(t, got.Success)
	assert.Equal(t, "follow-up", *got.Data.Reason)

	upd.ID = "missing"
	updated = callAs[Result[*records.EncounterView]](h, 1, "query:encounter:update", upd)
	assert.Equal(t, msgEncounterNotFound, updated.Error)

	ack := callAs[Ack](h, 1, "query:encounter:deleteById", IDArgs{ID: records.FlexID(created.Data.ID)})
	assert.True(t, ack.Success)
	ack = callAs[Ack](h, 1, "query:encounter:deleteById", IDArgs{ID: records.FlexID(created.Data.ID)})
	assert.Equal(t, msgEncounterNotFound, ack.Error)
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

func TestExpenses(t *testing.T) {
	h := newHarness(t, "")
	login := h.login(1)

	seed := callAs[SeedResult](h, 1, "query:expense:seed", nil)
	require.True(t, seed.Success, seed.Error)
	assert.Equal(t, "Sample expenses created successfully", seed.Message)
	n := seed.Count

	seed = callAs[SeedResult](h, 1, "query:expense:seed", nil)
	assert.True(t, seed.Success)
	assert.Equal(t, "Expenses already exist", seed.Message)
	assert.Equal(t, n, seed.Count)

	created := callAs[Result[*records.Expense]](h, 1, "query:expense:create", records.Expense{
		Name:          "Gauze",
		Date:          time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		InvoiceNumber: "INV-77",
		Amount:        12000,
		ExpenseHeadID: ptr(""),
	})
	require.True(t, created.Success, created.Error)
	assert.Nil(t, created.Data.ExpenseHeadID, "empty head id is dropped")
	assert.Equal(t, login.User.ID, created.Data.CreatedBy)

	short := callAs[Result[*records.Expense]](h, 1, "query:expense:create", records.Expense{Name: "ab", Date: time.Now()})
	assert.Equal(t, "name: must be at least 3 characters", short.Error)

	list := callAs[ListResult[records.Expense]](h, 1, "query:expense:list", ListArgs{})
	assert.Len(t, list.Data, n+1)

	updated := callAs[Result[*records.Expense]](h, 1, "query:expense:update", ExpenseUpdate{
		ID:     created.Data.ID,
		Amount: ptr[int64](15000),
	})
	require.True(t, updated.Success, updated.Error)
	assert.Equal(t, int64(15000), updated.Data.Amount)
	assert.Equal(t, "Gauze", updated.Data.Name, "absent fields are kept")
	assert.Equal(t, "INV-77", updated.Data.InvoiceNumber)

	updated = callAs[Result[*records.Expense]](h, 1, "query:expense:update", ExpenseUpdate{ID: created.Data.ID, Amount: ptr[int64](-1)})
	assert.Equal(t, "amount: must not be negative", updated.Error)
	updated = callAs[Result[*records.Expense]](h, 1, "query:expense:update", ExpenseUpdate{ID: "missing"})
	assert.Equal(t, msgExpenseNotFound, updated.Error)

	ack := callAs[Ack](h, 1, "query:expense:deleteById", IDArgs{ID: records.FlexID(created.Data.ID)})
	assert.True(t, ack.Success)
	ack = callAs[Ack](h, 1, "query:expense:deleteById", IDArgs{ID: records.FlexID(created.Data.ID)})
	assert.Equal(t, msgExpenseNotFound, ack.Error)

	assert.Equal(t, float64(1), counterValue(t, h.reg, "clinicdesk_audit_events_total", string(AuditRecordsSeeded)))
}

func TestIncome(t *testing.T) {
	h := newHarness(t, "")
	h.login(1)

	created := callAs[Result[*records.Income]](h, 1, "query:income:create", records.Income{
		Name:   "Consultation",
		Date:   time.Date(2026, 2, 3, 0, 0, 0, 0, time.UTC),
		Amount: 150000,
	})
	require.True(t, created.Success, created.Error)
	h.clock.Advance(time.Second)
	newer := callAs[Result[*records.Income]](h, 1, "query:income:create", records.Income{
		Name:   "Lab fee",
		Date:   time.Date(2026, 2, 4, 0, 0, 0, 0, time.UTC),
		Amount: 50000,
	})
	require.True(t, newer.Success, newer.Error)

	list := callAs[ListResult[records.Income]](h, 1, "query:income:list", ListArgs{})
	require.Len(t, list.Data, 2)
	assert.Equal(t, newer.Data.ID, list.Data[0].ID)

	updated := callAs[Result[*records.Income]](h, 1, "query:income:update", IncomeUpdate{
		ID:          created.Data.ID,
		Description: ptr("walk-in"),
	})
	require.True(t, updated.Success, updated.Error)
	assert.Equal(t, "walk-in", updated.Data.Description)
	assert.Equal(t, int64(150000), updated.Data.Amount)

	ack := callAs[Ack](h, 1, "query:income:deleteById", IDArgs{ID: "missing"})
	assert.Equal(t, msgIncomeNotFound, ack.Error)
}

// ---------------------------------------------------------------------------
// Diagnostic reports
// ---------------------------------------------------------------------------

type fakeBackend struct {
	mu     sync.Mutex
	tokens []string
	paths  []string
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokens = append(f.tokens, r.Header.Get("Authorization"))
	f.paths = append(f.paths, r.Method+" "+r.URL.Path)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.URL.Path == backend.LoginPath:
		var creds Credentials
		_ = json.NewDecoder(r.Body).Decode(&creds)
		if creds.Password != "lab-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"success":false,"error":"wrong password"}`)
			return
		}
		_, _ = io.WriteString(w, `{"success":true,"result":{"token":"remote-token"}}`)
	case r.Method == http.MethodGet && r.URL.Path == "/api/diagnosticreport":
		_, _ = io.WriteString(w, `{"success":true,"result":[{"id":7,"status":"final","code":"CBC","subjectId":3}],"pagination":{"page":1,"pages":1,"count":1}}`)
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/read"):
		_, _ = io.WriteString(w, `{"success":true,"result":{"id":7,"status":"final","code":"CBC","subjectId":3}}`)
	case r.Method == http.MethodPost:
		_, _ = io.WriteString(w, `{"success":true,"result":{"id":8,"status":"registered","code":"LFT","subjectId":3}}`)
	case r.Method == http.MethodPut:
		_, _ = io.WriteString(w, `{"success":true,"result":{"id":7,"status":"amended","code":"CBC","subjectId":3}}`)
	case r.Method == http.MethodDelete:
		_, _ = io.WriteString(w, `{"success":true,"result":null}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"success":false,"message":"not found"}`)
	}
}

func TestDiagnosticReports(t *testing.T) {
	fake := &fakeBackend{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	h := newHarness(t, srv.URL)
	h.login(1)

	list := callAs[DiagnosticListResult](h, 1, "query:diagnostic:list", nil)
	assert.False(t, list.Success)
	assert.Equal(t, backend.ErrNoBackendToken.Error(), list.Error)

	fail := callAs[ipc.Failure](h, 1, "auth:backendLogin", Credentials{Username: "lab", Password: "bad"})
	assert.Equal(t, "wrong password", fail.Error)

	ack := callAs[Ack](h, 1, "auth:backendLogin", Credentials{Username: "lab", Password: "lab-pass"})
	require.True(t, ack.Success)
	token, ok := h.sessions.BackendTokenForWindow(1)
	require.True(t, ok)
	assert.Equal(t, "remote-token", token)

	list = callAs[DiagnosticListResult](h, 1, "query:diagnostic:list", nil)
	require.True(t, list.Success, list.Error)
	require.Len(t, list.Data, 1)
	assert.Equal(t, records.FlexID("7"), list.Data[0].ID)
	require.NotNil(t, list.Pagination)
	assert.Equal(t, 1, list.Pagination.Count)

	got := callAs[Result[*records.DiagnosticReport]](h, 1, "query:diagnostic:getById", json.RawMessage(`{"id":7}`))
	require.True(t, got.Success, got.Error)
	assert.Equal(t, "CBC", got.Data.Code)

	invalid := callAs[Result[*records.DiagnosticReport]](h, 1, "query:diagnostic:create", records.DiagnosticReport{Status: "final"})
	assert.Contains(t, invalid.Error, "code: is required")

	created := callAs[Result[*records.DiagnosticReport]](h, 1, "query:diagnostic:create", records.DiagnosticReport{
		Status: records.DiagnosticRegistered, Code: "LFT", SubjectID: "3",
	})
	require.True(t, created.Success, created.Error)
	assert.Equal(t, records.FlexID("8"), created.Data.ID)

	noID := callAs[Result[*records.DiagnosticReport]](h, 1, "query:diagnostic:update", records.DiagnosticReport{
		Status: records.DiagnosticAmended, Code: "CBC", SubjectID: "3",
	})
	assert.Equal(t, "id: is required", noID.Error)

	updated := callAs[Result[*records.DiagnosticReport]](h, 1, "query:diagnostic:update", records.DiagnosticReport{
		ID: "7", Status: records.DiagnosticAmended, Code: "CBC", SubjectID: "3",
	})
	require.True(t, updated.Success, updated.Error)
	assert.Equal(t, records.DiagnosticAmended, updated.Data.Status)

	ack = callAs[Ack](h, 1, "query:diagnostic:deleteById", IDArgs{ID: "7"})
	assert.True(t, ack.Success, ack.Error)

	fake.mu.Lock()
	assert.Contains(t, fake.paths, "PUT /api/diagnosticreport/7")
	assert.Contains(t, fake.paths, "DELETE /api/diagnosticreport/7")
	assert.Contains(t, fake.tokens, "Bearer remote-token")
	fake.mu.Unlock()

	ack = callAs[Ack](h, 1, "auth:backendLogout", nil)
	require.True(t, ack.Success)
	list = callAs[DiagnosticListResult](h, 1, "query:diagnostic:list", nil)
	assert.Equal(t, backend.ErrNoBackendToken.Error(), list.Error)
}

func TestDiagnosticTokenIsPerWindow(t *testing.T) {
	srv := httptest.NewServer(&fakeBackend{})
	defer srv.Close()

	h := newHarness(t, srv.URL)
	h.login(1)
	h.login(2)

	ack := callAs[Ack](h, 1, "auth:backendLogin", Credentials{Username: "lab", Password: "lab-pass"})
	require.True(t, ack.Success)

	list := callAs[DiagnosticListResult](h, 2, "query:diagnostic:list", nil)
	assert.Equal(t, backend.ErrNoBackendToken.Error(), list.Error)

	ack = callAs[Ack](h, 1, "auth:logout", nil)
	require.True(t, ack.Success)
	_, ok := h.sessions.BackendTokenForWindow(1)
	assert.False(t, ok, "logout clears the window's backend token")
}
