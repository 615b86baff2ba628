// Package records defines the clinic's entities and stores them as sealed
// envelopes in a storage.Repository.
package records

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmcleod/clinicdesk/internal/util"
)

// Record kinds, used as the storage kind of each entity.
const (
	KindUser      = "USER"
	KindPatient   = "PATIENT"
	KindEncounter = "ENCOUNTER"
	KindExpense   = "EXPENSE"
	KindIncome    = "INCOME"
)

// Meta carries the identity and timestamps shared by every stored entity.
type Meta struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (m *Meta) meta() *Meta { return m }

// ---------------------------------------------------------------------------
// Users
// ---------------------------------------------------------------------------

// Credential is an argon2id password verifier.
type Credential struct {
	Hash   []byte              `json:"hash"`
	Salt   []byte              `json:"salt"`
	Params util.Argon2idParams `json:"params"`
}

// User is a desk operator. The credential never leaves the store; handlers
// return UserInfo.
type User struct {
	Meta
	Username   string      `json:"username"`
	Credential *Credential `json:"credential,omitempty"`
}

// UserInfo is the public view of a User.
type UserInfo struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

func (User) Kind() string { return KindUser }

func (u *User) Validate() error {
	var c checks
	c.add(length("username", u.Username, 3, 20))
	if u.Credential == nil {
		c.add(invalid("password", "is required"))
	}
	return c.err()
}

// Public strips the credential.
func (u *User) Public() UserInfo {
	return UserInfo{ID: u.ID, Username: u.Username, CreatedAt: u.CreatedAt}
}

// ValidatePassword applies the length policy for operator-chosen passwords.
func ValidatePassword(password string) error {
	return length("password", password, 6, 20)
}

// SetPassword replaces the user's credential with a fresh argon2id verifier.
func (u *User) SetPassword(password string) error {
	salt, err := util.RandomBytes(16)
	if err != nil {
		return err
	}
	params := util.DefaultArgon2idParams()
	hash, err := util.DeriveArgon2idKey(util.Normalize(password), salt, params)
	if err != nil {
		return fmt.Errorf("deriving password hash: %w", err)
	}
	u.Credential = &Credential{Hash: hash, Salt: salt, Params: params}
	return nil
}

// CheckPassword reports whether password matches the stored verifier.
func (u *User) CheckPassword(password string) (bool, error) {
	if u.Credential == nil {
		return false, nil
	}
	if err := util.ValidateArgon2idParams(u.Credential.Params); err != nil {
		return false, fmt.Errorf("stored credential: %w", err)
	}
	return util.CompareArgon2idKey(util.Normalize(password), u.Credential.Salt, u.Credential.Params, u.Credential.Hash)
}

// ---------------------------------------------------------------------------
// Patients
// ---------------------------------------------------------------------------

type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

type MaritalStatus string

const (
	MaritalSingle   MaritalStatus = "single"
	MaritalMarried  MaritalStatus = "married"
	MaritalDivorced MaritalStatus = "divorced"
)

// Patient is a registered patient. Kode is the clinic's unique patient code.
type Patient struct {
	Meta
	Active        *bool          `json:"active,omitempty"`
	Identifier    *string        `json:"identifier,omitempty"`
	Kode          string         `json:"kode"`
	Name          string         `json:"name"`
	Gender        Gender         `json:"gender"`
	BirthDate     time.Time      `json:"birthDate"`
	PlaceOfBirth  *string        `json:"placeOfBirth,omitempty"`
	Phone         *string        `json:"phone,omitempty"`
	Email         *string        `json:"email,omitempty"`
	AddressLine   *string        `json:"addressLine,omitempty"`
	Province      *string        `json:"province,omitempty"`
	City          *string        `json:"city,omitempty"`
	District      *string        `json:"district,omitempty"`
	Village       *string        `json:"village,omitempty"`
	PostalCode    *string        `json:"postalCode,omitempty"`
	Country       *string        `json:"country,omitempty"`
	MaritalStatus *MaritalStatus `json:"maritalStatus,omitempty"`
	CreatedBy     *string        `json:"createdBy,omitempty"`
	UpdatedBy     *string        `json:"updatedBy,omitempty"`
}

func (Patient) Kind() string { return KindPatient }

// IsActive treats an unset flag as active.
func (p *Patient) IsActive() bool {
	return p.Active == nil || *p.Active
}

func (p *Patient) Validate() error {
	var c checks
	c.add(required("kode", p.Kode))
	c.add(required("name", p.Name))
	c.add(oneOf("gender", p.Gender, []Gender{GenderMale, GenderFemale}))
	if p.BirthDate.IsZero() {
		c.add(invalid("birthDate", "is required"))
	}
	c.add(email("email", p.Email))
	if p.MaritalStatus != nil {
		c.add(oneOf("maritalStatus", *p.MaritalStatus, []MaritalStatus{MaritalSingle, MaritalMarried, MaritalDivorced}))
	}
	return c.err()
}

// Summary is the short form embedded in encounter listings.
func (p *Patient) Summary() *PatientSummary {
	return &PatientSummary{ID: p.ID, Kode: p.Kode, Name: p.Name}
}

type PatientSummary struct {
	ID   string `json:"id"`
	Kode string `json:"kode,omitempty"`
	Name string `json:"name"`
}

// ---------------------------------------------------------------------------
// Encounters
// ---------------------------------------------------------------------------

type EncounterStatus string

const (
	EncounterPlanned        EncounterStatus = "planned"
	EncounterArrived        EncounterStatus = "arrived"
	EncounterTriaged        EncounterStatus = "triaged"
	EncounterInProgress     EncounterStatus = "in-progress"
	EncounterOnHold         EncounterStatus = "onhold"
	EncounterFinished       EncounterStatus = "finished"
	EncounterCancelled      EncounterStatus = "cancelled"
	EncounterEnteredInError EncounterStatus = "entered-in-error"
	EncounterUnknown        EncounterStatus = "unknown"

	// Statuses written by earlier desk releases.
	EncounterScheduled        EncounterStatus = "scheduled"
	EncounterLegacyInProgress EncounterStatus = "in_progress"
	EncounterCompleted        EncounterStatus = "completed"
)

var encounterStatuses = []EncounterStatus{
	EncounterPlanned, EncounterArrived, EncounterTriaged, EncounterInProgress,
	EncounterOnHold, EncounterFinished, EncounterCancelled, EncounterEnteredInError,
	EncounterUnknown, EncounterScheduled, EncounterLegacyInProgress, EncounterCompleted,
}

const resourceEncounter = "Encounter"

type Coding struct {
	System       string `json:"system,omitempty"`
	Version      string `json:"version,omitempty"`
	Code         string `json:"code,omitempty"`
	Display      string `json:"display,omitempty"`
	UserSelected *bool  `json:"userSelected,omitempty"`
}

type CodeableConcept struct {
	Coding []Coding `json:"coding,omitempty"`
	Text   string   `json:"text,omitempty"`
}

type Period struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

type Reference struct {
	Reference string `json:"reference,omitempty"`
	Type      string `json:"type,omitempty"`
	Display   string `json:"display,omitempty"`
}

// Encounter is one patient visit, shaped after the FHIR Encounter resource.
type Encounter struct {
	Meta
	PatientID       string            `json:"patientId"`
	VisitDate       time.Time         `json:"visitDate"`
	ServiceType     string            `json:"serviceType"`
	Reason          *string           `json:"reason,omitempty"`
	Note            *string           `json:"note,omitempty"`
	Status          EncounterStatus   `json:"status"`
	ResourceType    string            `json:"resourceType,omitempty"`
	Class           *Coding           `json:"class,omitempty"`
	Period          *Period           `json:"period,omitempty"`
	ServiceTypeCode *CodeableConcept  `json:"serviceTypeCode,omitempty"`
	Subject         *Reference        `json:"subject,omitempty"`
	ReasonCode      []CodeableConcept `json:"reasonCode,omitempty"`
	CreatedBy       *string           `json:"createdBy,omitempty"`
	UpdatedBy       *string           `json:"updatedBy,omitempty"`
}

func (Encounter) Kind() string { return KindEncounter }

func (e *Encounter) Validate() error {
	var c checks
	c.add(required("patientId", e.PatientID))
	if e.VisitDate.IsZero() {
		c.add(invalid("visitDate", "is required"))
	}
	c.add(length("serviceType", e.ServiceType, 1, 0))
	c.add(oneOf("status", e.Status, encounterStatuses))
	if e.ResourceType != "" && e.ResourceType != resourceEncounter {
		c.add(invalid("resourceType", "must be %q", resourceEncounter))
	}
	return c.err()
}

// Normalize fills the FHIR fields derived from the visit: resource type,
// a period starting at the visit date, and the patient subject reference.
func (e *Encounter) Normalize() {
	e.ResourceType = resourceEncounter
	if e.Period == nil && !e.VisitDate.IsZero() {
		e.Period = &Period{Start: e.VisitDate.UTC().Format(time.RFC3339)}
	}
	e.Subject = &Reference{Reference: "Patient/" + e.PatientID}
}

// EncounterView is an encounter joined with its patient's summary.
type EncounterView struct {
	Encounter
	Patient *PatientSummary `json:"patient,omitempty"`
}

// Matches reports whether the view contains q, case-insensitively, in its
// service type, reason, status or patient name or code.
func (v *EncounterView) Matches(q string) bool {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return true
	}
	fields := []string{v.ServiceType, string(v.Status)}
	if v.Reason != nil {
		fields = append(fields, *v.Reason)
	}
	if v.Patient != nil {
		fields = append(fields, v.Patient.Name, v.Patient.Kode)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), q) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Ledger
// ---------------------------------------------------------------------------

// Expense is money paid out by the clinic. Amount is in whole currency units.
type Expense struct {
	Meta
	ExpenseHeadID *string   `json:"expenseHeadId,omitempty"`
	Name          string    `json:"name"`
	Date          time.Time `json:"date"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	Amount        int64     `json:"amount"`
	Description   *string   `json:"description,omitempty"`
	CreatedBy     string    `json:"createdBy,omitempty"`
}

func (Expense) Kind() string { return KindExpense }

func (x *Expense) Validate() error {
	var c checks
	c.add(length("name", x.Name, 3, 20))
	if x.Date.IsZero() {
		c.add(invalid("date", "is required"))
	}
	c.add(length("invoiceNumber", x.InvoiceNumber, 0, 100))
	if x.Amount < 0 {
		c.add(invalid("amount", "must not be negative"))
	}
	c.add(optionalLength("description", x.Description, 200))
	return c.err()
}

// Income is money received by the clinic.
type Income struct {
	Meta
	IncomeHeadID  *string   `json:"incomeHeadId,omitempty"`
	Name          string    `json:"name"`
	Date          time.Time `json:"date"`
	InvoiceNumber string    `json:"invoiceNumber,omitempty"`
	Amount        int64     `json:"amount"`
	Description   string    `json:"description,omitempty"`
	CreatedBy     string    `json:"createdBy,omitempty"`
}

func (Income) Kind() string { return KindIncome }

func (x *Income) Validate() error {
	var c checks
	c.add(length("name", x.Name, 3, 20))
	if x.Date.IsZero() {
		c.add(invalid("date", "is required"))
	}
	c.add(length("invoiceNumber", x.InvoiceNumber, 0, 100))
	if x.Amount < 0 {
		c.add(invalid("amount", "must not be negative"))
	}
	c.add(length("description", x.Description, 0, 200))
	return c.err()
}

// ---------------------------------------------------------------------------
// Diagnostic reports (held by the remote backend)
// ---------------------------------------------------------------------------

// FlexID is an identifier the backend may send as a JSON number or string.
// It is kept in its textual form and re-encoded as a number when it is one.
type FlexID string

func (f *FlexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id must be a number or string: %w", err)
	}
	*f = FlexID(n.String())
	return nil
}

func (f FlexID) MarshalJSON() ([]byte, error) {
	// Only canonical integers go out bare; "007" or "+5" stay strings.
	if n, err := strconv.ParseInt(string(f), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(f) {
		return []byte(f), nil
	}
	return json.Marshal(string(f))
}

type DiagnosticStatus string

const (
	DiagnosticRegistered     DiagnosticStatus = "registered"
	DiagnosticPartial        DiagnosticStatus = "partial"
	DiagnosticPreliminary    DiagnosticStatus = "preliminary"
	DiagnosticFinal          DiagnosticStatus = "final"
	DiagnosticAmended        DiagnosticStatus = "amended"
	DiagnosticCorrected      DiagnosticStatus = "corrected"
	DiagnosticAppended       DiagnosticStatus = "appended"
	DiagnosticCancelled      DiagnosticStatus = "cancelled"
	DiagnosticEnteredInError DiagnosticStatus = "entered-in-error"
	DiagnosticUnknown        DiagnosticStatus = "unknown"
)

var diagnosticStatuses = []DiagnosticStatus{
	DiagnosticRegistered, DiagnosticPartial, DiagnosticPreliminary, DiagnosticFinal,
	DiagnosticAmended, DiagnosticCorrected, DiagnosticAppended, DiagnosticCancelled,
	DiagnosticEnteredInError, DiagnosticUnknown,
}

type DiagnosticMedia struct {
	Comment string `json:"comment,omitempty"`
	LinkID  FlexID `json:"linkId"`
}

// DiagnosticReport mirrors the backend's diagnostic report resource.
type DiagnosticReport struct {
	ID                     FlexID            `json:"id,omitempty"`
	Identifier             *string           `json:"identifier,omitempty"`
	BasedOn                []FlexID          `json:"basedOn,omitempty"`
	Status                 DiagnosticStatus  `json:"status"`
	Category               []string          `json:"category,omitempty"`
	Code                   string            `json:"code"`
	SubjectID              FlexID            `json:"subjectId"`
	EncounterID            *FlexID           `json:"encounterId,omitempty"`
	EffectiveDateTime      *string           `json:"effectiveDateTime,omitempty"`
	EffectivePeriodStart   *string           `json:"effectivePeriodStart,omitempty"`
	EffectivePeriodEnd     *string           `json:"effectivePeriodEnd,omitempty"`
	Issued                 *string           `json:"issued,omitempty"`
	Performer              []FlexID          `json:"performer,omitempty"`
	PerformerType          *string           `json:"performerType,omitempty"`
	ResultsInterpreter     []FlexID          `json:"resultsInterpreter,omitempty"`
	ResultsInterpreterType *string           `json:"resultsInterpreterType,omitempty"`
	SpecimenID             []FlexID          `json:"specimenId,omitempty"`
	Result                 []FlexID          `json:"result,omitempty"`
	ImagingStudy           []FlexID          `json:"imagingStudy,omitempty"`
	Media                  []DiagnosticMedia `json:"media,omitempty"`
	Conclusion             *string           `json:"conclusion,omitempty"`
	ConclusionCode         []string          `json:"conclusionCode,omitempty"`
	PresentedForm          []string          `json:"presentedForm,omitempty"`
	CreatedAt              *string           `json:"createdAt,omitempty"`
	UpdatedAt              *string           `json:"updatedAt,omitempty"`
}

func (d *DiagnosticReport) Validate() error {
	var c checks
	c.add(oneOf("status", d.Status, diagnosticStatuses))
	c.add(required("code", d.Code))
	c.add(required("subjectId", string(d.SubjectID)))
	return c.err()
}
