package handlers

import (
	"errors"
	"log/slog"
	"time"

	"github.com/jmcleod/clinicdesk/ipc"
	"github.com/jmcleod/clinicdesk/records"
	"github.com/jmcleod/clinicdesk/routes"
	"github.com/jmcleod/clinicdesk/storage"
)

const (
	msgExpenseNotFound = "Expense not found"
	msgIncomeNotFound  = "Income not found"
)

// ExpenseUpdate changes only the fields that are present.
type ExpenseUpdate struct {
	ID            string     `json:"id"`
	ExpenseHeadID *string    `json:"expenseHeadId,omitempty"`
	Name          *string    `json:"name,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	InvoiceNumber *string    `json:"invoiceNumber,omitempty"`
	Amount        *int64     `json:"amount,omitempty"`
	Description   *string    `json:"description,omitempty"`
}

// IncomeUpdate changes only the fields that are present.
type IncomeUpdate struct {
	ID            string     `json:"id"`
	IncomeHeadID  *string    `json:"incomeHeadId,omitempty"`
	Name          *string    `json:"name,omitempty"`
	Date          *time.Time `json:"date,omitempty"`
	InvoiceNumber *string    `json:"invoiceNumber,omitempty"`
	Amount        *int64     `json:"amount,omitempty"`
	Description   *string    `json:"description,omitempty"`
}

type SeedResult struct {
	Success bool   `json:"success"`
	Count   int    `json:"count"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// emptyToNil maps an empty optional string to nil.
func emptyToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}

// ---------------------------------------------------------------------------
// Expenses
// ---------------------------------------------------------------------------

func (s *Service) expenseModule() routes.Module {
	return routes.Module{
		Path:           "query/expense",
		RequireSession: true,
		Exports: []routes.Export{
			routes.Func("list", s.listExpenses),
			routes.Func("create", s.createExpense),
			routes.Func("update", s.updateExpense),
			routes.Func("deleteById", s.deleteExpense),
			routes.Func("seed", s.seedExpenses),
		},
	}
}

func (s *Service) listExpenses(c *ipc.Call, args ListArgs) (ListResult[records.Expense], error) {
	all, err := s.clinic.Expenses.List(c.Context())
	if err != nil {
		return listFail[records.Expense](err.Error())
	}
	newestFirst(all, func(x *records.Expense) records.Meta { return x.Meta })
	return listOK(all, args)
}

func (s *Service) createExpense(c *ipc.Call, args records.Expense) (Result[*records.Expense], error) {
	args.ID = ""
	args.ExpenseHeadID = emptyToNil(args.ExpenseHeadID)
	args.Description = emptyToNil(args.Description)
	args.CreatedBy = userID(c)

	created, err := s.clinic.Expenses.Create(c.Context(), args)
	if err != nil {
		return fail[*records.Expense](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordCreated, c.WindowID, userID(c), records.KindExpense, created.ID)
	return ok(&created)
}

func (s *Service) updateExpense(c *ipc.Call, args ExpenseUpdate) (Result[*records.Expense], error) {
	x, err := s.clinic.Expenses.Get(c.Context(), args.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fail[*records.Expense](msgExpenseNotFound)
	}
	if err != nil {
		return fail[*records.Expense](err.Error())
	}

	if args.Name != nil {
		x.Name = *args.Name
	}
	if args.ExpenseHeadID != nil {
		x.ExpenseHeadID = emptyToNil(args.ExpenseHeadID)
	}
	if args.Date != nil {
		x.Date = *args.Date
	}
	if args.InvoiceNumber != nil {
		x.InvoiceNumber = *args.InvoiceNumber
	}
	if args.Amount != nil {
		x.Amount = *args.Amount
	}
	if args.Description != nil {
		x.Description = emptyToNil(args.Description)
	}

	updated, err := s.clinic.Expenses.Update(c.Context(), x)
	if err != nil {
		return fail[*records.Expense](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordUpdated, c.WindowID, userID(c), records.KindExpense, updated.ID)
	return ok(&updated)
}

func (s *Service) deleteExpense(c *ipc.Call, args IDArgs) (Ack, error) {
	err := s.clinic.Expenses.Delete(c.Context(), string(args.ID))
	if err == nil {
		s.audit.logRecord(c.Context(), AuditRecordDeleted, c.WindowID, userID(c), records.KindExpense, string(args.ID))
	}
	return ack(err, msgExpenseNotFound)
}

// seedExpenses writes the sample ledger when there are no expenses yet.
func (s *Service) seedExpenses(c *ipc.Call, _ ipc.NoArgs) (SeedResult, error) {
	n, err := s.clinic.Expenses.Count(c.Context())
	if err != nil {
		return SeedResult{Error: err.Error()}, nil
	}
	if n > 0 {
		return SeedResult{Success: true, Count: n, Message: "Expenses already exist"}, nil
	}
	created, err := s.clinic.Expenses.CreateAll(c.Context(), records.SampleExpenses(s.now().UTC()))
	if err != nil {
		return SeedResult{Error: err.Error()}, nil
	}
	s.audit.log(c.Context(), AuditRecordsSeeded, c.WindowID,
		slog.String("user_id", userID(c)),
		slog.String("kind", records.KindExpense),
		slog.Int("count", len(created)),
	)
	return SeedResult{Success: true, Count: len(created), Message: "Sample expenses created successfully"}, nil
}

// ---------------------------------------------------------------------------
// Income
// ---------------------------------------------------------------------------

func (s *Service) incomeModule() routes.Module {
	return routes.Module{
		Path:           "query/income",
		RequireSession: true,
		Exports: []routes.Export{
			routes.Func("list", s.listIncome),
			routes.Func("create", s.createIncome),
			routes.Func("update", s.updateIncome),
			routes.Func("deleteById", s.deleteIncome),
		},
	}
}

func (s *Service) listIncome(c *ipc.Call, args ListArgs) (ListResult[records.Income], error) {
	all, err := s.clinic.Incomes.List(c.Context())
	if err != nil {
		return listFail[records.Income](err.Error())
	}
	newestFirst(all, func(x *records.Income) records.Meta { return x.Meta })
	return listOK(all, args)
}

func (s *Service) createIncome(c *ipc.Call, args records.Income) (Result[*records.Income], error) {
	args.ID = ""
	args.IncomeHeadID = emptyToNil(args.IncomeHeadID)
	args.CreatedBy = userID(c)

	created, err := s.clinic.Incomes.Create(c.Context(), args)
	if err != nil {
		return fail[*records.Income](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordCreated, c.WindowID, userID(c), records.KindIncome, created.ID)
	return ok(&created)
}

func (s *Service) updateIncome(c *ipc.Call, args IncomeUpdate) (Result[*records.Income], error) {
	x, err := s.clinic.Incomes.Get(c.Context(), args.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return fail[*records.Income](msgIncomeNotFound)
	}
	if err != nil {
		return fail[*records.Income](err.Error())
	}

	if args.Name != nil {
		x.Name = *args.Name
	}
	if args.IncomeHeadID != nil {
		x.IncomeHeadID = emptyToNil(args.IncomeHeadID)
	}
	if args.Date != nil {
		x.Date = *args.Date
	}
	if args.InvoiceNumber != nil {
		x.InvoiceNumber = *args.InvoiceNumber
	}
	if args.Amount != nil {
		x.Amount = *args.Amount
	}
	if args.Description != nil {
		x.Description = *args.Description
	}

	updated, err := s.clinic.Incomes.Update(c.Context(), x)
	if err != nil {
		return fail[*records.Income](err.Error())
	}
	s.audit.logRecord(c.Context(), AuditRecordUpdated, c.WindowID, userID(c), records.KindIncome, updated.ID)
	return ok(&updated)
}

func (s *Service) deleteIncome(c *ipc.Call, args IDArgs) (Ack, error) {
	err := s.clinic.Incomes.Delete(c.Context(), string(args.ID))
	if err == nil {
		s.audit.logRecord(c.Context(), AuditRecordDeleted, c.WindowID, userID(c), records.KindIncome, string(args.ID))
	}
	return ack(err, msgIncomeNotFound)
}
