package records

import "time"

// SeedCreator marks records created by the desk itself.
const SeedCreator = "system"

// SampleExpenses returns the demonstration ledger written by expense seeding,
// dated at the given time.
func SampleExpenses(at time.Time) []Expense {
	sample := []struct {
		name, invoice, desc string
		amount              int64
	}{
		{"Office Supplies", "INV-001", "Monthly office supplies", 12500},
		{"Internet Bill", "INV-002", "Monthly internet subscription", 8000},
		{"Staff Lunch", "INV-003", "Team lunch meeting", 15000},
		{"Software License", "INV-004", "Annual software subscription", 25000},
		{"Travel Expense", "INV-005", "Business trip expenses", 35000},
	}
	out := make([]Expense, len(sample))
	for i, s := range sample {
		desc := s.desc
		out[i] = Expense{
			Name:          s.name,
			Date:          at,
			InvoiceNumber: s.invoice,
			Amount:        s.amount,
			Description:   &desc,
			CreatedBy:     SeedCreator,
		}
	}
	return out
}
