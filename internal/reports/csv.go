package reports

import (
	"encoding/csv"
	"io"
	"time"

	"github.com/branchledger/branchledger/internal/ledger"
	"github.com/branchledger/branchledger/internal/money"
)

// StatementCSV writes st as CSV: a header block, one row per transaction in
// posting order with its running balance, and a totals block.
func StatementCSV(w io.Writer, st Statement) error {
	writer := csv.NewWriter(w)
	header := [][]string{
		{"Account", st.Account.Number},
		{"Type", string(st.Account.Type)},
		{"Period", st.From.Format(time.DateOnly), st.To.Format(time.DateOnly)},
		{"Opening Balance", money.Format(st.Opening)},
		{},
		{"Date", "Reference", "Type", "Description", "Debit", "Credit", "Balance"},
	}
	if err := writer.WriteAll(header); err != nil {
		return err
	}
	for _, t := range st.Transactions {
		debit, credit := "", money.Format(t.Amount)
		if t.Direction == ledger.DirectionDebit {
			debit, credit = credit, ""
		}
		if err := writer.Write([]string{
			t.CreatedAt.Format(time.DateTime),
			t.ReferenceNumber,
			string(t.Type),
			t.Description,
			debit,
			credit,
			money.Format(t.BalanceAfter),
		}); err != nil {
			return err
		}
	}
	footer := [][]string{
		{},
		{"Total Debits", money.Format(st.Debits)},
		{"Total Credits", money.Format(st.Credits)},
		{"Closing Balance", money.Format(st.Closing)},
	}
	return writer.WriteAll(footer)
}
