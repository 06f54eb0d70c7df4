package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatMoney renders amount with two decimals and the digit grouping of
// tag ("123,456.50" for English). Only the integer part goes through the
// printer; the fraction comes straight from the decimal.
func FormatMoney(amount decimal.Decimal, tag language.Tag) string {
	p := message.NewPrinter(tag)
	abs := amount.Abs().Round(MoneyPlaces)
	whole := abs.Truncate(0)
	frac := abs.Sub(whole).StringFixed(MoneyPlaces) // "0.50"

	sign := ""
	if amount.Round(MoneyPlaces).IsNegative() {
		sign = "-"
	}
	return sign + p.Sprintf("%d", whole.IntPart()) + frac[1:]
}

// RenderStatement produces the plain-text transaction list handed to
// notification dispatch (WhatsApp, print). Layout beyond one line per entry
// is the dispatcher's concern.
func RenderStatement(acct Account, st Statement, tag language.Tag, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	name := acct.CounterpartyName
	if name == "" {
		name = acct.CounterpartyPhone
	}
	fmt.Fprintf(&b, "Statement: %s\n", name)
	fmt.Fprintf(&b, "Opening balance: %s\n", FormatMoney(st.OpeningBalance, tag))
	for _, line := range st.Lines {
		tx := line.Transaction
		fmt.Fprintf(&b, "%s  %-6s  %12s  bal %12s",
			tx.CreatedAt.In(loc).Format("02 Jan 2006"),
			tx.PaymentType,
			FormatMoney(tx.Amount, tag),
			FormatMoney(line.RunningBalance, tag))
		if tx.Notes != "" {
			fmt.Fprintf(&b, "  %s", tx.Notes)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Closing balance: %s (%s)\n", FormatMoney(st.ClosingBalance, tag), directionLabel(DirectionOf(st.ClosingBalance)))
	return b.String()
}

func directionLabel(d Direction) string {
	switch d {
	case DirectionYouWillGet:
		return "you will get"
	case DirectionYouWillGive:
		return "you will give"
	}
	return "settled"
}
