package loans

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestMonthlyPayment(t *testing.T) {
	cases := []struct {
		name      string
		principal string
		rate      string
		term      int
		want      string
	}{
		{"zero rate flat division", "1000000", "0", 10, "100000"},
		{"zero rate rounds half up", "100", "0", 3, "33.33"},
		{"zero rate rounds up at half cent", "0.05", "0", 2, "0.03"},
		{"twelve percent one year", "120000000", "12", 12, "10661854.64"},
		{"twelve percent two years", "50000000", "12", 24, "2353673.61"},
		{"non positive term", "1000000", "12", 0, "0"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := MonthlyPayment(dec(tc.principal), dec(tc.rate), tc.term)
			require.True(t, got.Equal(dec(tc.want)), "got %s want %s", got, tc.want)
		})
	}
}

func TestScheduleAmortizesToZero(t *testing.T) {
	start := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)
	loan := Quote(dec("120000000"), dec("12"), 12)
	loan.StartDate = &start

	schedule := Schedule(loan, time.Time{})
	require.Len(t, schedule, 12)

	principal, interest := decimal.Zero, decimal.Zero
	for i, e := range schedule {
		require.Equal(t, i+1, e.PaymentNumber)
		require.Equal(t, time.Date(2026, time.Month(i+2), 15, 9, 0, 0, 0, time.UTC), e.DueDate)
		require.True(t, e.Total.Equal(e.Principal.Add(e.Interest)))
		principal = principal.Add(e.Principal)
		interest = interest.Add(e.Interest)
	}
	first, last := schedule[0], schedule[11]
	require.True(t, first.Interest.Equal(dec("1200000")))
	require.True(t, first.Principal.Equal(dec("9461854.64")))
	require.True(t, last.Remaining.IsZero())
	require.True(t, last.Total.Equal(dec("10661854.66")), "last period absorbs drift, got %s", last.Total)
	require.True(t, principal.Equal(dec("120000000")))
	require.True(t, interest.Equal(dec("7942255.70")))
}

func TestScheduleUsesTodayBeforeDisbursement(t *testing.T) {
	today := time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC)
	schedule := Schedule(Quote(dec("1000000"), dec("0"), 10), today)
	require.Len(t, schedule, 10)
	require.Equal(t, time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC), schedule[0].DueDate)
	require.Equal(t, time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), schedule[1].DueDate)
	for _, e := range schedule {
		require.True(t, e.Interest.IsZero())
		require.True(t, e.Principal.Equal(dec("100000")))
	}
	require.True(t, schedule[9].Remaining.IsZero())
}

func TestScheduleClampsMonthEndStarts(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 10, 0, 0, 0, time.UTC) }
	cases := []struct {
		name  string
		start time.Time
		want  []time.Time
	}{
		{"jan 31", day(2026, 1, 31), []time.Time{
			day(2026, 2, 28), day(2026, 3, 31), day(2026, 4, 30), day(2026, 5, 31), day(2026, 6, 30), day(2026, 7, 31),
		}},
		{"leap day", day(2028, 2, 29), []time.Time{
			day(2028, 3, 29), day(2028, 4, 29), day(2028, 5, 29), day(2028, 6, 29), day(2028, 7, 29), day(2028, 8, 29),
		}},
		{"jan 31 into leap february", day(2028, 1, 31), []time.Time{
			day(2028, 2, 29), day(2028, 3, 31), day(2028, 4, 30), day(2028, 5, 31), day(2028, 6, 30), day(2028, 7, 31),
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			loan := Quote(dec("600"), dec("0"), 6)
			loan.StartDate = &tc.start
			schedule := Schedule(loan, time.Time{})
			require.Len(t, schedule, len(tc.want))
			for i, e := range schedule {
				require.Equal(t, tc.want[i], e.DueDate, "payment %d", e.PaymentNumber)
			}
		})
	}
	require.Equal(t, day(2027, 2, 28), addMonths(day(2026, 1, 31), 13))
	require.Equal(t, day(2029, 2, 28), addMonths(day(2028, 2, 29), 12))
}

func TestScheduleStopsWhenPaidOff(t *testing.T) {
	loan := Quote(dec("100"), dec("0"), 4)
	loan.MonthlyPayment = dec("60")
	schedule := Schedule(loan, time.Now())
	require.Len(t, schedule, 2)
	require.True(t, schedule[1].Principal.Equal(dec("40")))
	require.True(t, schedule[1].Remaining.IsZero())
}

func TestDueBy(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	loan := Quote(dec("1200"), dec("0"), 12)
	loan.StartDate = &start
	schedule := Schedule(loan, start)

	require.True(t, DueBy(schedule, start).IsZero())
	require.True(t, DueBy(schedule, start.AddDate(0, 1, 0)).Equal(dec("100")))
	require.True(t, DueBy(schedule, start.AddDate(0, 3, 5)).Equal(dec("300")))
	require.True(t, DueBy(schedule, start.AddDate(5, 0, 0)).Equal(dec("1200")))
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, StatusPending.CanTransitionTo(StatusApproved))
	require.True(t, StatusPending.CanTransitionTo(StatusRejected))
	require.True(t, StatusApproved.CanTransitionTo(StatusDisbursed))
	require.True(t, StatusDisbursed.CanTransitionTo(StatusOverdue))
	require.True(t, StatusOverdue.CanTransitionTo(StatusPaid))
	require.False(t, StatusApproved.CanTransitionTo(StatusPending))
	require.False(t, StatusOverdue.CanTransitionTo(StatusDisbursed))
	for _, terminal := range []Status{StatusRejected, StatusPaid} {
		for _, next := range []Status{StatusPending, StatusApproved, StatusDisbursed, StatusOverdue, StatusPaid, StatusRejected} {
			require.False(t, terminal.CanTransitionTo(next), "%s -> %s", terminal, next)
		}
	}
}
