package queryparse

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelativeTime(t *testing.T) {
	tests := []struct {
		expr string
		want time.Time
	}{
		{"now", fixedNow},
		{"-1 day", fixedNow.AddDate(0, 0, -1)},
		{"+2 hours -30 minutes", fixedNow.Add(90 * time.Minute)},
		{"-1day", fixedNow.AddDate(0, 0, -1)},
		{"2 weeks ago", fixedNow.AddDate(0, 0, -14)},
		{"next month", fixedNow.AddDate(0, 1, 0)},
		{"last year", fixedNow.AddDate(-1, 0, 0)},
		{"today", time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)},
		{"yesterday", time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)},
		{"2023-12-31", time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := RelativeTime(tt.expr, fixedNow)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
		})
	}
}

func TestRelativeTime_Invalid(t *testing.T) {
	for _, expr := range []string{"soon", "-1 parsec", "next"} {
		_, err := RelativeTime(expr, fixedNow)
		assert.Error(t, err, expr)
	}
}

func TestExpandDynamic(t *testing.T) {
	got, err := ExpandDynamic("between $DATE(-7 days) and $DATE", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "between 2024-03-08 and 2024-03-15", got)

	got, err = ExpandDynamic("$DATETIME", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15 10:30:00", got)

	got, err = ExpandDynamic("plain value", fixedNow)
	require.NoError(t, err)
	assert.Equal(t, "plain value", got)

	_, err = ExpandDynamic("$TIME(whenever)", fixedNow)
	assert.Error(t, err)
}
