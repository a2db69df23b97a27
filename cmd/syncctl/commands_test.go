package main

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/repository"
	"github.com/iLi-Media-Group/mybeatfi-sub000/internal/service"
)

func TestCommandTree(t *testing.T) {
	root := newRootCommand()

	for _, path := range [][]string{
		{"migrate"},
		{"withdrawals", "list"},
		{"withdrawals", "approve"},
		{"withdrawals", "reject"},
		{"sweep", "expire"},
		{"sweep", "mature"},
		{"balance"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, strings.Join(path, " "))
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}

	approve, _, err := root.Find([]string{"wd", "approve"})
	require.NoError(t, err)
	assert.NotNil(t, approve.Flags().Lookup("notes"))

	reject, _, err := root.Find([]string{"withdrawals", "reject"})
	require.NoError(t, err)
	assert.NotNil(t, reject.Flags().Lookup("reason"))
}

func TestFormatWithdrawals(t *testing.T) {
	processed := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	out := formatWithdrawals([]*repository.WithdrawalRequest{
		{
			ID:              "w-1",
			ProducerID:      "producer-1",
			Amount:          decimal.RequireFromString("120"),
			PaymentMethodID: "pm-1",
			Status:          repository.WithdrawalCompleted,
			CreatedAt:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
			ProcessedAt:     &processed,
		},
	})

	assert.Contains(t, out, "w-1")
	assert.Contains(t, out, "120.00")
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "2026-03-02T09:00:00Z")
}

func TestFormatReconciliation(t *testing.T) {
	out := formatReconciliation(&service.Reconciliation{
		Balance: &repository.ProducerBalance{
			ProducerID:       "producer-1",
			AvailableBalance: decimal.RequireFromString("70"),
			PendingBalance:   decimal.RequireFromString("500"),
			LifetimeEarnings: decimal.RequireFromString("620"),
		},
		ReplayedAvailable: decimal.RequireFromString("70"),
		ReplayedPending:   decimal.RequireFromString("500"),
	})

	assert.Contains(t, out, "Available")
	assert.Contains(t, out, "70.00")
	assert.Contains(t, out, "620.00")
}

func TestRenderTableEmptyHeaders(t *testing.T) {
	assert.Empty(t, renderTable(nil, [][]string{{"x"}}, nil))
}
