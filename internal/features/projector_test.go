package features

import (
	"sort"
	"testing"

	"fraud-serving/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTransaction() txn.Transaction {
	return txn.Transaction{
		TimeIndex:                42,
		Type:                     "TRANSFER",
		Amount:                   decimal.RequireFromString("1234.56"),
		SourceAccount:            "acc123",
		SourceBalanceBefore:      decimal.RequireFromString("5000"),
		SourceBalanceAfter:       decimal.RequireFromString("3765.44"),
		DestinationAccount:       "acc456",
		DestinationBalanceBefore: decimal.RequireFromString("1000"),
		DestinationBalanceAfter:  decimal.RequireFromString("2234.56"),
	}
}

func TestProjector_FollowsConfiguredOrder(t *testing.T) {
	p, err := NewProjector([]string{"amount", "transac_type", "time_ind", "dst_new_bal"})
	require.NoError(t, err)

	v, err := p.Project(testTransaction())
	require.NoError(t, err)

	assert.Equal(t, []string{"amount", "transac_type", "time_ind", "dst_new_bal"}, v.Columns)
	assert.Equal(t, []any{1234.56, "TRANSFER", float64(42), 2234.56}, v.Values)
	assert.Equal(t, 4, v.Len())
}

func TestProjector_AllColumns(t *testing.T) {
	order := []string{
		"time_ind", "transac_type", "amount", "src_acc", "src_bal",
		"src_new_bal", "dst_acc", "dst_bal", "dst_new_bal",
	}
	p, err := NewProjector(order)
	require.NoError(t, err)

	v, err := p.Project(testTransaction())
	require.NoError(t, err)
	assert.Equal(t, []any{
		float64(42), "TRANSFER", 1234.56, "acc123", 5000.0,
		3765.44, "acc456", 1000.0, 2234.56,
	}, v.Values)
}

func TestNewProjector_SchemaMismatch(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{"unknown column", []string{"amount", "isFlaggedFraud"}},
		{"duplicate column", []string{"amount", "amount"}},
		{"empty order", nil},
		{"long field name is not a wire name", []string{"time_index"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProjector(tt.order)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, ErrSchemaMismatch)
		})
	}
}

func TestProjector_ZeroValueNeverDefaults(t *testing.T) {
	var p *Projector
	_, err := p.Project(testTransaction())
	assert.ErrorIs(t, err, ErrSchemaMismatch)

	_, err = (&Projector{}).Project(testTransaction())
	assert.ErrorIs(t, err, ErrSchemaMismatch)
}

func TestProjector_OrderIsACopy(t *testing.T) {
	p, err := NewProjector([]string{"amount", "src_bal"})
	require.NoError(t, err)

	order := p.Order()
	order[0] = "mutated"

	v, err := p.Project(testTransaction())
	require.NoError(t, err)
	assert.Equal(t, "amount", v.Columns[0])
}

func TestColumns(t *testing.T) {
	got := Columns()
	sort.Strings(got)
	assert.Equal(t, []string{
		"amount", "dst_acc", "dst_bal", "dst_new_bal", "src_acc",
		"src_bal", "src_new_bal", "time_ind", "transac_type",
	}, got)
}
