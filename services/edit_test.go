package services

import (
	"encoding/json"
	"testing"

	"dessert-admin/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reconciledOrder(t *testing.T) *models.Order {
	t.Helper()
	o := &models.Order{
		ID:           "A1",
		CustomerName: "Ana",
		Phone:        "300",
		Address:      "Calle 1",
		Status:       models.StatusPending,
		ItemsJSON:    json.RawMessage(`[{"id":"mousse","qty":2}]`),
	}
	Reconciler{Catalog: twoProductCatalog()}.Apply(o)
	return o
}

func TestEditSessionRevertRestoresSnapshot(t *testing.T) {
	o := reconciledOrder(t)
	s, err := BeginEdit(o)
	require.NoError(t, err)

	before := s.Items()
	beforeFields := s.Fields()

	require.NoError(t, s.SetQty(0, 5))
	require.NoError(t, s.AdjustQty(1, 2))
	f := s.Fields()
	f.CustomerName = "Ana María"
	f.Notes = "tocar timbre"
	s.SetFields(f)

	assert.True(t, s.Dirty())
	assert.Equal(t, int64(5*10000+2*12500), s.Subtotal())
	assert.Equal(t, 7, s.TotalUnits())

	s.Revert()

	assert.False(t, s.Dirty())
	assert.Equal(t, before, s.Items())
	assert.Equal(t, beforeFields, s.Fields())
	assert.Equal(t, int64(20000), s.Subtotal())
	assert.Equal(t, 2, s.TotalUnits())
}

func TestEditSessionDoesNotTouchOrder(t *testing.T) {
	o := reconciledOrder(t)
	s, err := BeginEdit(o)
	require.NoError(t, err)

	require.NoError(t, s.SetQty(0, 9))
	assert.Equal(t, 2, o.LineItems[0].Quantity)
}

func TestEditSessionClampsAndBounds(t *testing.T) {
	s, err := BeginEdit(reconciledOrder(t))
	require.NoError(t, err)

	require.NoError(t, s.AdjustQty(0, -10))
	assert.Equal(t, 0, s.Items()[0].Quantity)
	assert.Error(t, s.SetQty(5, 1))
	assert.Error(t, s.AdjustQty(-1, 1))
}

func TestBeginEditRejectsTerminalOrders(t *testing.T) {
	for _, st := range []models.PaymentStatus{models.StatusPaid, models.StatusCancelled} {
		o := reconciledOrder(t)
		o.Status = st
		_, err := BeginEdit(o)
		assert.ErrorIs(t, err, ErrLocked)
	}
}
