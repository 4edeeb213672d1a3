package app

import (
	"bytes"
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx"
)

// seedSales places two orders and delivers the first; the second stays pending.
func seedSales(t *testing.T, env *testEnv) (dune, emma string) {
	t.Helper()
	ctx := context.Background()
	customer := env.register(t, "buyer")
	d := env.book(t, "Dune", "10.00", 10)
	e := env.book(t, "Emma", "5.00", 10)

	delivered, err := env.app.PlaceOrder(ctx, customer.User.ID, OrderInput{
		Items:         []OrderLine{{BookID: d.ID, Quantity: 2}, {BookID: e.ID, Quantity: 1}},
		PaymentMethod: "Card",
		ShippingFee:   decimal.RequireFromString("2.00"),
	})
	require.NoError(t, err)
	for _, status := range []string{"Confirmed", "Delivered"} {
		_, err := env.app.UpdateOrderStatus(ctx, delivered.ID, status)
		require.NoError(t, err)
	}
	_, err = env.app.PlaceOrder(ctx, customer.User.ID, OrderInput{
		Items:         []OrderLine{{BookID: e.ID, Quantity: 4}},
		PaymentMethod: "Card",
	})
	require.NoError(t, err)
	return d.ID, e.ID
}

func TestDashboard(t *testing.T) {
	env := newTestEnv(t)
	_, emma := seedSales(t, env)

	dash, err := env.app.Dashboard(context.Background(), 0)
	require.NoError(t, err)

	require.Len(t, dash.TopBooks, 2)
	assert.Equal(t, emma, dash.TopBooks[0].BookID, "buy count includes pending orders")
	assert.EqualValues(t, 5, dash.TopBooks[0].BuyCount)
	assert.Equal(t, "Emma author", dash.TopBooks[0].AuthorName)

	require.Len(t, dash.TopCategories, 2)
	assert.Equal(t, "Dune shelf", dash.TopCategories[0].CategoryName)
	assert.EqualValues(t, 2, dash.TopCategories[0].UnitsSold)
	assert.True(t, dash.TopCategories[0].Revenue.Equal(decimal.NewFromInt(20)), "revenue %s", dash.TopCategories[0].Revenue)

	assert.EqualValues(t, 1, dash.Revenue.OrderCount)
	assert.EqualValues(t, 3, dash.Revenue.ItemsSold)
	assert.True(t, dash.Revenue.GrossRevenue.Equal(decimal.NewFromInt(25)), "gross %s", dash.Revenue.GrossRevenue)
	assert.True(t, dash.Revenue.ShippingTotal.Equal(decimal.NewFromInt(2)), "shipping %s", dash.Revenue.ShippingTotal)
	assert.False(t, dash.GeneratedAt.IsZero())
}

func TestTopBooksHonoursLimit(t *testing.T) {
	env := newTestEnv(t)
	seedSales(t, env)

	rows, err := env.app.TopBooks(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
	assert.Equal(t, 5, reportLimit(-3))
	assert.Equal(t, maxReportLimit, reportLimit(1000))
}

func TestRevenueWithoutSales(t *testing.T) {
	env := newTestEnv(t)
	totals, err := env.app.RevenueTotals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, totals.OrderCount)
	assert.True(t, totals.GrossRevenue.IsZero())
}

func TestExportBookSales(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	dune, _ := seedSales(t, env)

	rows, err := env.app.BookSales(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, dune, rows[0].BookID)
	assert.Equal(t, 2, rows[0].UnitsSold)
	assert.Equal(t, 8, rows[0].InStock)
	assert.Equal(t, 1, rows[1].UnitsSold, "pending orders are not sales")

	var buf bytes.Buffer
	require.NoError(t, env.app.ExportBookSales(ctx, &buf))
	file, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	sheet, ok := file.Sheet["Book Sales"]
	require.True(t, ok)
	assert.Equal(t, "Dune", sheet.Rows[1].Cells[1].String())
	assert.Equal(t, "Emma", sheet.Rows[2].Cells[1].String())
	revenue, err := sheet.Rows[3].Cells[7].Float()
	require.NoError(t, err)
	assert.InDelta(t, 25.0, revenue, 0.001)
}
