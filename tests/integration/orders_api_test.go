//go:build integration

package integration

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teleswap/exchange-desk/internal/testutil"
)

type orderResponse struct {
	ID           string `json:"id"`
	UserID       int64  `json:"user_id"`
	FromCurrency string `json:"from_currency"`
	ToCurrency   string `json:"to_currency"`
	AmountFrom   string `json:"amount_from"`
	AmountTo     string `json:"amount_to"`
	Rate         string `json:"rate"`
	Status       string `json:"status"`
}

func createOrder(t *testing.T, client *testutil.Client) orderResponse {
	t.Helper()

	resp := client.Post(t, "/api/v1/orders", map[string]string{
		"from_currency": "USDT",
		"to_currency":   "RUB",
		"amount_from":   "100",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var order orderResponse
	testutil.DecodeData(t, resp, &order)
	return order
}

func TestAuthRejectsBadInitData(t *testing.T) {
	client := testutil.NewClient(testServer.URL)

	resp := client.Post(t, "/api/v1/auth/telegram", map[string]string{
		"init_data": "user=%7B%22id%22%3A1%7D&auth_date=1700000000&hash=deadbeef",
	})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestOrdersRequireAuth(t *testing.T) {
	client := testutil.NewClient(testServer.URL)

	resp := client.Get(t, "/api/v1/orders")
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateOrderSnapshotsRate(t *testing.T) {
	client := loginAs(t, 1001, "alice")

	order := createOrder(t, client)
	assert.Equal(t, int64(1001), order.UserID)
	assert.Equal(t, "new", order.Status)
	assert.Equal(t, "92.5", order.Rate)
	assert.Equal(t, "9250", order.AmountTo)

	// Creation enqueued the owner and admin notifications.
	var count int
	err := testDB.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM notification_queue
		 WHERE payload->'order'->>'id' = $1`, order.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one user job plus one admin job")
}

func TestCreateOrderUnsupportedPair(t *testing.T) {
	client := loginAs(t, 1007, "grace")

	resp := client.Post(t, "/api/v1/orders", map[string]string{
		"from_currency": "ABC",
		"to_currency":   "XYZ",
		"amount_from":   "100",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	msg := testutil.ReadError(t, resp)
	assert.Contains(t, msg, "unsupported currency pair")
}

func TestGetOrderOwnership(t *testing.T) {
	owner := loginAs(t, 1002, "bob")
	order := createOrder(t, owner)

	resp := owner.Get(t, "/api/v1/orders/"+order.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got orderResponse
	testutil.DecodeData(t, resp, &got)
	assert.Equal(t, order.ID, got.ID)

	stranger := loginAs(t, 1003, "mallory")
	resp = stranger.Get(t, "/api/v1/orders/" + order.ID)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestListOrdersScopedToUser(t *testing.T) {
	client := loginAs(t, 1004, "carol")
	order := createOrder(t, client)

	resp := client.Get(t, "/api/v1/orders")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []orderResponse
	testutil.DecodeData(t, resp, &list)
	require.NotEmpty(t, list)
	for _, got := range list {
		assert.Equal(t, int64(1004), got.UserID)
	}

	found := false
	for _, got := range list {
		if got.ID == order.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestAdminStatusWorkflow(t *testing.T) {
	user := loginAs(t, 1005, "dave")
	order := createOrder(t, user)

	// Regular users cannot reach admin routes.
	resp := user.Patch(t, "/api/v1/admin/orders/"+order.ID+"/status", map[string]string{"status": "confirmed"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	admin := loginAsAdmin(t)

	for _, next := range []string{"confirmed", "processing", "completed"} {
		resp := admin.Patch(t, "/api/v1/admin/orders/"+order.ID+"/status", map[string]string{"status": next})
		require.Equal(t, http.StatusOK, resp.StatusCode, "transition to %s", next)
		var got orderResponse
		testutil.DecodeData(t, resp, &got)
		assert.Equal(t, next, got.Status)
	}

	// Terminal state: no further transitions.
	resp = admin.Patch(t, "/api/v1/admin/orders/"+order.ID+"/status", map[string]string{"status": "cancelled"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestAdminListFiltersByStatus(t *testing.T) {
	user := loginAs(t, 1006, "erin")
	order := createOrder(t, user)

	admin := loginAsAdmin(t)
	resp := admin.Get(t, "/api/v1/admin/orders?status=new&limit=200")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list []orderResponse
	testutil.DecodeData(t, resp, &list)
	found := false
	for _, got := range list {
		assert.Equal(t, "new", got.Status)
		if got.ID == order.ID {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRatesEndpoint(t *testing.T) {
	client := testutil.NewClient(testServer.URL)

	resp := client.Get(t, "/api/v1/rates/USDT/RUB")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		From string `json:"from"`
		To   string `json:"to"`
		Rate string `json:"rate"`
	}
	testutil.DecodeData(t, resp, &body)
	assert.Equal(t, "USDT", body.From)
	assert.Equal(t, "RUB", body.To)
	assert.Equal(t, "92.5", body.Rate)
}

func TestAdminQueueEndpoints(t *testing.T) {
	admin := loginAsAdmin(t)

	resp := admin.Get(t, "/api/v1/admin/queue/stats")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats struct {
		Pending    int64 `json:"pending"`
		Processing int64 `json:"processing"`
		Sent       int64 `json:"sent"`
		DeadLetter int64 `json:"dead_letter"`
	}
	testutil.DecodeData(t, resp, &stats)
	assert.GreaterOrEqual(t, stats.Pending+stats.Processing+stats.Sent+stats.DeadLetter, int64(1))

	resp = admin.Get(t, "/api/v1/admin/queue/dead-letters")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()

	resp = admin.Post(t, fmt.Sprintf("/api/v1/admin/queue/dead-letters/%s/requeue", "00000000-0000-0000-0000-000000000000"), nil)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthEndpoints(t *testing.T) {
	client := testutil.NewClient(testServer.URL)

	for _, path := range []string{"/healthz", "/readyz", "/version"} {
		resp := client.Get(t, path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		_ = resp.Body.Close()
	}
}

func TestMeEndpoint(t *testing.T) {
	client := loginAs(t, 1007, "frank")

	resp := client.Get(t, "/api/v1/me")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var me struct {
		ID       int64  `json:"id"`
		Username string `json:"username"`
		Role     string `json:"role"`
	}
	testutil.DecodeData(t, resp, &me)
	assert.Equal(t, int64(1007), me.ID)
	assert.Equal(t, "frank", me.Username)
	assert.Equal(t, "user", me.Role)
}
