package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string) *Client {
	c := New(Options{URL: url, HTTPClient: &http.Client{Timeout: 5 * time.Second}})
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestLookup(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		var gotQuery map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotQuery = map[string]string{
				"action":   r.URL.Query().Get("action"),
				"walletId": r.URL.Query().Get("walletId"),
				"t":        r.URL.Query().Get("t"),
			}
			w.Write([]byte(`{"success":true,"coins":25,"name":"Anna"}`))
		}))
		defer srv.Close()

		w, err := newTestClient(srv.URL).Lookup(ctx, "  st-abc234 ")
		require.NoError(t, err)
		assert.Equal(t, Wallet{Coins: 25, Name: "Anna"}, w)

		assert.Equal(t, "getBalance", gotQuery["action"])
		assert.Equal(t, "ST-ABC234", gotQuery["walletId"], "id must be uppercased")
		assert.Equal(t, "1700000000000", gotQuery["t"], "cache buster rides the query")
	})

	t.Run("blank name falls back to the default", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":true,"coins":5,"name":"  "}`))
		}))
		defer srv.Close()

		w, err := newTestClient(srv.URL).Lookup(ctx, "ST-ABC234")
		require.NoError(t, err)
		assert.Equal(t, DefaultName, w.Name)
	})

	t.Run("unsuccessful record", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"success":false}`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Lookup(ctx, "ST-ABC234")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("error status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Lookup(ctx, "ST-ABC234")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("garbage body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>redirect</html>`))
		}))
		defer srv.Close()

		_, err := newTestClient(srv.URL).Lookup(ctx, "ST-ABC234")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("transport failure is not a not-found", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		_, err := newTestClient(srv.URL).Lookup(ctx, "ST-ABC234")
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateLead(t *testing.T) {
	ctx := context.Background()

	var gotForm map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"action":           r.PostFormValue("action"),
			"timestamp":        r.PostFormValue("timestamp"),
			"name":             r.PostFormValue("name"),
			"email":            r.PostFormValue("email"),
			"businessCategory": r.PostFormValue("businessCategory"),
			"walletId":         r.PostFormValue("walletId"),
			"coins":            r.PostFormValue("coins"),
		}
	}))
	defer srv.Close()

	ok := newTestClient(srv.URL).CreateLead(ctx, Lead{
		Name:             "Clara",
		Email:            "clara@example.com",
		Phone:            "+100200300",
		BusinessCategory: "Jewelry",
		WalletID:         "ST-ABC234",
		Coins:            50,
	})
	require.True(t, ok)

	assert.Equal(t, "submitLead", gotForm["action"])
	assert.Equal(t, "Clara", gotForm["name"])
	assert.Equal(t, "clara@example.com", gotForm["email"])
	assert.Equal(t, "Jewelry", gotForm["businessCategory"])
	assert.Equal(t, "ST-ABC234", gotForm["walletId"])
	assert.Equal(t, "50", gotForm["coins"])
	assert.Regexp(t, `^\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}$`, gotForm["timestamp"])
}

func TestUpdateBalance(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatch", func(t *testing.T) {
		var gotForm map[string]string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			gotForm = map[string]string{
				"action":   r.PostFormValue("action"),
				"walletId": r.PostFormValue("walletId"),
				"coins":    r.PostFormValue("coins"),
			}
		}))
		defer srv.Close()

		ok := newTestClient(srv.URL).UpdateBalance(ctx, "st-abc234", 7)
		require.True(t, ok)

		assert.Equal(t, "updateBalance", gotForm["action"])
		assert.Equal(t, "ST-ABC234", gotForm["walletId"])
		assert.Equal(t, "7", gotForm["coins"])
	})

	t.Run("dispatch failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		ok := newTestClient(srv.URL).UpdateBalance(ctx, "ST-ABC234", 7)
		assert.False(t, ok)
	})

	t.Run("error status still counts as dispatched", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		ok := newTestClient(srv.URL).UpdateBalance(ctx, "ST-ABC234", 7)
		assert.True(t, ok, "the endpoint gives no usable write response, only transport errors fail")
	})
}
