package exchange

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"polymarket-copybot/pkg/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, testExchange, testLogger())
}

func TestGetOrderBook(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/book" {
			t.Errorf("path = %s, want /book", r.URL.Path)
		}
		if got := r.URL.Query().Get("token_id"); got != "tok-1" {
			t.Errorf("token_id = %q, want tok-1", got)
		}
		json.NewEncoder(w).Encode(types.BookResponse{
			AssetID: "tok-1",
			Bids:    []types.PriceLevel{{Price: "0.55", Size: "100"}},
			Asks:    []types.PriceLevel{{Price: "0.57", Size: "150"}},
		})
	})

	book, err := c.GetOrderBook(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("GetOrderBook: %v", err)
	}
	if len(book.Bids) != 1 || book.Bids[0].Price != "0.55" {
		t.Errorf("Bids = %+v, want one level at 0.55", book.Bids)
	}
	if len(book.Asks) != 1 || book.Asks[0].Size != "150" {
		t.Errorf("Asks = %+v, want one level of 150", book.Asks)
	}
}

func TestGetOrderBookErrorStatus(t *testing.T) {
	t.Parallel()

	// 4xx is terminal (no retry) and must surface as an error.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such token", http.StatusBadRequest)
	})

	if _, err := c.GetOrderBook(context.Background(), "bogus"); err == nil {
		t.Fatal("GetOrderBook succeeded on a 400 response")
	}
}

func TestGetPrice(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("side"); got != "sell" {
			t.Errorf("side = %q, want sell", got)
		}
		w.Write([]byte(`{"price":"0.57"}`))
	})

	price, err := c.GetPrice(context.Background(), "tok-1", types.SELL)
	if err != nil {
		t.Fatalf("GetPrice: %v", err)
	}
	if price != 0.57 {
		t.Errorf("price = %v, want 0.57", price)
	}
}

func TestGetServerTime(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/time" {
			t.Errorf("path = %s, want /time", r.URL.Path)
		}
		w.Write([]byte("1700000000"))
	})

	ts, err := c.GetServerTime(context.Background())
	if err != nil {
		t.Fatalf("GetServerTime: %v", err)
	}
	if ts != 1_700_000_000 {
		t.Errorf("ts = %d, want 1700000000", ts)
	}
}

func TestPostOrder(t *testing.T) {
	t.Parallel()

	var received types.OrderPayload
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/order" {
			t.Errorf("request = %s %s, want POST /order", r.Method, r.URL.Path)
		}
		for _, h := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_API_KEY", "POLY_PASSPHRASE"} {
			if r.Header.Get(h) == "" {
				t.Errorf("missing header %s", h)
			}
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("unmarshal payload: %v", err)
		}
		json.NewEncoder(w).Encode(types.OrderResponse{Success: true, OrderID: "ord-1", Status: "matched"})
	})

	signer := newTestSigner(t)
	signer.SetCredentials(Credentials{ApiKey: "k", Secret: "c2VjcmV0", Passphrase: "p"})

	resp, err := c.PostOrder(context.Background(), signer, types.UserOrder{
		TokenID:   "tok-1",
		Side:      types.BUY,
		Price:     0.50,
		Size:      100,
		OrderType: types.OrderTypeFOK,
	})
	if err != nil {
		t.Fatalf("PostOrder: %v", err)
	}
	if !resp.Success || resp.OrderID != "ord-1" {
		t.Errorf("response = %+v, want success with ord-1", resp)
	}

	if received.OrderType != types.OrderTypeFOK {
		t.Errorf("OrderType = %q, want FOK", received.OrderType)
	}
	if received.Order.Maker != testAddress || received.Order.Signer != testAddress {
		t.Errorf("maker/signer = %s/%s, want both %s", received.Order.Maker, received.Order.Signer, testAddress)
	}
	if received.Order.Signature == "" || received.Order.Salt == "" {
		t.Error("order not signed: empty signature or salt")
	}
	if received.Order.MakerAmount.Int64() != 50_000_000 {
		t.Errorf("MakerAmount = %s, want 50000000", received.Order.MakerAmount)
	}
}

func TestPostOrderVenueRejection(t *testing.T) {
	t.Parallel()

	// Success=false with 200 status is a venue-level rejection, not an error.
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(types.OrderResponse{Success: false, ErrorMsg: "not enough balance / allowance"})
	})

	signer := newTestSigner(t)
	signer.SetCredentials(Credentials{ApiKey: "k", Secret: "c2VjcmV0", Passphrase: "p"})

	resp, err := c.PostOrder(context.Background(), signer, types.UserOrder{
		TokenID: "tok-1", Side: types.BUY, Price: 0.5, Size: 10, OrderType: types.OrderTypeFOK,
	})
	if err != nil {
		t.Fatalf("PostOrder: %v", err)
	}
	if resp.Success {
		t.Error("Success = true, want venue rejection")
	}
	if !resp.InsufficientFunds() {
		t.Errorf("InsufficientFunds() = false for %q", resp.ErrorMsg)
	}
}

func TestDeriveAPIKey(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/derive-api-key" {
			t.Errorf("path = %s, want /auth/derive-api-key", r.URL.Path)
		}
		if r.Header.Get("POLY_NONCE") != "0" {
			t.Errorf("POLY_NONCE = %q, want 0", r.Header.Get("POLY_NONCE"))
		}
		json.NewEncoder(w).Encode(Credentials{ApiKey: "k1", Secret: "czE=", Passphrase: "p1"})
	})

	signer := newTestSigner(t)
	creds, err := c.DeriveAPIKey(context.Background(), signer)
	if err != nil {
		t.Fatalf("DeriveAPIKey: %v", err)
	}
	if creds.ApiKey != "k1" {
		t.Errorf("ApiKey = %q, want k1", creds.ApiKey)
	}
	if !signer.HasCredentials() {
		t.Error("credentials not installed on signer")
	}
}
