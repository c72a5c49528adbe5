package ml

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func testTx() *domain.Transaction {
	return &domain.Transaction{
		ID: "tx1", TenantID: "t1", Amount: 250, Currency: "USD",
		Channel: domain.ChannelEcommerce, Type: "purchase", UserID: "u1",
	}
}

func TestPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req PredictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		if req.TransactionID != "tx1" || req.Amount != 250 {
			t.Errorf("unexpected request: %+v", req)
		}
		json.NewEncoder(w).Encode(PredictResponse{Score: 72.5, IsFraudulent: true})
	}))
	defer srv.Close()

	c := NewClient(domain.MLConfig{Endpoint: srv.URL, Timeout: time.Second})
	res, err := c.Predict(context.Background(), testTx())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Score != 72.5 || !res.IsFraudulent {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestPredictClampsScore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(PredictResponse{Score: 950})
	}))
	defer srv.Close()

	c := NewClient(domain.MLConfig{Endpoint: srv.URL, Timeout: time.Second})
	res, err := c.Predict(context.Background(), testTx())
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Score != 100 {
		t.Fatalf("expected clamp to 100, got %v", res.Score)
	}
}

func TestPredictServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(domain.MLConfig{Endpoint: srv.URL, Timeout: time.Second})
	if _, err := c.Predict(context.Background(), testTx()); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestPredictRespectsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := NewClient(domain.MLConfig{Endpoint: srv.URL, Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Predict(ctx, testTx()); err == nil {
		t.Fatal("expected context deadline error")
	}
}

func TestPredictDisabled(t *testing.T) {
	c := NewClient(domain.MLConfig{})
	if c.Enabled() {
		t.Fatal("no endpoint should mean disabled")
	}
	if _, err := c.Predict(context.Background(), testTx()); err == nil {
		t.Fatal("expected error when disabled")
	}
}
