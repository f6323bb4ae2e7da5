package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/Francovarelav/pickpackpromx/internal/domain"
	"github.com/Francovarelav/pickpackpromx/internal/services"
)

func voiceItems() []services.CartItem {
	return []services.CartItem{
		{ProductID: "coke-350", Name: "Coca-Cola", Brand: "Coca-Cola", Presentation: "350ml", ExpectedQuantity: 10},
		{ProductID: "water-500", Name: "Agua", ExpectedQuantity: 6},
	}
}

func TestVoiceClientInterpret(t *testing.T) {
	var captured interpretRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != voiceInterpretPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"items":[{"productId":"coke-350","quantity":6},{"productId":" ","quantity":3}],"unknown":["servilletas"," "]}`))
	}))
	defer server.Close()

	client, err := NewVoiceClient(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}

	result, err := client.Interpret(context.Background(), "hay seis coca colas", voiceItems())
	if err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if captured.Transcript != "hay seis coca colas" || len(captured.Items) != 2 {
		t.Fatalf("unexpected request %+v", captured)
	}
	if captured.Items[0].ExpectedQuantity != 10 {
		t.Fatalf("expected quantity forwarded, got %+v", captured.Items[0])
	}
	if len(result.Items) != 1 || result.Items[0].ProductID != "coke-350" || result.Items[0].QuantityMentioned != 6 {
		t.Fatalf("unexpected items %+v", result.Items)
	}
	if len(result.Unknown) != 1 || result.Unknown[0] != "servilletas" {
		t.Fatalf("unexpected unknown phrases %+v", result.Unknown)
	}
}

func TestVoiceClientCorrect(t *testing.T) {
	var captured correctRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != voiceCorrectPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"ledger":[{"productId":"coke-350","missing":2,"found":8}]}`))
	}))
	defer server.Close()

	client, err := NewVoiceClient(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}

	current := []domain.LedgerEntry{{ProductID: "coke-350", Missing: 4, Found: 6}}
	ledger, err := client.Correct(context.Background(), "son ocho", voiceItems(), current)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if len(captured.Ledger) != 1 || captured.Ledger[0].Missing != 4 {
		t.Fatalf("expected current ledger forwarded, got %+v", captured.Ledger)
	}
	if len(ledger) != 1 || ledger[0].Missing != 2 || ledger[0].Found != 8 {
		t.Fatalf("unexpected ledger %+v", ledger)
	}
}

func TestVoiceClientCorrectEmptyLedger(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer server.Close()

	client, err := NewVoiceClient(ClientConfig{Endpoint: server.URL})
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}

	ledger, err := client.Correct(context.Background(), "nada falta", voiceItems(), nil)
	if err != nil {
		t.Fatalf("Correct: %v", err)
	}
	if ledger == nil || len(ledger) != 0 {
		t.Fatalf("expected empty non-nil ledger, got %#v", ledger)
	}
}

func TestClientTokenSourceRotates(t *testing.T) {
	var seen []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"items":[],"unknown":[]}`))
	}))
	defer server.Close()

	tokens := []string{"token-a", "token-b"}
	calls := 0
	client, err := NewVoiceClient(ClientConfig{
		Endpoint:  server.URL,
		AuthToken: "static",
		TokenSource: func(context.Context) (string, error) {
			token := tokens[calls%len(tokens)]
			calls++
			return token, nil
		},
	})
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := client.Interpret(context.Background(), "todo completo", voiceItems()); err != nil {
			t.Fatalf("Interpret: %v", err)
		}
	}
	if len(seen) != 2 || seen[0] != "Bearer token-a" || seen[1] != "Bearer token-b" {
		t.Fatalf("unexpected authorization headers %v", seen)
	}
}

func TestClientTokenSourceFailureSkipsRequest(t *testing.T) {
	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	expected := errors.New("secret manager down")
	client, err := NewVoiceClient(ClientConfig{
		Endpoint:    server.URL,
		TokenSource: func(context.Context) (string, error) { return "", expected },
	})
	if err != nil {
		t.Fatalf("NewVoiceClient: %v", err)
	}

	_, err = client.Interpret(context.Background(), "todo completo", voiceItems())
	if !errors.Is(err, expected) {
		t.Fatalf("expected token error, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("expected no request to be sent, got %d", hits)
	}
}
