package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"banknotify/internal/domain"
)

type httpTestSink struct {
	calls        int
	transactions []domain.Transaction
	err          error
}

func (s *httpTestSink) Process(_ context.Context, transactions []domain.Transaction) error {
	s.calls++
	if s.err != nil {
		return s.err
	}
	s.transactions = append(s.transactions, transactions...)
	return nil
}

func TestHTTPHandlerAcceptsSingleTransaction(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	handler := NewHTTPHandler(sink, 1<<20, nil)
	request := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(testTransactionJSON("t1", "-12.50")))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if sink.calls != 1 || len(sink.transactions) != 1 {
		t.Fatalf("unexpected sink calls=%d transactions=%d", sink.calls, len(sink.transactions))
	}
	if sink.transactions[0].Amount.String() != "-12.5" {
		t.Fatalf("unexpected amount %s", sink.transactions[0].Amount)
	}
}

func TestHTTPHandlerAcceptsBatch(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	handler := NewHTTPHandler(sink, 1<<20, nil)
	payload := fmt.Sprintf("[%s,%s]", testTransactionJSON("t1", "-1"), testTransactionJSON("t2", "2"))
	request := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(payload))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusAccepted {
		t.Fatalf("expected status %d, got %d", http.StatusAccepted, response.Code)
	}
	if sink.calls != 1 || len(sink.transactions) != 2 {
		t.Fatalf("batch must reach sink in one call: calls=%d transactions=%d", sink.calls, len(sink.transactions))
	}
}

func TestHTTPHandlerRejectsInvalidPayloads(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty batch":     "[]",
		"missing account": `{"_id":"t1","amount":1,"date":"2026-03-01T00:00:00Z"}`,
		"trailing tokens": testTransactionJSON("t1", "1") + "{}",
		"not json":        "nope",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			sink := &httpTestSink{}
			handler := NewHTTPHandler(sink, 1<<20, nil)
			response := httptest.NewRecorder()
			handler.ServeHTTP(response, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body)))
			if response.Code != http.StatusBadRequest {
				t.Fatalf("expected status %d, got %d", http.StatusBadRequest, response.Code)
			}
			if sink.calls != 0 {
				t.Fatalf("sink must not be called")
			}
		})
	}
}

func TestHTTPHandlerRejectsOversizedBodyAndWrongMethod(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{}
	handler := NewHTTPHandler(sink, 16, nil)

	response := httptest.NewRecorder()
	handler.ServeHTTP(response, httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(testTransactionJSON("t1", "1"))))
	if response.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected status %d, got %d", http.StatusRequestEntityTooLarge, response.Code)
	}

	response = httptest.NewRecorder()
	handler.ServeHTTP(response, httptest.NewRequest(http.MethodGet, "/ingest", nil))
	if response.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, response.Code)
	}
}

func TestHTTPHandlerReturnsServiceUnavailableOnProcessError(t *testing.T) {
	t.Parallel()

	sink := &httpTestSink{err: errors.New("store unavailable")}
	handler := NewHTTPHandler(sink, 1<<20, nil)
	request := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(testTransactionJSON("t1", "1")))
	response := httptest.NewRecorder()

	handler.ServeHTTP(response, request)
	if response.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, response.Code)
	}
}

func testTransactionJSON(id, amount string) string {
	return fmt.Sprintf(`{"_id":"%s","account":"chk","label":"Card","amount":%s,"date":"2026-03-01T10:00:00Z"}`, id, amount)
}
