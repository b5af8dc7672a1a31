package ingest

import (
	"io"
	"log/slog"
	"net/http"
)

// HTTPHandler decodes JSON transactions and forwards them to sink.
// Params: sink receives validated batches, max body limits payload size.
// Returns: HTTP handler for ingest endpoint.
type HTTPHandler struct {
	sink        Sink
	maxBodySize int64
	logger      *slog.Logger
}

// NewHTTPHandler creates ingest HTTP handler.
// Params: sink, max request body size in bytes, and optional logger.
// Returns: configured handler.
func NewHTTPHandler(sink Sink, maxBodySize int64, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{sink: sink, maxBodySize: maxBodySize, logger: logger}
}

// ServeHTTP handles one incoming transaction batch.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to decode/process result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusRequestEntityTooLarge)
		return
	}

	transactions, err := decodePayload(body)
	if err != nil {
		if h.logger != nil {
			h.logger.Warn("http ingest decode failed", "error", err.Error())
		}
		http.Error(writer, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.sink.Process(request.Context(), transactions); err != nil {
		if h.logger != nil {
			h.logger.Error("http ingest process failed", "transactions", len(transactions), "error", err.Error())
		}
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
