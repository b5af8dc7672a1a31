package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"banknotify/internal/domain"
)

// Sink receives decoded transaction batches from ingest interfaces.
// Params: context and one validated batch.
// Returns: processing error.
type Sink interface {
	Process(ctx context.Context, transactions []domain.Transaction) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, transactions []domain.Transaction) error

// Process calls f.
func (f SinkFunc) Process(ctx context.Context, transactions []domain.Transaction) error {
	return f(ctx, transactions)
}

// decodePayload auto-detects batch vs single transaction payload.
// Params: raw JSON bytes with one object or array.
// Returns: validated transactions or decode error.
func decodePayload(raw []byte) ([]domain.Transaction, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, errors.New("empty payload")
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		transactions, err := domain.DecodeTransactionsReader(decoder)
		if err != nil {
			return nil, err
		}
		if err := ensureJSONEOF(decoder); err != nil {
			return nil, err
		}
		return transactions, nil
	}

	var transaction domain.Transaction
	if err := decoder.Decode(&transaction); err != nil {
		return nil, fmt.Errorf("decode transaction: %w", err)
	}
	if err := transaction.Validate(); err != nil {
		return nil, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	return []domain.Transaction{transaction}, nil
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}
