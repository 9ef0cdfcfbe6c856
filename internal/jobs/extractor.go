package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/aliuyar1234/clinicdocs/internal/documents"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// maxExtractorResponse bounds how much of an extractor reply is read.
const maxExtractorResponse = 4 << 20

// Extractor turns a document's bytes into structured data.
type Extractor interface {
	Extract(ctx context.Context, doc *documents.Document, content []byte) (json.RawMessage, error)
}

// HTTPExtractor posts documents to an extraction service at {baseURL}/extract.
// The service answers with a JSON object, optionally wrapped as
// {"extracted_data": {...}}.
type HTTPExtractor struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// NewHTTPExtractor creates an extractor client with the specified timeout
func NewHTTPExtractor(baseURL string, timeoutMS int) *HTTPExtractor {
	return &HTTPExtractor{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutMS) * time.Millisecond,
		},
		timeout: time.Duration(timeoutMS) * time.Millisecond,
	}
}

type extractorEnvelope struct {
	ExtractedData json.RawMessage `json:"extracted_data"`
}

// Extract sends the document to the service. 4xx replies are permanent and
// skip retries; transport errors and 5xx replies are retried by the queue.
func (e *HTTPExtractor) Extract(ctx context.Context, doc *documents.Document, content []byte) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/extract", bytes.NewReader(content))
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor request: %w", err)
	}
	req.Header.Set("Content-Type", doc.ContentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Document-ID", doc.ID.String())
	req.Header.Set("X-Document-Name", doc.Name)
	if doc.DocumentType != "" {
		req.Header.Set("X-Document-Type", doc.DocumentType)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeoutError(err) {
			log.Warn().
				Err(err).
				Dur("timeout", e.timeout).
				Str("document_id", doc.ID.String()).
				Msg("Extractor request timed out")
			return nil, fmt.Errorf("extractor timed out: %w", err)
		}
		return nil, fmt.Errorf("extractor request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxExtractorResponse))
	if err != nil {
		return nil, fmt.Errorf("failed to read extractor response: %w", err)
	}

	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, fmt.Errorf("extractor rejected document (%d): %s: %w", resp.StatusCode, snippet(body), asynq.SkipRetry)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("extractor server error (%d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extractor returned unexpected status %d", resp.StatusCode)
	}

	var env extractorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && len(env.ExtractedData) > 0 {
		body = env.ExtractedData
	}
	if err := documents.ValidateExtractedData(body); err != nil {
		return nil, fmt.Errorf("extractor returned invalid data: %v: %w", err, asynq.SkipRetry)
	}
	return json.RawMessage(body), nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func isTimeoutError(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// MetadataExtractor records what can be read from the upload itself. It is
// used when no extraction service is configured.
type MetadataExtractor struct{}

func (MetadataExtractor) Extract(ctx context.Context, doc *documents.Document, content []byte) (json.RawMessage, error) {
	data := map[string]any{
		"file_name":     doc.Name,
		"content_type":  doc.ContentType,
		"size_bytes":    len(content),
		"sha256":        doc.SHA256,
		"document_type": doc.DocumentType,
	}
	if strings.HasPrefix(doc.ContentType, "text/") && utf8.Valid(content) {
		text := string(content)
		data["line_count"] = strings.Count(text, "\n") + 1
		data["word_count"] = len(strings.Fields(text))
	}
	if bytes.HasPrefix(content, []byte("%PDF-")) {
		data["format"] = "pdf"
		data["page_count"] = bytes.Count(content, []byte("/Type /Page")) - bytes.Count(content, []byte("/Type /Pages"))
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return out, nil
}
