package predict

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "speakscore/predict"

type response struct {
	PredictedLabel string `json:"predicted_label"`
	Transcription  string `json:"transcription"`
	Error          string `json:"error"`
}

// Client posts audio to the scoring endpoint as a single multipart part
// named "file".
type Client struct {
	endpoint string
	client   *TracedClient
	tracer   trace.Tracer
}

type Option func(*Client)

// WithTracerProvider replaces the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *Client) { c.tracer = tp.Tracer(tracerName) }
}

func NewClient(endpoint string, timeout time.Duration, opts ...Option) *Client {
	c := &Client{
		endpoint: endpoint,
		client:   NewTracedClient(timeout),
		tracer:   otel.GetTracerProvider().Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Endpoint() string { return c.endpoint }

func (c *Client) Predict(ctx context.Context, p Payload) (*Result, error) {
	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "predict_audio",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("request.id", requestID),
			attribute.String("audio.name", p.Name),
			attribute.String("audio.content_type", p.ContentType),
			attribute.Int("audio.bytes", len(p.Data)),
		))
	defer span.End()

	body, contentType, err := encodeMultipart(p)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "encode")
		return nil, fmt.Errorf("building multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request")
		return nil, &TransportError{Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	resp, err := c.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport")
		return nil, &TransportError{Err: err}
	}

	m := resp.Metrics
	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.Bool("net.conn_reused", m.ConnReused),
		attribute.Int64("net.dns_ms", m.DNS.Milliseconds()),
		attribute.Int64("net.tls_ms", m.TLS.Milliseconds()),
		attribute.Int64("net.ttfb_ms", m.TTFB.Milliseconds()),
		attribute.Int64("net.total_ms", m.Total.Milliseconds()),
	)

	result, err := decode(resp)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "server")
		return nil, err
	}
	result.RequestID = requestID
	span.SetAttributes(attribute.String("prediction.label", result.Label))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func encodeMultipart(p Payload) (*bytes.Buffer, string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	name := p.Name
	if name == "" {
		name = "audio.wav"
	}
	contentType := p.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, escapeQuotes(name)))
	h.Set("Content-Type", contentType)
	part, err := writer.CreatePart(h)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(p.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return &body, writer.FormDataContentType(), nil
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func decode(resp *TracedResponse) (*Result, error) {
	var r response
	parseErr := json.Unmarshal(resp.Body, &r)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := ""
		if parseErr == nil {
			msg = r.Error
		}
		return nil, &ServerError{StatusCode: resp.StatusCode, Message: msg}
	}
	if parseErr != nil {
		return nil, &ServerError{StatusCode: resp.StatusCode}
	}

	return &Result{
		Label:         r.PredictedLabel,
		Transcription: r.Transcription,
		StatusCode:    resp.StatusCode,
		Metrics:       resp.Metrics,
	}, nil
}
