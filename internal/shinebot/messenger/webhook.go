package messenger

import (
	"context"
	_ "embed"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/shineshop/shinebot/common/trace"
)

// maxBodyBytes caps inbound webhook request bodies to prevent memory
// exhaustion from oversized payloads.
const maxBodyBytes = 1 * 1024 * 1024 // 1 MiB

//go:embed webhook_events.json
var eventSchemaJSON string

// eventSchema validates raw webhook deliveries before fan-out. An invalid
// body is dropped, not errored: the platform retries non-200 responses, and a
// retry storm over a malformed delivery helps nobody.
var eventSchema = jsonschema.MustCompileString("webhook_events.json", eventSchemaJSON)

// InboundMessage is one text message extracted from a webhook delivery.
type InboundMessage struct {
	SenderID    string
	RecipientID string
	Text        string
}

// MessageHandler processes one inbound message. The context carries a trace
// ID scoped to the delivery.
type MessageHandler func(ctx context.Context, msg InboundMessage)

// RouteRegistrar is satisfied by *http.ServeMux and by the app's HTTP server,
// so the webhook can register its routes without importing the app package.
type RouteRegistrar interface {
	Handle(pattern string, handler http.Handler)
}

// Webhook is the inbound HTTP front-end: the verification handshake and the
// event-ingestion endpoint.
type Webhook struct {
	verifyToken string
	handler     MessageHandler
}

// NewWebhook returns a Webhook that authenticates the verification handshake
// with verifyToken and fans events out to handler.
func NewWebhook(verifyToken string, handler MessageHandler) *Webhook {
	return &Webhook{verifyToken: verifyToken, handler: handler}
}

// RegisterRoutes mounts GET+POST /webhook on the given registrar.
func (wh *Webhook) RegisterRoutes(r RouteRegistrar) {
	r.Handle("/webhook", http.HandlerFunc(wh.serveWebhook))
}

// serveWebhook dispatches the two webhook methods.
func (wh *Webhook) serveWebhook(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		wh.handleVerify(w, r)
	case http.MethodPost:
		wh.handleEvents(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleVerify answers the platform's subscription handshake: echo the
// challenge when the verify token matches, 403 otherwise.
func (wh *Webhook) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("hub.verify_token")
	challenge := r.URL.Query().Get("hub.challenge")

	if token != wh.verifyToken {
		slog.Warn("webhook: verification rejected")
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	io.WriteString(w, challenge)
}

// --- wire types (page event batch) ---

type eventBatch struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []struct {
			Sender struct {
				ID string `json:"id"`
			} `json:"sender"`
			Recipient struct {
				ID string `json:"id"`
			} `json:"recipient"`
			Message *struct {
				Text string `json:"text"`
			} `json:"message"`
		} `json:"messaging"`
	} `json:"entry"`
}

// handleEvents ingests a delivery. The response is 200 EVENT_RECEIVED no
// matter what happened internally; anything else triggers platform-side
// delivery retries.
func (wh *Webhook) handleEvents(w http.ResponseWriter, r *http.Request) {
	defer func() {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "EVENT_RECEIVED")
	}()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Warn("webhook: read delivery body", "err", err)
		return
	}

	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		slog.Warn("webhook: non-JSON delivery dropped", "err", err)
		return
	}
	if err := eventSchema.Validate(raw); err != nil {
		slog.Warn("webhook: delivery failed schema validation", "err", err)
		return
	}

	var batch eventBatch
	if err := json.Unmarshal(body, &batch); err != nil {
		slog.Warn("webhook: decode delivery", "err", err)
		return
	}
	if batch.Object != "page" {
		return
	}

	traceID := trace.GenerateID()
	ctx := trace.WithTraceID(r.Context(), traceID)

	for _, entry := range batch.Entry {
		for _, evt := range entry.Messaging {
			if evt.Message == nil {
				continue
			}
			wh.handler(ctx, InboundMessage{
				SenderID:    evt.Sender.ID,
				RecipientID: evt.Recipient.ID,
				Text:        evt.Message.Text,
			})
		}
	}
}
