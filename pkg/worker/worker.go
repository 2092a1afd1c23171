// Package worker serves routes and STDCM requests from a NATS queue group.
//
// A request is a JSON envelope naming its type; the reply is the same
// tagged union the HTTP API answers with.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"golang.org/x/exp/slog"

	"rail_router/pkg/api"
	"rail_router/pkg/metrics"
	"rail_router/pkg/routing"
)

// Message types.
const (
	TypeRoutes = "routes"
	TypeSTDCM  = "stdcm"
)

// Request is the envelope of a queued request. The field matching Type
// carries the body.
type Request struct {
	Type      string             `json:"type"`
	RequestID string             `json:"request_id,omitempty"`
	Routes    *api.RoutesRequest `json:"routes,omitempty"`
	STDCM     *api.STDCMRequest  `json:"stdcm,omitempty"`
}

// Handler answers decoded requests with a router.
type Handler struct {
	router  routing.Router
	log     *slog.Logger
	metrics *metrics.Collector
	timeout time.Duration
}

// NewHandler creates a handler. A zero timeout leaves requests unbounded
// beyond the router's own limit.
func NewHandler(router routing.Router, log *slog.Logger, m *metrics.Collector, timeout time.Duration) *Handler {
	return &Handler{router: router, log: log, metrics: m, timeout: timeout}
}

// Handle decodes one message and returns its reply. It never panics.
func (h *Handler) Handle(ctx context.Context, data []byte) (resp api.Response) {
	var req Request
	typ := "unknown"
	defer func() {
		if rec := recover(); rec != nil {
			h.log.Error("panic", "panic", rec, "request_id", req.RequestID)
			resp = api.Response{Status: api.StatusError, Error: &api.ErrorDetail{Code: "internal_error"}}
		}
		resp.RequestID = req.RequestID
		h.metrics.ObserveMessage(typ, resp.Status)
	}()

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return invalid(err.Error())
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = routing.WithRequestID(ctx, req.RequestID)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	switch req.Type {
	case TypeRoutes:
		typ = TypeRoutes
		if req.Routes == nil {
			return invalid("missing routes body")
		}
		rreq, err := req.Routes.ToRouting()
		if err != nil {
			return api.ErrorResponse(err)
		}
		res, err := h.router.Routes(ctx, rreq)
		if err != nil {
			return api.ErrorResponse(err)
		}
		return api.Response{Status: api.StatusSuccess, Routes: api.NewRoutesJSON(res)}
	case TypeSTDCM:
		typ = TypeSTDCM
		if req.STDCM == nil {
			return invalid("missing stdcm body")
		}
		sreq, err := req.STDCM.ToRouting()
		if err != nil {
			return api.ErrorResponse(err)
		}
		res, err := h.router.STDCM(ctx, sreq)
		if err != nil {
			return api.ErrorResponse(err)
		}
		return api.Response{Status: api.StatusSuccess, STDCM: api.NewSTDCMJSON(res)}
	}
	return invalid(fmt.Sprintf("unknown message type %q", req.Type))
}

func invalid(msg string) api.Response {
	return api.Response{Status: api.StatusError, Error: &api.ErrorDetail{Code: "invalid_request", Message: msg}}
}

// Connect dials NATS and keeps the connection gauge current.
func Connect(url string, log *slog.Logger, m *metrics.Collector) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("rail-router-worker"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			m.SetNATSConnected(false)
			log.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			m.SetNATSConnected(true)
			log.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			m.SetNATSConnected(false)
			log.Info("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	m.SetNATSConnected(true)
	return nc, nil
}

// Worker is a queue subscription answering requests with a Handler.
type Worker struct {
	nc      *nats.Conn
	sub     *nats.Subscription
	handler *Handler
	log     *slog.Logger
}

// Start subscribes to subject in queue group queue. Messages without a
// reply subject are processed and dropped.
func Start(nc *nats.Conn, subject, queue string, h *Handler, log *slog.Logger) (*Worker, error) {
	w := &Worker{nc: nc, handler: h, log: log}
	sub, err := nc.QueueSubscribe(subject, queue, w.serve)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	w.sub = sub
	log.Info("worker subscribed", "subject", subject, "queue", queue)
	return w, nil
}

func (w *Worker) serve(msg *nats.Msg) {
	start := time.Now()
	resp := w.handler.Handle(context.Background(), msg.Data)
	w.log.Info("message",
		"subject", msg.Subject,
		"status", resp.Status,
		"elapsed", time.Since(start).Round(time.Microsecond),
		"request_id", resp.RequestID,
	)
	if msg.Reply == "" {
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		w.log.Error("encode reply", "err", err)
		return
	}
	if err := msg.Respond(b); err != nil {
		w.log.Error("reply", "err", err, "request_id", resp.RequestID)
	}
}

// Close drains the subscription and the connection.
func (w *Worker) Close() error {
	if err := w.sub.Drain(); err != nil {
		return err
	}
	return w.nc.Drain()
}
