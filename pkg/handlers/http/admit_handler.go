package http

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/valyala/fastjson"

	"github.com/getsluice/sluice/pkg/app/admission"
	"github.com/getsluice/sluice/pkg/infra/breaker"
	"github.com/getsluice/sluice/pkg/types"
)

type admitHandler struct {
	logger      *logrus.Logger
	coordinator *admission.Coordinator
	parsers     fastjson.ParserPool
}

func NewAdmitHandler(logger *logrus.Logger, coordinator *admission.Coordinator) Handler {
	return &admitHandler{
		logger:      logger,
		coordinator: coordinator,
	}
}

// Handle accepts {method, route, headers, body} and answers with the
// admission outcome: 200 admitted (backend result attached), 202 queued,
// 429 rejected, 503 temporarily unavailable, 502 backend failure.
func (h *admitHandler) Handle(c *fiber.Ctx) error {
	req, err := h.parseRequest(c.Body())
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	result, err := h.coordinator.Admit(c.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, breaker.ErrCircuitOpen):
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":  "temporarily unavailable",
				"reason": "circuit_open",
			})
		case errors.Is(err, admission.ErrQueueUnavailable):
			h.logger.WithError(err).Error("deferral queue unavailable")
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error":  "temporarily unavailable",
				"reason": "queue_unavailable",
			})
		default:
			h.logger.WithError(err).WithField("route", req.Route).Error("backend failure")
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"error": "backend failure",
			})
		}
	}

	switch result.Decision {
	case types.DecisionQueued:
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"status": "queued",
			"id":     result.QueueID,
		})
	case types.DecisionRejected:
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"status": "rejected",
			"reason": result.Reason,
		})
	default:
		return c.Status(result.Response.StatusCode).JSON(fiber.Map{
			"status": "admitted",
			"result": backendResult(result.Response.Body),
		})
	}
}

func (h *admitHandler) parseRequest(body []byte) (*types.AdmissionRequest, error) {
	if len(body) == 0 {
		return nil, errors.New("request body is required")
	}

	parser := h.parsers.Get()
	defer h.parsers.Put(parser)

	v, err := parser.ParseBytes(body)
	if err != nil {
		return nil, errors.New("request body is not valid JSON")
	}

	req := &types.AdmissionRequest{
		Method:  string(v.GetStringBytes("method")),
		Route:   string(v.GetStringBytes("route")),
		Headers: map[string]string{},
	}
	if req.Route == "" {
		return nil, errors.New("route is required")
	}

	if headers := v.GetObject("headers"); headers != nil {
		headers.Visit(func(key []byte, value *fastjson.Value) {
			if sb := value.GetStringBytes(); sb != nil {
				req.Headers[string(key)] = string(sb)
			}
		})
	}

	if bodyField := v.Get("body"); bodyField != nil && bodyField.Type() == fastjson.TypeObject {
		raw := bodyField.MarshalTo(nil)
		if err := json.Unmarshal(raw, &req.Body); err != nil {
			return nil, errors.New("body must be a JSON object")
		}
	}

	return req, nil
}

// backendResult keeps JSON bodies structured in the response and falls back
// to a string for anything else.
func backendResult(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	if fastjson.ValidateBytes(body) == nil {
		return json.RawMessage(body)
	}
	return string(body)
}
