package http

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/getsluice/sluice/pkg/app/admission"
)

type statusHandler struct {
	logger      *logrus.Logger
	coordinator *admission.Coordinator
}

func NewStatusHandler(logger *logrus.Logger, coordinator *admission.Coordinator) Handler {
	return &statusHandler{
		logger:      logger,
		coordinator: coordinator,
	}
}

// Handle serves the read-only snapshot of limiter, queue and breaker state.
// The breaker section is this instance's view only.
func (h *statusHandler) Handle(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(h.coordinator.Status(c.Context()))
}
