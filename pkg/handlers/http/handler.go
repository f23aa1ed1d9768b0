package http

import "github.com/gofiber/fiber/v2"

type Handler interface {
	Handle(c *fiber.Ctx) error
}

// HandlerTransport groups the handlers the server wires into routes.
type HandlerTransport struct {
	AdmitHandler  Handler
	StatusHandler Handler
}
