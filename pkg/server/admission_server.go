package server

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/getsluice/sluice/pkg/config"
	handlers "github.com/getsluice/sluice/pkg/handlers/http"
)

type (
	AdmissionServerDI struct {
		HandlerTransport handlers.HandlerTransport
		Config           *config.Config
		Logger           *logrus.Logger
	}
	AdmissionServer struct {
		*BaseServer
		handlerTransport handlers.HandlerTransport
	}
)

func NewAdmissionServer(di AdmissionServerDI) *AdmissionServer {
	s := &AdmissionServer{
		BaseServer:       NewBaseServer(di.Config, di.Logger),
		handlerTransport: di.HandlerTransport,
	}
	s.setupMetricsEndpoint()
	return s
}

func (s *AdmissionServer) Run() error {
	s.setupHealthCheck()

	s.router.Post("/admit", s.handlerTransport.AdmitHandler.Handle)
	s.router.Get("/__/status", s.handlerTransport.StatusHandler.Handle)

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.WithField("addr", addr).Info("starting admission server")
	return s.router.Listen(addr)
}

func (s *AdmissionServer) Shutdown() error {
	return s.router.Shutdown()
}
