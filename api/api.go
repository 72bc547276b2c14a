package api

import (
	"errors"
	"time"

	"github.com/caseproof/memberpress-courses-copilot-sub010/utils"
	"github.com/caseproof/memberpress-courses-copilot-sub010/utils/response"
	"github.com/gofiber/fiber/v2"
)

type APIServer struct {
	app           *fiber.App
	listenAddress string
	log           *utils.Logger
}

func NewAPIServer(listenAddress string, log *utils.Logger) *APIServer {
	return &APIServer{
		app: fiber.New(fiber.Config{
			AppName:      "Courses Copilot",
			BodyLimit:    25 << 20, // reference PDFs
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 2 * time.Minute, // AI turns can take a while
			ErrorHandler: errorHandler,
		}),
		listenAddress: listenAddress,
		log:           log,
	}
}

// errorHandler keeps fiber's own errors (404 route, body too large) in the
// standard envelope
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	return response.Error(c, code, err.Error(), "HTTP_ERROR")
}

func (s *APIServer) GetEngine() *fiber.App {
	return s.app
}

func (s *APIServer) Run() error {
	s.log.Info("Starting API Server", "address", s.listenAddress)

	return s.app.Listen(s.listenAddress)
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *APIServer) Shutdown(timeout time.Duration) error {
	return s.app.ShutdownWithTimeout(timeout)
}
