package server

import (
	"context"
	"log"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/ytget/playlist-converter/internal/conversion"
	"github.com/ytget/playlist-converter/internal/events"
	"github.com/ytget/playlist-converter/internal/model"
)

// Server defaults
const (
	DefaultStartPerHour = 30
	ShutdownTimeout     = 10 * time.Second
)

// Converter is the conversion service as seen by the HTTP layer
type Converter interface {
	Start(url string) (string, error)
	CancelAll() bool
	Status() conversion.Status
	SubscribeFunc(buffer int, fn func(model.Event)) *events.Subscription
}

// Options configures the optional parts of the server
type Options struct {
	JWTSecret    string        // empty disables auth
	Redis        *redis.Client // nil disables rate limiting
	StartPerHour int
	Enqueuer     TaskEnqueuer // nil disables the enqueue endpoint
	EventBuffer  int
}

// Server is the HTTP control surface
type Server struct {
	app          *fiber.App
	hub          *Hub
	converter    Converter
	subscription *events.Subscription
	cancel       context.CancelFunc
}

// New builds the fiber app, starts the websocket hub and subscribes it to converter
func New(converter Converter, opts Options) *Server {
	if opts.StartPerHour <= 0 {
		opts.StartPerHour = DefaultStartPerHour
	}

	validate := validator.New()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	s := &Server{
		hub:       hub,
		converter: converter,
		cancel:    cancel,
	}
	s.subscription = converter.SubscribeFunc(opts.EventBuffer, hub.BroadcastEvent)

	handler := NewConversionHandler(converter, opts.Enqueuer, validate)
	authMiddleware := NewAuthMiddleware(opts.JWTSecret)
	rateLimiter := NewRateLimiter(opts.Redis)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"state":  converter.Status().State,
		})
	})

	api := app.Group("/api", authMiddleware.Authenticate())

	conversions := api.Group("/conversions")
	conversions.Get("/", handler.Status)
	conversions.Post("/", rateLimiter.StartLimit(opts.StartPerHour), handler.Start)
	conversions.Post("/cancel", handler.Cancel)
	conversions.Post("/enqueue", rateLimiter.StartLimit(opts.StartPerHour), handler.Enqueue)

	app.Use("/ws", authMiddleware.AuthenticateQuery(), func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/conversions", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, converter.Status())
	}))

	s.app = app
	return s
}

// App returns the fiber app
func (s *Server) App() *fiber.App {
	return s.app
}

// Hub returns the websocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Listen serves HTTP on addr until Shutdown
func (s *Server) Listen(addr string) error {
	log.Printf("[server] listening on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown stops the server, detaches from the converter and stops the hub
func (s *Server) Shutdown() error {
	s.subscription.Unsubscribe()
	s.cancel()
	return s.app.ShutdownWithTimeout(ShutdownTimeout)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(ErrorResponse{
		Error: ErrorDetail{
			Code:    CodeServiceError,
			Message: message,
		},
	})
}
