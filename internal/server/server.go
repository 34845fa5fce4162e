package server

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"salon/internal/events"
	"salon/internal/metrics"
	"salon/internal/repository"
)

type Deps struct {
	Baskets     repository.BasketRepository
	Orders      repository.OrderRepository
	Idempotency repository.IdempotencyStore
	Publisher   events.Publisher
	Metrics     *metrics.Registry
	Logger      zerolog.Logger

	// JWTSecret signs admin tokens. Admin routes are not mounted when empty.
	JWTSecret []byte
	// Rate is requests per second per client; 0 disables limiting.
	Rate  float64
	Burst int

	Clock      func() time.Time
	NewOrderID func() string
}

type Server struct {
	d   Deps
	log zerolog.Logger
}

// GenerateID returns <prefix>_<unix millis>_<9 random base36 chars>.
func GenerateID(prefix string) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	var b strings.Builder
	for i := 0; i < 9; i++ {
		b.WriteByte(alphabet[rand.Intn(len(alphabet))])
	}
	return prefix + "_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + b.String()
}

// New wires routes and middleware onto a fresh echo instance.
func New(d Deps) *echo.Echo {
	if d.Publisher == nil {
		d.Publisher = events.NopPublisher{}
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewRegistry()
	}
	if d.Idempotency == nil {
		d.Idempotency = repository.NewMemoryIdempotencyStore()
	}
	if d.Clock == nil {
		d.Clock = time.Now
	}
	if d.NewOrderID == nil {
		d.NewOrderID = func() string { return GenerateID("ord") }
	}
	s := &Server{d: d, log: d.Logger.With().Str("component", "server").Logger()}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(s.requestLogger())
	e.Use(middleware.Recover())
	if d.Rate > 0 {
		e.Use(rateLimiter(d.Rate, d.Burst))
	}

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{
			"status": "ok",
			"time":   d.Clock().UTC().Format(time.RFC3339),
		})
	})
	e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))

	b := e.Group("/api/basket", session)
	b.GET("", s.getBasket)
	b.POST("/add", s.addItem)
	b.PUT("/update", s.updateItem)
	b.DELETE("/remove", s.removeItem)
	b.DELETE("/clear", s.clearBasket)

	e.POST("/api/orders", s.createOrder)
	if len(d.JWTSecret) > 0 {
		admin := adminOnly(d.JWTSecret)
		e.GET("/api/orders", s.listOrders, admin...)
		e.GET("/api/statistics", s.statistics, admin...)
	}
	return e
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.log.Info()
			if v.Error != nil {
				ev = s.log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("request")
			return nil
		},
	})
}

func rateLimiter(r float64, burst int) echo.MiddlewareFunc {
	if burst <= 0 {
		burst = int(r) + 1
	}
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      rate.Limit(r),
				Burst:     burst,
				ExpiresIn: 3 * time.Minute,
			}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return jsonError(c, http.StatusTooManyRequests, "rate limit exceeded")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return jsonError(c, http.StatusTooManyRequests, "rate limit exceeded")
		},
	})
}

func jsonError(c echo.Context, code int, msg string) error {
	return c.JSON(code, map[string]string{"error": msg})
}
