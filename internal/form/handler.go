// Package form adapts browser form posts to the delivery orchestrator.
package form

import (
	"context"
	"html"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/shineum/form-relay/internal/delivery"
	"github.com/shineum/form-relay/internal/email"
)

const (
	msgInvalidInput = "Invalid input detected."
	msgTooFast      = "Bitte erneut versuchen."
	msgCheckPrefix  = "Bitte prüfen: "
)

// Deliverer submits an envelope and reports the outcome.
// *delivery.Orchestrator implements it.
type Deliverer interface {
	Deliver(ctx context.Context, env *email.Envelope) delivery.Result
}

// Settings holds the addressing and redirect targets shared by both forms.
type Settings struct {
	To       string
	From     string
	FromName string

	// Site is named in the first line of booking notifications.
	Site string

	SuccessURL     string
	AllowedOrigins string
}

// Handler serves the booking and contact endpoints.
type Handler struct {
	deliverer Deliverer
	settings  Settings
	logger    *slog.Logger
	now       func() time.Time
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// WithClock replaces time.Now for the submission age check.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// NewHandler creates a Handler.
func NewHandler(d Deliverer, s Settings, opts ...Option) *Handler {
	if s.SuccessURL == "" {
		s.SuccessURL = "/success.html"
	}
	if s.AllowedOrigins == "" {
		s.AllowedOrigins = "*"
	}
	h := &Handler{
		deliverer: d,
		settings:  s,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewApp returns a fiber app with CORS and panic recovery serving both forms.
func NewApp(h *Handler) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             64 * 1024,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).SendString(http.StatusText(code))
		},
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: h.settings.AllowedOrigins,
		AllowHeaders: "Content-Type",
		AllowMethods: "POST, OPTIONS",
	}))

	h.Register(app)
	return app
}

// Register mounts POST /send (booking) and POST /send-contact (contact).
func (h *Handler) Register(r fiber.Router) {
	h.route(r, "/send", "booking", func() submission { return &booking{} })
	h.route(r, "/send-contact", "contact", func() submission { return &contact{} })
}

func (h *Handler) route(r fiber.Router, path, kind string, blank func() submission) {
	r.Options(path, h.options)
	r.Post(path, func(c *fiber.Ctx) error {
		return h.handle(c, kind, blank())
	})
	r.All(path, func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusMethodNotAllowed).SendString("Method Not Allowed")
	})
}

// options answers a plain OPTIONS request. Preflight requests are answered
// by the cors middleware before reaching this handler.
func (h *Handler) options(c *fiber.Ctx) error {
	c.Set(fiber.HeaderAccessControlAllowOrigin, h.settings.AllowedOrigins)
	c.Set(fiber.HeaderAccessControlAllowHeaders, "Content-Type")
	c.Set(fiber.HeaderAccessControlAllowMethods, "POST, OPTIONS")
	return c.SendStatus(fiber.StatusOK)
}

func (h *Handler) handle(c *fiber.Ctx, kind string, sub submission) error {
	log := h.logger.With("form", kind, "ip", c.IP())

	vals, err := readValues(c)
	if err != nil {
		log.Debug("undecodable body", "error", err)
		return c.Status(fiber.StatusBadRequest).SendString("Bad Request")
	}

	if vals.injected() {
		log.Warn("header injection attempt rejected")
		return c.Status(fiber.StatusBadRequest).SendString(msgInvalidInput)
	}

	if vals.get("hpcheck") != "" {
		log.Info("honeypot triggered")
		return c.Redirect(h.settings.SuccessURL, fiber.StatusFound)
	}

	if h.tooFast(vals.get("ts"), sub.minAge()) {
		log.Info("submission faster than minimum age")
		return c.Status(fiber.StatusTooManyRequests).SendString(msgTooFast)
	}

	if err := vals.decode(sub); err != nil {
		log.Debug("form decode failed", "error", err)
		return c.Status(fiber.StatusBadRequest).SendString("Bad Request")
	}

	if missing := sub.missing(); len(missing) > 0 {
		return c.Status(fiber.StatusUnprocessableEntity).SendString(msgCheckPrefix + strings.Join(missing, ", "))
	}

	env := &email.Envelope{
		From:     h.settings.From,
		FromName: h.settings.FromName,
		To:       h.settings.To,
		ReplyTo:  sub.replyTo(),
		Subject:  sub.subject(),
		Body:     sub.body(h.settings.Site),
	}
	if err := env.Validate(); err != nil {
		log.Warn("envelope rejected", "error", err)
		return c.Status(fiber.StatusBadRequest).SendString(msgInvalidInput)
	}

	res := h.deliverer.Deliver(c.UserContext(), env)
	if !res.Delivered {
		log.Error("notification not delivered",
			"attempt_id", res.AttemptID,
			"diagnostic", res.Diagnostic,
		)
		return c.Status(fiber.StatusInternalServerError).SendString(
			"Nachricht konnte nicht gesendet werden. Bitte senden Sie direkt an " +
				html.EscapeString(h.settings.To) + " oder per WhatsApp.")
	}

	log.Info("notification delivered",
		"attempt_id", res.AttemptID,
		"path", string(res.Path),
	)
	return c.Redirect(h.settings.SuccessURL, fiber.StatusFound)
}

// tooFast reports whether a millisecond timestamp is younger than age.
// A missing or unparsable timestamp disables the check.
func (h *Handler) tooFast(ts string, age time.Duration) bool {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil || ms == 0 {
		return false
	}
	return h.now().UnixMilli()-ms < age.Milliseconds()
}
