// Package delivery chooses between the authenticated relay and a fallback
// transport for each outbound envelope and reduces every failure to a
// single delivered flag.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/form-relay/internal/email"
	"github.com/shineum/form-relay/internal/provider"
	"github.com/shineum/form-relay/internal/smtp"
)

// Path identifies which transport delivered an envelope.
type Path string

const (
	PathRelay    Path = "relay"
	PathFallback Path = "fallback"
	PathNone     Path = "none"
)

// Relay submits an envelope through the authenticated SMTP relay.
// *smtp.Client implements it.
type Relay interface {
	Send(ctx context.Context, env *email.Envelope) (*smtp.Transcript, error)
	Config() smtp.ConnectionConfig
}

// Result is the outcome of one delivery attempt.
type Result struct {
	Delivered bool
	Path      Path

	// AttemptID tags every log line written for this attempt.
	AttemptID string

	// Fallback is the name of the fallback provider if it was tried.
	Fallback string

	// Diagnostic describes each failed tier, separated by "; ".
	Diagnostic string

	// Transcript is the relay dialogue, nil when the relay was skipped or
	// never connected.
	Transcript *smtp.Transcript
}

// Orchestrator tries the relay once and then the fallback once.
type Orchestrator struct {
	relay    Relay
	fallback provider.Provider
	logger   *slog.Logger
	newID    func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithIDFunc replaces the attempt ID generator.
func WithIDFunc(f func() string) Option {
	return func(o *Orchestrator) { o.newID = f }
}

// New creates an Orchestrator. Either relay or fallback may be nil, in which
// case that tier is skipped.
func New(relay Relay, fallback provider.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		relay:    relay,
		fallback: fallback,
		logger:   slog.Default(),
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Deliver sends env through the first tier that accepts it. It never
// panics and never returns an error: all failures end up in Result.
func (o *Orchestrator) Deliver(ctx context.Context, env *email.Envelope) (res Result) {
	res = Result{Path: PathNone, AttemptID: o.newID()}
	log := o.logger.With("attempt_id", res.AttemptID)

	var diags []string
	defer func() {
		if r := recover(); r != nil {
			log.Error("delivery panicked", "panic", r)
			diags = append(diags, fmt.Sprintf("panic: %v", r))
			res.Delivered = false
			res.Path = PathNone
		}
		res.Diagnostic = strings.Join(diags, "; ")
	}()

	// An unsafe envelope is rejected for every transport alike.
	if err := env.Validate(); err != nil {
		log.Warn("envelope rejected", "error", err)
		diags = append(diags, err.Error())
		return res
	}

	if o.relay != nil && o.relay.Config().Usable() {
		cfg := o.relay.Config()
		transcript, err := o.relay.Send(ctx, env)
		res.Transcript = transcript
		if err == nil {
			log.Info("delivered via relay",
				"relay", cfg.Addr(),
				"to", env.To,
			)
			res.Delivered = true
			res.Path = PathRelay
			return res
		}
		log.Warn("relay delivery failed",
			append([]any{"relay", cfg.Addr(), "error", err}, failureAttrs(err, transcript)...)...,
		)
		diags = append(diags, "relay: "+err.Error())
	} else {
		log.Debug("relay skipped: disabled or missing credentials")
	}

	if o.fallback == nil {
		log.Error("delivery failed: no fallback configured")
		return res
	}

	res.Fallback = o.fallback.Name()
	if err := o.fallback.Send(ctx, env); err != nil {
		log.Error("fallback delivery failed",
			"provider", res.Fallback,
			"error", err,
		)
		diags = append(diags, res.Fallback+": "+err.Error())
		return res
	}

	log.Info("delivered via fallback",
		"provider", res.Fallback,
		"to", env.To,
	)
	res.Delivered = true
	res.Path = PathFallback
	return res
}

// failureAttrs returns log attributes classifying a relay failure.
func failureAttrs(err error, transcript *smtp.Transcript) []any {
	var (
		ce *smtp.ConnectError
		pe *smtp.ProtocolError
	)
	switch {
	case errors.As(err, &ce):
		return []any{"kind", ce.Kind.String()}
	case errors.As(err, &pe):
		return []any{"stage", pe.Stage.String(), "transcript", transcript}
	}
	return nil
}
