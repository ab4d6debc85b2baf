package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/nugget/gitbot/internal/params"
)

// FallbackPolicy decides which lookup failures lead to creating a new
// assistant.
type FallbackPolicy string

const (
	// FallbackNotFound creates only when no id is configured or the
	// backend does not know the configured id.
	FallbackNotFound FallbackPolicy = "not_found"

	// FallbackAnyError creates on any lookup failure.
	FallbackAnyError FallbackPolicy = "any_error"
)

// PersonaBackend is the part of the backend persona resolution needs.
type PersonaBackend interface {
	RetrieveAssistant(ctx context.Context, id string) (Persona, error)
	CreateAssistant(ctx context.Context, spec PersonaSpec) (Persona, error)
}

// Lookup is the outcome of TryGet.
type Lookup int

const (
	Found Lookup = iota
	NotFound
)

// Resolver finds the deployment's assistant, creating it on first use
// and persisting the new id for later invocations.
type Resolver struct {
	backend         PersonaBackend
	source          params.Source
	writer          params.Writer
	functions       []FunctionSpec
	codeInterpreter bool
	policy          FallbackPolicy
	logger          *slog.Logger

	// create collapses concurrent creations inside one process.
	create singleflight.Group
}

// ResolverConfig holds Resolver dependencies.
type ResolverConfig struct {
	Backend         PersonaBackend
	Params          params.Source
	Writer          params.Writer // may be nil: created ids are then not persisted
	Functions       []FunctionSpec
	CodeInterpreter bool
	Policy          FallbackPolicy
	Logger          *slog.Logger
}

// NewResolver returns a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	policy := cfg.Policy
	if policy == "" {
		policy = FallbackNotFound
	}
	return &Resolver{
		backend:         cfg.Backend,
		source:          cfg.Params,
		writer:          cfg.Writer,
		functions:       cfg.Functions,
		codeInterpreter: cfg.CodeInterpreter,
		policy:          policy,
		logger:          cfg.Logger,
	}
}

// TryGet looks up the configured assistant. It returns NotFound when a
// new assistant should be created and an error when resolution must
// stop.
func (r *Resolver) TryGet(ctx context.Context) (Persona, Lookup, error) {
	id, err := r.source.Get(ctx, params.AssistantID)
	switch {
	case params.IsNotFound(err):
		return Persona{}, NotFound, nil
	case err != nil:
		if r.policy == FallbackAnyError {
			r.logger.Warn("assistant id unreadable, creating a new assistant", "error", err)
			return Persona{}, NotFound, nil
		}
		return Persona{}, NotFound, fmt.Errorf("read assistant id: %w", err)
	case id == "":
		return Persona{}, NotFound, nil
	}

	p, err := r.backend.RetrieveAssistant(ctx, id)
	switch {
	case err == nil:
		return p, Found, nil
	case errors.Is(err, ErrNotFound):
		r.logger.Warn("configured assistant does not exist", "assistant_id", id)
		return Persona{}, NotFound, nil
	case r.policy == FallbackAnyError:
		r.logger.Warn("assistant lookup failed, creating a new assistant", "assistant_id", id, "error", err)
		return Persona{}, NotFound, nil
	default:
		return Persona{}, NotFound, err
	}
}

// Resolve returns the assistant, creating it when TryGet reports
// NotFound.
func (r *Resolver) Resolve(ctx context.Context) (Persona, error) {
	p, lookup, err := r.TryGet(ctx)
	if err != nil {
		return Persona{}, err
	}
	if lookup == Found {
		return p, nil
	}

	v, err, _ := r.create.Do("persona", func() (any, error) {
		return r.createPersona(ctx)
	})
	if err != nil {
		return Persona{}, err
	}
	return v.(Persona), nil
}

func (r *Resolver) createPersona(ctx context.Context) (Persona, error) {
	spec := PersonaSpec{
		Functions:       r.functions,
		CodeInterpreter: r.codeInterpreter,
	}
	var err error
	if spec.Name, err = params.Require(ctx, r.source, params.AssistantName); err != nil {
		return Persona{}, err
	}
	if spec.Instructions, err = params.Require(ctx, r.source, params.AssistantInstruction); err != nil {
		return Persona{}, err
	}
	if spec.Model, err = params.Require(ctx, r.source, params.AssistantModel); err != nil {
		return Persona{}, err
	}

	p, err := r.backend.CreateAssistant(ctx, spec)
	if err != nil {
		return Persona{}, err
	}

	// The assistant exists either way; a failed write only means the
	// next cold start creates another one.
	if r.writer != nil {
		if err := r.writer.Put(ctx, params.AssistantID, p.ID); err != nil {
			r.logger.Error("persisting assistant id failed", "assistant_id", p.ID, "error", err)
		}
	}
	return p, nil
}
