package assistant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nugget/gitbot/internal/params"
)

type fakePersonaBackend struct {
	mu        sync.Mutex
	existing  map[string]Persona
	lookupErr error
	created   []PersonaSpec
}

func (f *fakePersonaBackend) RetrieveAssistant(_ context.Context, id string) (Persona, error) {
	if f.lookupErr != nil {
		return Persona{}, f.lookupErr
	}
	if p, ok := f.existing[id]; ok {
		return p, nil
	}
	return Persona{}, ErrNotFound
}

func (f *fakePersonaBackend) CreateAssistant(_ context.Context, spec PersonaSpec) (Persona, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, spec)
	return Persona{ID: "asst_created", Name: spec.Name, Model: spec.Model}, nil
}

type memWriter struct {
	values map[string]string
	err    error
}

func (m *memWriter) Put(_ context.Context, name, value string) error {
	if m.err != nil {
		return m.err
	}
	m.values[name] = value
	return nil
}

var personaParams = params.Static{
	params.AssistantName:        "gitbot",
	params.AssistantInstruction: "Help with pull requests.",
	params.AssistantModel:       "gpt-4o",
}

func withID(id string) params.Source {
	return params.Chain{params.Static{params.AssistantID: id}, personaParams}
}

func TestResolveExisting(t *testing.T) {
	backend := &fakePersonaBackend{existing: map[string]Persona{"asst_1": {ID: "asst_1"}}}
	r := NewResolver(ResolverConfig{Backend: backend, Params: withID("asst_1"), Logger: discardLogger()})

	p, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "asst_1" {
		t.Errorf("ID = %q, want asst_1", p.ID)
	}
	if len(backend.created) != 0 {
		t.Errorf("created %d assistants, want 0", len(backend.created))
	}
}

func TestResolveCreatesWhenUnconfigured(t *testing.T) {
	backend := &fakePersonaBackend{}
	w := &memWriter{values: map[string]string{}}
	fns := []FunctionSpec{{Name: "listPR"}, {Name: "getPR"}}
	r := NewResolver(ResolverConfig{
		Backend:   backend,
		Params:    personaParams,
		Writer:    w,
		Functions: fns,
		Logger:    discardLogger(),
	})

	p, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "asst_created" {
		t.Errorf("ID = %q, want asst_created", p.ID)
	}
	if len(backend.created) != 1 {
		t.Fatalf("created %d, want 1", len(backend.created))
	}
	spec := backend.created[0]
	if spec.Name != "gitbot" || spec.Instructions != "Help with pull requests." || spec.Model != "gpt-4o" || len(spec.Functions) != 2 {
		t.Errorf("spec = %+v", spec)
	}
	if w.values[params.AssistantID] != "asst_created" {
		t.Errorf("persisted id = %q, want asst_created", w.values[params.AssistantID])
	}
}

func TestResolveCreatesWhenBackendForgot(t *testing.T) {
	backend := &fakePersonaBackend{}
	r := NewResolver(ResolverConfig{Backend: backend, Params: withID("asst_deleted"), Logger: discardLogger()})

	p, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "asst_created" {
		t.Errorf("ID = %q, want asst_created", p.ID)
	}
}

func TestResolveFallbackPolicy(t *testing.T) {
	outage := errors.New("503 service unavailable")

	t.Run("not_found propagates outages", func(t *testing.T) {
		backend := &fakePersonaBackend{lookupErr: outage}
		r := NewResolver(ResolverConfig{Backend: backend, Params: withID("asst_1"), Logger: discardLogger()})

		_, err := r.Resolve(context.Background())
		if !errors.Is(err, outage) {
			t.Fatalf("Resolve error = %v, want outage", err)
		}
		if len(backend.created) != 0 {
			t.Errorf("created %d assistants during outage, want 0", len(backend.created))
		}
	})

	t.Run("any_error creates", func(t *testing.T) {
		backend := &fakePersonaBackend{lookupErr: outage}
		r := NewResolver(ResolverConfig{
			Backend: backend,
			Params:  withID("asst_1"),
			Policy:  FallbackAnyError,
			Logger:  discardLogger(),
		})

		p, err := r.Resolve(context.Background())
		if err != nil {
			t.Fatalf("Resolve: %v", err)
		}
		if p.ID != "asst_created" {
			t.Errorf("ID = %q, want asst_created", p.ID)
		}
	})
}

func TestResolveMissingPersonaParameter(t *testing.T) {
	backend := &fakePersonaBackend{}
	src := params.Static{params.AssistantName: "gitbot", params.AssistantModel: "gpt-4o"}
	r := NewResolver(ResolverConfig{Backend: backend, Params: src, Logger: discardLogger()})

	_, err := r.Resolve(context.Background())
	var pe *params.Error
	if !errors.As(err, &pe) || pe.Name != params.AssistantInstruction {
		t.Fatalf("Resolve error = %v, want *params.Error for instruction", err)
	}
	if len(backend.created) != 0 {
		t.Errorf("created %d, want 0", len(backend.created))
	}
}

func TestResolvePersistFailureIsNotFatal(t *testing.T) {
	backend := &fakePersonaBackend{}
	w := &memWriter{err: errors.New("read-only")}
	r := NewResolver(ResolverConfig{Backend: backend, Params: personaParams, Writer: w, Logger: discardLogger()})

	p, err := r.Resolve(context.Background())
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.ID != "asst_created" {
		t.Errorf("ID = %q", p.ID)
	}
}

func TestTryGet(t *testing.T) {
	backend := &fakePersonaBackend{existing: map[string]Persona{"asst_1": {ID: "asst_1"}}}

	r := NewResolver(ResolverConfig{Backend: backend, Params: withID("asst_1"), Logger: discardLogger()})
	if _, lookup, err := r.TryGet(context.Background()); err != nil || lookup != Found {
		t.Errorf("TryGet(configured) = %v, %v; want Found", lookup, err)
	}

	r = NewResolver(ResolverConfig{Backend: backend, Params: params.Static{}, Logger: discardLogger()})
	if _, lookup, err := r.TryGet(context.Background()); err != nil || lookup != NotFound {
		t.Errorf("TryGet(unconfigured) = %v, %v; want NotFound", lookup, err)
	}
}
