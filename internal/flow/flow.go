package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joshp123/gohome-electra/internal/entry"
)

// ResultType is the outcome of a flow step.
type ResultType string

const (
	ResultForm        ResultType = "form"
	ResultCreateEntry ResultType = "create_entry"
	ResultAbort       ResultType = "abort"
)

const (
	StepUser = "user"
	StepInit = "init"

	// ErrorBase keys errors that are not tied to a single field.
	ErrorBase = "base"

	AbortAlreadyConfigured = "already_configured"

	DefaultSessionTTL = 30 * time.Minute
)

var (
	ErrUnknownFlow    = errors.New("flow not found")
	ErrUnknownHandler = errors.New("no flow handler registered")
)

// Field describes one form input.
type Field struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
	Secret   bool   `json:"secret,omitempty"`
	Default  string `json:"default,omitempty"`
}

// Result is returned from every step. Form results carry fields and
// errors, create_entry results carry the data to persist.
type Result struct {
	Type         ResultType        `json:"type"`
	FlowID       string            `json:"flow_id"`
	Domain       string            `json:"domain"`
	StepID       string            `json:"step_id,omitempty"`
	Fields       []Field           `json:"fields,omitempty"`
	Errors       map[string]string `json:"errors,omitempty"`
	Placeholders map[string]string `json:"placeholders,omitempty"`
	Title        string            `json:"title,omitempty"`
	UniqueID     string            `json:"unique_id,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	Options      map[string]int    `json:"options,omitempty"`
	Reason       string            `json:"reason,omitempty"`
	EntryID      string            `json:"entry_id,omitempty"`
}

func Form(stepID string, fields []Field, errs map[string]string) Result {
	return Result{Type: ResultForm, StepID: stepID, Fields: fields, Errors: errs}
}

func CreateEntry(title, uniqueID string, data map[string]string) Result {
	return Result{Type: ResultCreateEntry, Title: title, UniqueID: uniqueID, Data: data}
}

func CreateOptions(options map[string]int) Result {
	return Result{Type: ResultCreateEntry, Options: options}
}

func Abort(reason string) Result {
	return Result{Type: ResultAbort, Reason: reason}
}

// Handler drives one flow instance. input is nil when the step's form
// should be shown without validation.
type Handler interface {
	Step(ctx context.Context, stepID string, input map[string]string) (Result, error)
}

type ConfigFlowFactory func() Handler

type OptionsFlowFactory func(e entry.Entry) Handler

type kind int

const (
	kindConfig kind = iota
	kindOptions
)

type session struct {
	mu      sync.Mutex
	id      string
	domain  string
	entryID string
	kind    kind
	handler Handler
	stepID  string
	touched time.Time
}

// Manager tracks in-progress flows and persists their results.
type Manager struct {
	store *entry.Store
	ttl   time.Duration
	now   func() time.Time

	mu       sync.Mutex
	config   map[string]ConfigFlowFactory
	options  map[string]OptionsFlowFactory
	sessions map[string]*session
}

func NewManager(store *entry.Store) *Manager {
	return &Manager{
		store:    store,
		ttl:      DefaultSessionTTL,
		now:      time.Now,
		config:   make(map[string]ConfigFlowFactory),
		options:  make(map[string]OptionsFlowFactory),
		sessions: make(map[string]*session),
	}
}

func (m *Manager) RegisterConfigFlow(domain string, factory ConfigFlowFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[domain] = factory
}

func (m *Manager) RegisterOptionsFlow(domain string, factory OptionsFlowFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[domain] = factory
}

// Domains lists domains with a registered config flow.
func (m *Manager) Domains() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.config))
	for domain := range m.config {
		out = append(out, domain)
	}
	return out
}

// Start begins a config flow at the user step.
func (m *Manager) Start(ctx context.Context, domain string) (Result, error) {
	m.mu.Lock()
	factory, ok := m.config[domain]
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownHandler, domain)
	}

	sess := m.open(domain, "", kindConfig, factory(), StepUser)
	return m.run(ctx, sess, nil)
}

// StartOptions begins an options flow for an existing entry.
func (m *Manager) StartOptions(ctx context.Context, domain, entryID string) (Result, error) {
	m.mu.Lock()
	factory, ok := m.options[domain]
	m.mu.Unlock()
	if !ok {
		return Result{}, fmt.Errorf("%w: %s options", ErrUnknownHandler, domain)
	}

	e, err := m.store.Get(ctx, domain, entryID)
	if err != nil {
		return Result{}, err
	}

	sess := m.open(domain, entryID, kindOptions, factory(e), StepInit)
	return m.run(ctx, sess, nil)
}

// Submit feeds user input into the current step of a flow.
func (m *Manager) Submit(ctx context.Context, flowID string, input map[string]string) (Result, error) {
	m.mu.Lock()
	m.pruneLocked()
	sess, ok := m.sessions[flowID]
	m.mu.Unlock()
	if !ok {
		return Result{}, ErrUnknownFlow
	}
	if input == nil {
		input = map[string]string{}
	}
	return m.run(ctx, sess, input)
}

// Cancel drops an in-progress flow.
func (m *Manager) Cancel(flowID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, flowID)
}

func (m *Manager) open(domain, entryID string, k kind, handler Handler, stepID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	sess := &session{
		id:      uuid.NewString(),
		domain:  domain,
		entryID: entryID,
		kind:    k,
		handler: handler,
		stepID:  stepID,
		touched: m.now(),
	}
	m.sessions[sess.id] = sess
	return sess
}

func (m *Manager) run(ctx context.Context, sess *session, input map[string]string) (Result, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	res, err := sess.handler.Step(ctx, sess.stepID, input)
	if err != nil {
		m.Cancel(sess.id)
		return Result{}, fmt.Errorf("flow %s step %s: %w", sess.domain, sess.stepID, err)
	}
	res.FlowID = sess.id
	res.Domain = sess.domain
	m.mu.Lock()
	sess.touched = m.now()
	m.mu.Unlock()

	switch res.Type {
	case ResultForm:
		sess.stepID = res.StepID
	case ResultAbort:
		m.Cancel(sess.id)
	case ResultCreateEntry:
		m.Cancel(sess.id)
		res, err = m.finish(ctx, sess, res)
		if err != nil {
			return Result{}, err
		}
	default:
		m.Cancel(sess.id)
		return Result{}, fmt.Errorf("flow %s returned unknown result type %q", sess.domain, res.Type)
	}

	flowResults.WithLabelValues(sess.domain, string(res.Type)).Inc()
	return res, nil
}

func (m *Manager) finish(ctx context.Context, sess *session, res Result) (Result, error) {
	if sess.kind == kindOptions {
		updated, err := m.store.UpdateOptions(ctx, sess.domain, sess.entryID, res.Options)
		if err != nil {
			return Result{}, err
		}
		res.EntryID = updated.EntryID
		return res, nil
	}

	exists, err := m.store.HasUniqueID(ctx, sess.domain, res.UniqueID)
	if err != nil {
		return Result{}, err
	}
	if exists {
		abort := Abort(AbortAlreadyConfigured)
		abort.FlowID = res.FlowID
		abort.Domain = res.Domain
		return abort, nil
	}

	created, err := m.store.Create(ctx, entry.Entry{
		Domain:   sess.domain,
		Title:    res.Title,
		UniqueID: res.UniqueID,
		Data:     res.Data,
		Options:  res.Options,
	})
	if err != nil {
		return Result{}, err
	}
	res.EntryID = created.EntryID
	return res, nil
}

func (m *Manager) pruneLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, sess := range m.sessions {
		if sess.touched.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}
