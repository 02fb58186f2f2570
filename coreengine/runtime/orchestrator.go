// Package runtime drives counseling sessions: the turn-by-turn orchestration
// loop, the registry of in-flight sessions, and the batch runner.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pescn/psy-data-gen/commbus"
	"github.com/pescn/psy-data-gen/coreengine/affect"
	"github.com/pescn/psy-data-gen/coreengine/agents"
	"github.com/pescn/psy-data-gen/coreengine/config"
	"github.com/pescn/psy-data-gen/coreengine/observability"
	"github.com/pescn/psy-data-gen/coreengine/phase"
	"github.com/pescn/psy-data-gen/coreengine/risk"
	"github.com/pescn/psy-data-gen/coreengine/session"
)

var tracer = otel.Tracer("psygen/runtime")

// SessionInput describes one session to run.
type SessionInput struct {
	// ID is generated when empty.
	ID        string
	Student   agents.Persona
	Counselor agents.Persona
	// Opening overrides Student.Opening as the first student utterance.
	Opening string
	// Seed overrides the configured seed.
	Seed     *int64
	Metadata map[string]string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus publishes session events on bus.
func WithBus(bus commbus.CommBus) Option {
	return func(o *Orchestrator) { o.bus = bus }
}

// WithRegistry tracks in-flight sessions in r.
func WithRegistry(r *Registry) Option {
	return func(o *Orchestrator) { o.registry = r }
}

// WithStateMachine replaces the default phase graph.
func WithStateMachine(sm *phase.StateMachine) Option {
	return func(o *Orchestrator) { o.machine = sm }
}

// WithEmotionTable replaces the default emotion transition table.
func WithEmotionTable(t affect.TransitionTable) Option {
	return func(o *Orchestrator) { o.emotions = t }
}

// PrepareFunc completes a batch input before its session starts. in.Seed is
// already set.
type PrepareFunc func(ctx context.Context, index int, in SessionInput) (SessionInput, error)

// WithPrepare runs prepare on every RunBatch input. A prepare error fails
// that session only.
func WithPrepare(prepare PrepareFunc) Option {
	return func(o *Orchestrator) { o.prepare = prepare }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs sessions against an AgentPort. It holds no per-session
// state, so one Orchestrator can run many sessions concurrently.
type Orchestrator struct {
	cfg      *config.CoreConfig
	port     agents.AgentPort
	logger   agents.Logger
	machine  *phase.StateMachine
	assessor *risk.Assessor
	emotions affect.TransitionTable
	bus      commbus.CommBus
	registry *Registry
	prepare  PrepareFunc
	now      func() time.Time
}

// New creates an Orchestrator.
func New(cfg *config.CoreConfig, port agents.AgentPort, logger agents.Logger, opts ...Option) (*Orchestrator, error) {
	if cfg == nil {
		return nil, errors.New("orchestrator requires a config")
	}
	if port == nil {
		return nil, errors.New("orchestrator requires an agent port")
	}
	if logger == nil {
		return nil, errors.New("orchestrator requires a logger")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	assessor, err := risk.NewAssessor(cfg.RiskLexicon, cfg.RiskThreshold)
	if err != nil {
		return nil, fmt.Errorf("risk assessor: %w", err)
	}

	o := &Orchestrator{
		cfg:      cfg,
		port:     port,
		logger:   logger,
		machine:  phase.NewDefaultStateMachine(),
		assessor: assessor,
		emotions: affect.DefaultTransitionTable(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if err := o.emotions.Validate(); err != nil {
		return nil, fmt.Errorf("emotion table: %w", err)
	}
	return o, nil
}

// run is the per-session working set. It lives for one Run call.
type run struct {
	o         *Orchestrator
	in        SessionInput
	state     *session.State
	model     *affect.Model
	logger    agents.Logger
	startedAt time.Time
}

// Run executes one session to completion and returns its final snapshot.
//
// The returned error is non-nil only when the session ended with reason
// "error"; the snapshot is returned in that case too. Input validation
// failures return a nil snapshot.
func (o *Orchestrator) Run(ctx context.Context, in SessionInput) (*session.Snapshot, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	seed := o.cfg.SeedFor(0)
	if in.Seed != nil {
		seed = *in.Seed
	}
	model, err := affect.NewModel(o.emotions, o.cfg.AffectLexicon, rand.New(rand.NewSource(seed)))
	if err != nil {
		return nil, err
	}

	start := o.now()
	state := session.NewState(in.ID, o.machine.Initial(), model.Initialize(in.Student.AffectSeed()), start)
	for k, v := range in.Metadata {
		state.Metadata[k] = v
	}
	state.Metadata["seed"] = strconv.FormatInt(seed, 10)
	state.Metadata["student"] = in.Student.Name
	state.Metadata["counselor"] = in.Counselor.Name

	r := &run{
		o:         o,
		in:        in,
		state:     state,
		model:     model,
		logger:    o.logger.Bind("session_id", state.ID),
		startedAt: start,
	}

	ctx, span := tracer.Start(ctx, "session.run", trace.WithAttributes(
		attribute.String("session.id", state.ID),
		attribute.Int64("session.seed", seed),
	))
	defer span.End()

	r.logger.Info("session_started",
		"student", in.Student.Name,
		"counselor", in.Counselor.Name,
		"seed", seed,
		"max_rounds", o.cfg.MaxRounds,
	)
	r.publish(ctx, &commbus.SessionStarted{
		SessionID: state.ID,
		Student:   in.Student.Name,
		Counselor: in.Counselor.Name,
		Seed:      seed,
	})

	snap, err := r.loop(ctx)

	span.SetAttributes(
		attribute.String("session.termination_reason", string(snap.TerminationReason)),
		attribute.Int("session.rounds", snap.CurrentRound),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return snap, err
}

func validateInput(in SessionInput) error {
	if err := in.Student.Validate(); err != nil {
		return agents.NewValidationError("student", err.Error())
	}
	if err := in.Counselor.Validate(); err != nil {
		return agents.NewValidationError("counselor", err.Error())
	}
	if in.Student.Role != session.RoleStudent {
		return agents.NewValidationError("student", fmt.Sprintf("persona %q has role %s", in.Student.Name, in.Student.Role))
	}
	if in.Counselor.Role != session.RoleCounselor {
		return agents.NewValidationError("counselor", fmt.Sprintf("persona %q has role %s", in.Counselor.Name, in.Counselor.Role))
	}
	return nil
}

// =============================================================================
// ROUND LOOP
// =============================================================================

func (r *run) loop(ctx context.Context) (*session.Snapshot, error) {
	st := r.state

	opening := strings.TrimSpace(r.in.Opening)
	if opening == "" {
		opening = strings.TrimSpace(r.in.Student.Opening)
	}
	if opening != "" {
		if err := r.appendTurn(ctx, session.RoleStudent, opening); err != nil {
			return r.fail(ctx, err)
		}
	}
	r.track()

	for {
		if err := ctx.Err(); err != nil {
			r.logger.Warn("session_cancelled", "round", st.CurrentRound, "error", err.Error())
			return r.end(ctx, session.ReasonError, err), err
		}

		done, err := r.round(ctx)
		if err != nil {
			return r.fail(ctx, err)
		}
		if done {
			return r.finish(ctx), nil
		}
		r.track()
	}
}

// round plays one round. done reports that the session has ended.
func (r *run) round(ctx context.Context) (done bool, err error) {
	st := r.state
	cfg := r.o.cfg

	ctx, span := tracer.Start(ctx, "session.round", trace.WithAttributes(
		attribute.Int("session.round", st.CurrentRound),
		attribute.String("session.phase", string(st.CurrentPhase)),
	))
	defer span.End()

	// 1. counselor speaks
	utterance, err := r.produce(ctx, session.RoleCounselor)
	if err != nil {
		return false, err
	}
	if err := r.appendTurn(ctx, session.RoleCounselor, utterance); err != nil {
		return false, err
	}

	// 2. evaluate
	ev, err := r.evaluate(ctx)
	if err != nil {
		return false, err
	}

	// 3. risk
	assessed := r.o.assessor.AssessTexts(st.RecentStudentTexts(cfg.RiskWindow))
	merged := risk.Merge(assessed, ev.Risk)
	st.CumulativeRisk = risk.Merge(st.CumulativeRisk, merged)
	record := session.RiskRecord{
		Round:    st.CurrentRound,
		Assessed: assessed,
		External: ev.Risk.Clone(),
		Merged:   merged,

		ReportedOverall: ev.ReportedOverall,
	}
	st.RiskHistory = append(st.RiskHistory, record)

	r.publish(ctx, &commbus.RoundEvaluated{
		SessionID:  st.ID,
		Evaluation: st.Evaluations[len(st.Evaluations)-1],
		MergedRisk: record.Level(),
	})

	// 4. emergency
	if record.Exceeds(cfg.RiskThreshold) {
		r.logger.Warn("risk_emergency",
			"round", st.CurrentRound,
			"overall", merged.Overall,
			"reported_overall", ev.ReportedOverall,
			"suicide", merged.Suicide,
			"self_harm", merged.SelfHarm,
			"harm_others", merged.HarmOthers,
			"indicators", merged.Indicators,
		)
		observability.RecordRiskEmergency()
		r.publish(ctx, &commbus.RiskEmergencyRaised{
			SessionID: st.ID,
			Round:     st.CurrentRound,
			Threshold: cfg.RiskThreshold,
			Record:    record,
		})
		st.End(session.ReasonRiskEmergency, nil, r.o.now())
		return true, nil
	}

	// 5. transition
	advanced := false
	if requested, ok := ev.Transition.Request(); ok {
		from := st.CurrentPhase
		reason, ended := r.transition(ctx, requested)
		if ended {
			st.End(reason, nil, r.o.now())
			return true, nil
		}
		advanced = st.CurrentPhase != from
	}

	// 6. terminal phase has run its course
	if r.exhausted() {
		r.logger.Info("phase_exhausted", "round", st.CurrentRound, "phase", st.CurrentPhase, "phase_round", st.PhaseRound)
		st.End(session.ReasonPhaseExhaustion, nil, r.o.now())
		return true, nil
	}

	// 7. round limit
	if st.CurrentRound >= cfg.MaxRounds {
		st.End(session.ReasonMaxRounds, nil, r.o.now())
		return true, nil
	}

	// 8. student replies
	before := st.Affect.Emotion
	st.Affect = r.model.Update(st.Affect, st.LastUtterance(session.RoleCounselor))
	if st.Affect.Emotion != before {
		st.EmotionLog = append(st.EmotionLog, session.EmotionRecord{
			Round: st.CurrentRound,
			From:  before,
			To:    st.Affect.Emotion,
			After: st.Affect,
		})
		r.logger.Debug("emotion_changed", "round", st.CurrentRound, "from", before, "to", st.Affect.Emotion)
	}

	reply, err := r.produce(ctx, session.RoleStudent)
	if err != nil {
		return false, err
	}
	st.CurrentRound++
	if !advanced {
		st.PhaseRound++
	}
	if err := r.appendTurn(ctx, session.RoleStudent, reply); err != nil {
		return false, err
	}
	return false, nil
}

// exhausted reports that the session sits in a terminal phase that has run
// MinRoundsPerPhase rounds and the conversation has reached MinRounds.
func (r *run) exhausted() bool {
	st := r.state
	cfg := r.o.cfg
	return r.o.machine.IsTerminal(st.CurrentPhase) &&
		st.PhaseRound >= cfg.MinRoundsPerPhase &&
		st.CurrentRound >= cfg.MinRounds
}

// transition applies a requested phase change. ended reports that the
// session must stop with reason.
func (r *run) transition(ctx context.Context, requested *phase.Phase) (reason session.TerminationReason, ended bool) {
	st := r.state
	d := r.o.machine.Apply(st.CurrentPhase, requested)

	rec := session.TransitionRecord{
		Round:     st.CurrentRound,
		From:      d.From,
		Requested: d.Requested,
		To:        d.Phase,
		Accepted:  d.Accepted,
		Terminal:  d.Terminal,
		Reason:    d.Reason,
		At:        r.o.now(),
	}
	st.TransitionLog = append(st.TransitionLog, rec)

	to := ""
	if requested != nil {
		to = string(*requested)
	}
	observability.RecordPhaseTransition(string(d.From), to, d.Accepted)

	switch {
	case d.Terminal:
		r.logger.Info("phase_flow_end", "round", st.CurrentRound, "phase", st.CurrentPhase)
		r.publish(ctx, &commbus.PhaseTransitionApplied{SessionID: st.ID, Record: rec})
		return session.ReasonFlowControlEnd, true

	case d.Accepted:
		r.logger.Info("phase_transition_applied", "round", st.CurrentRound, "from", d.From, "to", d.Phase)
		st.CurrentPhase = d.Phase
		st.PhaseRound = 1
		r.publish(ctx, &commbus.PhaseTransitionApplied{SessionID: st.ID, Record: rec})
		return "", false

	default:
		r.logger.Warn("phase_transition_rejected", "round", st.CurrentRound, "from", d.From, "requested", to, "reason", d.Reason)
		r.publish(ctx, &commbus.PhaseTransitionRejected{SessionID: st.ID, Record: rec})
		if r.o.machine.IsTerminal(st.CurrentPhase) {
			return session.ReasonPhaseExhaustion, true
		}
		return "", false
	}
}

// =============================================================================
// PORT CALLS
// =============================================================================

func (r *run) produce(ctx context.Context, role session.Role) (string, error) {
	st := r.state
	speaker, listener := r.in.Counselor, r.in.Student
	if role == session.RoleStudent {
		speaker, listener = r.in.Student, r.in.Counselor
	}
	uc := agents.UtteranceContext{
		SessionID: st.ID,
		Round:     st.CurrentRound,
		Phase:     st.CurrentPhase,
		History:   st.Snapshot().History,
		Affect:    st.Affect,
		Speaker:   speaker,
		Listener:  listener,
	}

	text, err := callPort(ctx, r, agents.OpProduceUtterance, func(callCtx context.Context) (string, error) {
		return r.o.port.ProduceUtterance(callCtx, role, uc)
	})
	if err != nil {
		return "", err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", agents.NewValidationError("utterance", fmt.Sprintf("empty %s utterance", role))
	}
	return text, nil
}

func (r *run) evaluate(ctx context.Context) (agents.Evaluation, error) {
	st := r.state
	ec := agents.EvaluationContext{
		SessionID:         st.ID,
		Round:             st.CurrentRound,
		PhaseRound:        st.PhaseRound,
		Phase:             st.CurrentPhase,
		Next:              r.o.machine.ValidTransitions(st.CurrentPhase),
		History:           st.Snapshot().History,
		Affect:            st.Affect,
		Student:           r.in.Student,
		Counselor:         r.in.Counselor,
		MinRoundsPerPhase: r.o.cfg.MinRoundsPerPhase,
		MaxRoundsPerPhase: r.o.cfg.MaxRoundsPerPhase,
	}

	raw, err := callPort(ctx, r, agents.OpEvaluateRound, func(callCtx context.Context) (*agents.Evaluation, error) {
		return r.o.port.EvaluateRound(callCtx, ec)
	})
	if err != nil {
		return agents.Evaluation{}, err
	}
	ev := agents.NormalizeEvaluation(raw)

	rec := session.EvaluationRecord{
		Round:       st.CurrentRound,
		Phase:       st.CurrentPhase,
		Transition:  string(ev.Transition.Kind),
		Confidence:  ev.Confidence,
		Reason:      ev.Reason,
		Notes:       ev.Notes,
		Observed:    ev.Observed,
		Suggestions: ev.Suggestions,
	}
	if ev.Transition.Kind == agents.TransitionAdvance {
		rec.Target = ev.Transition.Target.Ptr()
	}
	st.Evaluations = append(st.Evaluations, rec)

	r.logger.Debug("round_evaluated",
		"round", st.CurrentRound,
		"phase", st.CurrentPhase,
		"transition", ev.Transition.String(),
		"confidence", ev.Confidence,
		"external_risk", ev.Risk.Overall,
	)
	return ev, nil
}

// callPort runs one port call detached from the session's cancellation and
// bounded by the per-call timeout. Panics become *agents.PanicError and every
// other untyped failure becomes a TransportError.
func callPort[T any](ctx context.Context, r *run, op string, fn func(context.Context) (T, error)) (T, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.o.cfg.CallTimeout())
	defer cancel()

	callCtx, span := tracer.Start(callCtx, "port."+op, trace.WithAttributes(
		attribute.String("session.id", r.state.ID),
		attribute.Int("session.round", r.state.CurrentRound),
	))
	defer span.End()

	start := time.Now()
	result, err := SafeExecuteWithResult(r.logger, op, func() (T, error) {
		return fn(callCtx)
	})
	if err != nil {
		err = classifyPortError(op, err)
	}

	outcome := agents.ClassifyError(err)
	observability.RecordPortCall(op, string(outcome), int(time.Since(start).Milliseconds()))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
		r.logger.Error("port_call_failed", "operation", op, "outcome", outcome, "error", err.Error())
		var zero T
		return zero, err
	}
	return result, nil
}

func classifyPortError(op string, err error) error {
	var (
		pe *agents.PanicError
		te *agents.TransportError
		se *agents.SchemaError
		ve *agents.ValidationError
	)
	if errors.As(err, &pe) || errors.As(err, &te) || errors.As(err, &se) || errors.As(err, &ve) {
		return err
	}
	return agents.NewTransportError(op, err)
}

// =============================================================================
// BOOKKEEPING
// =============================================================================

func (r *run) appendTurn(ctx context.Context, role session.Role, content string) error {
	st := r.state
	p := st.CurrentPhase
	turn := session.Turn{
		Speaker:     role,
		Content:     content,
		RoundNumber: st.CurrentRound,
		Phase:       &p,
		CreatedAt:   r.o.now(),
	}
	if role == session.RoleStudent {
		turn.Emotion = st.Affect.Emotion.Ptr()
	}
	if err := st.AppendTurn(turn); err != nil {
		return err
	}
	r.publish(ctx, &commbus.TurnAppended{SessionID: st.ID, Turn: turn})
	return nil
}

func (r *run) track() {
	if r.o.registry != nil {
		r.o.registry.update(r.state.Snapshot())
	}
}

func (r *run) publish(ctx context.Context, msg commbus.Message) {
	if r.o.bus == nil {
		return
	}
	if err := r.o.bus.Publish(ctx, msg); err != nil {
		r.logger.Warn("event_publish_failed", "type", commbus.GetMessageType(msg), "error", err.Error())
	}
}

func (r *run) fail(ctx context.Context, err error) (*session.Snapshot, error) {
	return r.end(ctx, session.ReasonError, err), fmt.Errorf("session %s: %w", r.state.ID, err)
}

func (r *run) finish(ctx context.Context) *session.Snapshot {
	return r.end(ctx, r.state.TerminationReason, nil)
}

// end marks the session terminal (first reason wins), records metrics and
// publishes SessionEnded.
func (r *run) end(ctx context.Context, reason session.TerminationReason, err error) *session.Snapshot {
	st := r.state
	st.End(reason, err, r.o.now())
	snap := st.Snapshot()

	durationMS := int(r.o.now().Sub(r.startedAt).Milliseconds())
	observability.RecordSessionEnd(string(snap.TerminationReason), snap.CurrentRound, durationMS)

	fields := []any{
		"reason", snap.TerminationReason,
		"rounds", snap.CurrentRound,
		"phase", snap.CurrentPhase,
		"duration_ms", durationMS,
		"max_risk", snap.CumulativeRisk.Overall,
	}
	if snap.TerminationReason.IsFailure() {
		r.logger.Error("session_ended", append(fields, "error", snap.Error)...)
	} else {
		r.logger.Info("session_ended", fields...)
	}

	event := &commbus.SessionEnded{
		SessionID:  snap.ID,
		Reason:     snap.TerminationReason,
		Rounds:     snap.CurrentRound,
		FinalPhase: string(snap.CurrentPhase),
		DurationMS: durationMS,
		Snapshot:   snap.Clone(),
	}
	if snap.Error != "" {
		msg := snap.Error
		event.Error = &msg
	}
	// subscribers must still run for a cancelled session
	r.publish(context.WithoutCancel(ctx), event)

	if r.o.registry != nil {
		r.o.registry.remove(snap.ID)
	}
	return snap
}
