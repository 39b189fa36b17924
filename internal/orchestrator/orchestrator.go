// ABOUTME: Orchestrator drives one inbound farmer message through classify, dispatch, merge and persist
// ABOUTME: Owns per-farmer serialization, idempotent replay and operator-facing counters

package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/2389/awaki-gateway/internal/backend"
	"github.com/2389/awaki-gateway/internal/compose"
	"github.com/2389/awaki-gateway/internal/intent"
	"github.com/2389/awaki-gateway/internal/store"
)

// DefaultWindowSize is how many prior turns are sent to the advisory model
const DefaultWindowSize = 10

// persistTimeout bounds the writes at the end of a turn. Writes use a context
// detached from the caller so a disconnected webhook still records the turn.
const persistTimeout = 5 * time.Second

// ErrMissingFarmer is returned for messages without a farmer identity
var ErrMissingFarmer = errors.New("inbound message has no farmer id")

// State is a step of the per-message state machine
type State string

const (
	StateClassifying State = "classifying"
	StateDispatching State = "dispatching"
	StateMerging     State = "merging"
	StatePersisting  State = "persisting"
	StateComposed    State = "composed"
	StateFailed      State = "failed"
)

// ConversationStore is what the orchestrator needs from storage
type ConversationStore interface {
	AppendTurn(ctx context.Context, turn *store.Turn) error
	ReadWindow(ctx context.Context, farmerID string, n int) ([]*store.Turn, error)
	GetProfile(ctx context.Context, farmerID string) (*store.FarmerProfile, error)
	UpsertProfile(ctx context.Context, farmerID string, update store.ProfileUpdate) (*store.FarmerProfile, error)
	FindReply(ctx context.Context, farmerID, messageID string) (*store.Turn, error)
}

// AdvisoryBackend produces advisory prose
type AdvisoryBackend interface {
	Invoke(ctx context.Context, req backend.AdvisoryRequest) (backend.AdvisoryText, error)
}

// VisionBackend classifies crop photos
type VisionBackend interface {
	Invoke(ctx context.Context, req backend.VisionRequest) (backend.DiseaseDetection, error)
}

// WeatherBackend resolves locations and returns conditions
type WeatherBackend interface {
	Invoke(ctx context.Context, req backend.WeatherRequest) (backend.WeatherSnapshot, error)
}

// ReplayCache remembers composed replies by message id
type ReplayCache interface {
	Get(farmerID, messageID string) ([]string, bool)
	Put(farmerID, messageID string, bodies []string)
}

// InboundMessage is one message from a farmer as delivered by the channel
type InboundMessage struct {
	FarmerID   string
	Text       string
	MediaRef   string
	MessageID  string
	ReceivedAt time.Time
}

// Outcome describes how a message was handled
type Outcome struct {
	FarmerID  string
	MessageID string
	Decision  intent.Decision
	Bodies    []string
	Sections  []compose.SectionKind
	Failed    []string // adapters that errored
	Replayed  bool
	Persisted bool
	Trace     []State
}

// Counters are process-lifetime totals for operators
type Counters struct {
	Handled              int64 `json:"handled"`
	Replayed             int64 `json:"replayed"`
	TotalFailures        int64 `json:"total_failures"`
	AdapterFailures      int64 `json:"adapter_failures"`
	StorageReadFailures  int64 `json:"storage_read_failures"`
	StorageWriteFailures int64 `json:"storage_write_failures"`
}

// Options configures an Orchestrator. Store, Classifier and Advisory are required.
type Options struct {
	Store      ConversationStore
	Classifier *intent.Classifier
	Advisory   AdvisoryBackend
	Vision     VisionBackend
	Weather    WeatherBackend
	Replay     ReplayCache
	Composer   *compose.Composer
	WindowSize int
	Logger     *slog.Logger
}

// Orchestrator handles inbound messages. It is safe for concurrent use;
// messages from one farmer are processed one at a time.
type Orchestrator struct {
	store      ConversationStore
	classifier *intent.Classifier
	advisory   AdvisoryBackend
	vision     VisionBackend
	weather    WeatherBackend
	replay     ReplayCache
	composer   *compose.Composer
	windowSize int
	logger     *slog.Logger

	locks    *farmerLocks
	dispatch map[intent.Kind]dispatchFunc

	handled       atomic.Int64
	replayed      atomic.Int64
	totalFailures atomic.Int64
	adapterFails  atomic.Int64
	readFailures  atomic.Int64
	writeFailures atomic.Int64
}

// New creates an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Store == nil {
		return nil, errors.New("orchestrator: store is required")
	}
	if opts.Classifier == nil {
		return nil, errors.New("orchestrator: classifier is required")
	}
	if opts.Advisory == nil {
		return nil, errors.New("orchestrator: advisory backend is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Composer == nil {
		opts.Composer = compose.New(compose.DefaultLimit, backend.DefaultConfidenceFloor)
	}
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}

	o := &Orchestrator{
		store:      opts.Store,
		classifier: opts.Classifier,
		advisory:   opts.Advisory,
		vision:     opts.Vision,
		weather:    opts.Weather,
		replay:     opts.Replay,
		composer:   opts.Composer,
		windowSize: opts.WindowSize,
		logger:     opts.Logger.With("component", "orchestrator"),
		locks:      newFarmerLocks(),
	}
	o.dispatch = o.dispatchTable()
	return o, nil
}

// Handle processes one inbound message and returns the composed reply.
// Backend and storage failures degrade the reply rather than returning an
// error; an error means the message could not be handled at all.
func (o *Orchestrator) Handle(ctx context.Context, msg InboundMessage) (*Outcome, error) {
	out := &Outcome{FarmerID: msg.FarmerID, MessageID: msg.MessageID}
	logger := o.logger.With("farmer_id", msg.FarmerID, "message_id", msg.MessageID)

	if strings.TrimSpace(msg.FarmerID) == "" {
		o.enter(logger, out, StateFailed)
		return out, ErrMissingFarmer
	}

	release, err := o.locks.acquire(ctx, msg.FarmerID)
	if err != nil {
		o.enter(logger, out, StateFailed)
		return out, fmt.Errorf("waiting for farmer turn: %w", err)
	}
	defer release()

	o.enter(logger, out, StateClassifying)
	if bodies, ok := o.lookupReply(ctx, logger, msg); ok {
		out.Replayed = true
		out.Bodies = bodies
		o.replayed.Add(1)
		logger.Info("replaying composed reply for duplicate delivery")
		o.enter(logger, out, StateComposed)
		return out, nil
	}

	profile := o.loadProfile(ctx, logger, msg.FarmerID)
	in := intent.Message{Text: msg.Text, MediaRef: msg.MediaRef}
	region := ""
	if profile != nil {
		region = profile.Region
		in.AwaitingLocation = profile.AwaitingLocation
	}
	decision := o.classifier.Classify(in, region)
	out.Decision = decision
	logger.Debug("message classified",
		"intent", decision.Kind,
		"has_image", decision.HasImage,
		"location_hint", decision.LocationHint,
		"stated_location", decision.StatedLocation)

	o.enter(logger, out, StateDispatching)
	t := &turn{msg: msg, decision: decision, profile: profile}
	t.planting = plantingNote(t)
	dispatch, ok := o.dispatch[decision.Kind]
	if !ok {
		dispatch = o.dispatchUnknown
	}
	dispatch(ctx, logger, t)

	o.enter(logger, out, StateMerging)
	payload := t.merge()
	if t.totalFailure() {
		o.totalFailures.Add(1)
		logger.Warn("every backend failed, replying with apology", "failed", t.failed)
	}
	out.Bodies = o.composer.Render(payload)
	out.Sections = payload.Kinds()
	out.Failed = t.failed

	o.enter(logger, out, StatePersisting)
	if err := o.persist(ctx, t, out.Bodies); err != nil {
		o.writeFailures.Add(1)
		logger.Error("failed to persist turn", "error", err)
	} else {
		out.Persisted = true
	}

	if o.replay != nil {
		o.replay.Put(msg.FarmerID, msg.MessageID, out.Bodies)
	}
	o.handled.Add(1)
	o.enter(logger, out, StateComposed)
	return out, nil
}

// Counters returns a snapshot of the orchestrator's totals.
func (o *Orchestrator) Counters() Counters {
	return Counters{
		Handled:              o.handled.Load(),
		Replayed:             o.replayed.Load(),
		TotalFailures:        o.totalFailures.Load(),
		AdapterFailures:      o.adapterFails.Load(),
		StorageReadFailures:  o.readFailures.Load(),
		StorageWriteFailures: o.writeFailures.Load(),
	}
}

func (o *Orchestrator) enter(logger *slog.Logger, out *Outcome, s State) {
	out.Trace = append(out.Trace, s)
	logger.Debug("state transition", "state", s)
}

// lookupReply finds the reply already composed for a redelivered message,
// first in the replay cache and then in the store. Store hits are put back
// into the cache.
func (o *Orchestrator) lookupReply(ctx context.Context, logger *slog.Logger, msg InboundMessage) ([]string, bool) {
	if o.replay != nil {
		if bodies, ok := o.replay.Get(msg.FarmerID, msg.MessageID); ok {
			return bodies, true
		}
	}
	if msg.MessageID == "" {
		return nil, false
	}

	reply, err := o.store.FindReply(ctx, msg.FarmerID, msg.MessageID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return nil, false
	default:
		o.readFailures.Add(1)
		logger.Warn("failed to look up stored reply", "error", err)
		return nil, false
	}

	bodies := reply.Bodies()
	if o.replay != nil {
		o.replay.Put(msg.FarmerID, msg.MessageID, bodies)
	}
	return bodies, true
}

func (o *Orchestrator) loadProfile(ctx context.Context, logger *slog.Logger, farmerID string) *store.FarmerProfile {
	profile, err := o.store.GetProfile(ctx, farmerID)
	switch {
	case err == nil:
		return profile
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		o.readFailures.Add(1)
		logger.Warn("failed to read farmer profile", "error", err)
		return nil
	}
}

// readWindow loads recent turns as advisory history. A read failure
// degrades to an empty window.
func (o *Orchestrator) readWindow(ctx context.Context, logger *slog.Logger, farmerID string) []backend.WindowEntry {
	turns, err := o.store.ReadWindow(ctx, farmerID, o.windowSize)
	if err != nil {
		o.readFailures.Add(1)
		logger.Warn("failed to read conversation window, continuing without history", "error", err)
		return nil
	}

	window := make([]backend.WindowEntry, 0, len(turns))
	for _, tr := range turns {
		text := tr.Text
		if text == "" && tr.MediaRef != "" {
			text = "(sent a photo)"
		}
		if text == "" {
			continue
		}
		role := backend.RoleUser
		if tr.Speaker == store.SpeakerAssistant {
			role = backend.RoleAssistant
		}
		window = append(window, backend.WindowEntry{Role: role, Text: text, At: tr.CreatedAt})
	}
	return window
}
