package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"carechat-service/internal/cache"
	"carechat-service/internal/models"
	"carechat-service/internal/observability"
	"carechat-service/internal/realtime"
	"carechat-service/internal/repositories"
)

const (
	defaultMarkReadDelay = 500 * time.Millisecond
	defaultOpTimeout     = 8 * time.Second
)

// Config carries the collaborators a Session needs.
type Config struct {
	Conversations repositories.ConversationRepository
	Messages      repositories.MessageRepository
	Assignments   repositories.AssignmentRepository
	Feed          realtime.Feed
	Unread        cache.UnreadCounter
	Log           *zap.Logger

	// MarkReadDelay batches bursts of incoming messages into one read
	// reconciliation. Tunable, not a correctness knob.
	MarkReadDelay time.Duration
	// OpTimeout bounds each backend call so a stalled store surfaces as
	// ErrBackendUnavailable instead of hanging the caller.
	OpTimeout time.Duration
}

// Session owns the lifecycle of the current conversation for one
// participant: discovering or creating it, loading history, keeping a live
// subscription, and reconciling read state. All state it publishes is
// mutated only here; consumers read snapshots and call the operations.
type Session struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	assignments   repositories.AssignmentRepository
	feed          realtime.Feed
	unread        cache.UnreadCounter
	log           *zap.Logger
	markReadDelay time.Duration
	opTimeout     time.Duration

	mu            sync.Mutex
	participantID string
	role          models.Role
	convs         []models.Conversation
	selected      *models.Conversation
	msgs          []models.Message
	open          bool
	loading       bool
	unassigned    bool
	sub           realtime.Subscription
	// epoch increments on every selection and teardown. In-flight work
	// captured under an older epoch is discarded when it completes, so a
	// superseded Select never overwrites a newer one.
	epoch     uint64
	markTimer *time.Timer

	obsMu     sync.Mutex
	observers map[int]func(models.SessionSnapshot)
	nextObs   int
}

// New constructs an idle session. Begin starts it.
func New(cfg Config) *Session {
	if cfg.MarkReadDelay <= 0 {
		cfg.MarkReadDelay = defaultMarkReadDelay
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = defaultOpTimeout
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Unread == nil {
		cfg.Unread = cache.NewUnreadCounter("", cfg.Log)
	}
	return &Session{
		conversations: cfg.Conversations,
		messages:      cfg.Messages,
		assignments:   cfg.Assignments,
		feed:          cfg.Feed,
		unread:        cfg.Unread,
		log:           cfg.Log,
		markReadDelay: cfg.MarkReadDelay,
		opTimeout:     cfg.OpTimeout,
		observers:     make(map[int]func(models.SessionSnapshot)),
	}
}

// Begin establishes the session for a participant and resolves its relevant
// conversation. Caregivers get their active conversations newest-activity
// first with the first one auto-selected; patients get their single active
// conversation, created on the fly when a caregiver is assigned. A patient
// with no assignment gets ErrNoCounterpartAssigned and an otherwise usable
// empty session.
func (s *Session) Begin(ctx context.Context, participantID string, role models.Role) error {
	if !role.Valid() {
		observability.IncSessionOp("begin", "invalid_role")
		return ErrInvalidRole
	}

	s.mu.Lock()
	s.participantID = participantID
	s.role = role
	s.unassigned = false
	s.loading = true
	s.mu.Unlock()
	s.notify()
	defer s.setLoading(false)

	var err error
	if role == models.RoleCaregiver {
		err = s.beginCaregiver(ctx, participantID)
	} else {
		err = s.beginPatient(ctx, participantID)
	}
	if err != nil {
		result := "backend_unavailable"
		if errors.Is(err, ErrNoCounterpartAssigned) {
			result = "unassigned"
		}
		observability.IncSessionOp("begin", result)
		return err
	}
	observability.IncSessionOp("begin", "ok")
	return nil
}

func (s *Session) beginCaregiver(ctx context.Context, caregiverID string) error {
	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	convs, err := s.conversations.ListActiveForCaregiver(tctx, caregiverID)
	if err != nil {
		return backendErr(err)
	}

	s.mu.Lock()
	s.convs = convs
	s.mu.Unlock()
	s.notify()

	if len(convs) == 0 {
		return nil
	}
	// Most recently active conversation first; auto-select it.
	return s.Select(ctx, convs[0].ID)
}

func (s *Session) beginPatient(ctx context.Context, patientID string) error {
	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	conv, err := s.conversations.GetActiveForPatient(tctx, patientID)
	if errors.Is(err, repositories.ErrConversationNotFound) {
		caregiverID, lookupErr := s.assignments.ActiveCaregiverFor(tctx, patientID)
		if errors.Is(lookupErr, repositories.ErrNoAssignment) {
			s.mu.Lock()
			s.unassigned = true
			s.mu.Unlock()
			s.notify()
			return ErrNoCounterpartAssigned
		}
		if lookupErr != nil {
			return backendErr(lookupErr)
		}
		conv, err = s.conversations.CreateConversation(tctx, caregiverID, patientID)
		if err != nil {
			return backendErr(err)
		}
	} else if err != nil {
		return backendErr(err)
	}

	s.mu.Lock()
	s.convs = []models.Conversation{conv}
	s.mu.Unlock()
	s.notify()

	return s.Select(ctx, conv.ID)
}

// Select makes the conversation current: previous subscription torn down
// first, history replacing the local list wholesale, a fresh subscription
// opened, then read reconciliation. Re-selecting the current conversation is
// a full refresh. A Select superseded by a newer one discards its own late
// results. Selecting before Begin fails with ErrNoActiveConversation.
func (s *Session) Select(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	if s.role == "" {
		s.mu.Unlock()
		return ErrNoActiveConversation
	}
	conv := s.findConversationLocked(conversationID)
	s.mu.Unlock()

	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	if conv == nil {
		fetched, err := s.conversations.GetConversation(tctx, conversationID)
		if errors.Is(err, repositories.ErrConversationNotFound) {
			observability.IncSessionOp("select", "not_found")
			return err
		}
		if err != nil {
			observability.IncSessionOp("select", "backend_unavailable")
			return backendErr(err)
		}
		conv = &fetched
	}

	// Teardown strictly precedes the new subscription so a stale handler can
	// never double-deliver into the new state. Close is awaited.
	s.mu.Lock()
	prev := s.selected
	old := s.sub
	s.sub = nil
	s.epoch++
	epoch := s.epoch
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}

	msgs, err := s.messages.ListByConversation(tctx, conv.ID)
	if err != nil {
		s.restoreSubscription(prev, epoch)
		observability.IncSessionOp("select", "backend_unavailable")
		return backendErr(err)
	}

	sub, err := s.feed.Subscribe(conv.ID, func(m models.Message) { s.ingest(epoch, m) })
	if err != nil {
		s.restoreSubscription(prev, epoch)
		observability.IncSessionOp("select", "backend_unavailable")
		return backendErr(err)
	}

	s.mu.Lock()
	if s.epoch != epoch {
		// A newer selection won while we were loading.
		s.mu.Unlock()
		sub.Close()
		observability.IncSessionOp("select", "superseded")
		return nil
	}
	s.selected = conv
	s.msgs = msgs
	s.sub = sub
	s.mu.Unlock()
	s.notify()

	observability.IncSessionOp("select", "ok")
	s.MarkCounterpartRead(ctx)
	return nil
}

// restoreSubscription re-opens the previously selected conversation's feed
// after a failed selection, so the failure leaves observable state as it was.
func (s *Session) restoreSubscription(prev *models.Conversation, epoch uint64) {
	if prev == nil {
		return
	}
	sub, err := s.feed.Subscribe(prev.ID, func(m models.Message) { s.ingest(epoch, m) })
	if err != nil {
		s.log.Warn("failed to restore subscription", zap.String("conversation_id", prev.ID), zap.Error(err))
		return
	}
	s.mu.Lock()
	if s.epoch != epoch || s.sub != nil {
		s.mu.Unlock()
		sub.Close()
		return
	}
	s.sub = sub
	s.mu.Unlock()
}

// ingest handles one pushed message row. Duplicates by id are discarded,
// which also covers the sender's own echo racing the send response. The list
// is append-only in arrival order; history loads are server-ordered, and live
// ordering is deliberately relaxed to arrival order after dedup.
func (s *Session) ingest(epoch uint64, msg models.Message) {
	s.mu.Lock()
	if s.epoch != epoch || s.selected == nil || msg.ConversationID != s.selected.ID {
		s.mu.Unlock()
		observability.IncMessageIngested("stale")
		return
	}
	for i := range s.msgs {
		if s.msgs[i].ID == msg.ID {
			s.mu.Unlock()
			observability.IncMessageIngested("duplicate")
			return
		}
	}
	s.msgs = append(s.msgs, msg)
	fromCounterpart := msg.SenderRole != s.role
	open := s.open
	reader := string(s.role)
	conversationID := s.selected.ID
	s.mu.Unlock()

	observability.IncMessageIngested("appended")
	if fromCounterpart {
		if err := s.unread.Incr(context.Background(), conversationID, reader); err != nil {
			s.log.Debug("unread incr failed", zap.Error(err))
		}
	}
	s.notify()

	if open && fromCounterpart {
		s.scheduleMarkRead()
	}
}

// scheduleMarkRead debounces read reconciliation so a burst of incoming
// messages produces one bulk update instead of one per message.
func (s *Session) scheduleMarkRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markTimer != nil {
		s.markTimer.Stop()
	}
	s.markTimer = time.AfterFunc(s.markReadDelay, func() {
		s.MarkCounterpartRead(context.Background())
	})
}

// Send submits a message tagged with the local role. The message is not
// appended locally here: the authoritative append happens through the same
// live-ingestion path as any other message, deduplicated by id.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		observability.IncSessionOp("send", "empty")
		return ErrEmptyMessage
	}

	s.mu.Lock()
	conv := s.selected
	role := s.role
	s.mu.Unlock()
	if conv == nil {
		observability.IncSessionOp("send", "no_conversation")
		return ErrNoActiveConversation
	}

	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	msg, err := s.messages.CreateMessage(tctx, conv.ID, role, text)
	if err != nil {
		observability.IncSessionOp("send", "failed")
		return sendErr(err)
	}

	if err := s.conversations.TouchActivity(tctx, conv.ID); err != nil {
		s.log.Warn("touch activity failed", zap.String("conversation_id", conv.ID), zap.Error(err))
	}
	if err := s.feed.Publish(ctx, msg); err != nil {
		s.log.Warn("feed publish failed", zap.String("message_id", msg.ID), zap.Error(err))
	}

	observability.IncSessionOp("send", "ok")
	return nil
}

// MarkCounterpartRead flips every unread counterpart message locally first,
// then issues one bulk update to the store. A failed remote update is logged
// and the optimistic local state kept; read state is not safety critical.
// Safe to call repeatedly.
func (s *Session) MarkCounterpartRead(ctx context.Context) {
	s.mu.Lock()
	if s.role == "" || s.selected == nil {
		s.mu.Unlock()
		return
	}
	counterpart := s.role.Counterpart()
	changed := false
	for i := range s.msgs {
		if s.msgs[i].SenderRole == counterpart && !s.msgs[i].Read {
			s.msgs[i].Read = true
			changed = true
		}
	}
	conversationID := s.selected.ID
	reader := string(s.role)
	s.mu.Unlock()

	if changed {
		s.notify()
	}

	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.messages.MarkReadBySender(tctx, conversationID, counterpart); err != nil {
		s.log.Warn("read reconciliation failed", zap.String("conversation_id", conversationID), zap.Error(err))
		return
	}
	if err := s.unread.Reset(tctx, conversationID, reader); err != nil {
		s.log.Debug("unread reset failed", zap.Error(err))
	}
}

// Open marks the chat surface open and reconciles read state, mirroring a
// user bringing the conversation into view.
func (s *Session) Open(ctx context.Context) {
	s.mu.Lock()
	s.open = true
	selected := s.selected != nil
	s.mu.Unlock()
	s.notify()
	if selected {
		s.MarkCounterpartRead(ctx)
	}
}

// CloseSurface marks the chat surface closed.
func (s *Session) CloseSurface() {
	s.mu.Lock()
	s.open = false
	s.mu.Unlock()
	s.notify()
}

// Toggle flips the surface flag and returns the new state.
func (s *Session) Toggle(ctx context.Context) bool {
	s.mu.Lock()
	s.open = !s.open
	open := s.open
	selected := s.selected != nil
	s.mu.Unlock()
	s.notify()
	if open && selected {
		s.MarkCounterpartRead(ctx)
	}
	return open
}

// End tears the session down: subscription closed, state wiped, surface
// closed. Safe to call on a session that was never begun.
func (s *Session) End() {
	s.mu.Lock()
	if s.markTimer != nil {
		s.markTimer.Stop()
		s.markTimer = nil
	}
	sub := s.sub
	s.sub = nil
	s.epoch++
	s.participantID = ""
	s.role = ""
	s.convs = nil
	s.selected = nil
	s.msgs = nil
	s.open = false
	s.loading = false
	s.unassigned = false
	s.mu.Unlock()
	if sub != nil {
		sub.Close()
	}
	s.notify()
	observability.IncSessionOp("end", "ok")
}

// Conversations returns the loaded conversation list annotated with unread
// counts, cache first with the store as the authoritative fallback.
func (s *Session) Conversations(ctx context.Context) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	role := s.role
	convs := make([]models.Conversation, len(s.convs))
	copy(convs, s.convs)
	s.mu.Unlock()
	if role == "" {
		return nil, ErrNoActiveConversation
	}

	tctx, cancel := s.opCtx(ctx)
	defer cancel()

	counterpart := role.Counterpart()
	summaries := make([]models.ConversationSummary, 0, len(convs))
	for _, conv := range convs {
		count, err := s.unread.Get(tctx, conv.ID, string(role))
		if err != nil {
			count, err = s.messages.CountUnreadBySender(tctx, conv.ID, counterpart)
			if err != nil {
				return nil, backendErr(err)
			}
		}
		summaries = append(summaries, models.ConversationSummary{Conversation: conv, Unread: count})
	}
	return summaries, nil
}

// Snapshot returns a copy of the published session state.
func (s *Session) Snapshot() models.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.SessionSnapshot {
	snap := models.SessionSnapshot{
		ParticipantID: s.participantID,
		Role:          s.role,
		Conversations: make([]models.Conversation, len(s.convs)),
		Messages:      make([]models.Message, len(s.msgs)),
		Open:          s.open,
		Loading:       s.loading,
		Unassigned:    s.unassigned,
	}
	copy(snap.Conversations, s.convs)
	copy(snap.Messages, s.msgs)
	if s.selected != nil {
		conv := *s.selected
		snap.Conversation = &conv
	}
	return snap
}

// AddObserver registers a snapshot callback and returns its remover.
func (s *Session) AddObserver(fn func(models.SessionSnapshot)) func() {
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = fn
	s.obsMu.Unlock()
	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Session) notify() {
	s.mu.Lock()
	snap := s.snapshotLocked()
	s.mu.Unlock()

	s.obsMu.Lock()
	fns := make([]func(models.SessionSnapshot), 0, len(s.observers))
	for _, fn := range s.observers {
		fns = append(fns, fn)
	}
	s.obsMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

func (s *Session) setLoading(v bool) {
	s.mu.Lock()
	s.loading = v
	s.mu.Unlock()
	s.notify()
}

func (s *Session) findConversationLocked(conversationID string) *models.Conversation {
	for i := range s.convs {
		if s.convs[i].ID == conversationID {
			conv := s.convs[i]
			return &conv
		}
	}
	return nil
}

func (s *Session) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}
