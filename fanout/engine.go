// Package fanout implements the synchronization engine: whenever one session
// mutates the shared history, the change is copied to every other session in
// its group, and optionally relayed to sibling server instances and the
// transcript archive.
package fanout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nicknochnack/whisperd/broker"
	"github.com/nicknochnack/whisperd/chat"
	"github.com/nicknochnack/whisperd/group"
	"github.com/nicknochnack/whisperd/logger"
	"github.com/nicknochnack/whisperd/metrics"
	"github.com/nicknochnack/whisperd/session"
)

// ErrSessionNotFound is returned when the triggering session no longer exists,
// e.g. it disconnected between sending an action and the action being applied.
var ErrSessionNotFound = errors.New("session not found")

const relayPublishTimeout = 10 * time.Second

// Engine fans state changes out across a group. Convergence is eventual and
// last-writer-wins per target: two sessions mutating concurrently can leave
// siblings temporarily divergent until the next broadcast from any member
// re-converges them. The engine never holds more than one session lock at a
// time and never holds any lock across the whole fan-out.
type Engine struct {
	groups   *group.Table
	sessions *session.Store
	serverID string

	notifier session.Notifier     // optional; UI push
	relay    broker.MessageBroker // optional; cross-instance sync
	archive  *session.Archive     // optional; transcript persistence
}

func NewEngine(groups *group.Table, sessions *session.Store, serverID string) *Engine {
	return &Engine{
		groups:   groups,
		sessions: sessions,
		serverID: serverID,
	}
}

// SetNotifier registers the subscriber push hook. Must be called before the
// engine starts receiving actions.
func (e *Engine) SetNotifier(n session.Notifier) { e.notifier = n }

// SetRelay enables cross-instance fan-out through the given broker.
func (e *Engine) SetRelay(b broker.MessageBroker) { e.relay = b }

// SetArchive enables transcript persistence.
func (e *Engine) SetArchive(a *session.Archive) { e.archive = a }

// Append appends one message to the triggering session's history and fans the
// new history out to its group. The triggering session sees its own change
// synchronously; siblings are best effort.
func (e *Engine) Append(ctx context.Context, groupID, sessionID string, msg chat.Message) error {
	if !msg.Role.Valid() {
		return fmt.Errorf("invalid message role %q", msg.Role)
	}

	st, ok := e.sessions.Update(sessionID, func(s *session.State) {
		s.Messages = append(s.Messages, msg)
	})
	if !ok {
		return ErrSessionNotFound
	}

	e.notify(sessionID, st)
	e.fanOut(ctx, groupID, sessionID, st.Messages)
	return nil
}

// Replace overwrites the triggering session's history wholesale (demo
// conversations, clears) and fans it out.
func (e *Engine) Replace(ctx context.Context, groupID, sessionID string, msgs []chat.Message) error {
	st, ok := e.sessions.Update(sessionID, func(s *session.State) {
		s.Messages = chat.CloneMessages(msgs)
	})
	if !ok {
		return ErrSessionNotFound
	}

	e.notify(sessionID, st)
	e.fanOut(ctx, groupID, sessionID, st.Messages)
	return nil
}

// Clear resets the triggering session's whole state. Only the history is
// synchronized; siblings keep their own transient fields.
func (e *Engine) Clear(ctx context.Context, groupID, sessionID string) error {
	st, ok := e.sessions.Update(sessionID, func(s *session.State) {
		*s = session.State{}
	})
	if !ok {
		return ErrSessionNotFound
	}

	e.notify(sessionID, st)
	e.fanOut(ctx, groupID, sessionID, nil)
	return nil
}

// SeedOnJoin initializes a freshly joined session. Any one live sibling's
// history wins; all siblings are expected to hold convergent state so the
// tie-break is immaterial. With no live sibling the archived transcript is
// tried, and failing that the session starts empty.
func (e *Engine) SeedOnJoin(ctx context.Context, groupID, sessionID string) {
	for _, sibling := range e.groups.MembersExcluding(groupID, sessionID) {
		src, ok := e.sessions.Get(sibling)
		if !ok {
			continue
		}
		st, ok := e.sessions.Update(sessionID, func(s *session.State) {
			s.Messages = chat.CloneMessages(src.Messages)
		})
		if !ok {
			return
		}
		metrics.SeedsTotal.Inc()
		e.notify(sessionID, st)
		return
	}

	if e.archive == nil {
		return
	}
	msgs, err := e.archive.Load(ctx, groupID)
	if err != nil {
		logger.Warn("failed to load archived transcript", "group", groupID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	st, ok := e.sessions.Update(sessionID, func(s *session.State) {
		s.Messages = msgs
	})
	if !ok {
		return
	}
	metrics.SeedsTotal.Inc()
	e.notify(sessionID, st)
}

// fanOut copies msgs onto every other session in the group. Each target is
// updated under only its own lock, and a target that vanished mid-broadcast is
// skipped without affecting the rest or the trigger.
func (e *Engine) fanOut(ctx context.Context, groupID, sourceID string, msgs []chat.Message) {
	metrics.BroadcastsTotal.Inc()

	for _, target := range e.groups.MembersExcluding(groupID, sourceID) {
		st, ok := e.sessions.Update(target, func(s *session.State) {
			s.Messages = chat.CloneMessages(msgs)
		})
		if !ok {
			// Target disconnected mid-broadcast; siblings are best effort.
			metrics.SiblingUpdateFailures.Inc()
			logger.Debug("skipping vanished broadcast target", "group", groupID, "session", target)
			continue
		}
		metrics.BroadcastTargets.Inc()
		e.notify(target, st)
	}

	if e.archive != nil {
		if err := e.archive.Save(ctx, groupID, msgs); err != nil {
			logger.Warn("failed to archive transcript", "group", groupID, "error", err)
		}
	}

	if e.relay != nil {
		update := broker.Update{
			GroupID:   groupID,
			SessionID: sourceID,
			ServerID:  e.serverID,
			Messages:  chat.CloneMessages(msgs),
		}
		go func() {
			pubCtx, cancel := context.WithTimeout(context.Background(), relayPublishTimeout)
			defer cancel()
			if err := e.relay.Publish(pubCtx, broker.GroupSyncChannel, update); err != nil {
				logger.Error("failed to publish group update", "group", groupID, "error", err)
				return
			}
			metrics.RelayPublished.WithLabelValues(e.relay.Type()).Inc()
		}()
	}
}

// ApplyRemote applies an update published by another server instance to every
// local member of the group. Updates this instance published are dropped.
func (e *Engine) ApplyRemote(update broker.Update) {
	if update.ServerID == e.serverID {
		return
	}

	for _, target := range e.groups.MembersExcluding(update.GroupID, update.SessionID) {
		st, ok := e.sessions.Update(target, func(s *session.State) {
			s.Messages = chat.CloneMessages(update.Messages)
		})
		if !ok {
			metrics.SiblingUpdateFailures.Inc()
			continue
		}
		metrics.RelayApplied.Inc()
		e.notify(target, st)
	}
}

// Run consumes relayed updates until the context is cancelled. It is a no-op
// when no relay is configured.
func (e *Engine) Run(ctx context.Context) error {
	if e.relay == nil {
		return nil
	}

	updates, err := e.relay.Subscribe(ctx, broker.GroupSyncChannel)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", broker.GroupSyncChannel, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				logger.Info("group sync channel closed")
				return nil
			}
			e.ApplyRemote(update)
		}
	}
}

func (e *Engine) notify(sessionID string, st session.State) {
	if e.notifier != nil {
		e.notifier.StateChanged(sessionID, st)
	}
}
