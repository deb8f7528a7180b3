// Package assist runs generation tasks over a session's conversation: answer
// the last client question with retrieval context, interpret the whole
// conversation, or summarise it. Results land in the session's TaskOutput,
// which is local to the requesting session and never synchronized.
package assist

import (
	"context"
	"errors"
	"fmt"

	"github.com/nicknochnack/whisperd/chat"
	"github.com/nicknochnack/whisperd/logger"
	"github.com/nicknochnack/whisperd/metrics"
	"github.com/nicknochnack/whisperd/session"
)

// Mode selects the assistant task.
type Mode string

const (
	ModeInterpretLast         Mode = "interpret_last_question"
	ModeInterpretConversation Mode = "interpret_conversation"
	ModeSummarise             Mode = "summarise_conversation"
)

// ParseMode validates a client-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeInterpretLast, ModeInterpretConversation, ModeSummarise:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown assist mode %q", s)
	}
}

// DocumentNotLoaded is shown when a retrieval task runs without a loaded
// document store.
const DocumentNotLoaded = "Document Not Loaded"

// Service runs assistant tasks. The generator and retriever are external
// collaborators; both are called without holding any session-state lock, and
// only the final write of the result re-enters the synchronized path.
type Service struct {
	gen       Generator
	retriever Retriever // nil when no document store is configured
	sessions  *session.Store
	notifier  session.Notifier
	streaming bool
}

func NewService(gen Generator, retriever Retriever, sessions *session.Store) *Service {
	return &Service{
		gen:       gen,
		retriever: retriever,
		sessions:  sessions,
	}
}

// SetNotifier registers the UI push hook for TaskOutput changes.
func (s *Service) SetNotifier(n session.Notifier) { s.notifier = n }

// SetStreaming switches generation to streamed chunks, updating TaskOutput
// incrementally as they arrive.
func (s *Service) SetStreaming(enabled bool) { s.streaming = enabled }

// Run executes the task for the session and writes the result into its
// TaskOutput. Failures never corrupt the history: prior messages stay intact
// and the failure is surfaced in the output instead of being dropped.
func (s *Service) Run(ctx context.Context, sessionID string, mode Mode) {
	metrics.AssistRequests.WithLabelValues(string(mode)).Inc()

	st, ok := s.sessions.Get(sessionID)
	if !ok {
		logger.Debug("assist request for vanished session", "session", sessionID)
		return
	}

	prompt, err := s.buildPrompt(ctx, mode, st.Messages)
	if err != nil {
		if errors.Is(err, ErrDocumentNotLoaded) {
			s.setOutput(sessionID, DocumentNotLoaded)
			return
		}
		metrics.AssistFailures.WithLabelValues(string(mode)).Inc()
		logger.Error("assist prompt build failed", "session", sessionID, "mode", mode, "error", err)
		s.setOutput(sessionID, fmt.Sprintf("Error generating output: %v", err))
		return
	}
	if prompt == "" {
		s.setOutput(sessionID, "No client messages yet")
		return
	}

	if s.streaming {
		s.generateStreaming(ctx, sessionID, mode, prompt)
		return
	}

	out, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		metrics.AssistFailures.WithLabelValues(string(mode)).Inc()
		logger.Error("generation failed", "session", sessionID, "mode", mode, "error", err)
		s.setOutput(sessionID, fmt.Sprintf("Error generating output: %v", err))
		return
	}
	s.setOutput(sessionID, out)
}

func (s *Service) buildPrompt(ctx context.Context, mode Mode, msgs []chat.Message) (string, error) {
	switch mode {
	case ModeInterpretLast:
		clientTexts := chat.ClientTexts(msgs)
		if len(clientTexts) == 0 {
			return "", nil
		}
		return s.ragPrompt(ctx, clientTexts[len(clientTexts)-1])

	case ModeInterpretConversation:
		if len(chat.ClientTexts(msgs)) == 0 {
			return "", nil
		}
		return s.ragPrompt(ctx, chat.InterpretConversationQuery(msgs))

	case ModeSummarise:
		if len(msgs) == 0 {
			return "", nil
		}
		return chat.SummaryPrompt(msgs), nil

	default:
		return "", fmt.Errorf("unknown assist mode %q", mode)
	}
}

func (s *Service) ragPrompt(ctx context.Context, query string) (string, error) {
	if s.retriever == nil {
		return "", ErrDocumentNotLoaded
	}
	passages, err := s.retriever.Retrieve(ctx, query)
	if err != nil {
		if errors.Is(err, ErrDocumentNotLoaded) {
			return "", err
		}
		return "", fmt.Errorf("retrieval failed: %w", err)
	}
	if len(passages) == 0 {
		return "", ErrDocumentNotLoaded
	}
	return chat.RAGPrompt(query, passages), nil
}

func (s *Service) generateStreaming(ctx context.Context, sessionID string, mode Mode, prompt string) {
	chunks, err := s.gen.Stream(ctx, prompt)
	if err != nil {
		metrics.AssistFailures.WithLabelValues(string(mode)).Inc()
		logger.Error("generation stream failed", "session", sessionID, "mode", mode, "error", err)
		s.setOutput(sessionID, fmt.Sprintf("Error generating output: %v", err))
		return
	}

	answer := ""
	for chunk := range chunks {
		answer += chunk
		s.setOutput(sessionID, answer)
	}
}

func (s *Service) setOutput(sessionID, output string) {
	st, ok := s.sessions.Update(sessionID, func(state *session.State) {
		state.TaskOutput = output
	})
	if !ok {
		// Session disconnected while the task ran; nothing to show.
		return
	}
	if s.notifier != nil {
		s.notifier.StateChanged(sessionID, st)
	}
}
