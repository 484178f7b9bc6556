// ABOUTME: Orchestrator driving one streaming generation per assistant message
// ABOUTME: Consumes engine chunks, persists partials under a lease, and fans out stream events

package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Dacosmicgiant/LawBuddy/internal/chat"
	"github.com/Dacosmicgiant/LawBuddy/internal/engine"
	"github.com/Dacosmicgiant/LawBuddy/internal/events"
	"github.com/Dacosmicgiant/LawBuddy/internal/hub"
	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

// ErrStreamActive is returned when a stream id already has a running task.
var ErrStreamActive = errors.New("stream already active")

const (
	defaultLeaseDuration  = 30 * time.Second
	defaultLeaseHeartbeat = 10 * time.Second
	defaultStreamTimeout  = 2 * time.Minute
)

// Config holds the generation timing knobs.
type Config struct {
	// LeaseDuration is how long a lease renewal keeps the message claimed.
	LeaseDuration time.Duration
	// LeaseHeartbeat is the renewal interval. Must be shorter than the lease.
	LeaseHeartbeat time.Duration
	// StreamTimeout bounds one full generation end to end.
	StreamTimeout time.Duration
	// NonStreaming generates the whole response in one call instead of
	// consuming a chunk stream. Clients still see start and complete events.
	NonStreaming bool
}

// Orchestrator runs streaming generations against the engine and keeps the
// message lifecycle, the lease, and the room fan-out in step. One task runs
// per stream id; every task ends by driving its message to a terminal state.
type Orchestrator struct {
	chat   *chat.Service
	engine engine.Engine
	hub    *hub.Hub
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// NewOrchestrator creates an orchestrator. Zero config fields take defaults.
func NewOrchestrator(chatSvc *chat.Service, eng engine.Engine, h *hub.Hub, cfg Config, logger *slog.Logger) *Orchestrator {
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaultLeaseDuration
	}
	if cfg.LeaseHeartbeat <= 0 {
		cfg.LeaseHeartbeat = defaultLeaseHeartbeat
	}
	if cfg.StreamTimeout <= 0 {
		cfg.StreamTimeout = defaultStreamTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		chat:   chatSvc,
		engine: eng,
		hub:    h,
		cfg:    cfg,
		logger: logger.With("component", "generation"),
		active: make(map[string]context.CancelFunc),
	}
}

// Start launches a generation task for a pending assistant message. The task
// is detached from the caller's connection; it keeps streaming to the room
// even if the originator disconnects, until it completes, fails, times out,
// or is cancelled through Cancel.
func (o *Orchestrator) Start(msg *store.Message, req engine.Request) error {
	if msg.StreamID == "" {
		return fmt.Errorf("message %s has no stream id", msg.ID)
	}
	if !o.engine.IsAvailable() {
		if ok, _ := o.chat.Fail(context.Background(), msg.StreamID, "AI service unavailable"); ok {
			o.broadcastError(msg, "AI service is not configured")
		}
		return engine.ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.cfg.StreamTimeout)

	o.mu.Lock()
	if _, exists := o.active[msg.StreamID]; exists {
		o.mu.Unlock()
		cancel()
		return ErrStreamActive
	}
	o.active[msg.StreamID] = cancel
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer cancel()
		defer o.release(msg.StreamID)
		o.run(ctx, msg, req)
	}()
	return nil
}

// Cancel stops a running stream. The message is driven to CANCELLED and the
// room is notified; returns false when no task is running for the stream.
func (o *Orchestrator) Cancel(ctx context.Context, streamID string) (bool, error) {
	o.mu.Lock()
	cancel, running := o.active[streamID]
	o.mu.Unlock()
	if !running {
		return false, nil
	}

	// Terminate first so the race with a concurrent complete has exactly
	// one winner, then tear the task's context down.
	ok, err := o.chat.Cancel(ctx, streamID, "Response cancelled")
	if err != nil {
		return false, err
	}
	if ok {
		if msg, err := o.chat.Store().GetMessageByStream(ctx, streamID); err == nil {
			o.hub.BroadcastToRoom(msg.ChatSessionID, events.AIStreamCancelled{
				ChatID:    msg.ChatSessionID,
				StreamID:  streamID,
				MessageID: msg.ID,
				Content:   msg.Content,
				Timestamp: time.Now().UTC(),
			}, "")
		}
	}
	cancel()
	return ok, nil
}

// ActiveStreams reports how many generation tasks are currently running.
func (o *Orchestrator) ActiveStreams() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

// Shutdown cancels every running task and waits for them to finish.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	for _, cancel := range o.active {
		cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (o *Orchestrator) release(streamID string) {
	o.mu.Lock()
	delete(o.active, streamID)
	o.mu.Unlock()
}

func (o *Orchestrator) run(ctx context.Context, msg *store.Message, req engine.Request) {
	// Terminal writes must land even after the task context is torn down.
	storeCtx := context.WithoutCancel(ctx)
	started := time.Now()

	ok, err := o.chat.BeginStreaming(storeCtx, msg.StreamID)
	if err != nil {
		o.logger.Error("failed to begin streaming", "stream_id", msg.StreamID, "error", err)
		return
	}
	if !ok {
		// Already terminal, nothing to stream.
		return
	}
	o.renewLease(storeCtx, msg.StreamID)

	o.hub.BroadcastToRoom(msg.ChatSessionID, events.AIStreamStart{
		ChatID:    msg.ChatSessionID,
		StreamID:  msg.StreamID,
		MessageID: msg.ID,
		Timestamp: time.Now().UTC(),
	}, "")

	if o.cfg.NonStreaming {
		o.runSingleShot(ctx, storeCtx, msg, req, started)
		return
	}

	chunks, err := o.engine.Stream(ctx, req)
	if err != nil {
		o.logger.Error("engine stream failed to start", "stream_id", msg.StreamID, "error", err)
		o.fail(storeCtx, msg, "Generation failed to start")
		return
	}

	heartbeat := time.NewTicker(o.cfg.LeaseHeartbeat)
	defer heartbeat.Stop()

	var content strings.Builder
	index := 0
	for {
		select {
		case <-ctx.Done():
			o.finishInterrupted(storeCtx, ctx, msg)
			return

		case <-heartbeat.C:
			o.renewLease(storeCtx, msg.StreamID)

		case chunk, open := <-chunks:
			if !open {
				if ctx.Err() != nil {
					o.finishInterrupted(storeCtx, ctx, msg)
					return
				}
				// The engine must end with a terminal chunk; a bare close
				// means it died mid-stream.
				o.fail(storeCtx, msg, "Generation ended unexpectedly")
				return
			}
			switch {
			case chunk.Err != "":
				if ctx.Err() != nil {
					// The engine is echoing our own context teardown.
					o.finishInterrupted(storeCtx, ctx, msg)
					return
				}
				o.logger.Warn("generation failed", "stream_id", msg.StreamID, "error", chunk.Err)
				o.fail(storeCtx, msg, "Generation failed")
				return

			case chunk.Final != nil:
				o.complete(storeCtx, msg, chunk.Final, time.Since(started))
				return

			default:
				applied, err := o.chat.AppendChunk(storeCtx, msg.StreamID, chunk.Delta)
				if err != nil {
					o.logger.Error("failed to persist chunk", "stream_id", msg.StreamID, "error", err)
					o.fail(storeCtx, msg, "Generation failed")
					return
				}
				if !applied {
					// Someone else drove the message terminal; stop quietly.
					return
				}
				content.WriteString(chunk.Delta)
				index++
				o.hub.BroadcastToRoom(msg.ChatSessionID, events.AIStreamChunk{
					ChatID:     msg.ChatSessionID,
					StreamID:   msg.StreamID,
					MessageID:  msg.ID,
					Chunk:      chunk.Delta,
					Content:    content.String(),
					ChunkIndex: index,
					Timestamp:  time.Now().UTC(),
				}, "")
			}
		}
	}
}

// runSingleShot produces the whole response in one engine call. Used when
// streaming is disabled; the message still walks the same lifecycle.
func (o *Orchestrator) runSingleShot(ctx, storeCtx context.Context, msg *store.Message, req engine.Request, started time.Time) {
	result, err := o.engine.Generate(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			o.finishInterrupted(storeCtx, ctx, msg)
			return
		}
		o.logger.Warn("generation failed", "stream_id", msg.StreamID, "error", err)
		o.fail(storeCtx, msg, "Generation failed")
		return
	}
	o.complete(storeCtx, msg, result, time.Since(started))
}

func (o *Orchestrator) complete(ctx context.Context, msg *store.Message, result *engine.Result, elapsed time.Duration) {
	metadata := engine.BuildMetadata(result, elapsed.Seconds())
	formatting := engine.ExtractFormatting(result.Text)

	completed, ok, err := o.chat.Complete(ctx, msg.StreamID, result.Text, metadata, formatting)
	if err != nil {
		o.logger.Error("failed to complete message", "stream_id", msg.StreamID, "error", err)
		return
	}
	if !ok {
		// Lost the race against a cancel; the winner already notified.
		return
	}

	o.logger.Info("generation complete",
		"stream_id", msg.StreamID,
		"message_id", completed.ID,
		"tokens", metadata.TokenCount,
		"elapsed", elapsed,
	)
	o.hub.BroadcastToRoom(completed.ChatSessionID, events.AIStreamComplete{
		ChatID:    completed.ChatSessionID,
		StreamID:  msg.StreamID,
		Message:   events.MessageFromStore(completed),
		Timestamp: time.Now().UTC(),
	}, "")
}

func (o *Orchestrator) fail(ctx context.Context, msg *store.Message, reason string) {
	ok, err := o.chat.Fail(ctx, msg.StreamID, reason)
	if err != nil {
		o.logger.Error("failed to mark message failed", "stream_id", msg.StreamID, "error", err)
		return
	}
	if ok {
		o.broadcastError(msg, reason)
	}
}

func (o *Orchestrator) broadcastError(msg *store.Message, reason string) {
	o.hub.BroadcastToRoom(msg.ChatSessionID, events.AIStreamError{
		ChatID:    msg.ChatSessionID,
		StreamID:  msg.StreamID,
		MessageID: msg.ID,
		Error:     reason,
		Timestamp: time.Now().UTC(),
	}, "")
}

// finishInterrupted resolves a task whose context ended before the engine
// produced a terminal chunk. Deadline means timeout; plain cancellation was
// either handled by Cancel already or comes from shutdown.
func (o *Orchestrator) finishInterrupted(storeCtx, taskCtx context.Context, msg *store.Message) {
	if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
		o.logger.Warn("generation timed out", "stream_id", msg.StreamID)
		o.fail(storeCtx, msg, "Response timed out")
		return
	}

	ok, err := o.chat.Cancel(storeCtx, msg.StreamID, "Response cancelled")
	if err != nil {
		o.logger.Error("failed to cancel message", "stream_id", msg.StreamID, "error", err)
		return
	}
	if ok {
		if current, err := o.chat.Store().GetMessageByStream(storeCtx, msg.StreamID); err == nil {
			o.hub.BroadcastToRoom(current.ChatSessionID, events.AIStreamCancelled{
				ChatID:    current.ChatSessionID,
				StreamID:  msg.StreamID,
				MessageID: current.ID,
				Content:   current.Content,
				Timestamp: time.Now().UTC(),
			}, "")
		}
	}
}

func (o *Orchestrator) renewLease(ctx context.Context, streamID string) {
	until := time.Now().UTC().Add(o.cfg.LeaseDuration)
	if err := o.chat.RenewLease(ctx, streamID, until); err != nil {
		o.logger.Warn("lease renewal failed", "stream_id", streamID, "error", err)
	}
}
