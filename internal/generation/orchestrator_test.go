// ABOUTME: Tests for the generation orchestrator
// ABOUTME: Covers completion, failure, cancellation races, timeout, and shutdown

package generation

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dacosmicgiant/LawBuddy/internal/chat"
	"github.com/Dacosmicgiant/LawBuddy/internal/engine"
	"github.com/Dacosmicgiant/LawBuddy/internal/events"
	"github.com/Dacosmicgiant/LawBuddy/internal/hub"
	"github.com/Dacosmicgiant/LawBuddy/internal/store"
)

// captureSender records every event delivered to a connection.
type captureSender struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureSender) Send(event events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSender) all() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.events...)
}

func (c *captureSender) typesSeen() []string {
	var types []string
	for _, e := range c.all() {
		types = append(types, e.EventType())
	}
	return types
}

type testRig struct {
	chat     *chat.Service
	hub      *hub.Hub
	sender   *captureSender
	session  *store.ChatSession
	pending  *store.Message
	streamID string
}

// setupRig creates a session with a pending assistant message and a second
// room member watching the stream.
func setupRig(t *testing.T) *testRig {
	t.Helper()
	ctx := context.Background()

	svc := chat.NewService(store.NewMockStore(), nil)
	session, err := svc.CreateSession(ctx, "user-1", "Helmet question")
	require.NoError(t, err)
	pending, err := svc.CreatePending(ctx, "user-1", session.ID, store.RoleAssistant, "")
	require.NoError(t, err)

	h := hub.New(nil)
	sender := &captureSender{}
	h.Register("conn-1", "watcher", sender)
	require.NoError(t, h.JoinRoom(session.ID, "watcher", "conn-1"))

	return &testRig{
		chat:     svc,
		hub:      h,
		sender:   sender,
		session:  session,
		pending:  pending,
		streamID: pending.StreamID,
	}
}

func newOrchestrator(rig *testRig, eng engine.Engine, cfg Config) *Orchestrator {
	return NewOrchestrator(rig.chat, eng, rig.hub, cfg, nil)
}

func waitForStatus(t *testing.T, rig *testRig, want store.MessageStatus) *store.Message {
	t.Helper()
	var msg *store.Message
	require.Eventually(t, func() bool {
		var err error
		msg, err = rig.chat.GetMessage(context.Background(), "user-1", rig.pending.ID)
		return err == nil && msg.Status == want
	}, 2*time.Second, 5*time.Millisecond, "message never reached %s", want)
	return msg
}

func TestStart_CompletesAndBroadcasts(t *testing.T) {
	rig := setupRig(t)
	eng := engine.ScriptText("gemini-2.0-flash", "The fine is ", "Rs. 1000 under ", "Section 194D.")
	orch := newOrchestrator(rig, eng, Config{})

	require.NoError(t, orch.Start(rig.pending, engine.Request{Prompt: "Helmet fine?"}))
	msg := waitForStatus(t, rig, store.StatusComplete)

	assert.Equal(t, "The fine is Rs. 1000 under Section 194D.", msg.Content)
	assert.Empty(t, msg.Partial)
	require.NotNil(t, msg.Metadata)
	assert.Equal(t, "gemini-2.0-flash", msg.Metadata.Model)
	assert.Contains(t, msg.Metadata.LegalSources, "Section 194D")

	require.Eventually(t, func() bool {
		return orch.ActiveStreams() == 0
	}, time.Second, 5*time.Millisecond)

	types := rig.sender.typesSeen()
	assert.Equal(t, events.TypeAIStreamStart, types[0])
	assert.Equal(t, events.TypeAIStreamComplete, types[len(types)-1])

	var chunks []events.AIStreamChunk
	for _, e := range rig.sender.all() {
		if c, ok := e.(events.AIStreamChunk); ok {
			chunks = append(chunks, c)
		}
	}
	require.Len(t, chunks, 3)
	assert.Equal(t, "The fine is ", chunks[0].Chunk)
	assert.Equal(t, "The fine is ", chunks[0].Content)
	assert.Equal(t, 1, chunks[0].ChunkIndex)
	assert.Equal(t, "The fine is Rs. 1000 under Section 194D.", chunks[2].Content)
	assert.Equal(t, 3, chunks[2].ChunkIndex)
}

func TestStart_EngineErrorFailsMessage(t *testing.T) {
	rig := setupRig(t)
	eng := engine.ScriptError("model exploded", "partial ")
	orch := newOrchestrator(rig, eng, Config{})

	require.NoError(t, orch.Start(rig.pending, engine.Request{Prompt: "q"}))
	msg := waitForStatus(t, rig, store.StatusFailed)

	assert.Equal(t, "[Generation failed] partial ", msg.Content)
	assert.Contains(t, rig.sender.typesSeen(), events.TypeAIStreamError)
}

func TestStart_UnavailableEngine(t *testing.T) {
	rig := setupRig(t)
	orch := newOrchestrator(rig, &engine.Scripted{Unavailable: true}, Config{})

	err := orch.Start(rig.pending, engine.Request{Prompt: "q"})
	require.ErrorIs(t, err, engine.ErrUnavailable)

	msg := waitForStatus(t, rig, store.StatusFailed)
	assert.Contains(t, msg.Content, "[AI service unavailable]")
	assert.Contains(t, rig.sender.typesSeen(), events.TypeAIStreamError)
}

func TestStart_DuplicateStreamRejected(t *testing.T) {
	rig := setupRig(t)
	eng := engine.ScriptText("m", "a", "b", "c")
	eng.ChunkDelay = 30 * time.Millisecond
	orch := newOrchestrator(rig, eng, Config{})

	require.NoError(t, orch.Start(rig.pending, engine.Request{Prompt: "q"}))
	err := orch.Start(rig.pending, engine.Request{Prompt: "q"})
	assert.ErrorIs(t, err, ErrStreamActive)

	waitForStatus(t, rig, store.StatusComplete)
}

func TestCancel_MidStream(t *testing.T) {
	rig := setupRig(t)
	eng := engine.ScriptText("m", "chunk1 ", "chunk2 ", "chunk3 ", "chunk4 ", "chunk5 ")
	eng.ChunkDelay = 25 * time.Millisecond
	orch := newOrchestrator(rig, eng, Config{})
	ctx := context.Background()

	require.NoError(t, orch.Start(rig.pending, engine.Request{Prompt: "q"}))

	// Let at least two chunks land before cancelling
	require.Eventually(t, func() bool {
		msg, err := rig.chat.GetMessage(ctx, "user-1", rig.pending.ID)
		return err == nil && strings.Contains(msg.Content, "chunk2")
	}, 2*time.Second, 5*time.Millisecond)

	ok, err := orch.Cancel(ctx, rig.streamID)
	require.NoError(t, err)
	assert.True(t, ok)

	msg := waitForStatus(t, rig, store.StatusCancelled)
	assert.True(t, strings.HasPrefix(msg.Content, "[Response cancelled] "))
	assert.Contains(t, msg.Content, "chunk2")

	// Content must not move after the terminal state
	time.Sleep(150 * time.Millisecond)
	after, err := rig.chat.GetMessage(ctx, "user-1", rig.pending.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.Content, after.Content)
	assert.NotContains(t, after.Content, "chunk5")

	assert.Contains(t, rig.sender.typesSeen(), events.TypeAIStreamCancelled)
	assert.NotContains(t, rig.sender.typesSeen(), events.TypeAIStreamComplete)
}

func TestCancel_UnknownStream(t *testing.T) {
	rig := setupRig(t)
	orch := newOrchestrator(rig, engine.ScriptText("m", "a"), Config{})

	ok, err := orch.Cancel(context.Background(), "no-such-stream")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStart_Timeout(t *testing.T) {
	rig := setupRig(t)
	eng := engine.ScriptText("m", "a ", "b ", "c ")
	eng.ChunkDelay = 50 * time.Millisecond
	orch := newOrchestrator(rig, eng, Config{StreamTimeout: 60 * time.Millisecond})

	require.NoError(t, orch.Start(rig.pending, engine.Request{Prompt: "q"}))

	msg := waitForStatus(t, rig, store.StatusFailed)
	assert.True(t, strings.HasPrefix(msg.Content, "[Response timed out] "))
	assert.Contains(t, rig.sender.typesSeen(), events.TypeAIStreamError)
}

func TestStart_NonStreaming(t *testing.T) {
	rig := setupRig(t)
	eng := engine.ScriptText("gemini-2.0-flash", "The fine is ", "Rs. 1000.")
	orch := newOrchestrator(rig, eng, Config{NonStreaming: true})

	require.NoError(t, orch.Start(rig.pending, engine.Request{Prompt: "Helmet fine?"}))
	msg := waitForStatus(t, rig, store.StatusComplete)
	assert.Equal(t, "The fine is Rs. 1000.", msg.Content)

	// One start, one complete, no chunk events
	require.Eventually(t, func() bool {
		types := rig.sender.typesSeen()
		return len(types) > 0 && types[len(types)-1] == events.TypeAIStreamComplete
	}, time.Second, 5*time.Millisecond)
	assert.NotContains(t, rig.sender.typesSeen(), events.TypeAIStreamChunk)
}

func TestShutdown_CancelsRunningStreams(t *testing.T) {
	rig := setupRig(t)
	eng := engine.ScriptText("m", "a ", "b ", "c ", "d ")
	eng.ChunkDelay = 50 * time.Millisecond
	orch := newOrchestrator(rig, eng, Config{})

	require.NoError(t, orch.Start(rig.pending, engine.Request{Prompt: "q"}))
	require.Eventually(t, func() bool {
		msg, err := rig.chat.GetMessage(context.Background(), "user-1", rig.pending.ID)
		return err == nil && msg.Status == store.StatusStreaming
	}, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, orch.Shutdown(ctx))
	assert.Zero(t, orch.ActiveStreams())

	msg, err := rig.chat.GetMessage(context.Background(), "user-1", rig.pending.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCancelled, msg.Status)
}

func TestBeginStreamingSkippedWhenAlreadyTerminal(t *testing.T) {
	rig := setupRig(t)
	ctx := context.Background()

	// Message driven terminal before the task gets going
	_, err := rig.chat.Fail(ctx, rig.streamID, "Engine unavailable")
	require.NoError(t, err)

	orch := newOrchestrator(rig, engine.ScriptText("m", "a"), Config{})
	require.NoError(t, orch.Start(rig.pending, engine.Request{Prompt: "q"}))

	require.Eventually(t, func() bool {
		return orch.ActiveStreams() == 0
	}, time.Second, 5*time.Millisecond)

	msg, err := rig.chat.GetMessage(ctx, "user-1", rig.pending.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, msg.Status)
	assert.NotContains(t, rig.sender.typesSeen(), events.TypeAIStreamStart)
}
