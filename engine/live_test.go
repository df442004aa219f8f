package engine

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeLiveConn struct {
	mu        sync.Mutex
	queue     []*Event
	contents  []*Content
	realtime  []Blob
	responses [][]FunctionResponse
	closed    int
}

func (c *fakeLiveConn) Receive(context.Context) (*Event, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, io.EOF
	}
	ev := c.queue[0]
	c.queue = c.queue[1:]
	return ev, nil
}

func (c *fakeLiveConn) SendContent(_ context.Context, content *Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.contents = append(c.contents, content)
	return nil
}

func (c *fakeLiveConn) SendRealtime(_ context.Context, b Blob) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realtime = append(c.realtime, b)
	return nil
}

func (c *fakeLiveConn) SendToolResponses(_ context.Context, r []FunctionResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, r)
	return nil
}

func (c *fakeLiveConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

type fakeLiveModel struct {
	conn *fakeLiveConn
	req  *LiveRequest
}

func (m *fakeLiveModel) Connect(_ context.Context, req *LiveRequest) (LiveConn, error) {
	m.req = req
	return m.conn, nil
}

func TestOpenLive_Unsupported(t *testing.T) {
	r := NewInProcessRunner(nil, nil, zap.NewNop())
	_, err := r.OpenLive(context.Background(), &Node{Name: "root", Kind: KindLLM}, newSession(), LiveConfig{})
	assert.ErrorIs(t, err, ErrLiveUnsupported)
}

func TestOpenLive_RelaysAndAnswersTools(t *testing.T) {
	toolCall := &Event{Content: &Content{Role: RoleModel, Parts: []Part{
		{FunctionCall: &FunctionCall{ID: "1", Name: "hint"}},
	}}}
	chunk := &Event{Partial: true, Content: NewTextContent(RoleModel, "hel")}
	done := &Event{TurnComplete: true}
	conn := &fakeLiveConn{queue: []*Event{toolCall, chunk, done}}
	model := &fakeLiveModel{conn: conn}

	r := NewInProcessRunner(nil, nil, zap.NewNop(), WithLiveModel(model))
	root := &Node{Name: "wrapper", Kind: KindParallel, Children: []*Node{
		{Name: "student", Kind: KindLLM, Model: "live-model", Tools: []Tool{{
			Name: "hint",
			Invoke: func(context.Context, map[string]any) (map[string]any, error) {
				return map[string]any{"hint": "think"}, nil
			},
		}}},
	}}
	sess := newSession()

	live, err := r.OpenLive(context.Background(), root, sess, LiveConfig{Modality: ModalityAudio, Voice: "Puck"})
	require.NoError(t, err)
	assert.Equal(t, "live-model", model.req.Model)
	assert.Equal(t, "Puck", model.req.Voice)

	require.NoError(t, live.SendContent(context.Background(), NewTextContent(RoleUser, "hi")))
	require.NoError(t, live.SendRealtime(context.Background(), Blob{MIMEType: "audio/pcm", Data: []byte{1}}))

	var got []*Event
	for ev, err := range live.Events(context.Background()) {
		require.NoError(t, err)
		got = append(got, ev)
	}
	require.Len(t, got, 3)
	for _, ev := range got {
		assert.Equal(t, "student", ev.Author)
	}
	require.Len(t, conn.responses, 1)
	assert.Equal(t, "think", conn.responses[0][0].Response["hint"])

	// user content, the tool call and the assembled turn are persisted
	persisted := sess.Events()
	require.Len(t, persisted, 3)
	assert.Equal(t, AuthorUser, persisted[0].Author)
	assert.NotEmpty(t, persisted[1].FunctionCalls())
	assert.False(t, persisted[1].Timestamp.IsZero())
	assert.Equal(t, "hel", persisted[2].Content.Text())
	assert.False(t, persisted[2].Partial)

	require.NoError(t, live.Close())
	require.NoError(t, live.Close())
	assert.Equal(t, 1, conn.closed)
}

func TestOpenLive_PersistsAssembledTurns(t *testing.T) {
	conn := &fakeLiveConn{queue: []*Event{
		{Partial: true, Content: NewTextContent(RoleModel, "Good ")},
		{Partial: true, Content: NewTextContent(RoleModel, "morning")},
		{TurnComplete: true},
		{Partial: true, Content: &Content{Role: RoleModel, Parts: []Part{{InlineData: &Blob{MIMEType: "audio/pcm", Data: []byte{1}}}}}},
		{TurnComplete: true},
		{Partial: true, Content: NewTextContent(RoleModel, "So the")},
		{Interrupted: true},
	}}
	r := NewInProcessRunner(nil, nil, zap.NewNop(), WithLiveModel(&fakeLiveModel{conn: conn}))
	sess := newSession()

	live, err := r.OpenLive(context.Background(), &Node{Name: "student", Kind: KindLLM}, sess, LiveConfig{})
	require.NoError(t, err)

	var yielded int
	for ev, err := range live.Events(context.Background()) {
		require.NoError(t, err)
		assert.False(t, ev.Timestamp.IsZero())
		yielded++
	}
	assert.Equal(t, 7, yielded)

	persisted := sess.Events()
	require.Len(t, persisted, 2)
	for i, want := range []string{"Good morning", "So the"} {
		assert.Equal(t, "student", persisted[i].Author)
		assert.Equal(t, RoleModel, persisted[i].Content.Role)
		assert.Equal(t, want, persisted[i].Content.Text())
		assert.False(t, persisted[i].Timestamp.IsZero())
	}
	assert.False(t, sess.UpdatedAt.IsZero())
}
