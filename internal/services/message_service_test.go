package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"neuroconnect/internal/models"
)

// recordingBroadcaster 记录推送到房间的帧
type recordingBroadcaster struct {
	mu     sync.Mutex
	frames map[string][]Frame
}

func (b *recordingBroadcaster) BroadcastToRoom(sessionID string, f Frame, _ string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frames == nil {
		b.frames = make(map[string][]Frame)
	}
	b.frames[sessionID] = append(b.frames[sessionID], f)
	return 1
}

func (b *recordingBroadcaster) count(sessionID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames[sessionID])
}

func newMessageFixture(t *testing.T) (*sessionFixture, *MessageService, *recordingBroadcaster) {
	t.Helper()
	f := newSessionFixture(t)
	msgs := NewMessageService(f.svc, NewGormMessageStore(f.db), f.clock, quietLogger())
	b := &recordingBroadcaster{}
	msgs.SetBroadcaster(b)
	return f, msgs, b
}

func TestSendMessageRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     SendMessageRequest
		wantErr bool
	}{
		{"text defaults type", SendMessageRequest{Content: "hi"}, false},
		{"blank text", SendMessageRequest{Type: "text", Content: "   "}, true},
		{"text with file", SendMessageRequest{Content: "hi", FileName: "a.pdf"}, true},
		{"file ok", SendMessageRequest{Type: "file", FileName: "a.pdf", FilePath: "/uploads/a.pdf", FileSize: 10}, false},
		{"file without size", SendMessageRequest{Type: "file", FileName: "a.pdf", FilePath: "/uploads/a.pdf"}, true},
		{"image with content", SendMessageRequest{Type: "image", FileName: "a.png", FilePath: "/uploads/a.png", FileSize: 1, Content: "x"}, true},
		{"unknown type", SendMessageRequest{Type: "video", Content: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			err := req.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestMessageService_SendRequiresActiveSession(t *testing.T) {
	f, msgs, b := newMessageFixture(t)
	ctx := context.Background()
	pending := f.request(t, testEpoch, nil)

	// 非 active 时合法与非法载荷得到同一错误
	_, errValid := msgs.Send(ctx, f.parties.student.ID, pending.ID, &SendMessageRequest{Content: "hello"})
	_, errInvalid := msgs.Send(ctx, f.parties.student.ID, pending.ID, &SendMessageRequest{Type: "bogus"})
	assert.ErrorIs(t, errValid, ErrInvalidTransition)
	assert.ErrorIs(t, errInvalid, ErrInvalidTransition)
	assert.ErrorIs(t, msgs.CheckSendable(ctx, f.parties.student.ID, pending.ID), ErrInvalidTransition)

	active := f.activate(t, testEpoch, nil)
	_, err := msgs.Send(ctx, f.parties.student.ID, active.ID, &SendMessageRequest{Type: "bogus"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = msgs.Send(ctx, f.parties.other.ID, active.ID, &SendMessageRequest{Content: "hello"})
	assert.ErrorIs(t, err, ErrAuthorization)
	_, err = msgs.Send(ctx, f.parties.student.ID, "missing", &SendMessageRequest{Content: "hello"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, msgs.CheckSendable(ctx, f.parties.doctor.ID, active.ID))

	// 完成后消息通道关闭
	_, err = f.svc.Complete(ctx, f.parties.doctor.ID, active.ID, &SessionCompleteRequest{})
	require.NoError(t, err)
	_, err = msgs.Send(ctx, f.parties.doctor.ID, active.ID, &SendMessageRequest{Content: "bye"})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.Zero(t, b.count(pending.ID))
	assert.Zero(t, b.count(active.ID))
}

func TestMessageService_SendPersistsAndBroadcasts(t *testing.T) {
	f, msgs, b := newMessageFixture(t)
	ctx := context.Background()
	sess := f.activate(t, testEpoch, nil)

	view, err := msgs.Send(ctx, f.parties.doctor.ID, sess.ID, &SendMessageRequest{Content: "  你好  "})
	require.NoError(t, err)
	assert.NotZero(t, view.ID)
	assert.Equal(t, "你好", view.Content)
	assert.Equal(t, models.MessageText, view.Type)
	assert.Equal(t, "Dr. Wang", view.Sender.Name)
	assert.Equal(t, models.RoleDoctor, view.Sender.Role)
	assert.False(t, view.Sender.Anonymous)

	require.Equal(t, 1, b.count(sess.ID))
	frame := b.frames[sess.ID][0]
	assert.Equal(t, FrameNewMessage, frame.Type)
	assert.Equal(t, sess.ID, frame.SessionID)

	file, err := msgs.Send(ctx, f.parties.student.ID, sess.ID, &SendMessageRequest{
		Type: models.MessageFile, FileName: "report.pdf", FilePath: "/uploads/report.pdf", FileSize: 2048, MimeType: "application/pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, "report.pdf", file.FileName)
	assert.Equal(t, 2, b.count(sess.ID))
}

func TestMessageService_AnonymousSenderIsMasked(t *testing.T) {
	f, msgs, _ := newMessageFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Create(ctx, f.parties.student.ID, &SessionCreateRequest{
		ProviderID:     f.parties.doctor.ID,
		Title:          "匿名",
		Description:    "d",
		RequestedStart: testEpoch,
		IsAnonymous:    true,
	})
	require.NoError(t, err)
	_, err = f.svc.Respond(ctx, f.parties.doctor.ID, sess.ID, &SessionRespondRequest{Status: models.SessionActive})
	require.NoError(t, err)

	view, err := msgs.Send(ctx, f.parties.student.ID, sess.ID, &SendMessageRequest{Content: "我有点紧张"})
	require.NoError(t, err)
	assert.Equal(t, "Anonymous Student", view.Sender.Name)
	assert.True(t, view.Sender.Anonymous)
	assert.Empty(t, view.Sender.Avatar)

	history, err := msgs.History(ctx, f.parties.doctor.ID, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Anonymous Student", history[0].Sender.Name)
	assert.NotEqual(t, f.parties.student.Name, history[0].Sender.Name)
}

func TestMessageService_HistoryOrder(t *testing.T) {
	f, msgs, _ := newMessageFixture(t)
	ctx := context.Background()
	sess := f.activate(t, testEpoch, nil)

	for _, text := range []string{"一", "二", "三"} {
		_, err := msgs.Send(ctx, f.parties.student.ID, sess.ID, &SendMessageRequest{Content: text})
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	// 同一时刻的消息按写入顺序
	f.clock.Advance(-time.Second)
	_, err := msgs.Send(ctx, f.parties.doctor.ID, sess.ID, &SendMessageRequest{Content: "四"})
	require.NoError(t, err)

	history, err := msgs.History(ctx, f.parties.doctor.ID, sess.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	var got []string
	for _, m := range history {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"一", "二", "三", "四"}, got)

	_, err = msgs.History(ctx, f.parties.other.ID, sess.ID)
	assert.ErrorIs(t, err, ErrAuthorization)
}

func TestMessageService_MarkRead(t *testing.T) {
	f, msgs, _ := newMessageFixture(t)
	ctx := context.Background()
	sess := f.activate(t, testEpoch, nil)

	for i := 0; i < 2; i++ {
		_, err := msgs.Send(ctx, f.parties.student.ID, sess.ID, &SendMessageRequest{Content: "ping"})
		require.NoError(t, err)
	}
	_, err := msgs.Send(ctx, f.parties.doctor.ID, sess.ID, &SendMessageRequest{Content: "pong"})
	require.NoError(t, err)

	n, err := msgs.MarkRead(ctx, f.parties.doctor.ID, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = msgs.MarkRead(ctx, f.parties.doctor.ID, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = msgs.MarkRead(ctx, f.parties.other.ID, sess.ID)
	assert.ErrorIs(t, err, ErrAuthorization)
}
