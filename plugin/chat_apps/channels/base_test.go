package channels

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/supportdesk/internal/apperr"
	"github.com/hrygo/supportdesk/plugin/chat_apps"
)

type fakeChannel struct {
	validateErr error
	parsed      bool
	sent        []*chat_apps.OutgoingMessage
	closed      bool
}

func (f *fakeChannel) Name() chat_apps.Platform { return chat_apps.PlatformLINE }

func (f *fakeChannel) ValidateWebhook(context.Context, map[string]string, []byte) error {
	return f.validateErr
}

func (f *fakeChannel) ParseMessages(_ context.Context, payload []byte) ([]*chat_apps.IncomingMessage, error) {
	f.parsed = true
	return []*chat_apps.IncomingMessage{{Platform: chat_apps.PlatformLINE, PlatformChatID: "U1", Content: string(payload)}}, nil
}

func (f *fakeChannel) SendMessage(_ context.Context, msg *chat_apps.OutgoingMessage) error {
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestRouterHandleWebhook(t *testing.T) {
	ch := &fakeChannel{}
	r := NewChannelRouter()
	r.Register(ch)

	msgs, err := r.HandleWebhook(context.Background(), chat_apps.PlatformLINE, nil, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "line:U1", msgs[0].ConversationID())
	assert.Equal(t, "hello", msgs[0].Content)
}

func TestRouterRejectsBeforeParsing(t *testing.T) {
	ch := &fakeChannel{validateErr: ErrInvalidSignature}
	r := NewChannelRouter()
	r.Register(ch)

	_, err := r.HandleWebhook(context.Background(), chat_apps.PlatformLINE, nil, []byte("x"))
	require.ErrorIs(t, err, ErrInvalidSignature)
	assert.ErrorIs(t, err, apperr.ErrAuth)
	assert.False(t, ch.parsed)
}

func TestRouterUnknownPlatform(t *testing.T) {
	r := NewChannelRouter()
	_, err := r.HandleWebhook(context.Background(), chat_apps.PlatformTelegram, nil, nil)
	assert.ErrorIs(t, err, ErrNoChannelForPlatform)

	err = r.SendResponse(context.Background(), chat_apps.PlatformTelegram, &chat_apps.OutgoingMessage{})
	assert.ErrorIs(t, err, ErrNoChannelForPlatform)
}

func TestRouterSendAndClose(t *testing.T) {
	ch := &fakeChannel{}
	r := NewChannelRouter()
	r.Register(ch)

	require.NoError(t, r.SendResponse(context.Background(), chat_apps.PlatformLINE, &chat_apps.OutgoingMessage{Content: "hi"}))
	assert.Len(t, ch.sent, 1)
	assert.Equal(t, []chat_apps.Platform{chat_apps.PlatformLINE}, r.Platforms())

	require.NoError(t, r.Close())
	assert.True(t, ch.closed)
}

func TestChannelError(t *testing.T) {
	cause := errors.New("boom")
	err := NewError(ErrSendFailed, cause)

	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "SEND_FAILED: failed to deliver message: boom", err.Error())
	assert.True(t, err.IsRetryable())
	assert.False(t, ErrInvalidPayload.IsRetryable())
	assert.False(t, errors.Is(ErrInvalidPayload, ErrSendFailed))
}
