package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/telebot.v3"
)

type fakeClient struct {
	chatID int64
	text   string
	err    error
}

func (f *fakeClient) SendMessage(chatID int64, text string, _ *telebot.SendOptions) error {
	f.chatID = chatID
	f.text = text
	return f.err
}

func TestStaffAlerterSends(t *testing.T) {
	c := &fakeClient{}
	a := NewStaffAlerter(c, -100123, zap.NewNop())

	require.NoError(t, a.Alert(context.Background(), "New ticket BD-ABC123"))
	assert.Equal(t, int64(-100123), c.chatID)
	assert.Equal(t, "New ticket BD-ABC123", c.text)
}

func TestStaffAlerterDisabled(t *testing.T) {
	a := NewStaffAlerter(nil, 0, zap.NewNop())
	assert.False(t, a.Enabled())
	assert.NoError(t, a.Alert(context.Background(), "ignored"))
}

func TestStaffAlerterWrapsError(t *testing.T) {
	a := NewStaffAlerter(&fakeClient{err: errors.New("chat not found")}, 1, zap.NewNop())
	err := a.Alert(context.Background(), "x")
	assert.ErrorContains(t, err, "chat not found")
}
