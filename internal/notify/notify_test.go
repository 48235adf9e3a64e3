package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eddiefleurent/scranton_condor/internal/logging"
)

type fakeSender struct {
	err      error
	channel  string
	messages []string
}

func (f *fakeSender) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.messages = append(f.messages, content)
	return &discordgo.Message{Content: content}, f.err
}

func TestDiscordNotify(t *testing.T) {
	fs := &fakeSender{}
	d := &Discord{session: fs, logger: logging.Discard(), channelID: "123"}

	require.NoError(t, d.Notify(context.Background(), "Trading halted", "stray legs on SPY"))
	assert.Equal(t, "123", fs.channel)
	require.Len(t, fs.messages, 1)
	assert.Contains(t, fs.messages[0], "**Trading halted**")
	assert.Contains(t, fs.messages[0], "stray legs on SPY")

	fs.err = errors.New("401 unauthorized")
	assert.Error(t, d.Notify(context.Background(), "x", "y"))
}

func TestNewDiscord_RequiresCredentials(t *testing.T) {
	_, err := NewDiscord("", "123", nil)
	assert.Error(t, err)
	_, err = NewDiscord("token", "", nil)
	assert.Error(t, err)

	d, err := NewDiscord("token", "123", nil)
	require.NoError(t, err)
	assert.NotNil(t, d.session)
}

func TestFormatAlert_Truncates(t *testing.T) {
	msg := FormatAlert("s", strings.Repeat("x", 5000))
	assert.Equal(t, discordMessageLimit, len([]rune(msg)))
	assert.True(t, strings.HasSuffix(msg, "…"))
}

func TestLogAndMulti(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(logging.NewWithWriter(&buf, "info", "text"))
	failing := &Discord{session: &fakeSender{err: errors.New("down")}, logger: logging.Discard(), channelID: "1"}

	err := Multi{l, nil, failing}.Notify(context.Background(), "Trading halted", "reconciliation failed")
	assert.Error(t, err)
	assert.Contains(t, buf.String(), "reconciliation failed")
	assert.Contains(t, buf.String(), "Trading halted")
}
