package host

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kokoroflow/kokoroflow/pkg/chat"
)

func testStreamInfo(id string) chat.StreamInfo {
	return chat.StreamInfo{
		StreamID: id,
		Platform: "console",
		ChatType: chat.ChatTypePrivate,
		BotID:    "bot-1",
	}
}

func TestMemoryStreamFetchIsPeek(t *testing.T) {
	s := NewMemoryStream(testStreamInfo("s1"))
	ctx := context.Background()

	s.Push(chat.Message{MessageID: "m1", SenderName: "小明", PlainText: "你好", Time: 100})

	text, msgs, err := s.FetchUnreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, "小明: 你好", text)
	require.Len(t, msgs, 1)

	// fetching again without a flush returns the same batch
	_, again, err := s.FetchUnreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, msgs, again)
}

func TestMemoryStreamFlushMovesToHistory(t *testing.T) {
	s := NewMemoryStream(testStreamInfo("s1"))
	ctx := context.Background()

	s.Push(chat.Message{MessageID: "m1", SenderName: "小明", PlainText: "第一条", Time: 100})
	s.Push(chat.Message{MessageID: "m2", SenderName: "小明", PlainText: "第二条", Time: 101})

	_, msgs, err := s.FetchUnreads(ctx)
	require.NoError(t, err)

	// acknowledge only the first message
	require.NoError(t, s.FlushUnreads(ctx, msgs[:1]))

	_, remaining, err := s.FetchUnreads(ctx)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "m2", remaining[0].MessageID)

	hist, err := s.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "m1", hist[0].MessageID)
}

func TestMemoryStreamEmptyFetch(t *testing.T) {
	s := NewMemoryStream(testStreamInfo("s1"))

	text, msgs, err := s.FetchUnreads(context.Background())
	require.NoError(t, err)
	assert.Empty(t, text)
	assert.Empty(t, msgs)
}

func TestMemoryStreamWake(t *testing.T) {
	s := NewMemoryStream(testStreamInfo("s1"))
	ctx := context.Background()

	// wake without a hook is harmless
	require.NoError(t, s.Wake(ctx))

	woken := 0
	s.SetWakeFunc(func() { woken++ })
	require.NoError(t, s.InjectMessage(ctx, chat.Message{MessageID: "p1", PlainText: "[主动发起]"}))
	require.NoError(t, s.Wake(ctx))

	assert.Equal(t, 1, woken)
	_, msgs, err := s.FetchUnreads(ctx)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "p1", msgs[0].MessageID)
}

func TestMemoryStreamHistoryLimit(t *testing.T) {
	s := NewMemoryStream(testStreamInfo("s1"))

	for _, id := range []string{"h1", "h2", "h3"} {
		s.AppendHistory(chat.Message{MessageID: id})
	}

	hist, err := s.History(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.Equal(t, "h2", hist[0].MessageID)
	assert.Equal(t, "h3", hist[1].MessageID)
}

func TestFormatUnreads(t *testing.T) {
	text := formatUnreads([]chat.Message{
		{SenderName: "小明", PlainText: "在吗"},
		{PlainText: "匿名内容"},
		{SenderName: "小红", Media: []chat.Media{{Type: chat.MediaImage, Data: "abc"}}},
	})

	assert.Equal(t, "小明: 在吗\n用户: 匿名内容\n小红: [图片]", text)
}

func TestMemoryStreamsRegistry(t *testing.T) {
	reg := NewMemoryStreams()
	ctx := context.Background()

	_, err := reg.Activate(ctx, "missing")
	assert.Error(t, err)

	_, ok := reg.Get(ctx, "missing")
	assert.False(t, ok)

	added := reg.Add(testStreamInfo("s1"))
	got, err := reg.Activate(ctx, "s1")
	require.NoError(t, err)
	assert.Same(t, added, got)

	got2, ok := reg.Get(ctx, "s1")
	require.True(t, ok)
	assert.Same(t, added, got2)
}

func TestMemoryMediaManagerIdempotent(t *testing.T) {
	m := NewMemoryMediaManager()
	ctx := context.Background()

	require.NoError(t, m.SkipVLM(ctx, "s1"))
	require.NoError(t, m.SkipVLM(ctx, "s1"))
	assert.True(t, m.Skipped("s1"))
	assert.False(t, m.Skipped("s2"))

	require.NoError(t, m.UnskipVLM(ctx, "s1"))
	require.NoError(t, m.UnskipVLM(ctx, "s1"))
	assert.False(t, m.Skipped("s1"))
}
