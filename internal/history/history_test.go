package history

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type prompt struct{ user, system string }

func (p prompt) UserText() string   { return p.user }
func (p prompt) SystemText() string { return p.system }

func TestLog_NeverExceedsCapacity(t *testing.T) {
	log := New(3)
	for i := 0; i < 10; i++ {
		log.PushReply(fmt.Sprintf("reply %d", i), "gpt")
		assert.LessOrEqual(t, log.Len(), 3)

		item, ok := log.Get(0)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("reply %d", i), item.Text)
	}

	// Oldest items were evicted first.
	items := log.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []Item{
		{Text: "reply 9", Model: "gpt"},
		{Text: "reply 8", Model: "gpt"},
		{Text: "reply 7", Model: "gpt"},
	}, items)
}

func TestLog_DefaultCapacity(t *testing.T) {
	log := New(0)
	assert.Equal(t, DefaultCapacity, log.Capacity())
	for i := 0; i < DefaultCapacity+5; i++ {
		log.PushPrompt(prompt{user: "p"})
	}
	assert.Equal(t, DefaultCapacity, log.Len())
}

func TestLog_PushPromptStoresSystemThenUser(t *testing.T) {
	log := New(5)
	log.PushPrompt(prompt{user: "user text", system: "system text. "})

	item, ok := log.Get(0)
	require.True(t, ok)
	assert.Equal(t, "system text. user text", item.Text)
	assert.False(t, item.IsReply())

	_, ok = log.Get(1)
	assert.False(t, ok)
	_, ok = log.Get(-1)
	assert.False(t, ok)
}

func TestLog_RepliesStopAtPrompt(t *testing.T) {
	log := New(10)
	assert.Equal(t, "", log.LatestReply())
	assert.Empty(t, log.Replies())

	log.PushReply("old reply", "a")
	log.PushPrompt(prompt{user: "prompt"})
	assert.Equal(t, "", log.LatestReply())

	log.PushReply("first", "a")
	log.PushReply("second", "b")

	assert.Equal(t, "second", log.LatestReply())
	assert.Equal(t, []string{"second", "first"}, log.Replies())
}
