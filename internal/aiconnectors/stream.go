package aiconnectors

import (
	"context"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
)

// Prompt is the text sent to a backend.
type Prompt interface {
	UserText() string
	SystemText() string
}

// Chunk is one piece of a streamed reply. Only the terminal chunk (Done)
// carries Usage; a terminal chunk with Err reports a mid-stream failure.
type Chunk struct {
	Content string
	Usage   map[string]any
	Done    bool
	Err     error
}

// Messages builds the chat messages for p. The system message is sent only
// when non-empty.
func Messages(p Prompt) []llms.MessageContent {
	var messages []llms.MessageContent
	if sys := p.SystemText(); sys != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, sys))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, p.UserText()))
}

// Stream sends p and returns the reply as a finite, non-restartable channel
// of chunks. An error that happens before anything arrives is returned
// directly; the channel is closed after the terminal chunk.
func (c *Connector) Stream(ctx context.Context, p Prompt) (<-chan Chunk, error) {
	out := make(chan Chunk, 16)
	started := make(chan error, 1)

	go func() {
		defer close(out)

		streamed := false
		send := func(ch Chunk) bool {
			select {
			case out <- ch:
				return true
			case <-ctx.Done():
				return false
			}
		}

		opts := append(c.callOptions(), llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if !streamed {
				streamed = true
				started <- nil
			}
			if !send(Chunk{Content: string(chunk)}) {
				return ctx.Err()
			}
			return nil
		}))

		resp, err := c.llm.GenerateContent(ctx, Messages(p), opts...)
		if err != nil {
			if !streamed {
				started <- err
				return
			}
			log.Warn().Err(err).Str("model", c.GetModel()).Msg("Stream failed after first chunk")
			send(Chunk{Done: true, Err: err})
			return
		}

		final := Chunk{Done: true}
		if len(resp.Choices) > 0 {
			final.Usage = resp.Choices[0].GenerationInfo
			if !streamed {
				final.Content = resp.Choices[0].Content
			}
		}
		if !streamed {
			started <- nil
		}
		send(final)
	}()

	if err := <-started; err != nil {
		return nil, err
	}
	return out, nil
}
