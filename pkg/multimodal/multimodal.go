// Package multimodal lifts image data out of chat messages and packs
// it into payload parts for vision-capable model requests.
package multimodal

import (
	"github.com/kokoroflow/kokoroflow/pkg/chat"
	llmtypes "github.com/kokoroflow/kokoroflow/pkg/types/llm"
)

// Item is one piece of media extracted from a message.
type Item struct {
	MediaType       chat.MediaType
	Base64Data      string
	SourceMessageID string
}

// Budget caps how many images one model payload may carry. History
// extraction and current-turn extraction share a single budget.
type Budget struct {
	remaining int
}

// NewBudget creates a budget allowing max images.
func NewBudget(max int) *Budget {
	if max < 0 {
		max = 0
	}
	return &Budget{remaining: max}
}

// Remaining reports how many images may still be packed.
func (b *Budget) Remaining() int {
	return b.remaining
}

// Exhausted reports whether the budget is used up.
func (b *Budget) Exhausted() bool {
	return b.remaining <= 0
}

// Consume spends n slots of the budget.
func (b *Budget) Consume(n int) {
	b.remaining -= n
	if b.remaining < 0 {
		b.remaining = 0
	}
}

// ExtractMedia walks messages in order and lifts out image and emoji
// attachments, skipping entries without data, capped at maxItems.
// Only the messages passed in are scanned; media in older history is
// already part of the payload chain and must not be extracted twice.
func ExtractMedia(messages []chat.Message, maxItems int) []Item {
	var items []Item
	for _, msg := range messages {
		if len(items) >= maxItems {
			break
		}
		for _, media := range msg.Media {
			if len(items) >= maxItems {
				break
			}
			if media.Type != chat.MediaImage && media.Type != chat.MediaEmoji {
				continue
			}
			if media.Data == "" {
				continue
			}
			items = append(items, Item{
				MediaType:       media.Type,
				Base64Data:      media.Data,
				SourceMessageID: msg.MessageID,
			})
		}
	}
	return items
}

// BuildParts packs text plus media items into payload parts. Emoji
// items get a text marker ahead of the image so the model can tell
// stickers from photos.
func BuildParts(text string, items []Item) []llmtypes.Part {
	parts := []llmtypes.Part{llmtypes.Text(text)}
	for _, item := range items {
		if item.MediaType == chat.MediaEmoji {
			parts = append(parts, llmtypes.Text("[表情包]"))
		}
		parts = append(parts, llmtypes.Image(item.Base64Data))
	}
	return parts
}
