// Package msgcache keeps a bounded in-memory window of raw chat messages.
// Each chat retains its most recent messages up to a per-chat cap; once
// more chats are cached than the chat cap allows, the oldest-inserted
// chat is evicted wholesale.
package msgcache

import (
	"sync"

	"github.com/parley-dev/parley/internal/store"
)

// Default capacities.
const (
	DefaultMessagesPerChat = 2000
	DefaultChats           = 50
)

// Cache is safe for concurrent use.
type Cache struct {
	mu sync.Mutex

	// +checklocks:mu
	chats map[string][]store.ChatMessage
	// +checklocks:mu
	order []string // chat ids, oldest-inserted first

	perChat  int
	maxChats int
}

// New creates a cache. Non-positive caps fall back to the defaults.
func New(perChat, maxChats int) *Cache {
	if perChat <= 0 {
		perChat = DefaultMessagesPerChat
	}
	if maxChats <= 0 {
		maxChats = DefaultChats
	}
	return &Cache{
		chats:    make(map[string][]store.ChatMessage),
		perChat:  perChat,
		maxChats: maxChats,
	}
}

// Append adds a message to the chat's window, dropping the oldest message
// if the chat is at capacity and evicting the oldest chat if the chat
// count overflows.
func (c *Cache) Append(chatID string, msg store.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, ok := c.chats[chatID]
	if !ok {
		c.order = append(c.order, chatID)
		if len(c.order) > c.maxChats {
			evicted := c.order[0]
			c.order = c.order[1:]
			delete(c.chats, evicted)
		}
	}

	msgs = append(msgs, msg)
	if len(msgs) > c.perChat {
		// Drop oldest; copy so the backing array doesn't grow unbounded.
		trimmed := make([]store.ChatMessage, c.perChat)
		copy(trimmed, msgs[len(msgs)-c.perChat:])
		msgs = trimmed
	}
	c.chats[chatID] = msgs
}

// Replace installs a full message window for a chat, trimming to capacity.
// Used when seeding the cache from durable history.
func (c *Cache) Replace(chatID string, msgs []store.ChatMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.chats[chatID]; !ok {
		c.order = append(c.order, chatID)
		if len(c.order) > c.maxChats {
			evicted := c.order[0]
			c.order = c.order[1:]
			delete(c.chats, evicted)
		}
	}
	if len(msgs) > c.perChat {
		msgs = msgs[len(msgs)-c.perChat:]
	}
	window := make([]store.ChatMessage, len(msgs))
	copy(window, msgs)
	c.chats[chatID] = window
}

// Get returns a copy of the chat's cached messages, oldest first.
func (c *Cache) Get(chatID string) []store.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs := c.chats[chatID]
	if len(msgs) == 0 {
		return nil
	}
	out := make([]store.ChatMessage, len(msgs))
	copy(out, msgs)
	return out
}

// Has reports whether the chat has a cached window.
func (c *Cache) Has(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.chats[chatID]
	return ok
}

// Len returns the number of cached messages for a chat.
func (c *Cache) Len(chatID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.chats[chatID])
}

// Clear removes a chat's window entirely.
func (c *Cache) Clear(chatID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.chats[chatID]; !ok {
		return
	}
	delete(c.chats, chatID)
	for i, id := range c.order {
		if id == chatID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
