package server

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ironstar-game/ironstar/game"
	"github.com/ironstar-game/ironstar/locks"
	"github.com/ironstar-game/ironstar/store"
)

// MessageCache is the notification feed. Creation writes through to the
// store so ids stay store-assigned and strictly increasing; read-status
// changes are write-back, batched into one transaction per flush. Unread
// counts are cached per recipient.
type MessageCache struct {
	locks *locks.Manager
	store *store.Store
	clock TimeProvider
	log   zerolog.Logger

	syncFlush bool
	interval  time.Duration

	unreadCounts map[int64]int
	readPending  map[int64]struct{}

	// push delivers a fresh message to connected clients. Runs while
	// MESSAGE is held; must not block.
	push func(m *game.Message)

	stop chan struct{}
	done chan struct{}
}

// NewMessageCache builds the cache.
func NewMessageCache(m *locks.Manager, st *store.Store, clock TimeProvider, cfg Config, log zerolog.Logger) *MessageCache {
	return &MessageCache{
		locks:        m,
		store:        st,
		clock:        clock,
		log:          log.With().Str("cache", "messages").Logger(),
		syncFlush:    !cfg.AutoPersistence,
		interval:     cfg.PersistenceInterval,
		unreadCounts: make(map[int64]int),
		readPending:  make(map[int64]struct{}),
	}
}

// SetPush installs the live-delivery hook.
func (c *MessageCache) SetPush(fn func(m *game.Message)) {
	c.push = fn
}

// Create enqueues a message for the recipient. Text carries its channel
// prefix ("P:", "N:", "A:") verbatim.
func (c *MessageCache) Create(ctx context.Context, recipientID int64, text string) (*game.Message, error) {
	m := &game.Message{
		RecipientID: recipientID,
		Text:        text,
		CreatedAt:   c.clock.Now().Unix(),
	}
	err := withLock(ctx, c.locks, locks.Message, func(ctx context.Context) error {
		err := withLock(ctx, c.locks, locks.DBMessages, func(ctx context.Context) error {
			return c.store.InsertMessage(ctx, m)
		})
		if err != nil {
			return err
		}
		if _, ok := c.unreadCounts[recipientID]; ok {
			c.unreadCounts[recipientID]++
		}
		if c.push != nil {
			c.push(m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetAll returns the recipient's messages, newest first, up to limit.
// Pending read-status changes are overlaid so callers see their own marks.
func (c *MessageCache) GetAll(ctx context.Context, recipientID int64, limit int) ([]*game.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	var msgs []*game.Message
	err := withLock(ctx, c.locks, locks.Message, func(ctx context.Context) error {
		err := withReadLock(ctx, c.locks, locks.DBMessages, func(ctx context.Context) error {
			var err error
			msgs, err = c.store.GetMessages(ctx, recipientID, limit)
			return err
		})
		if err != nil {
			return err
		}
		for _, m := range msgs {
			if _, pending := c.readPending[m.ID]; pending {
				m.IsRead = true
			}
		}
		return nil
	})
	return msgs, err
}

// GetUnread returns the recipient's unread messages, oldest first.
func (c *MessageCache) GetUnread(ctx context.Context, recipientID int64) ([]*game.Message, error) {
	var msgs []*game.Message
	err := withLock(ctx, c.locks, locks.Message, func(ctx context.Context) error {
		var err error
		msgs, err = c.getUnreadLocked(ctx, recipientID)
		return err
	})
	return msgs, err
}

func (c *MessageCache) getUnreadLocked(ctx context.Context, recipientID int64) ([]*game.Message, error) {
	var msgs []*game.Message
	err := withReadLock(ctx, c.locks, locks.DBMessages, func(ctx context.Context) error {
		var err error
		msgs, err = c.store.GetUnreadMessages(ctx, recipientID)
		return err
	})
	if err != nil {
		return nil, err
	}
	unread := msgs[:0]
	for _, m := range msgs {
		if _, pending := c.readPending[m.ID]; !pending {
			unread = append(unread, m)
		}
	}
	c.unreadCounts[recipientID] = len(unread)
	return unread, nil
}

// UnreadCount returns the recipient's unread total, from cache when warm.
func (c *MessageCache) UnreadCount(ctx context.Context, recipientID int64) (int, error) {
	var count int
	err := withLock(ctx, c.locks, locks.Message, func(ctx context.Context) error {
		if n, ok := c.unreadCounts[recipientID]; ok {
			count = n
			return nil
		}
		msgs, err := c.getUnreadLocked(ctx, recipientID)
		if err != nil {
			return err
		}
		count = len(msgs)
		return nil
	})
	return count, err
}

// MarkRead sets one message's read flag. Marking read is write-back;
// unmarking writes through because it must undo a possibly-flushed mark.
func (c *MessageCache) MarkRead(ctx context.Context, messageID int64, read bool) error {
	return withLock(ctx, c.locks, locks.Message, func(ctx context.Context) error {
		c.unreadCounts = make(map[int64]int)
		if read {
			c.readPending[messageID] = struct{}{}
			return c.maybeFlushLocked(ctx)
		}
		delete(c.readPending, messageID)
		return withLock(ctx, c.locks, locks.DBMessages, func(ctx context.Context) error {
			return c.store.SetMessageRead(ctx, messageID, false)
		})
	})
}

// MarkManyRead marks a batch of messages read.
func (c *MessageCache) MarkManyRead(ctx context.Context, messageIDs []int64) error {
	return withLock(ctx, c.locks, locks.Message, func(ctx context.Context) error {
		c.unreadCounts = make(map[int64]int)
		for _, id := range messageIDs {
			c.readPending[id] = struct{}{}
		}
		return c.maybeFlushLocked(ctx)
	})
}

// MarkAllRead marks every message for a recipient read, write-through.
func (c *MessageCache) MarkAllRead(ctx context.Context, recipientID int64) error {
	return withLock(ctx, c.locks, locks.Message, func(ctx context.Context) error {
		err := withLock(ctx, c.locks, locks.DBMessages, func(ctx context.Context) error {
			return c.store.MarkAllMessagesRead(ctx, recipientID)
		})
		if err != nil {
			return err
		}
		c.unreadCounts[recipientID] = 0
		return nil
	})
}

// DeleteOldRead sweeps read messages older than daysOld days and returns
// the deleted count. Pending marks flush first so the sweep sees them.
func (c *MessageCache) DeleteOldRead(ctx context.Context, daysOld int) (int64, error) {
	var deleted int64
	err := withLock(ctx, c.locks, locks.Message, func(ctx context.Context) error {
		if err := c.flushLocked(ctx); err != nil {
			return err
		}
		cutoff := c.clock.Now().Unix() - int64(daysOld)*86400
		return withLock(ctx, c.locks, locks.DBMessages, func(ctx context.Context) error {
			var err error
			deleted, err = c.store.DeleteOldReadMessages(ctx, cutoff)
			if err == nil {
				c.unreadCounts = make(map[int64]int)
			}
			return err
		})
	})
	return deleted, err
}

func (c *MessageCache) maybeFlushLocked(ctx context.Context) error {
	if !c.syncFlush {
		return nil
	}
	return c.flushLocked(ctx)
}

// Flush applies pending read marks to the store in one batch.
func (c *MessageCache) Flush(ctx context.Context) error {
	return withLock(ctx, c.locks, locks.Message, c.flushLocked)
}

func (c *MessageCache) flushLocked(ctx context.Context) error {
	if len(c.readPending) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(c.readPending))
	for id := range c.readPending {
		ids = append(ids, id)
	}
	return withLock(ctx, c.locks, locks.DBMessages, func(ctx context.Context) error {
		if err := c.store.MarkMessagesRead(ctx, ids); err != nil {
			c.log.Error().Err(err).Int("count", len(ids)).Msg("flush failed")
			return err
		}
		c.readPending = make(map[int64]struct{})
		c.log.Debug().Int("count", len(ids)).Msg("flushed read marks")
		return nil
	})
}

// StartPersistence launches the periodic write-back timer.
func (c *MessageCache) StartPersistence() {
	if c.interval <= 0 || c.stop != nil {
		return
	}
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Flush(context.Background()); err != nil {
					c.log.Error().Err(err).Msg("periodic flush failed")
				}
			case <-c.stop:
				return
			}
		}
	}()
}

// Close stops the timer and performs a final flush.
func (c *MessageCache) Close(ctx context.Context) error {
	if c.stop != nil {
		close(c.stop)
		<-c.done
		c.stop = nil
	}
	return c.Flush(ctx)
}
