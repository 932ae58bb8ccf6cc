package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"resource-chat/internal/database"
	"resource-chat/internal/models"
	"resource-chat/internal/ratelimit"
	"resource-chat/pkg/keylock"

	"github.com/rs/zerolog"
)

// Broadcaster is the fan-out side of the room registry.
type Broadcaster interface {
	Broadcast(roomID, event string, payload any) int
	Send(connID, event string, payload any) error
}

type DispatcherConfig struct {
	PersistTimeout   time.Duration
	MaxContentLength int
}

// Dispatcher validates submissions, persists them and broadcasts the stored
// record. Persist and broadcast for one room run under a per-room lock so
// members see messages in commit order.
type Dispatcher struct {
	store   database.MessageStore
	out     Broadcaster
	limiter ratelimit.Limiter
	rooms   *keylock.Locker
	cfg     DispatcherConfig
	log     zerolog.Logger
}

// NewDispatcher builds a dispatcher. limiter may be nil.
func NewDispatcher(store database.MessageStore, out Broadcaster, limiter ratelimit.Limiter, cfg DispatcherConfig, log zerolog.Logger) *Dispatcher {
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	return &Dispatcher{
		store:   store,
		out:     out,
		limiter: limiter,
		rooms:   keylock.New(),
		cfg:     cfg,
		log:     log.With().Str("component", "dispatcher").Logger(),
	}
}

// Submit handles a sendMessage event from connID on behalf of author, the
// identity bound to that connection. Any failure is reported to that
// connection only, as a messageError.
func (d *Dispatcher) Submit(ctx context.Context, connID string, author *models.Author, sub models.Submission) (*models.Message, error) {
	if author == nil || author.ID == "" {
		err := fmt.Errorf("%w: connection has no identity", models.ErrUnauthorized)
		d.report(connID, err)
		return nil, err
	}

	msg, err := d.Publish(ctx, *author, sub)
	if err != nil {
		d.report(connID, err)
		return nil, err
	}
	return msg, nil
}

// Publish runs the validate, persist and broadcast sequence for author.
// The persistence call is detached from ctx cancellation and bounded by
// PersistTimeout, so a caller going away does not abort a started write.
func (d *Dispatcher) Publish(ctx context.Context, author models.Author, sub models.Submission) (*models.Message, error) {
	// Validate input
	draft, err := d.validate(author, sub)
	if err != nil {
		return nil, err
	}

	// Check rate limit
	if err := d.allow(ctx, author.ID); err != nil {
		return nil, err
	}

	unlock := d.rooms.Lock(draft.RoomID)
	defer unlock()

	// Save message
	msg, err := d.persist(ctx, draft)
	if err != nil {
		d.log.Error().Err(err).Str("room_id", draft.RoomID).Str("user_id", author.ID).Msg("failed to persist message")
		return nil, err
	}

	// Broadcast to room
	delivered := d.out.Broadcast(draft.RoomID, models.EventNewMessage, msg)
	d.log.Debug().
		Str("room_id", draft.RoomID).
		Str("message_id", msg.ID).
		Int("delivered", delivered).
		Msg("message broadcast")
	return msg, nil
}

type appendResult struct {
	msg *models.Message
	err error
}

func (d *Dispatcher) persist(ctx context.Context, draft models.Draft) (*models.Message, error) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.cfg.PersistTimeout)
	defer cancel()

	// Buffered so a late result does not leak the goroutine
	done := make(chan appendResult, 1)
	go func() {
		msg, err := d.store.Append(pctx, draft.RoomID, draft)
		done <- appendResult{msg: msg, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, classify(res.err)
		}
		if res.msg == nil {
			return nil, fmt.Errorf("%w: store returned no record", models.ErrStorage)
		}
		return res.msg, nil
	case <-pctx.Done():
		return nil, fmt.Errorf("%w: persistence timed out after %s", models.ErrStorage, d.cfg.PersistTimeout)
	}
}

// classify makes sure every store error carries one of the shared classes.
func classify(err error) error {
	switch {
	case errors.Is(err, models.ErrValidation),
		errors.Is(err, models.ErrUnauthorized),
		errors.Is(err, models.ErrStorage):
		return err
	}
	return fmt.Errorf("%w: %w", models.ErrStorage, err)
}

func (d *Dispatcher) allow(ctx context.Context, authorID string) error {
	if d.limiter == nil {
		return nil
	}

	res, err := d.limiter.Allow(ctx, authorID)
	if err != nil {
		d.log.Warn().Err(err).Str("user_id", authorID).Msg("rate limiter unavailable, allowing message")
		return nil
	}
	if !res.Allowed {
		return fmt.Errorf("%w: retry after %s", models.ErrRateLimited, res.RetryAfter.Round(time.Second))
	}
	return nil
}

func (d *Dispatcher) validate(author models.Author, sub models.Submission) (models.Draft, error) {
	roomID := strings.TrimSpace(sub.RoomID)
	if roomID == "" {
		return models.Draft{}, fmt.Errorf("%w: roomId is required", models.ErrValidation)
	}

	typ := sub.Type
	if typ == "" {
		typ = models.MessageTypeText
	}
	if !typ.Valid() {
		return models.Draft{}, fmt.Errorf("%w: unknown message type %q", models.ErrValidation, typ)
	}

	hasContent := strings.TrimSpace(sub.Content) != ""
	hasFile := sub.FileMeta != nil && strings.TrimSpace(sub.FileMeta.URL) != ""

	switch typ {
	case models.MessageTypeText:
		if !hasContent {
			return models.Draft{}, fmt.Errorf("%w: content is required", models.ErrValidation)
		}
	case models.MessageTypeFile:
		if !hasFile {
			return models.Draft{}, fmt.Errorf("%w: fileMeta with fileUrl is required", models.ErrValidation)
		}
	case models.MessageTypeEmoji:
		if !hasContent && !hasFile {
			return models.Draft{}, fmt.Errorf("%w: emoji requires content or fileMeta", models.ErrValidation)
		}
	}

	if d.cfg.MaxContentLength > 0 && utf8.RuneCountInString(sub.Content) > d.cfg.MaxContentLength {
		return models.Draft{}, fmt.Errorf("%w: content exceeds %d characters", models.ErrValidation, d.cfg.MaxContentLength)
	}

	draft := models.Draft{
		RoomID:  roomID,
		Author:  author,
		Content: sub.Content,
		Type:    typ,
	}
	if hasFile {
		fm := *sub.FileMeta
		draft.FileMeta = &fm
	}
	return draft, nil
}

func (d *Dispatcher) report(connID string, err error) {
	if sendErr := d.out.Send(connID, models.EventMessageError, models.ErrorPayload{Error: ErrorMessage(err)}); sendErr != nil {
		d.log.Debug().Err(sendErr).Str("conn_id", connID).Msg("failed to report message error")
	}
}

// ErrorMessage is the client-facing text for a dispatch failure.
func ErrorMessage(err error) string {
	switch {
	case errors.Is(err, models.ErrValidation):
		return err.Error()
	case errors.Is(err, models.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, models.ErrRateLimited):
		return "rate limited, slow down"
	default:
		return "failed to save message"
	}
}
