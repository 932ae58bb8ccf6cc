package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"resource-chat/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS resource_messages (
	id            BIGSERIAL PRIMARY KEY,
	room_id       TEXT        NOT NULL,
	author_id     TEXT        NOT NULL,
	author_name   TEXT        NOT NULL DEFAULT '',
	author_avatar TEXT        NOT NULL DEFAULT '',
	content       TEXT        NOT NULL DEFAULT '',
	type          TEXT        NOT NULL,
	file_url      TEXT,
	file_name     TEXT,
	file_type     TEXT,
	file_size     BIGINT,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS resource_messages_room_id_idx ON resource_messages (room_id, id DESC);`

type PostgresStore struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

func NewPostgresStore(ctx context.Context, databaseURL string, log zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log = log.With().Str("component", "postgres_store").Logger()
	log.Info().Msg("connected to database")
	return &PostgresStore{pool: pool, log: log}, nil
}

// EnsureSchema creates the messages table and its index when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, roomID string, d models.Draft) (*models.Message, error) {
	query := `
		INSERT INTO resource_messages
			(room_id, author_id, author_name, author_avatar, content, type, file_url, file_name, file_type, file_size)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	var (
		fileURL, fileName, fileType *string
		fileSize                    *int64
	)
	if d.FileMeta != nil {
		fileURL = &d.FileMeta.URL
		fileName = &d.FileMeta.Name
		fileType = &d.FileMeta.MimeType
		fileSize = &d.FileMeta.Size
	}

	var (
		id        int64
		createdAt time.Time
	)
	err := s.pool.QueryRow(ctx, query,
		roomID, d.Author.ID, d.Author.Name, d.Author.Avatar, d.Content, string(d.Type),
		fileURL, fileName, fileType, fileSize,
	).Scan(&id, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to save message: %w", models.ErrStorage, err)
	}

	msg := &models.Message{
		ID:        strconv.FormatInt(id, 10),
		RoomID:    roomID,
		Author:    d.Author,
		Content:   d.Content,
		Type:      d.Type,
		CreatedAt: createdAt.UTC(),
	}
	if d.FileMeta != nil {
		fm := *d.FileMeta
		msg.FileMeta = &fm
	}
	return msg, nil
}

func (s *PostgresStore) List(ctx context.Context, roomID string, limit int, before string) ([]*models.Message, error) {
	limit = ClampLimit(limit)

	var (
		rows pgx.Rows
		err  error
	)
	if before == "" {
		rows, err = s.pool.Query(ctx, `
			SELECT id, room_id, author_id, author_name, author_avatar, content, type,
				file_url, file_name, file_type, file_size, created_at
			FROM resource_messages
			WHERE room_id = $1
			ORDER BY id DESC
			LIMIT $2`, roomID, limit)
	} else {
		cursor, perr := strconv.ParseInt(before, 10, 64)
		if perr != nil {
			return nil, fmt.Errorf("%w: invalid cursor %q", models.ErrValidation, before)
		}
		rows, err = s.pool.Query(ctx, `
			SELECT id, room_id, author_id, author_name, author_avatar, content, type,
				file_url, file_name, file_type, file_size, created_at
			FROM resource_messages
			WHERE room_id = $1 AND id < $2
			ORDER BY id DESC
			LIMIT $3`, roomID, cursor, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to load messages: %w", models.ErrStorage, err)
	}
	defer rows.Close()

	messages := make([]*models.Message, 0, limit)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrStorage, err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}

	return messages, nil
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	var (
		id                          int64
		msgType                     string
		fileURL, fileName, fileType *string
		fileSize                    *int64
		msg                         models.Message
	)
	if err := row.Scan(&id, &msg.RoomID, &msg.Author.ID, &msg.Author.Name, &msg.Author.Avatar,
		&msg.Content, &msgType, &fileURL, &fileName, &fileType, &fileSize, &msg.CreatedAt); err != nil {
		return nil, err
	}

	msg.ID = strconv.FormatInt(id, 10)
	msg.Type = models.MessageType(msgType)
	msg.CreatedAt = msg.CreatedAt.UTC()
	if fileURL != nil {
		msg.FileMeta = &models.FileMeta{URL: *fileURL}
		if fileName != nil {
			msg.FileMeta.Name = *fileName
		}
		if fileType != nil {
			msg.FileMeta.MimeType = *fileType
		}
		if fileSize != nil {
			msg.FileMeta.Size = *fileSize
		}
	}
	return &msg, nil
}
