package database

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"resource-chat/internal/models"

	"github.com/rs/zerolog"
)

// HTTPStore persists messages through the main application's resource API.
type HTTPStore struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPStore(baseURL string, client *http.Client, log zerolog.Logger) *HTTPStore {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		log:     log.With().Str("component", "http_store").Logger(),
	}
}

type appendRequest struct {
	Content  string             `json:"content"`
	Type     models.MessageType `json:"type"`
	Author   models.Author      `json:"author"`
	FileURL  string             `json:"fileUrl,omitempty"`
	FileName string             `json:"fileName,omitempty"`
	FileType string             `json:"fileType,omitempty"`
	FileSize int64              `json:"fileSize,omitempty"`
}

// record mirrors models.Message but tolerates numeric ids.
type record struct {
	ID        json.RawMessage    `json:"id"`
	RoomID    string             `json:"roomId"`
	Author    models.Author      `json:"author"`
	Content   string             `json:"content"`
	Type      models.MessageType `json:"type"`
	FileURL   string             `json:"fileUrl"`
	FileName  string             `json:"fileName"`
	FileType  string             `json:"fileType"`
	FileSize  int64              `json:"fileSize"`
	CreatedAt time.Time          `json:"createdAt"`
}

func (r *record) toMessage(roomID string) (*models.Message, error) {
	id, err := decodeID(r.ID)
	if err != nil {
		return nil, err
	}
	msg := &models.Message{
		ID:        id,
		RoomID:    r.RoomID,
		Author:    r.Author,
		Content:   r.Content,
		Type:      r.Type,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if msg.RoomID == "" {
		msg.RoomID = roomID
	}
	if r.FileURL != "" {
		msg.FileMeta = &models.FileMeta{URL: r.FileURL, Name: r.FileName, MimeType: r.FileType, Size: r.FileSize}
	}
	return msg, nil
}

func decodeID(raw json.RawMessage) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil && s != "" {
		return s, nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil && n != "" {
		return n.String(), nil
	}
	return "", fmt.Errorf("record has no usable id: %s", string(raw))
}

func (s *HTTPStore) messagesURL(roomID string) string {
	return s.baseURL + "/resources/" + url.PathEscape(roomID) + "/messages"
}

func (s *HTTPStore) Append(ctx context.Context, roomID string, d models.Draft) (*models.Message, error) {
	body := appendRequest{Content: d.Content, Type: d.Type, Author: d.Author}
	if d.FileMeta != nil {
		body.FileURL = d.FileMeta.URL
		body.FileName = d.FileMeta.Name
		body.FileType = d.FileMeta.MimeType
		body.FileSize = d.FileMeta.Size
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%w: encode message: %w", models.ErrStorage, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.messagesURL(roomID), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", models.ErrStorage, err)
	}
	req.Header.Set("Content-Type", "application/json")

	var rec record
	if err := s.do(req, http.StatusCreated, &rec); err != nil {
		return nil, err
	}
	msg, err := rec.toMessage(roomID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrStorage, err)
	}
	return msg, nil
}

func (s *HTTPStore) List(ctx context.Context, roomID string, limit int, before string) ([]*models.Message, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(ClampLimit(limit)))
	if before != "" {
		q.Set("before", before)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.messagesURL(roomID)+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", models.ErrStorage, err)
	}

	var recs []record
	if err := s.do(req, http.StatusOK, &recs); err != nil {
		return nil, err
	}

	out := make([]*models.Message, 0, len(recs))
	for i := range recs {
		msg, err := recs[i].toMessage(roomID)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", models.ErrStorage, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func (s *HTTPStore) do(req *http.Request, want int, out any) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %w", models.ErrStorage, req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != want {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		s.log.Warn().
			Str("method", req.Method).
			Str("path", req.URL.Path).
			Int("status", resp.StatusCode).
			Msg("resource api rejected request")
		return fmt.Errorf("%w: status %d: %s", classifyStatus(resp.StatusCode), resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", models.ErrStorage, err)
	}
	return nil
}

func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return models.ErrValidation
	case http.StatusUnauthorized, http.StatusForbidden:
		return models.ErrUnauthorized
	}
	return models.ErrStorage
}

func (s *HTTPStore) Close() error {
	s.client.CloseIdleConnections()
	return nil
}
