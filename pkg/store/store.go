// Package store is the persistence facade for threads and messages. Both the
// intake gateway and the planning worker go through it; neither touches gorm
// directly. Messages are append-only and no update or delete is exposed,
// which is what lets concurrent gateway and worker instances share the
// database without locking beyond single-row inserts.
package store

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	v1 "github.com/roamerhq/roamer/pkg/apis/trip/v1"
	"github.com/roamerhq/roamer/pkg/db"
	"github.com/roamerhq/roamer/pkg/db/models"
)

var (
	// ErrNotFound is returned for unknown thread or message ids.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate is returned when an insert trips one of the idempotency
	// unique indexes; the existing row should be fetched and used instead.
	ErrDuplicate = errors.New("duplicate")
)

// NewMessage is the input to CreateMessage. Message ids and timestamps are
// assigned by the store.
type NewMessage struct {
	ThreadID uuid.UUID
	Role     string
	Content  v1.MessageContent

	// RequestID is set on user messages created through trip submission.
	RequestID string

	// SourceMessageID is set on assistant messages and error replies.
	SourceMessageID *uint
}

// Store exposes the durable operations the gateway and worker need.
type Store interface {
	CreateThread(ctx context.Context) (*models.Thread, error)
	GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error)
	ListThreads(ctx context.Context, limit, offset int) ([]models.Thread, error)

	CreateMessage(ctx context.Context, msg NewMessage) (*models.Message, error)
	GetMessage(ctx context.Context, id uint) (*models.Message, error)
	GetMessagesAfter(ctx context.Context, threadID uuid.UUID, afterID uint, limit int) ([]models.Message, error)

	// FirstAssistantAfter returns the oldest assistant message with id
	// strictly greater than afterID, or ErrNotFound.
	FirstAssistantAfter(ctx context.Context, threadID uuid.UUID, afterID uint) (*models.Message, error)

	// LatestAssistantMessage returns the newest assistant message in the
	// thread, or ErrNotFound.
	LatestAssistantMessage(ctx context.Context, threadID uuid.UUID) (*models.Message, error)

	// MessageByRequestID finds the user message a prior submission with this
	// idempotency token created, or ErrNotFound.
	MessageByRequestID(ctx context.Context, threadID uuid.UUID, requestID string) (*models.Message, error)

	// AssistantReplyFor finds the assistant message produced for a source
	// user message, or ErrNotFound.
	AssistantReplyFor(ctx context.Context, threadID uuid.UUID, sourceMessageID uint) (*models.Message, error)

	ListPOIs(ctx context.Context, regionCode string, tags []string, limit int) ([]models.PointOfInterest, error)
	SeedPOIs(ctx context.Context, pois []models.PointOfInterest) error
}

// EncodeContent renders message content to the JSONB column value.
func EncodeContent(content v1.MessageContent) (pgtype.JSONB, error) {
	var jsonb pgtype.JSONB
	data, err := json.Marshal(content)
	if err != nil {
		return jsonb, errors.Wrap(err, "marshal message content")
	}
	if err := jsonb.Set(data); err != nil {
		return jsonb, errors.Wrap(err, "set content JSONB")
	}
	return jsonb, nil
}

// DecodeContent parses the JSONB column value back into the union.
func DecodeContent(msg *models.Message) (v1.MessageContent, error) {
	var content v1.MessageContent
	if err := json.Unmarshal(msg.Content.Bytes, &content); err != nil {
		return content, errors.Wrapf(err, "decode content of message %d", msg.ID)
	}
	return content, nil
}

type dbStore struct {
	dbc *db.DB
}

// New returns a Store backed by Postgres.
func New(dbc *db.DB) Store {
	return &dbStore{dbc: dbc}
}

func (s *dbStore) CreateThread(ctx context.Context) (*models.Thread, error) {
	thread := models.Thread{}
	if thread.ID == uuid.Nil {
		thread.ID = uuid.New()
	}
	if err := s.dbc.DB.WithContext(ctx).Create(&thread).Error; err != nil {
		return nil, errors.Wrap(err, "create thread")
	}
	return &thread, nil
}

func (s *dbStore) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	var thread models.Thread
	err := s.dbc.DB.WithContext(ctx).First(&thread, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

func (s *dbStore) ListThreads(ctx context.Context, limit, offset int) ([]models.Thread, error) {
	var threads []models.Thread
	err := s.dbc.DB.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&threads).Error
	return threads, err
}

func (s *dbStore) CreateMessage(ctx context.Context, msg NewMessage) (*models.Message, error) {
	content, err := EncodeContent(msg.Content)
	if err != nil {
		return nil, err
	}

	row := models.Message{
		ThreadID:        msg.ThreadID,
		Role:            msg.Role,
		Content:         content,
		SourceMessageID: msg.SourceMessageID,
	}
	if msg.RequestID != "" {
		row.RequestID = &msg.RequestID
	}

	if err := s.dbc.DB.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, errors.Wrap(err, "create message")
	}
	return &row, nil
}

func (s *dbStore) GetMessage(ctx context.Context, id uint) (*models.Message, error) {
	var msg models.Message
	err := s.dbc.DB.WithContext(ctx).First(&msg, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *dbStore) GetMessagesAfter(ctx context.Context, threadID uuid.UUID, afterID uint, limit int) ([]models.Message, error) {
	var messages []models.Message
	query := s.dbc.DB.WithContext(ctx).
		Where("thread_id = ? AND id > ?", threadID, afterID).
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	return messages, query.Find(&messages).Error
}

func (s *dbStore) FirstAssistantAfter(ctx context.Context, threadID uuid.UUID, afterID uint) (*models.Message, error) {
	var msg models.Message
	err := s.dbc.DB.WithContext(ctx).
		Where("thread_id = ? AND role = ? AND id > ?", threadID, v1.RoleAssistant, afterID).
		Order("id ASC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *dbStore) LatestAssistantMessage(ctx context.Context, threadID uuid.UUID) (*models.Message, error) {
	var msg models.Message
	err := s.dbc.DB.WithContext(ctx).
		Where("thread_id = ? AND role = ?", threadID, v1.RoleAssistant).
		Order("id DESC").
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *dbStore) MessageByRequestID(ctx context.Context, threadID uuid.UUID, requestID string) (*models.Message, error) {
	var msg models.Message
	err := s.dbc.DB.WithContext(ctx).
		Where("thread_id = ? AND request_id = ?", threadID, requestID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *dbStore) AssistantReplyFor(ctx context.Context, threadID uuid.UUID, sourceMessageID uint) (*models.Message, error) {
	var msg models.Message
	err := s.dbc.DB.WithContext(ctx).
		Where("thread_id = ? AND source_message_id = ?", threadID, sourceMessageID).
		First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *dbStore) ListPOIs(ctx context.Context, regionCode string, tags []string, limit int) ([]models.PointOfInterest, error) {
	var pois []models.PointOfInterest
	query := s.dbc.DB.WithContext(ctx)
	if regionCode != "" {
		query = query.Where("region_code = ?", regionCode)
	}
	if len(tags) > 0 {
		query = query.Where("tags && ?", pq.Array(tags))
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	return pois, query.Order("name ASC").Find(&pois).Error
}

func (s *dbStore) SeedPOIs(ctx context.Context, pois []models.PointOfInterest) error {
	if len(pois) == 0 {
		return nil
	}
	return s.dbc.DB.WithContext(ctx).CreateInBatches(pois, s.dbc.BatchSize).Error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "duplicate key value")
}
