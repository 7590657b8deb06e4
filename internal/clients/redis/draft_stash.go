package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/morallab/moralsim-backend/internal/logger"
)

// RejectedDraft is a participant answer the quality judge sent back for
// another attempt. It lives outside the relational store: rejected text is
// never persisted as study data, but keeping the latest draft and the
// judge's feedback lets a reconnecting client repopulate its editor.
type RejectedDraft struct {
	VignetteID uuid.UUID `json:"vignette_id"`
	Text       string    `json:"text"`
	Feedback   string    `json:"feedback"`
	RejectedAt time.Time `json:"rejected_at"`
}

type DraftStash interface {
	Put(ctx context.Context, participantID uuid.UUID, draft RejectedDraft) error
	Get(ctx context.Context, participantID, vignetteID uuid.UUID) (*RejectedDraft, error)
	Delete(ctx context.Context, participantID, vignetteID uuid.UUID) error
	Close() error
}

type draftStash struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

// NewDraftStash connects to redis via REDIS_ADDR. When the variable is
// unset it degrades to an in-process stash and warns; drafts then survive
// reconnects but not server restarts.
func NewDraftStash(log *logger.Logger) (DraftStash, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		log.Warn("REDIS_ADDR not set; rejected drafts held in process memory only")
		return NewMemoryDraftStash(), nil
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &draftStash{
		log: log.With("service", "RedisDraftStash"),
		rdb: rdb,
		ttl: 24 * time.Hour,
	}, nil
}

func draftKey(participantID, vignetteID uuid.UUID) string {
	return fmt.Sprintf("draft:%s:%s", participantID, vignetteID)
}

func (s *draftStash) Put(ctx context.Context, participantID uuid.UUID, draft RejectedDraft) error {
	b, err := json.Marshal(draft)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}
	if err := s.rdb.Set(ctx, draftKey(participantID, draft.VignetteID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("stash draft: %w", err)
	}
	return nil
}

func (s *draftStash) Get(ctx context.Context, participantID, vignetteID uuid.UUID) (*RejectedDraft, error) {
	b, err := s.rdb.Get(ctx, draftKey(participantID, vignetteID)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read draft: %w", err)
	}
	var draft RejectedDraft
	if err := json.Unmarshal(b, &draft); err != nil {
		return nil, fmt.Errorf("unmarshal draft: %w", err)
	}
	return &draft, nil
}

func (s *draftStash) Delete(ctx context.Context, participantID, vignetteID uuid.UUID) error {
	return s.rdb.Del(ctx, draftKey(participantID, vignetteID)).Err()
}

func (s *draftStash) Close() error {
	return s.rdb.Close()
}

type memoryDraftStash struct {
	mu     sync.RWMutex
	drafts map[string]RejectedDraft
}

// NewMemoryDraftStash keeps drafts in a map. Used as the fallback when
// redis is not configured, and by tests.
func NewMemoryDraftStash() DraftStash {
	return &memoryDraftStash{drafts: make(map[string]RejectedDraft)}
}

func (s *memoryDraftStash) Put(_ context.Context, participantID uuid.UUID, draft RejectedDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drafts[draftKey(participantID, draft.VignetteID)] = draft
	return nil
}

func (s *memoryDraftStash) Get(_ context.Context, participantID, vignetteID uuid.UUID) (*RejectedDraft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.drafts[draftKey(participantID, vignetteID)]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (s *memoryDraftStash) Delete(_ context.Context, participantID, vignetteID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.drafts, draftKey(participantID, vignetteID))
	return nil
}

func (s *memoryDraftStash) Close() error { return nil }
