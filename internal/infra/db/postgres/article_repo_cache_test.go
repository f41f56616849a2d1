//go:build !integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"media-pipeline/internal/domain"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
)

type mockRedisClient struct {
	GetFunc func(ctx context.Context, key string) (string, error)
	SetFunc func(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	DelFunc func(ctx context.Context, keys ...string) error
}

func (m *mockRedisClient) Get(ctx context.Context, key string) (string, error) {
	if m.GetFunc == nil {
		return "", redis.Nil
	}
	return m.GetFunc(ctx, key)
}

func (m *mockRedisClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if m.SetFunc == nil {
		return nil
	}
	return m.SetFunc(ctx, key, value, expiration)
}

func (m *mockRedisClient) Del(ctx context.Context, keys ...string) error {
	if m.DelFunc == nil {
		return nil
	}
	return m.DelFunc(ctx, keys...)
}

type mockInnerArticleRepo struct {
	FindByIDFunc func(ctx context.Context, tx repository.Tx, id string) (*model.Article, error)
	calls        int
}

func (m *mockInnerArticleRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Article, error) {
	m.calls++
	return m.FindByIDFunc(ctx, tx, id)
}

func TestArticleRepoCacheDecorator(t *testing.T) {
	ctx := context.Background()
	log := zerolog.Nop()
	article := &model.Article{ID: "art-1", OrganizationID: "org-1", Title: "Tides", Content: "The moon pulls."}
	articleJSON, _ := json.Marshal(article)

	t.Run("should return from cache on hit", func(t *testing.T) {
		cache := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return string(articleJSON), nil },
		}
		inner := &mockInnerArticleRepo{FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Article, error) {
			return nil, errors.New("should not be called")
		}}
		d := NewArticleRepoCacheDecorator(inner, cache, time.Minute, &log)

		got, err := d.FindByID(ctx, nil, "art-1")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if inner.calls != 0 {
			t.Error("inner repository should not be called on a cache hit")
		}
		if got.Content != article.Content {
			t.Errorf("unexpected article %+v", got)
		}
	})

	t.Run("should load and populate the cache on miss", func(t *testing.T) {
		var setKey string
		cache := &mockRedisClient{
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				setKey = key
				return nil
			},
		}
		inner := &mockInnerArticleRepo{FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Article, error) {
			return article, nil
		}}
		d := NewArticleRepoCacheDecorator(inner, cache, time.Minute, &log)

		if _, err := d.FindByID(ctx, nil, "art-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if inner.calls != 1 {
			t.Errorf("expected 1 inner call, got %d", inner.calls)
		}
		if setKey != "article:art-1" {
			t.Errorf("expected cache key article:art-1, got %q", setKey)
		}
	})

	t.Run("should fall through when redis errors", func(t *testing.T) {
		cache := &mockRedisClient{
			GetFunc: func(ctx context.Context, key string) (string, error) { return "", errors.New("connection refused") },
		}
		inner := &mockInnerArticleRepo{FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Article, error) {
			return article, nil
		}}
		d := NewArticleRepoCacheDecorator(inner, cache, time.Minute, &log)

		if _, err := d.FindByID(ctx, nil, "art-1"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if inner.calls != 1 {
			t.Errorf("expected inner call on redis error, got %d", inner.calls)
		}
	})

	t.Run("should not cache missing articles", func(t *testing.T) {
		cache := &mockRedisClient{
			SetFunc: func(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
				t.Error("Set should not be called for a missing article")
				return nil
			},
		}
		inner := &mockInnerArticleRepo{FindByIDFunc: func(ctx context.Context, tx repository.Tx, id string) (*model.Article, error) {
			return nil, domain.ErrNotFound
		}}
		d := NewArticleRepoCacheDecorator(inner, cache, time.Minute, &log)

		if _, err := d.FindByID(ctx, nil, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}
