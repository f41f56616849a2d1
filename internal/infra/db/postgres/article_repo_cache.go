package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/repository"
	"media-pipeline/internal/infra/metrics"
	red "media-pipeline/internal/infra/redis"
)

var _ repository.ArticleRepository = (*articleRepoCacheDecorator)(nil)

// articleRepoCacheDecorator caches article bodies. Script jobs for several
// kinds of one submission read the same article back to back.
type articleRepoCacheDecorator struct {
	inner repository.ArticleRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

func NewArticleRepoCacheDecorator(inner repository.ArticleRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.ArticleRepository {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	l := logger.With().Str("component", "ArticleCache").Logger()
	return &articleRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func (d *articleRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Article, error) {
	// inside a transaction the caller wants the committed row
	if tx != nil {
		return d.inner.FindByID(ctx, tx, id)
	}
	key := "article:" + id
	val, err := d.cache.Get(ctx, key)
	switch {
	case err == nil:
		var a model.Article
		if json.Unmarshal([]byte(val), &a) == nil {
			metrics.IncCacheRequest("article", "hit")
			return &a, nil
		}
	case !errors.Is(err, redis.Nil):
		metrics.IncCacheRequest("article", "error")
		d.log.Warn().Err(err).Str("key", key).Msg("cache read failed")
	}

	metrics.IncCacheRequest("article", "miss")
	a, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(a); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("cache write failed")
		}
	}
	return a, nil
}
