// Package application is the composition root shared by the server and the
// operator CLI: it turns a config into wired repositories, adapters and
// usecases.
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"

	"media-pipeline/internal/config"
	"media-pipeline/internal/domain/model"
	"media-pipeline/internal/domain/ports/adapter"
	"media-pipeline/internal/domain/ports/repository"
	ports "media-pipeline/internal/domain/ports/usecase"
	aiAdapters "media-pipeline/internal/infra/adapters/ai"
	"media-pipeline/internal/infra/adapters/ffmpeg"
	mediaAdapters "media-pipeline/internal/infra/adapters/media"
	"media-pipeline/internal/infra/adapters/storage"
	tele "media-pipeline/internal/infra/adapters/telegram"
	"media-pipeline/internal/infra/db/memory"
	pg "media-pipeline/internal/infra/db/postgres"
	"media-pipeline/internal/infra/queue"
	red "media-pipeline/internal/infra/redis"
	"media-pipeline/internal/usecase"
)

// Container holds everything the processes share. Redis and Pool are nil
// when not configured.
type Container struct {
	Cfg *config.Config

	Pool  *pgxpool.Pool
	Redis *red.Client
	Queue adapter.JobQueue

	TxManager   repository.TransactionManager
	Outputs     repository.OutputRepository
	Submissions repository.SubmissionRepository
	Articles    repository.ArticleRepository

	Storage  *storage.LocalStorage
	Notifier adapter.Notifier

	Aggregator  ports.StatusAggregator
	Stages      ports.StageRunner
	Completions ports.CompletionHandler
	Reclaimer   ports.Reclaimer
	Pipeline    usecase.PipelineUseCase

	closers []func()
	log     *zerolog.Logger
}

// Build connects to the configured backends and wires the usecases. Call
// Close when done.
func Build(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (c *Container, err error) {
	l := logger.With().Str("component", "Container").Logger()
	c = &Container{Cfg: cfg, log: &l}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	if err := c.buildQueue(); err != nil {
		return nil, err
	}
	if err := c.buildStorage(); err != nil {
		return nil, err
	}
	c.Notifier = c.buildNotifier(logger)

	bestEffort := usecase.NewBestEffort(logger, time.Minute)
	c.Aggregator = usecase.NewAggregatorUseCase(c.Outputs, c.Submissions, logger)

	stageDeps, err := c.buildAdapters(ctx, logger)
	if err != nil {
		return nil, err
	}
	stageDeps.Outputs = c.Outputs
	stageDeps.Articles = c.Articles
	stageDeps.Queue = c.Queue
	stageDeps.Storage = c.Storage
	stageDeps.Aggregator = c.Aggregator
	stageDeps.BestEffort = bestEffort
	stages := usecase.NewStageUseCase(stageDeps, usecase.StageOptions{
		MaxArticleTokens: cfg.AI.MaxArticleTokens,
		DefaultVoiceID:   cfg.Speech.DefaultVoiceID,
		GuestVoiceID:     cfg.Speech.GuestVoiceID,
		TextModel:        cfg.AI.TextModel,
		WorkDir:          cfg.PostProcess.WorkDir,
	}, logger)
	c.Stages = stages
	c.Completions = stages

	perKind := map[model.MediaKind]time.Duration{}
	if cfg.Monitor.VideoThreshold > 0 {
		perKind[model.KindVideo] = cfg.Monitor.VideoThreshold
	}
	c.Reclaimer = usecase.NewReclaimerUseCase(c.Outputs, c.Aggregator, c.Notifier, bestEffort, usecase.ReclaimOptions{
		Threshold: cfg.Monitor.Threshold,
		PerKind:   perKind,
		BatchSize: cfg.Monitor.BatchSize,
	}, logger)
	c.Pipeline = usecase.NewPipelineUseCase(c.TxManager, c.Submissions, c.Outputs, c.Articles, c.Queue, c.Aggregator, logger)
	return c, nil
}

// connect opens Postgres and Redis. Dev runs without a database URL use the
// in-memory store.
func (c *Container) connect(ctx context.Context) error {
	cfg := c.Cfg
	if cfg.Redis.URL != "" {
		cli, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		c.Redis = cli
		c.closers = append(c.closers, func() { _ = cli.Close() })
	}

	if cfg.Database.URL == "" {
		c.log.Warn().Msg("no database configured; using the in-memory store")
		store := memory.NewStore()
		store.PutArticle(&model.Article{
			ID:             "demo",
			OrganizationID: "",
			Title:          "How rivers shape valleys",
			Content:        "Rivers carve valleys over thousands of years by carrying sediment downstream.",
		})
		c.TxManager = store.TxManager()
		c.Outputs = store.Outputs()
		c.Submissions = store.Submissions()
		c.Articles = store.Articles()
		return nil
	}

	pool, err := pg.NewPgxPool(ctx, &cfg.Database)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	c.Pool = pool
	c.closers = append(c.closers, pool.Close)
	c.TxManager = pg.NewTxManager(pool)
	c.Outputs = pg.NewOutputRepo(pool)
	c.Submissions = pg.NewSubmissionRepo(pool)
	var articles repository.ArticleRepository = pg.NewArticleRepo(pool)
	if c.Redis != nil {
		articles = pg.NewArticleRepoCacheDecorator(articles, c.Redis, 10*time.Minute, c.log)
	}
	c.Articles = articles
	return nil
}

func (c *Container) buildQueue() error {
	q := c.Cfg.Queue
	policy := queue.Policy{
		Text:  classPolicy(q.Text),
		Media: classPolicy(q.Media),
		Video: classPolicy(q.Video),
	}
	retention := queue.Retention{
		CompletedAge:   q.CompletedAge,
		CompletedCount: q.CompletedCount,
		FailedAge:      q.FailedAge,
		FailedCount:    q.FailedCount,
	}
	switch q.Backend {
	case "memory":
		mq := queue.NewMemoryQueue(policy, retention, c.log)
		c.Queue = mq
		c.closers = append(c.closers, mq.Close)
	default:
		if c.Redis == nil {
			return fmt.Errorf("queue backend %q needs redis.url", q.Backend)
		}
		c.Queue = queue.NewRedisQueue(c.Redis.Raw(), q.Prefix, policy, retention, c.log)
	}
	return nil
}

func classPolicy(rc config.RetryClass) queue.ClassPolicy {
	return queue.ClassPolicy{
		Attempts: rc.Attempts,
		Backoff:  model.BackoffPolicy{Base: rc.BackoffBase, Max: rc.BackoffMax},
	}
}

func (c *Container) buildStorage() error {
	st, err := storage.NewLocalStorage(c.Cfg.Storage.Dir, c.Cfg.Storage.PublicBaseURL, c.Cfg.Storage.FetchTimeout)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	c.Storage = st
	return nil
}

func (c *Container) buildNotifier(logger *zerolog.Logger) adapter.Notifier {
	a := c.Cfg.Alerts
	if a.TelegramToken == "" || a.TelegramChatID == 0 {
		return tele.NewNoopNotifier(logger)
	}
	n, err := tele.NewAlertNotifier(a.TelegramToken, a.TelegramChatID, logger)
	if err != nil {
		c.log.Warn().Err(err).Msg("telegram alerts unavailable; alerts will only be logged")
		return tele.NewNoopNotifier(logger)
	}
	return n
}

// buildAdapters picks a real provider for every port whose credentials are
// configured and a local stand-in otherwise.
func (c *Container) buildAdapters(ctx context.Context, logger *zerolog.Logger) (usecase.StageDeps, error) {
	cfg := c.Cfg
	var deps usecase.StageDeps

	byProvider := map[string]adapter.TextGenerator{}
	if cfg.AI.OpenAIKey != "" {
		oa, err := aiAdapters.NewOpenAIAdapter(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.TextModel)
		if err != nil {
			return deps, fmt.Errorf("openai adapter: %w", err)
		}
		byProvider["openai"] = oa
	}
	if cfg.AI.GeminiKey != "" {
		ga, err := aiAdapters.NewGeminiAdapter(ctx, cfg.AI.GeminiKey, "", cfg.AI.TextModel, 0)
		if err != nil {
			return deps, fmt.Errorf("gemini adapter: %w", err)
		}
		byProvider["gemini"] = ga
	}
	var text adapter.TextGenerator
	if len(byProvider) == 0 {
		c.log.Warn().Msg("no text provider configured; scripts come from the local stand-in")
		text = aiAdapters.NewNoopTextAdapter(logger)
	} else {
		text = aiAdapters.NewMultiTextAdapter(cfg.AI.Provider, byProvider, nil)
	}
	deps.Text = aiAdapters.NewLimitedText(text, cfg.AI.ConcurrentLimit)

	if tok, err := aiAdapters.NewTokenizer(cfg.AI.TextModel); err == nil {
		deps.Tokenizer = tok
	} else {
		c.log.Warn().Err(err).Msg("tiktoken unavailable; estimating tokens from length")
		deps.Tokenizer = aiAdapters.RuneTokenizer{}
	}

	if cfg.AI.OpenAIKey != "" {
		wt, err := aiAdapters.NewWhisperTranscriber(cfg.AI.OpenAIKey, cfg.AI.OpenAIBaseURL, cfg.AI.TranscribeModel, c.Storage)
		if err != nil {
			return deps, fmt.Errorf("whisper transcriber: %w", err)
		}
		deps.Transcriber = wt
	} else {
		deps.Transcriber = aiAdapters.NoopTranscriber{}
	}

	var speech adapter.SpeechSynthesizer = mediaAdapters.NoopSpeech{}
	if cfg.Speech.APIKey != "" {
		el, err := mediaAdapters.NewElevenLabsSpeech(cfg.Speech.APIKey, cfg.Speech.BaseURL, cfg.Speech.ModelID)
		if err != nil {
			return deps, fmt.Errorf("speech adapter: %w", err)
		}
		speech = el
	} else {
		c.log.Warn().Msg("no speech provider configured; synthesising silence")
	}
	deps.Speech = aiAdapters.NewLimitedSpeech(speech, cfg.Speech.ConcurrentLimit)

	noop := mediaAdapters.NewNoopRenderer(logger)
	deps.Avatar = noop
	if cfg.Avatar.APIKey != "" {
		hg, err := mediaAdapters.NewHeyGenRenderer(cfg.Avatar.APIKey, cfg.Avatar.BaseURL, cfg.Avatar.CallbackURL)
		if err != nil {
			return deps, fmt.Errorf("avatar adapter: %w", err)
		}
		deps.Avatar = hg
	}
	deps.Captions = noop
	if cfg.Captions.APIKey != "" {
		sm, err := mediaAdapters.NewSubmagicCaptioner(cfg.Captions.APIKey, cfg.Captions.BaseURL, cfg.Captions.CallbackURL, cfg.Captions.Template)
		if err != nil {
			return deps, fmt.Errorf("captions adapter: %w", err)
		}
		deps.Captions = sm
	}

	deps.Post = ffmpeg.NewCLI(cfg.PostProcess.FFmpegPath, cfg.PostProcess.MusicGain)
	return deps, nil
}

// Locker returns the sweep lock, or nil for single-instance runs.
func (c *Container) Locker() red.Locker {
	if c.Redis == nil {
		return nil
	}
	return red.NewLocker(c.Redis)
}

// Close releases connections in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}
