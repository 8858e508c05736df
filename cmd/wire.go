package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	appstorage "mediadrop/application/storage"
	"mediadrop/domain/storage"
	"mediadrop/infrastructure/coldstorage"
	"mediadrop/infrastructure/config"
	"mediadrop/infrastructure/credentials"
	"mediadrop/infrastructure/drive"
	"mediadrop/infrastructure/dropbox"
	"mediadrop/infrastructure/ffmpeg"
	"mediadrop/infrastructure/httpfetch"
	"mediadrop/infrastructure/imaging"
	"mediadrop/infrastructure/metrics"
	"mediadrop/infrastructure/objectstore"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"
)

// App is the wired object graph a command runs against
type App struct {
	Service    *appstorage.Service
	Creds      *credentials.FileStore
	ColdStores coldstorage.StoreFactory // nil without cold storage
	Logger     *slog.Logger
}

// Session resolves a user's session on one backend
func (a *App) Session(ctx context.Context, userID string, kind storage.ProviderKind) (storage.Session, error) {
	return a.Creds.Session(ctx, userID, kind)
}

// BuildApp wires every configured backend. Metrics are registered on reg
// when it is non-nil.
func BuildApp(ctx context.Context, c *config.Config, reg prometheus.Registerer, out io.Writer, logger *slog.Logger) (*App, error) {
	creds, err := credentials.Open(c.CredentialsFile)
	if err != nil {
		return nil, err
	}

	quota := appstorage.NewQuotaCalculator(c.QuotaTable(), creds, logger)
	uploader := appstorage.NewRateLimitedUploader(
		appstorage.WithWindow(c.Upload.Window),
		appstorage.WithBackoffPolicy(c.BackoffPolicy()),
		appstorage.WithUploaderLogger(logger),
	)
	mover := appstorage.NewPrefixMover(logger)

	thumbs, err := buildThumbnails(ctx, c, logger)
	if err != nil {
		return nil, err
	}

	var providers []storage.Provider
	var coldStores coldstorage.StoreFactory
	fetcher := httpfetch.New()

	if c.ColdStorage.Enabled() {
		opts := []coldstorage.Option{
			coldstorage.WithQuota(quota),
			coldstorage.WithCredentialStore(creds),
			coldstorage.WithShareBaseURL(c.Share.BaseURL),
			coldstorage.WithURLTTL(c.ColdStorage.URLTTL),
			coldstorage.WithFetcher(fetcher),
			coldstorage.WithLogger(logger),
		}
		if thumbs != nil {
			opts = append(opts, coldstorage.WithThumbnails(thumbs))
		}
		if c.Transcoded.Enabled() {
			mirror, err := buildMirror(ctx, c, mover, logger)
			if err != nil {
				return nil, err
			}
			opts = append(opts, coldstorage.WithMirror(mirror))
		}
		coldStores = objectstore.SessionStores(c.ColdStorage.Config, c.ColdStorage.Bucket)
		providers = append(providers, coldstorage.NewProvider(coldStores, uploader, mover, opts...))
	}

	if c.Dropbox.Enabled() {
		oauthCfg := &oauth2.Config{
			ClientID:     c.Dropbox.AppKey,
			ClientSecret: c.Dropbox.AppSecret,
			Endpoint:     endpoints.Dropbox,
		}
		refresher := credentials.NewOAuthRefresher(oauthCfg, creds, logger)
		opts := []dropbox.Option{
			dropbox.WithRootFolder(c.Dropbox.RootFolder),
			dropbox.WithQuota(quota),
			dropbox.WithFetcher(fetcher),
			dropbox.WithRefreshFunc(refresher.Refresh),
			dropbox.WithLogger(logger),
		}
		if thumbs != nil {
			opts = append(opts, dropbox.WithThumbnails(thumbs))
		}
		providers = append(providers, dropbox.NewProvider(uploader, mover, opts...))
	}

	if c.Google.Enabled() {
		oauthCfg, err := drive.LoadOAuthConfig(c.Google.CredentialsFile)
		if err != nil {
			return nil, err
		}
		refresher := credentials.NewOAuthRefresher(oauthCfg, creds, logger)
		opts := []drive.Option{
			drive.WithRootFolderID(c.Google.RootFolderID),
			drive.WithQuota(quota),
			drive.WithRefreshFunc(refresher.Refresh),
			drive.WithLogger(logger),
		}
		if thumbs != nil {
			opts = append(opts, drive.WithThumbnails(thumbs))
		}
		providers = append(providers, drive.NewProvider(uploader, opts...))
	}

	if reg != nil {
		rec, err := metrics.NewRecorder("mediadrop", reg)
		if err != nil {
			return nil, err
		}
		for i, p := range providers {
			providers[i] = metrics.Instrument(p, rec)
		}
	}

	return &App{
		Service:    appstorage.NewService(providers, out, logger),
		Creds:      creds,
		ColdStores: coldStores,
		Logger:     logger,
	}, nil
}

func ffmpegOptions(c *config.Config) []ffmpeg.Option {
	opts := []ffmpeg.Option{
		ffmpeg.WithFFmpegPath(c.FFmpeg.Path),
		ffmpeg.WithTempDir(c.FFmpeg.TempDir),
	}
	if c.FFmpeg.Preset != nil {
		opts = append(opts, ffmpeg.WithPreset(*c.FFmpeg.Preset))
	}
	return opts
}

// buildThumbnails returns nil when no thumbnail bucket is configured
func buildThumbnails(ctx context.Context, c *config.Config, logger *slog.Logger) (storage.ThumbnailResolver, error) {
	t := c.Thumbnails
	if !t.Enabled() {
		return nil, nil
	}

	store, err := objectstore.Open(ctx, t.Config, t.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open thumbnail bucket: %w", err)
	}

	var resizer storage.ImageResizer = imaging.NewResizer()
	if t.UseGoCV {
		if cv := imaging.NewGoCVResizer(); cv.Available() {
			resizer = cv
		} else {
			logger.Warn("gocv resizer requested but not compiled in, using pure Go resizer")
		}
	}

	return appstorage.NewThumbnailCache(store, resizer,
		appstorage.WithFrameGrabber(ffmpeg.NewFrameGrabber(ffmpegOptions(c)...)),
		appstorage.WithThumbnailBounds(t.MaxWidth, t.MaxHeight, t.Quality),
		appstorage.WithThumbnailTTL(t.URLTTL),
		appstorage.WithPresenceMemo(t.MemoSize),
		appstorage.WithThumbnailLogger(logger),
	), nil
}

func buildMirror(ctx context.Context, c *config.Config, mover storage.FolderMover, logger *slog.Logger) (storage.MediaMirror, error) {
	store, err := objectstore.Open(ctx, c.Transcoded.Config, c.Transcoded.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcoded bucket: %w", err)
	}
	return appstorage.NewTranscodePipeline(store, ffmpeg.NewTranscoder(ffmpegOptions(c)...), mover,
		appstorage.WithPreviewTTL(c.Transcoded.URLTTL),
		appstorage.WithTranscodeLogger(logger),
	), nil
}
