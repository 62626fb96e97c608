package main

import (
	"context"
	"errors"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/fanwall/internal/compositor"
	"github.com/MarcoPoloResearchLab/fanwall/internal/config"
	"github.com/MarcoPoloResearchLab/fanwall/internal/database"
	"github.com/MarcoPoloResearchLab/fanwall/internal/logging"
	"github.com/MarcoPoloResearchLab/fanwall/internal/metrics"
	"github.com/MarcoPoloResearchLab/fanwall/internal/nickname"
	"github.com/MarcoPoloResearchLab/fanwall/internal/server"
	"github.com/MarcoPoloResearchLab/fanwall/internal/sharecard"
	"github.com/MarcoPoloResearchLab/fanwall/internal/signatures"
	"github.com/MarcoPoloResearchLab/fanwall/internal/storage"
	"github.com/MarcoPoloResearchLab/fanwall/internal/submission"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fanwall",
		Short: "Fan wall signature service and client",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)
	rootCmd.AddCommand(
		newBrowseCommand(),
		newLikeCommand(),
		newCommentCommand(),
		newNicknameCommand(),
		newWhoAmICommand(),
		newComposeCommand(),
		newShareCardCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("database-dsn", defaults.GetString("database.dsn"), "Postgres DSN")
	cmd.PersistentFlags().String("storage-endpoint", defaults.GetString("storage.endpoint"), "S3-compatible storage endpoint")
	cmd.PersistentFlags().String("storage-bucket", defaults.GetString("storage.bucket"), "Signature bucket name")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("api-url", defaults.GetString("client.base_url"), "Fan wall API base URL for client commands")
	cmd.PersistentFlags().String("identity-file", defaults.GetString("client.identity_file"), "Client identity file")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "storage.endpoint", "storage-endpoint")
	bindFlag(cmd, "storage.bucket", "storage-bucket")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "client.base_url", "api-url")
	bindFlag(cmd, "client.identity_file", "identity-file")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(appConfig.Database, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	recorder := metrics.NewRecorder()

	signatureService, err := signatures.NewService(signatures.ServiceConfig{
		Database:   db,
		Clock:      time.Now,
		IDProvider: signatures.NewUUIDProvider(),
		ProfilePicker: signatures.NewProfilePicker(
			appConfig.Profiles.Count,
			appConfig.Profiles.PathFormat,
			rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	nicknames := nickname.NewGenerator(nickname.Config{
		Endpoint: appConfig.Nickname.Endpoint,
		APIKey:   appConfig.Nickname.APIKey,
		Model:    appConfig.Nickname.Model,
		Timeout:  appConfig.Nickname.Timeout,
		Logger:   logger,
	})

	shareCards, err := sharecard.NewRenderer(sharecard.NewHTTPFetcher(appConfig.Proxy.Timeout), logger)
	if err != nil {
		return err
	}

	deps := server.Dependencies{
		Signatures:  signatureService,
		Nicknames:   nicknames,
		ShareCards:  shareCards,
		ProxyClient: &http.Client{Timeout: appConfig.Proxy.Timeout},
		Metrics:     recorder,
		Clock:       time.Now,
		Options: server.Options{
			PageSize:       appConfig.Feed.PageSize,
			MaxPageSize:    appConfig.Feed.MaxPageSize,
			UploadMaxBytes: appConfig.Upload.MaxBytes,
			StreamURL:      appConfig.StreamURL,
		},
		Logger: logger,
	}

	if appConfig.Storage.Enabled() {
		minioClient, err := storage.NewMinioClient(appConfig.Storage)
		if err != nil {
			return err
		}
		blobs, err := storage.NewMinioStore(storage.MinioConfig{
			API:           minioClient,
			Bucket:        appConfig.Storage.Bucket,
			Region:        appConfig.Storage.Region,
			PublicBaseURL: appConfig.Storage.PublicBaseURL,
			Logger:        logger,
		})
		if err != nil {
			return err
		}
		submissions, err := submission.NewService(submission.ServiceConfig{
			Compositor: compositor.New(logger),
			Blobs:      blobs,
			Signatures: signatureService,
			Recorder:   recorder,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		deps.Blobs = blobs
		deps.Submissions = submissions
	} else {
		logger.Warn("blob storage disabled; uploads and submissions will be rejected")
	}

	handler, err := server.NewHTTPHandler(deps)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
