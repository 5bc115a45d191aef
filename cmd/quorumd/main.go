package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/groupguard/quorum/internal/audit"
	auditchain "github.com/groupguard/quorum/internal/audit/chain"
	auditstream "github.com/groupguard/quorum/internal/audit/stream"
	"github.com/groupguard/quorum/internal/auth/token"
	"github.com/groupguard/quorum/internal/cli/common"
	"github.com/groupguard/quorum/internal/db"
	"github.com/groupguard/quorum/internal/quorum"
	approvalsgorm "github.com/groupguard/quorum/internal/repo/gorm/approvals"
	groupsgorm "github.com/groupguard/quorum/internal/repo/gorm/groups"
	"github.com/groupguard/quorum/internal/security/rbac"
	httpserver "github.com/groupguard/quorum/internal/server/http"
	"github.com/groupguard/quorum/internal/telemetry"
	"github.com/groupguard/quorum/internal/validation"
)

func main() {
	var cfgFile string
	root := &cobra.Command{
		Use:   "quorumd",
		Short: "Quorum approval server",
		RunE: func(cmd *cobra.Command, args []string) error {
			common.SetupLoggerWithFile("info", "console", "", 0, 0, 0, false)
			viper.SetEnvPrefix("QUORUM")
			viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
			viper.AutomaticEnv()
			if cfgFile != "" {
				viper.SetConfigFile(cfgFile)
				if err := viper.ReadInConfig(); err != nil {
					slog.Warn("read config", "error", err)
				} else {
					slog.Info("config loaded", "file", viper.ConfigFileUsed())
				}
			}
			v := viper.GetViper()
			if sub := v.Sub("server"); sub != nil {
				v = sub
			}
			common.MergeLogSection(v)
			common.SetupLoggerWithFile(
				v.GetString("log.level"),
				v.GetString("log.format"),
				v.GetString("log.file"),
				v.GetInt("log.max_size"),
				v.GetInt("log.max_backups"),
				v.GetInt("log.max_age"),
				v.GetBool("log.compress"),
			)
			return serve(cmd.Context(), v)
		},
	}
	root.Flags().StringVarP(&cfgFile, "config", "c", "", "config file (yaml)")
	root.Flags().String("http_addr", ":8080", "http listen address")
	_ = viper.BindPFlag("http_addr", root.Flags().Lookup("http_addr"))

	if err := root.Execute(); err != nil {
		slog.Error("quorumd exited", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, v *viper.Viper) error {
	if err := common.ValidateServerConfig(v, false); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.Setup(ctx, telemetry.Config{
		ServiceName:   "quorumd",
		Environment:   v.GetString("env"),
		CollectorURL:  v.GetString("otel.collector_url"),
		SamplingRatio: v.GetFloat64("otel.sampling_ratio"),
	})
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	gdb, err := db.Open(v.GetString("db.dsn"))
	if err != nil {
		return err
	}
	if err := approvalsgorm.AutoMigrate(gdb); err != nil {
		return err
	}
	if err := groupsgorm.AutoMigrate(gdb); err != nil {
		return err
	}
	groupRepo := groupsgorm.NewRepo(gdb)
	store := approvalsgorm.NewRepo(gdb)

	var sinks audit.Multi
	if p := v.GetString("audit.file"); p != "" {
		w, err := auditchain.NewWriter(p)
		if err != nil {
			return err
		}
		defer w.Close()
		sinks = append(sinks, w)
	}
	if url := v.GetString("audit.redis_url"); url != "" {
		sinks = append(sinks, auditstream.New(url, v.GetString("audit.redis_stream"), v.GetInt64("audit.redis_maxlen"), true))
	}
	var sink audit.Sink = audit.Noop{}
	if len(sinks) > 0 {
		sink = sinks
	}

	payloads, err := validation.NewPayloadValidator()
	if err != nil {
		return err
	}
	dispatcher := quorum.NewDispatcher()
	groupsgorm.RegisterHandlers(dispatcher, groupRepo)

	engine, err := quorum.New(quorum.Config{
		Store:      store,
		Roster:     groupRepo,
		Payloads:   payloads,
		Dispatcher: dispatcher,
		Audit:      sink,
	})
	if err != nil {
		return err
	}

	var policy rbac.PolicyInterface
	if p := v.GetString("rbac_config"); p != "" {
		policy, err = rbac.LoadPolicyAuto(p)
		if err != nil {
			return err
		}
	} else {
		slog.Warn("no rbac_config; all authenticated callers allowed")
	}
	var jwtMgr *token.Manager
	if secret := v.GetString("auth.secret"); secret != "" {
		jwtMgr = token.NewManager(secret)
	} else {
		slog.Warn("no auth.secret; dev identity via X-Member-ID header")
	}

	srv := httpserver.NewServer(engine, groupRepo, httpserver.Options{
		Addr:         v.GetString("http_addr"),
		JWT:          jwtMgr,
		RBAC:         policy,
		AllowOrigins: v.GetString("cors.allow_origins"),
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
