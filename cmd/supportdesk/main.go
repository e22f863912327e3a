package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/supportdesk/ai/core/llm"
	"github.com/hrygo/supportdesk/ai/knowledge"
	"github.com/hrygo/supportdesk/internal/apperr"
	"github.com/hrygo/supportdesk/internal/profile"
	"github.com/hrygo/supportdesk/internal/version"
	"github.com/hrygo/supportdesk/plugin/chat_apps/channels/telegram"
	"github.com/hrygo/supportdesk/server"
	"github.com/hrygo/supportdesk/store"
	"github.com/hrygo/supportdesk/store/db"
)

var (
	rootCmd = &cobra.Command{
		Use:   "supportdesk",
		Short: `A customer-support answer service grounded in a curated knowledge base, for web chat, LINE and Telegram.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Systemd units supply their own environment file.
			if !isRunningAsSystemdService() {
				_ = godotenv.Load()
			}
			return nil
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			instanceProfile, err := loadProfile()
			if err != nil {
				return err
			}

			kb, err := knowledge.Load(instanceProfile.KnowledgePath, instanceProfile.MaxEntryLength)
			if err != nil {
				slog.Error("failed to load knowledge base", "path", instanceProfile.KnowledgePath, "error", err)
				return err
			}
			slog.Info("knowledge base loaded", "path", instanceProfile.KnowledgePath, "entries", kb.Len())

			llmService, err := llm.NewService(&llm.Config{
				Provider:    instanceProfile.LLMProvider,
				Model:       instanceProfile.LLMModel,
				APIKey:      instanceProfile.LLMAPIKey,
				BaseURL:     instanceProfile.LLMBaseURL,
				MaxTokens:   instanceProfile.LLMMaxTokens,
				Temperature: instanceProfile.LLMTemperature,
				Timeout:     instanceProfile.LLMTimeout,
			})
			if err != nil {
				return apperr.WrapConfig(err, "create LLM service")
			}
			slog.Info("LLM service initialized", "provider", instanceProfile.LLMProvider, "model", instanceProfile.LLMModel)

			// Warmup is best-effort and must not delay startup.
			go func() {
				warmupCtx, warmupCancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer warmupCancel()
				llmService.Warmup(warmupCtx)
			}()

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			dbDriver, err := db.NewDBDriver(instanceProfile)
			if err != nil {
				slog.Error("failed to create db driver", "driver", instanceProfile.Driver, "error", err)
				return apperr.WrapConfig(err, "open database")
			}

			storeInstance := store.New(dbDriver, instanceProfile)
			if err := storeInstance.Migrate(ctx); err != nil {
				slog.Error("failed to migrate", "error", err)
				_ = storeInstance.Close()
				return err
			}

			s, err := server.NewServer(ctx, instanceProfile, storeInstance, kb, llmService)
			if err != nil {
				slog.Error("failed to create server", "error", err)
				_ = storeInstance.Close()
				return err
			}

			c := make(chan os.Signal, 1)
			// Trigger graceful shutdown on SIGINT or SIGTERM.
			signal.Notify(c, terminationSignals...)

			if err := s.Start(ctx); err != nil {
				slog.Error("failed to start server", "error", err)
				return err
			}

			printGreetings(instanceProfile)

			go func() {
				<-c
				s.Shutdown(context.WithoutCancel(ctx))
				cancel()
			}()

			// Wait for CTRL-C.
			<-ctx.Done()
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.String())
		},
	}

	telegramWebhookCmd = &cobra.Command{
		Use:   "telegram-webhook <url>",
		Short: "Register the Telegram webhook URL together with the configured secret token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			instanceProfile := &profile.Profile{}
			instanceProfile.FromEnv()
			if !instanceProfile.IsTelegramEnabled() {
				return apperr.Config("SUPPORTDESK_TELEGRAM_BOT_TOKEN and SUPPORTDESK_TELEGRAM_SECRET_TOKEN are required")
			}
			ch, err := telegram.NewTelegramChannel(&telegram.TelegramConfig{
				BotToken:    instanceProfile.TelegramBotToken,
				SecretToken: instanceProfile.TelegramSecretToken,
			})
			if err != nil {
				return err
			}
			drop, _ := cmd.Flags().GetBool("drop-pending")
			if err := ch.SetWebhook(args[0], drop); err != nil {
				return err
			}
			fmt.Printf("Telegram webhook set to %s\n", args[0])
			return nil
		},
	}
)

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 8081)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 8081, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name(aka. DSN)")
	rootCmd.PersistentFlags().String("knowledge", "", "path to the knowledge base file (YAML or JSON)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	for _, key := range []string{"mode", "addr", "port", "data", "driver", "dsn", "knowledge", "log-level"} {
		if err := viper.BindPFlag(key, rootCmd.PersistentFlags().Lookup(key)); err != nil {
			panic(err)
		}
	}

	telegramWebhookCmd.Flags().Bool("drop-pending", false, "drop updates queued while no webhook was set")
	rootCmd.AddCommand(versionCmd, telegramWebhookCmd)

	viper.SetEnvPrefix("supportdesk")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// loadProfile merges flags and environment, validates, and installs the logger.
func loadProfile() (*profile.Profile, error) {
	instanceProfile := &profile.Profile{
		Mode:          viper.GetString("mode"),
		Addr:          viper.GetString("addr"),
		Port:          viper.GetInt("port"),
		Data:          viper.GetString("data"),
		Driver:        viper.GetString("driver"),
		DSN:           viper.GetString("dsn"),
		KnowledgePath: viper.GetString("knowledge"),
		LogLevel:      viper.GetString("log-level"),
		Version:       version.GetCurrentVersion(viper.GetString("mode")),
	}
	instanceProfile.FromEnv()
	setupLogger(instanceProfile)

	if err := instanceProfile.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		return nil, err
	}
	return instanceProfile, nil
}

func setupLogger(p *profile.Profile) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(p.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}

	var handler slog.Handler
	if p.Mode == "prod" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func printGreetings(profile *profile.Profile) {
	fmt.Printf("SupportDesk %s started successfully!\n", profile.Version)

	if profile.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
		if profile.DSN != "" && profile.Driver == "sqlite" {
			fmt.Fprintf(os.Stderr, "Database: %s\n", profile.DSN)
		}
	}

	fmt.Printf("Data directory: %s\n", profile.Data)
	fmt.Printf("Database driver: %s\n", profile.Driver)
	fmt.Printf("Knowledge base: %s\n", profile.KnowledgePath)
	fmt.Printf("LLM: %s (%s)\n", profile.LLMProvider, profile.LLMModel)
	fmt.Printf("Mode: %s\n", profile.Mode)

	host := profile.Addr
	if host == "" {
		host = "localhost"
	}
	fmt.Printf("Web chat: http://%s:%d/\n", host, profile.Port)
	if profile.IsLINEEnabled() {
		fmt.Printf("LINE webhook: http://%s:%d/callback\n", host, profile.Port)
	}
	if profile.IsTelegramEnabled() {
		fmt.Printf("Telegram webhook: http://%s:%d/callback/telegram\n", host, profile.Port)
	}
	fmt.Println()
}

// isRunningAsSystemdService detects if the process is running under systemd
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
