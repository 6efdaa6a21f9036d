package cmd

import (
	"context"
	"fmt"
	"github.com/introVRt-Lounge/hello-dalle-discordbot/hellodalle"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
	"testing"
)

var (
	cfg        = hellodalle.DefaultConfig()
	configFile string
)

var rootCmd = &cobra.Command{
	Use: "hello-dalle [flags]",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	switch level {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		if t.Kind() != reflect.Ptr {
			return data, nil
		}

		typ := t.Elem()

		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	err := rootCmd.ExecuteContext(ctx)
	fmt.Println(err)
	if err != nil {
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		fmt.Println("loading env from file", configFile)
		if err := godotenv.Load(configFile); err != nil {
			log.Println("No .env file found")
		}
	}

	viper.SetDefault("database", hellodalle.DefaultDatabase)
	viper.SetDefault(
		"database_slow_threshold",
		hellodalle.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		hellodalle.DefaultDatabaseLogLevel.String(),
	)

	viper.SetDefault("log_level", hellodalle.DefaultLogLevel.String())

	viper.SetDefault("startup_timeout", hellodalle.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", hellodalle.DefaultShutdownTimeout)
	viper.SetDefault("generation_timeout", hellodalle.DefaultGenerationTimeout)

	viper.SetDefault("temp_dir", hellodalle.DefaultTempDir)
	viper.SetDefault("welcome_images_dir", hellodalle.DefaultWelcomeImagesDir)
	viper.SetDefault("watermark_path", "")

	// OpenAI config
	viper.SetDefault("openai.log_level", hellodalle.DefaultOpenAILogLevel.String())
	viper.SetDefault("openai.token", "")
	viper.SetDefault("openai.image_model", hellodalle.DefaultDalleModel)
	viper.SetDefault("openai.image_size", hellodalle.DefaultDalleImageSize)
	viper.SetDefault("openai.vision_model", hellodalle.DefaultVisionModel)
	viper.SetDefault(
		"openai.max_requests_per_second",
		hellodalle.DefaultOpenAIMaxRequestsPerSecond,
	)

	// Gemini config
	viper.SetDefault("gemini.log_level", hellodalle.DefaultGeminiLogLevel.String())
	viper.SetDefault("gemini.api_key", "")
	viper.SetDefault("gemini.image_model", hellodalle.DefaultGeminiImageModel)
	viper.SetDefault("gemini.analysis_model", hellodalle.DefaultGeminiAnalysisModel)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.welcome_channel_id", "")
	viper.SetDefault("discord.botspam_channel_id", "")
	viper.SetDefault("discord.profile_channel_id", "")
	viper.SetDefault("discord.bot_user_role_id", "")
	viper.SetDefault("discord.stealth_welcome", false)
	viper.SetDefault("discord.posting_delay", hellodalle.DefaultPostingDelay)
	viper.SetDefault(
		"discord.log_level",
		hellodalle.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		hellodalle.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		hellodalle.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.startup_message", hellodalle.DefaultDiscordStartupMessage)

	// Generation config
	viper.SetDefault("generation.default_engine", string(hellodalle.EngineDalle))
	viper.SetDefault("generation.welcome_prompt", hellodalle.DefaultWelcomePrompt)
	viper.SetDefault("generation.wildcard", 0)
	viper.SetDefault("generation.gender_sensitivity", true)
	viper.SetDefault("generation.pfp_anyone", false)

	// Cooldown config
	viper.SetDefault(
		"cooldown.fast_mode_limit",
		hellodalle.DefaultCooldownFastModeLimit,
	)
	viper.SetDefault(
		"cooldown.fast_mode_reset",
		hellodalle.DefaultCooldownFastModeReset,
	)
	viper.SetDefault(
		"cooldown.slow_mode_interval",
		hellodalle.DefaultCooldownSlowModeInterval,
	)
	viper.SetDefault(
		"cooldown.cleanup_interval",
		hellodalle.DefaultCooldownCleanupInterval,
	)

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", hellodalle.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.log_level", hellodalle.DefaultAPILogLevel.String())
	viper.SetDefault("api.read_timeout", hellodalle.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		hellodalle.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", hellodalle.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", hellodalle.DefaultIdleTimeout)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		hellodalle.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		hellodalle.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", hellodalle.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		hellodalle.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(hellodalle.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = hellodalle.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	viper.Set(
		"api.cors.allow_headers",
		viper.GetStringSlice("api.cors.allow_headers"),
	)
	viper.Set(
		"api.cors.allow_origins",
		viper.GetStringSlice("api.cors.allow_origins"),
	)
	viper.Set(
		"api.cors.allow_methods",
		viper.GetStringSlice("api.cors.allow_methods"),
	)

	logLevelVar, err := levelStringToLevelVar(viper.GetString("log_level"))
	if err != nil {
		log.Fatalf("error parsing log_level: %v", err)
	}
	viper.Set("log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.log_level"))
	if err != nil {
		log.Fatalf("error parsing discord log level: %v", err)
	}
	viper.Set("discord.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("openai.log_level"))
	if err != nil {
		log.Fatalf("error parsing openai log level: %v", err)
	}
	viper.Set("openai.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("gemini.log_level"))
	if err != nil {
		log.Fatalf("error parsing gemini log level: %v", err)
	}
	viper.Set("gemini.log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("discord.discordgo_log_level"))
	if err != nil {
		log.Fatalf("error parsing discordgo log level: %v", err)
	}
	viper.Set("discord.discordgo_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("database_log_level"))
	if err != nil {
		log.Fatalf("error parsing database log level: %v", err)
	}
	viper.Set("database_log_level", logLevelVar)

	logLevelVar, err = levelStringToLevelVar(viper.GetString("api.log_level"))
	if err != nil {
		log.Fatalf("error parsing api log level: %v", err)
	}
	viper.Set("api.log_level", logLevelVar)
}

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func levelStringToLevelVar(lvl string) (*slog.LevelVar, error) {
	level := &slog.LevelVar{}
	err := level.UnmarshalText([]byte(lvl))
	return level, err
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Config file to use",
	)
}
