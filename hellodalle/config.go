package hellodalle

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
)

const (
	// EnvvarSetEnvPrefix overrides the default environment variable prefix
	EnvvarSetEnvPrefix = "HELLODALLE_ENV_PREFIX"
	DefaultEnvPrefix   = "HD"

	DefaultDatabase          = "hellodalle.sqlite3"
	DefaultLogLevel          = slog.LevelInfo
	DefaultStartupTimeout    = 30 * time.Second
	DefaultShutdownTimeout   = 60 * time.Second
	DefaultGenerationTimeout = 2 * time.Minute

	DefaultOpenAIMaxRequestsPerSecond = 1
	DefaultOpenAILogLevel             = slog.LevelInfo
	DefaultDalleModel                 = "dall-e-3"
	DefaultDalleImageSize             = "1024x1024"
	DefaultVisionModel                = "gpt-4-turbo"

	DefaultGeminiImageModel    = "gemini-2.5-flash-image"
	DefaultGeminiAnalysisModel = "gemini-2.5-flash"
	DefaultGeminiLogLevel      = slog.LevelInfo

	DefaultCooldownFastModeLimit    = 3
	DefaultCooldownFastModeReset    = time.Hour
	DefaultCooldownSlowModeInterval = 90 * time.Second
	DefaultCooldownCleanupInterval  = 10 * time.Minute

	DefaultPostingDelay          = 2 * time.Minute
	DefaultDiscordLogLevel       = slog.LevelWarn
	DefaultDiscordgoLogLevel     = slog.LevelWarn
	DefaultDiscordGatewayIntent  = discordgo.IntentsAllWithoutPrivileged
	DefaultDiscordErrorMessage   = "sorry, something went wrong!"
	DefaultDiscordStartupMessage = "I'm here!"

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo

	DefaultAPIListen               = "127.0.0.1:5000"
	DefaultAPILogLevel             = slog.LevelInfo
	defaultListenNetwork           = "tcp"
	DefaultReadTimeout             = 5 * time.Second
	DefaultReadHeaderTimeout       = 5 * time.Second
	DefaultWriteTimeout            = 10 * time.Second
	DefaultIdleTimeout             = 30 * time.Second
	DefaultAPICORSAllowCredentials = true
	DefaultCORSMaxAge              = 12 * time.Hour

	DefaultTempDir          = "temp"
	DefaultWelcomeImagesDir = "welcome_images"

	DefaultWelcomePrompt = "Create a welcome image for {username} " +
		"proclaimed upon and incorporated into a cyberpunk billboard " +
		"in a mixture of synthwave and cyberpunk styles, " +
		"inspired by their avatar: {avatar}."
)

// DiscordSlashCommand* are the slash command names registered on startup.
const (
	DiscordSlashCommandPFP       = "pfp"
	DiscordSlashCommandPFPAnyone = "pfp-anyone"
	DiscordSlashCommandWelcome   = "welcome"
	DiscordSlashCommandEngine    = "engine"
	DiscordSlashCommandWildcard  = "wildcard"
)

var (
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		"Cache-Control",
	}
)

// Config is the root configuration for the bot, its image generation
// engines and the diagnostics API.
type Config struct {
	// Database is the sqlite database path
	Database string `yaml:"database" mapstructure:"database" json:"database"`

	// DatabaseLogLevel sets the log level for database operations
	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds bot initialization. If it's exceeded,
	// startup is aborted.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow for a graceful shutdown. After
	// this elapses, all connections are force-closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	// GenerationTimeout bounds each external image/vision API call, so a
	// hung upstream can't permanently hold a user's concurrency slot.
	GenerationTimeout time.Duration `yaml:"generation_timeout" mapstructure:"generation_timeout" json:"generation_timeout"`

	// TempDir is the scratch directory for downloaded avatars and
	// engine-produced image bytes
	TempDir string `yaml:"temp_dir" mapstructure:"temp_dir" json:"temp_dir"`

	// WelcomeImagesDir is where finished (watermarked) welcome images are kept
	WelcomeImagesDir string `yaml:"welcome_images_dir" mapstructure:"welcome_images_dir" json:"welcome_images_dir"`

	// WatermarkPath, if set, is composited onto the bottom-right corner
	// of generated welcome images
	WatermarkPath string `yaml:"watermark_path" mapstructure:"watermark_path" json:"watermark_path"`

	// OpenAI configures the DALL-E engine and the GPT vision describer
	OpenAI *OpenAIConfig `yaml:"openai" mapstructure:"openai" json:"openai"`

	// Gemini configures the Gemini engine and its multimodal analyzer
	Gemini *GeminiConfig `yaml:"gemini" mapstructure:"gemini" json:"gemini"`

	// Discord configures aspects of the Discord bot itself
	Discord *DiscordConfig `yaml:"discord" mapstructure:"discord" json:"discord"`

	// Generation configures engine selection, prompts and sanitization
	Generation *GenerationConfig `yaml:"generation" mapstructure:"generation" json:"generation"`

	// Cooldown configures per-user admission control
	Cooldown *CooldownConfig `yaml:"cooldown" mapstructure:"cooldown" json:"cooldown"`

	// API configures the diagnostics HTTP API
	API *APIConfig `yaml:"api" mapstructure:"api" json:"api"`

	HTTPClient *http.Client `log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// OpenAIConfig configures OpenAI API integration (DALL-E image
// generation plus GPT vision avatar description).
type OpenAIConfig struct {
	// OpenAI API token
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// OpenAI base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ImageModel is the text-to-image model name
	ImageModel string `yaml:"image_model" mapstructure:"image_model" json:"image_model"`

	// ImageSize requested from the image endpoint
	ImageSize string `yaml:"image_size" mapstructure:"image_size" json:"image_size"`

	// VisionModel is the chat model used to describe avatars
	VisionModel string `yaml:"vision_model" mapstructure:"vision_model" json:"vision_model"`

	// MaxRequestsPerSecond limits outbound OpenAI API calls
	MaxRequestsPerSecond int `yaml:"max_requests_per_second" mapstructure:"max_requests_per_second" json:"max_requests_per_second"`
}

// GeminiConfig configures the Gemini engine.
type GeminiConfig struct {
	// Gemini API key
	APIKey string `yaml:"api_key" mapstructure:"api_key" json:"api_key" log:"[redacted]"`

	// Gemini base log level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// ImageModel generates images (text-to-image and image-to-image)
	ImageModel string `yaml:"image_model" mapstructure:"image_model" json:"image_model"`

	// AnalysisModel is the multimodal model used for avatar analysis
	AnalysisModel string `yaml:"analysis_model" mapstructure:"analysis_model" json:"analysis_model"`
}

// DiscordConfig configures the discord bot itself.
//
//nolint:lll // can't break tags
type DiscordConfig struct {
	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]"`

	// Discord application ID (from the 'General Information' tab in the discord dev portal)
	ApplicationID string `yaml:"application_id" mapstructure:"application_id" json:"application_id"`

	// GuildID specifies the guild ID used when registering slash commands.
	// Leave empty for commands to be registered as global.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// WelcomeChannelID is where welcome images are posted
	WelcomeChannelID string `yaml:"welcome_channel_id" mapstructure:"welcome_channel_id" json:"welcome_channel_id"`

	// BotspamChannelID receives operational log messages and generated-image copies
	BotspamChannelID string `yaml:"botspam_channel_id" mapstructure:"botspam_channel_id" json:"botspam_channel_id"`

	// ProfileChannelID is where generated profile picture suggestions are posted
	ProfileChannelID string `yaml:"profile_channel_id" mapstructure:"profile_channel_id" json:"profile_channel_id"`

	// BotUserRoleID is the role (besides admin) allowed to use the
	// pfp/engine/wildcard commands
	BotUserRoleID string `yaml:"bot_user_role_id" mapstructure:"bot_user_role_id" json:"bot_user_role_id"`

	// StealthWelcome, when true, restricts welcome-post mentions to the
	// new member only
	StealthWelcome bool `yaml:"stealth_welcome" mapstructure:"stealth_welcome" json:"stealth_welcome"`

	// PostingDelay is how long to wait before posting a welcome image to
	// the welcome channel
	PostingDelay time.Duration `yaml:"posting_delay" mapstructure:"posting_delay" json:"posting_delay"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// StartupMessage, if set, is sent to the botspam channel when the
	// bot connects to the discord gateway
	StartupMessage string `yaml:"startup_message" mapstructure:"startup_message" json:"startup_message"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`
}

// GenerationConfig configures engine routing, prompt templates and
// prompt sanitization.
type GenerationConfig struct {
	// DefaultEngine is the engine used when a command doesn't specify one.
	// Runtime-adjustable via the /engine command.
	DefaultEngine ImageEngine `yaml:"default_engine" mapstructure:"default_engine" json:"default_engine"`

	// WelcomePrompt is the welcome image prompt template. {username} and
	// {avatar} placeholders are substituted.
	WelcomePrompt string `yaml:"welcome_prompt" mapstructure:"welcome_prompt" json:"welcome_prompt"`

	// Wildcard is the 0-99 percent chance a welcome image uses the
	// playful roast prompt instead of WelcomePrompt. Runtime-adjustable
	// via the /wildcard command.
	Wildcard int `yaml:"wildcard" mapstructure:"wildcard" json:"wildcard"`

	// GenderSensitivity selects the avatar description prompt variant
	// that avoids explicit gender labels
	GenderSensitivity bool `yaml:"gender_sensitivity" mapstructure:"gender_sensitivity" json:"gender_sensitivity"`

	// PFPAnyone, when true, allows any member to use /pfp (not just
	// admins and the configured role)
	PFPAnyone bool `yaml:"pfp_anyone" mapstructure:"pfp_anyone" json:"pfp_anyone"`

	// SanitizerRules are ordered pattern->replacement rewrites applied
	// to prompts bound for engines with strict safety filters. Empty
	// means use the built-in default rule set.
	SanitizerRules []SanitizerRuleConfig `yaml:"sanitizer_rules" mapstructure:"sanitizer_rules" json:"sanitizer_rules"`
}

// CooldownConfig configures the per-user admission controller.
type CooldownConfig struct {
	// FastModeLimit is the number of requests a user may make before
	// inter-request cooldowns apply
	FastModeLimit int `yaml:"fast_mode_limit" mapstructure:"fast_mode_limit" json:"fast_mode_limit"`

	// FastModeReset is the inactivity window after which a user's
	// request history resets to fast mode
	FastModeReset time.Duration `yaml:"fast_mode_reset" mapstructure:"fast_mode_reset" json:"fast_mode_reset"`

	// SlowModeInterval is the minimum time between requests once a user
	// has exhausted fast mode
	SlowModeInterval time.Duration `yaml:"slow_mode_interval" mapstructure:"slow_mode_interval" json:"slow_mode_interval"`

	// CleanupInterval is how often idle user entries are swept
	CleanupInterval time.Duration `yaml:"cleanup_interval" mapstructure:"cleanup_interval" json:"cleanup_interval"`
}

// APIConfig configures the diagnostics HTTP API server.
type APIConfig struct {
	// Enabled determines whether the API server runs at all
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:5000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network"`

	// The logging level for the API server.
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Cross-origin configuration
	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	// Maximum duration for reading the entire request, including the body.
	ReadTimeout time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout"`

	// Amount of time allowed to read request headers.
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout"`

	// Maximum duration before timing out writes of the response.
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout"`

	// Maximum amount of time to wait for the next request when keep-alives are enabled.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout"`
}

// SanitizerRuleConfig is a single prompt rewrite rule. Pattern is a
// regular expression; Replacement is literal text.
type SanitizerRuleConfig struct {
	Pattern     string `yaml:"pattern" mapstructure:"pattern" json:"pattern"`
	Replacement string `yaml:"replacement" mapstructure:"replacement" json:"replacement"`
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	defaultMethods := make([]string, len(DefaultCORSAllowMethods))
	copy(defaultMethods, DefaultCORSAllowMethods)

	defaultHeaders := make([]string, len(DefaultCORSAllowHeaders))
	copy(defaultHeaders, DefaultCORSAllowHeaders)

	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     defaultMethods,
		AllowHeaders:     defaultHeaders,
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	mainLogLevel := &slog.LevelVar{}
	openaiLogLevel := &slog.LevelVar{}
	geminiLogLevel := &slog.LevelVar{}
	discordLogLevel := &slog.LevelVar{}
	discordgoLogLevel := &slog.LevelVar{}
	dbLogLevel := &slog.LevelVar{}
	apiLogLevel := &slog.LevelVar{}

	mainLogLevel.Set(DefaultLogLevel)
	openaiLogLevel.Set(DefaultOpenAILogLevel)
	geminiLogLevel.Set(DefaultGeminiLogLevel)
	discordLogLevel.Set(DefaultDiscordLogLevel)
	discordgoLogLevel.Set(DefaultDiscordgoLogLevel)
	dbLogLevel.Set(DefaultDatabaseLogLevel)
	apiLogLevel.Set(DefaultAPILogLevel)

	return &Config{
		Database:              DefaultDatabase,
		DatabaseLogLevel:      dbLogLevel,
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              mainLogLevel,
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		GenerationTimeout:     DefaultGenerationTimeout,
		TempDir:               DefaultTempDir,
		WelcomeImagesDir:      DefaultWelcomeImagesDir,
		OpenAI: &OpenAIConfig{
			LogLevel:             openaiLogLevel,
			ImageModel:           DefaultDalleModel,
			ImageSize:            DefaultDalleImageSize,
			VisionModel:          DefaultVisionModel,
			MaxRequestsPerSecond: DefaultOpenAIMaxRequestsPerSecond,
		},
		Gemini: &GeminiConfig{
			LogLevel:      geminiLogLevel,
			ImageModel:    DefaultGeminiImageModel,
			AnalysisModel: DefaultGeminiAnalysisModel,
		},
		Discord: &DiscordConfig{
			GatewayIntents:    DefaultDiscordGatewayIntent,
			LogLevel:          discordLogLevel,
			DiscordGoLogLevel: discordgoLogLevel,
			StartupMessage:    DefaultDiscordStartupMessage,
			PostingDelay:      DefaultPostingDelay,
		},
		Generation: &GenerationConfig{
			DefaultEngine: EngineDalle,
			WelcomePrompt: DefaultWelcomePrompt,
		},
		Cooldown: &CooldownConfig{
			FastModeLimit:    DefaultCooldownFastModeLimit,
			FastModeReset:    DefaultCooldownFastModeReset,
			SlowModeInterval: DefaultCooldownSlowModeInterval,
			CleanupInterval:  DefaultCooldownCleanupInterval,
		},
		API: &APIConfig{
			Listen:            DefaultAPIListen,
			ListenNetwork:     defaultListenNetwork,
			LogLevel:          apiLogLevel,
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			CORS:              DefaultCORSConfig(),
		},
	}
}
