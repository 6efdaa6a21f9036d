package hellodalle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/introVRt-Lounge/hello-dalle-discordbot/hellodalle.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var defaultLogWriter io.Writer = os.Stdout

// HelloDalle is the main application struct, owning the Discord
// connection, both engine adapters, the cooldown service and the
// diagnostics API.
type HelloDalle struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db        DBI
	discord   *Discord
	cooldown  *CooldownService
	generator *Generator
	analyzer  AvatarAnalyzer
	api       *API

	openaiClient *openai.Client
	geminiClient *genai.Client
	httpClient   *http.Client

	state   *BotState
	stateMu sync.RWMutex

	// welcomeCount at startup, for the online announcement
	welcomeCount int

	// wildcardRoll returns a number in [0, 100), injectable for tests
	wildcardRoll func() int

	runMu      sync.Mutex
	startedAt  time.Time
	signalStop chan struct{}
}

// New initializes a HelloDalle instance from the given config. Call
// Run on the returned instance to connect and start serving.
func New(config *Config) (*HelloDalle, error) {
	if config == nil {
		config = DefaultConfig()
	}

	hd := &HelloDalle{
		config:       config,
		wildcardRoll: func() int { return rand.Intn(100) },
	}

	hd.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     config.LogLevel,
			AddSource: true,
		},
	)
	hd.logger = slog.New(hd.logHandler)
	slog.SetDefault(hd.logger)

	if err := hd.validateConfig(); err != nil {
		return nil, err
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	disc, err := newDiscord(config.Discord)
	if err != nil {
		return nil, err
	}
	disc.logger = newTintLogger(config.Discord.LogLevel, "discord")
	hd.discord = disc

	hd.httpClient = config.HTTPClient
	if hd.httpClient == nil {
		hd.httpClient = &http.Client{Timeout: time.Minute}
	}

	hd.cooldown = NewCooldownService(
		config.Cooldown,
		hd.logger,
	)

	if config.OpenAI.Token != "" {
		clientCfg := openai.DefaultConfig(config.OpenAI.Token)
		clientCfg.HTTPClient = hd.httpClient
		hd.openaiClient = openai.NewClientWithConfig(clientCfg)
	}

	if config.Gemini.APIKey != "" {
		geminiClient, clientErr := genai.NewClient(
			context.Background(),
			&genai.ClientConfig{
				APIKey:  config.Gemini.APIKey,
				Backend: genai.BackendGeminiAPI,
			},
		)
		if clientErr != nil {
			return nil, fmt.Errorf("error creating gemini client: %w", clientErr)
		}
		hd.geminiClient = geminiClient
	}

	return hd, nil
}

func (hd *HelloDalle) validateConfig() error {
	var errs []error

	if hd.config.Discord.Token == "" {
		errs = append(errs, errors.New("discord token required"))
	}
	if hd.config.Discord.ApplicationID == "" {
		errs = append(errs, errors.New("discord application ID required"))
	}
	if hd.config.OpenAI.Token == "" && hd.config.Gemini.APIKey == "" {
		errs = append(
			errs,
			errors.New("at least one of the OpenAI token or Gemini API key required"),
		)
	}
	if hd.config.Generation.Wildcard < 0 || hd.config.Generation.Wildcard > 99 {
		errs = append(errs, errors.New("wildcard must be between 0 and 99"))
	}
	if !hd.config.Generation.DefaultEngine.Valid() {
		errs = append(
			errs,
			fmt.Errorf(
				"unknown default engine: %q",
				hd.config.Generation.DefaultEngine,
			),
		)
	}
	if hd.config.Generation.DefaultEngine == EngineGemini &&
		hd.config.Gemini.APIKey == "" {
		errs = append(
			errs,
			errors.New("default engine is gemini but no Gemini API key is set"),
		)
	}
	if hd.config.Generation.DefaultEngine == EngineDalle &&
		hd.config.OpenAI.Token == "" {
		errs = append(
			errs,
			errors.New("default engine is dalle but no OpenAI token is set"),
		)
	}
	return errors.Join(errs...)
}

// Run starts the bot: opens the database, assembles the generation
// pipeline, connects to Discord, and blocks until ctx is cancelled.
func (hd *HelloDalle) Run(ctx context.Context) error {
	hd.runMu.Lock()
	defer hd.runMu.Unlock()

	hd.signalStop = make(chan struct{}, 1)
	hd.startedAt = time.Now()
	logger := hd.logger
	ctx = WithLogger(ctx, logger)

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", hd.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-hd.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, hd.config.StartupTimeout)
	defer startCancel()

	if err := hd.initRun(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	runtimeWG := &sync.WaitGroup{}

	if hd.config.API.Enabled {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if httpErr := hd.api.Serve(ctx); httpErr != nil &&
				!errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		hd.cooldown.Run(ctx)
	}()

	hd.discord.addHandlers(hd)
	if err := hd.discord.session.Open(); err != nil {
		return fmt.Errorf("error opening discord connection: %w", err)
	}
	if err := hd.discord.registerCommands(ctx); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		_ = hd.discord.session.Close()
		return err
	}

	logger.InfoContext(ctx, "bot running", "version", Version)
	<-ctx.Done()

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		hd.config.ShutdownTimeout,
	)
	defer shutdownCancel()

	if closeErr := hd.discord.session.Close(); closeErr != nil {
		logger.Error("error closing discord connection", tint.Err(closeErr))
	}
	if hd.api != nil {
		if apiErr := hd.api.Shutdown(shutdownCtx); apiErr != nil {
			logger.Error("error shutting down api", tint.Err(apiErr))
		}
	}

	done := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timeout elapsed")
	}
	return nil
}

// initRun opens the database and assembles the analyzer, adapters,
// generator and API from the configured clients.
func (hd *HelloDalle) initRun(ctx context.Context) error {
	gormDB, err := CreateDB(ctx, hd.config.Database)
	if err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	dbLogHandler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     hd.config.DatabaseLogLevel,
			AddSource: true,
		},
	)
	gormDB.Logger = newGORMLogger(dbLogHandler, hd.config.DatabaseSlowThreshold)
	hd.db = NewDatabase(gormDB, slog.New(dbLogHandler))

	state, err := hd.db.BotState(
		ctx,
		BotState{
			Engine:            hd.config.Generation.DefaultEngine,
			Wildcard:          hd.config.Generation.Wildcard,
			PFPAnyone:         hd.config.Generation.PFPAnyone,
			GenderSensitivity: hd.config.Generation.GenderSensitivity,
		},
	)
	if err != nil {
		return fmt.Errorf("error loading bot state: %w", err)
	}
	hd.state = state

	var wc WelcomeCount
	if dbErr := gormDB.WithContext(ctx).First(&wc).Error; dbErr == nil {
		hd.welcomeCount = wc.Count
	}

	var inner AvatarAnalyzer
	source := "gemini"
	if hd.geminiClient != nil {
		inner = newGeminiAnalyzer(
			hd.geminiClient,
			hd.config.Gemini.AnalysisModel,
			newTintLogger(hd.config.Gemini.LogLevel, "gemini_analyzer"),
		)
	} else {
		source = "openai"
		inner = newVisionAnalyzer(
			hd.openaiClient,
			hd.config.OpenAI.VisionModel,
			hd.GenderSensitivity,
			newTintLogger(hd.config.OpenAI.LogLevel, "vision_analyzer"),
		)
	}
	hd.analyzer = newCachingAnalyzer(inner, hd.db, source, hd.logger)

	sanitizer, err := NewPromptSanitizer(hd.config.Generation.SanitizerRules)
	if err != nil {
		return err
	}

	var dalle, gemini engineAdapter
	if hd.openaiClient != nil {
		dalle = NewDalleAdapter(
			hd.openaiClient,
			hd.config.OpenAI,
			newTintLogger(hd.config.OpenAI.LogLevel, "dalle"),
		)
	}
	if hd.geminiClient != nil {
		gemini = NewGeminiAdapter(
			hd.geminiClient.Models,
			hd.config.Gemini,
			hd.analyzer,
			hd.config.TempDir,
			newTintLogger(hd.config.Gemini.LogLevel, "gemini"),
		)
	}
	hd.generator = NewGenerator(
		dalle,
		gemini,
		sanitizer,
		hd.db,
		hd.config.GenerationTimeout,
		hd.logger,
	)

	if hd.config.API.Enabled {
		api, apiErr := newAPI(hd, hd.config.API)
		if apiErr != nil {
			return apiErr
		}
		hd.api = api
	}
	return nil
}

// Stop triggers a graceful shutdown.
func (hd *HelloDalle) Stop() {
	select {
	case hd.signalStop <- struct{}{}:
	default:
	}
}

// startupMessage is the announcement posted to the botspam channel when
// the gateway connection is ready.
func (hd *HelloDalle) startupMessage() string {
	return fmt.Sprintf(
		"%s Version: %s. Engine: %s. Wildcard chance: %d%%. "+
			"Total welcomed users so far: %d",
		hd.config.Discord.StartupMessage,
		Version,
		hd.Engine(),
		hd.Wildcard(),
		hd.welcomeCount,
	)
}

// Engine returns the currently selected default image engine.
func (hd *HelloDalle) Engine() ImageEngine {
	hd.stateMu.RLock()
	defer hd.stateMu.RUnlock()
	if hd.state == nil {
		return hd.config.Generation.DefaultEngine
	}
	return hd.state.Engine
}

// SetEngine updates and persists the default image engine.
func (hd *HelloDalle) SetEngine(ctx context.Context, engine ImageEngine) error {
	if !engine.Valid() {
		return fmt.Errorf("unknown engine: %q", engine)
	}
	hd.stateMu.Lock()
	defer hd.stateMu.Unlock()
	if hd.state == nil {
		return errors.New("bot state not loaded")
	}
	hd.state.Engine = engine
	_, err := hd.db.Updates(
		ctx,
		hd.state,
		map[string]any{columnBotStateEngine: engine},
	)
	return err
}

// Wildcard returns the current wildcard roast chance (0-99).
func (hd *HelloDalle) Wildcard() int {
	hd.stateMu.RLock()
	defer hd.stateMu.RUnlock()
	if hd.state == nil {
		return hd.config.Generation.Wildcard
	}
	return hd.state.Wildcard
}

// SetWildcard updates and persists the wildcard chance.
func (hd *HelloDalle) SetWildcard(ctx context.Context, value int) error {
	if value < 0 || value > 99 {
		return fmt.Errorf("wildcard value must be between 0 and 99, got %d", value)
	}
	hd.stateMu.Lock()
	defer hd.stateMu.Unlock()
	if hd.state == nil {
		return errors.New("bot state not loaded")
	}
	hd.state.Wildcard = value
	_, err := hd.db.Updates(
		ctx,
		hd.state,
		map[string]any{columnBotStateWildcard: value},
	)
	return err
}

// PFPAnyone reports whether all members may use the pfp command.
func (hd *HelloDalle) PFPAnyone() bool {
	hd.stateMu.RLock()
	defer hd.stateMu.RUnlock()
	if hd.state == nil {
		return hd.config.Generation.PFPAnyone
	}
	return hd.state.PFPAnyone
}

// SetPFPAnyone updates and persists the pfp-anyone setting.
func (hd *HelloDalle) SetPFPAnyone(ctx context.Context, enabled bool) error {
	hd.stateMu.Lock()
	defer hd.stateMu.Unlock()
	if hd.state == nil {
		return errors.New("bot state not loaded")
	}
	hd.state.PFPAnyone = enabled
	_, err := hd.db.Updates(
		ctx,
		hd.state,
		map[string]any{columnBotStatePFPAnyone: enabled},
	)
	return err
}

// GenderSensitivity reports whether avatar descriptions should avoid
// explicit gender labels.
func (hd *HelloDalle) GenderSensitivity() bool {
	hd.stateMu.RLock()
	defer hd.stateMu.RUnlock()
	if hd.state == nil {
		return hd.config.Generation.GenderSensitivity
	}
	return hd.state.GenderSensitivity
}

// SetGenderSensitivity updates and persists the gender sensitivity
// setting.
func (hd *HelloDalle) SetGenderSensitivity(ctx context.Context, enabled bool) error {
	hd.stateMu.Lock()
	defer hd.stateMu.Unlock()
	if hd.state == nil {
		return errors.New("bot state not loaded")
	}
	hd.state.GenderSensitivity = enabled
	_, err := hd.db.Updates(
		ctx,
		hd.state,
		map[string]any{columnBotStateGenderSensitivity: enabled},
	)
	return err
}

func (hd *HelloDalle) handleEngineCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	member ChatMember,
) {
	opts := interactionOptions(i)
	opt, ok := opts["engine"]
	if !ok {
		hd.discord.respond(
			i,
			fmt.Sprintf("Current image engine: %s", hd.Engine()),
		)
		return
	}

	if !member.IsAdmin() && !member.HasRole(hd.config.Discord.BotUserRoleID) {
		hd.discord.respond(i, pfpPermissionDeniedMessage)
		return
	}

	engine := ImageEngine(opt.StringValue())
	if err := hd.SetEngine(ctx, engine); err != nil {
		contextLoggerOrDefault(ctx, hd.logger).Error(
			"error setting engine",
			tint.Err(err),
		)
		hd.discord.respond(i, DefaultDiscordErrorMessage)
		return
	}

	hd.discord.respond(i, fmt.Sprintf("Image engine set to %s.", engine))
	hd.discord.notifyAdmins(
		fmt.Sprintf(
			"/engine: image engine set to %s by %q.",
			engine,
			member.DisplayName(),
		),
		nil,
	)
}

func (hd *HelloDalle) handleWildcardCommand(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	member ChatMember,
) {
	if !member.IsAdmin() && !member.HasRole(hd.config.Discord.BotUserRoleID) {
		hd.discord.respond(i, pfpPermissionDeniedMessage)
		return
	}

	opts := interactionOptions(i)
	opt, ok := opts["value"]
	if !ok {
		hd.discord.respond(i, "Missing required option: value")
		return
	}
	value := int(opt.IntValue())

	if err := hd.SetWildcard(ctx, value); err != nil {
		hd.discord.respond(i, "Wildcard value must be between 0 and 99.")
		return
	}

	hd.discord.respond(i, fmt.Sprintf("Wildcard chance set to %d%%", value))
	hd.discord.notifyAdmins(
		fmt.Sprintf(
			"/wildcard: wildcard chance set to %d%% by %q.",
			value,
			member.DisplayName(),
		),
		nil,
	)
}
