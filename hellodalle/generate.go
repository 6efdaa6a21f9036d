package hellodalle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
)

// ImageEngine identifies one of the two image generation backends.
type ImageEngine string

const (
	EngineDalle  ImageEngine = "dalle"
	EngineGemini ImageEngine = "gemini"
)

// Valid reports whether e names a known engine.
func (e ImageEngine) Valid() bool {
	return e == EngineDalle || e == EngineGemini
}

// Other returns the alternate engine, used for fallback attempts.
func (e ImageEngine) Other() ImageEngine {
	if e == EngineDalle {
		return EngineGemini
	}
	return EngineDalle
}

// ResultKind discriminates GenerationResult values.
type ResultKind string

const (
	// ResultRemote means the engine produced a hosted asset URL
	ResultRemote ResultKind = "remote"

	// ResultLocal means the engine produced bytes written to a local file
	ResultLocal ResultKind = "local"
)

// GenerationResult is the outcome of a successful engine call: either a
// remote URL or a local file path, explicitly tagged. Callers branch on
// Kind, never on the engine that produced it.
type GenerationResult struct {
	Kind ResultKind `json:"kind"`
	URL  string     `json:"url,omitempty"`
	Path string     `json:"path,omitempty"`
}

// Location returns the URL or path, whichever is set.
func (r GenerationResult) Location() string {
	if r.Kind == ResultRemote {
		return r.URL
	}
	return r.Path
}

// engineAdapter is the boundary between the orchestrator and one
// upstream provider.
type engineAdapter interface {
	Name() ImageEngine

	// Generate produces an image for the prompt. imageInput is an
	// optional local reference image path; useAnalysis enables the
	// two-step analyze-then-generate strategy on engines that support
	// it. Failures are returned as *GenerationError.
	Generate(
		ctx context.Context,
		prompt string,
		imageInput string,
		useAnalysis bool,
	) (GenerationResult, error)
}

// GenerateOptions carries the optional inputs for one orchestrated
// generation, plus audit metadata.
type GenerateOptions struct {
	// ImageInput is a local path to a reference image, if any
	ImageInput string

	// UseAnalysis enables the analyze-then-generate strategy
	UseAnalysis bool

	// UserID, Username and Command are recorded on the audit log
	UserID   string
	Username string
	Command  string
}

// Generator routes generation requests to an engine adapter, sanitizes
// prompts for engines with strict safety filters, and retries once
// against the alternate engine when the primary fails.
//
// The attempt chain is strictly linear: primary, then at most one
// fallback with analysis disabled. There is no retry loop.
type Generator struct {
	adapters  map[ImageEngine]engineAdapter
	sanitizer *PromptSanitizer
	db        DBI
	timeout   time.Duration
	logger    *slog.Logger
}

// NewGenerator assembles a Generator over the given adapters. db may be
// nil, in which case attempts are not audited.
func NewGenerator(
	dalle engineAdapter,
	gemini engineAdapter,
	sanitizer *PromptSanitizer,
	db DBI,
	timeout time.Duration,
	logger *slog.Logger,
) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	return &Generator{
		adapters: map[ImageEngine]engineAdapter{
			EngineDalle:  dalle,
			EngineGemini: gemini,
		},
		sanitizer: sanitizer,
		db:        db,
		timeout:   timeout,
		logger:    logger.With(loggerNameKey, "generator"),
	}
}

// Generate produces an image for prompt on the requested engine,
// falling back once to the alternate engine on eligible failures.
func (g *Generator) Generate(
	ctx context.Context,
	prompt string,
	engine ImageEngine,
	opts GenerateOptions,
) (GenerationResult, error) {
	if !engine.Valid() {
		return GenerationResult{}, fmt.Errorf("unknown engine: %q", engine)
	}

	log := g.logger.With(
		"engine", engine,
		"user_id", opts.UserID,
		"command", opts.Command,
	)

	result, primaryErr := g.attempt(ctx, engine, prompt, opts, false)
	if primaryErr == nil {
		return result, nil
	}

	var genErr *GenerationError
	if !errors.As(primaryErr, &genErr) {
		return GenerationResult{}, primaryErr
	}
	if !genErr.FallbackEligible() {
		log.WarnContext(
			ctx,
			"generation failed, not eligible for fallback",
			tint.Err(genErr),
		)
		return GenerationResult{}, genErr
	}

	fallbackEngine := engine.Other()
	log.WarnContext(
		ctx,
		"primary engine failed, attempting fallback",
		"fallback_engine", fallbackEngine,
		tint.Err(genErr),
	)

	// The fallback attempt starts from the original prompt and skips
	// the two-step analysis, so a failure in the analysis path can't
	// compound across engines.
	fallbackOpts := opts
	fallbackOpts.UseAnalysis = false

	result, fallbackErr := g.attempt(ctx, fallbackEngine, prompt, fallbackOpts, true)
	if fallbackErr == nil {
		return result, nil
	}

	var fallbackGenErr *GenerationError
	if !errors.As(fallbackErr, &fallbackGenErr) {
		fallbackGenErr = newGenerationError(
			fallbackEngine,
			ErrKindProvider,
			fallbackErr.Error(),
			fallbackErr,
		)
	}

	both := &BothEnginesError{Primary: genErr, Fallback: fallbackGenErr}
	log.ErrorContext(ctx, "both engines failed", tint.Err(both))
	return GenerationResult{}, both
}

// attempt runs one adapter call with a bounded timeout and records an
// audit row for it.
func (g *Generator) attempt(
	ctx context.Context,
	engine ImageEngine,
	prompt string,
	opts GenerateOptions,
	fallback bool,
) (GenerationResult, error) {
	adapter := g.adapters[engine]
	if adapter == nil {
		return GenerationResult{}, fmt.Errorf("no adapter for engine %q", engine)
	}

	effectivePrompt := prompt
	if engine == EngineGemini && g.sanitizer != nil {
		effectivePrompt = g.sanitizer.Sanitize(prompt)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	started := time.Now()
	result, err := adapter.Generate(
		attemptCtx,
		effectivePrompt,
		opts.ImageInput,
		opts.UseAnalysis,
	)
	elapsed := time.Since(started)

	g.audit(ctx, engine, prompt, effectivePrompt, opts, fallback, result, err, elapsed)

	if err != nil {
		return GenerationResult{}, err
	}
	return result, nil
}

func (g *Generator) audit(
	ctx context.Context,
	engine ImageEngine,
	prompt string,
	effectivePrompt string,
	opts GenerateOptions,
	fallback bool,
	result GenerationResult,
	err error,
	elapsed time.Duration,
) {
	if g.db == nil {
		return
	}

	entry := &GenerationLog{
		UserID:     opts.UserID,
		Username:   opts.Username,
		Command:    opts.Command,
		Engine:     engine,
		Prompt:     prompt,
		Fallback:   fallback,
		DurationMS: elapsed.Milliseconds(),
	}
	if effectivePrompt != prompt {
		entry.EnhancedPrompt = effectivePrompt
	}
	if err != nil {
		var genErr *GenerationError
		if errors.As(err, &genErr) {
			entry.ErrorKind = string(genErr.Kind)
		}
		entry.ErrorMessage = err.Error()
	} else {
		entry.ResultKind = string(result.Kind)
		entry.ResultLocation = result.Location()
	}

	if _, createErr := g.db.Create(ctx, entry); createErr != nil {
		g.logger.WarnContext(
			ctx,
			"error writing generation audit entry",
			tint.Err(createErr),
		)
	}
}
