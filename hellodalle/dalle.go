package hellodalle

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"
)

// openAIImageClient is the slice of the OpenAI client the adapter
// uses, so tests can substitute a stub.
type openAIImageClient interface {
	CreateImage(
		ctx context.Context,
		request openai.ImageRequest,
	) (openai.ImageResponse, error)
}

// DalleAdapter generates images through the OpenAI image endpoint.
// It's a pure text-to-image engine: reference images and the two-step
// analysis strategy don't apply here, callers interpolate avatar
// descriptions into the prompt instead.
type DalleAdapter struct {
	client         openAIImageClient
	model          string
	size           string
	requestLimiter *rate.Limiter
	logger         *slog.Logger
}

// NewDalleAdapter creates a DalleAdapter from the given config.
func NewDalleAdapter(
	client openAIImageClient,
	cfg *OpenAIConfig,
	logger *slog.Logger,
) *DalleAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	model := DefaultDalleModel
	size := DefaultDalleImageSize
	maxRPS := DefaultOpenAIMaxRequestsPerSecond
	if cfg != nil {
		if cfg.ImageModel != "" {
			model = cfg.ImageModel
		}
		if cfg.ImageSize != "" {
			size = cfg.ImageSize
		}
		if cfg.MaxRequestsPerSecond > 0 {
			maxRPS = cfg.MaxRequestsPerSecond
		}
	}
	return &DalleAdapter{
		client:         client,
		model:          model,
		size:           size,
		requestLimiter: rate.NewLimiter(rate.Limit(maxRPS), 1),
		logger:         logger.With(loggerNameKey, "dalle"),
	}
}

func (d *DalleAdapter) Name() ImageEngine {
	return EngineDalle
}

func (d *DalleAdapter) Generate(
	ctx context.Context,
	prompt string,
	_ string,
	_ bool,
) (GenerationResult, error) {
	if err := d.requestLimiter.Wait(ctx); err != nil {
		return GenerationResult{}, newGenerationError(
			EngineDalle,
			ErrKindProvider,
			"request limiter interrupted",
			err,
		)
	}

	d.logger.InfoContext(ctx, "generating image", "prompt", prompt)

	resp, err := d.client.CreateImage(
		ctx,
		openai.ImageRequest{
			Model:  d.model,
			Prompt: prompt,
			N:      1,
			Size:   d.size,
		},
	)
	if err != nil {
		genErr := classifyOpenAIError(err)
		d.logger.WarnContext(ctx, "image generation failed", tint.Err(genErr))
		return GenerationResult{}, genErr
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return GenerationResult{}, newGenerationError(
			EngineDalle,
			ErrKindProvider,
			"response contained no image URL",
			nil,
		)
	}

	url := resp.Data[0].URL
	d.logger.InfoContext(ctx, "generated image", "url", url)
	return GenerationResult{Kind: ResultRemote, URL: url}, nil
}

// classifyOpenAIError maps an OpenAI API error into the engine error
// taxonomy, preserving the provider's status, type and code.
func classifyOpenAIError(err error) *GenerationError {
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return newGenerationError(
			EngineDalle,
			ErrKindProvider,
			err.Error(),
			err,
		)
	}

	code, _ := apiErr.Code.(string)

	kind := ErrKindProvider
	switch {
	case apiErr.HTTPStatusCode == http.StatusTooManyRequests,
		apiErr.Type == "insufficient_quota":
		kind = ErrKindQuota
	case code == "content_policy_violation",
		strings.Contains(apiErr.Message, "safety system"),
		strings.Contains(apiErr.Message, "content policy"):
		kind = ErrKindSafety
	}

	genErr := newGenerationError(EngineDalle, kind, apiErr.Message, err)
	genErr.Status = apiErr.HTTPStatusCode
	if code != "" {
		genErr.Code = code
	} else if apiErr.Type != "" {
		genErr.Code = apiErr.Type
	}
	return genErr
}
