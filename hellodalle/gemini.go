package hellodalle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"google.golang.org/genai"
)

// geminiModelClient is the slice of the Gemini SDK the adapter uses,
// so tests can substitute a stub. *genai.Models satisfies it.
type geminiModelClient interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// GeminiAdapter generates images through a Gemini multimodal model.
// With a reference image and analysis enabled it runs the two-step
// strategy: describe the image first, then generate conditioned on
// both the description and the original image bytes.
type GeminiAdapter struct {
	models   geminiModelClient
	model    string
	analyzer AvatarAnalyzer
	tempDir  string
	logger   *slog.Logger
}

// NewGeminiAdapter creates a GeminiAdapter. analyzer is only consulted
// when a generation requests the two-step strategy.
func NewGeminiAdapter(
	models geminiModelClient,
	cfg *GeminiConfig,
	analyzer AvatarAnalyzer,
	tempDir string,
	logger *slog.Logger,
) *GeminiAdapter {
	if logger == nil {
		logger = slog.Default()
	}
	model := DefaultGeminiImageModel
	if cfg != nil && cfg.ImageModel != "" {
		model = cfg.ImageModel
	}
	if tempDir == "" {
		tempDir = DefaultTempDir
	}
	return &GeminiAdapter{
		models:   models,
		model:    model,
		analyzer: analyzer,
		tempDir:  tempDir,
		logger:   logger.With(loggerNameKey, "gemini"),
	}
}

func (g *GeminiAdapter) Name() ImageEngine {
	return EngineGemini
}

func (g *GeminiAdapter) Generate(
	ctx context.Context,
	prompt string,
	imageInput string,
	useAnalysis bool,
) (GenerationResult, error) {
	var imageData []byte
	if imageInput != "" {
		data, err := os.ReadFile(imageInput)
		if err != nil {
			// A missing or unreadable reference image is the caller's
			// problem, not the provider's. No fallback.
			return GenerationResult{}, newGenerationError(
				EngineGemini,
				ErrKindInvalidInput,
				fmt.Sprintf("unable to read input image %s", imageInput),
				err,
			)
		}
		imageData = data

		if useAnalysis && g.analyzer != nil {
			analysis := g.analyzer.Analyze(ctx, imageInput)
			prompt = fmt.Sprintf(
				"Using the input image as reference: %s. %s",
				analysis,
				prompt,
			)
			g.logger.DebugContext(ctx, "enhanced prompt", "prompt", prompt)
		}
	}

	parts := []*genai.Part{genai.NewPartFromText(prompt)}
	if imageData != nil {
		parts = append(
			parts,
			&genai.Part{
				InlineData: &genai.Blob{
					MIMEType: mimeTypeForFile(imageInput),
					Data:     imageData,
				},
			},
		)
	}
	content := genai.NewContentFromParts(parts, genai.RoleUser)

	g.logger.InfoContext(
		ctx,
		"generating image",
		"prompt", prompt,
		"image_input", imageInput,
		"use_analysis", useAnalysis,
	)

	resp, err := g.models.GenerateContent(
		ctx,
		g.model,
		[]*genai.Content{content},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	)
	if err != nil {
		genErr := classifyGeminiError(err)
		g.logger.WarnContext(ctx, "image generation failed", tint.Err(genErr))
		return GenerationResult{}, genErr
	}

	imageBytes, textReply := scanGeminiResponse(resp)
	if imageBytes == nil {
		// The model answered with prose instead of an image. Valid
		// response, but never a valid result.
		msg := "model returned no image"
		if textReply != "" {
			msg = fmt.Sprintf("model returned text instead of an image: %s", textReply)
		}
		genErr := newGenerationError(EngineGemini, ErrKindTextResponse, msg, nil)
		g.logger.WarnContext(ctx, "image generation failed", tint.Err(genErr))
		return GenerationResult{}, genErr
	}

	outPath := filepath.Join(
		g.tempDir,
		fmt.Sprintf("gemini-%s.png", uuid.NewString()),
	)
	if mkdirErr := os.MkdirAll(g.tempDir, 0755); mkdirErr != nil {
		return GenerationResult{}, newGenerationError(
			EngineGemini,
			ErrKindProvider,
			"unable to create scratch directory",
			mkdirErr,
		)
	}
	if writeErr := os.WriteFile(outPath, imageBytes, 0644); writeErr != nil {
		return GenerationResult{}, newGenerationError(
			EngineGemini,
			ErrKindProvider,
			"unable to persist generated image",
			writeErr,
		)
	}

	g.logger.InfoContext(ctx, "generated image", "path", outPath)
	return GenerationResult{Kind: ResultLocal, Path: outPath}, nil
}

// scanGeminiResponse walks the candidate parts for inline image bytes,
// collecting any text the model produced along the way.
func scanGeminiResponse(resp *genai.GenerateContentResponse) ([]byte, string) {
	var texts []string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, strings.Join(texts, " ")
			}
			if part.Text != "" {
				texts = append(texts, strings.TrimSpace(part.Text))
			}
		}
	}
	return nil, strings.Join(texts, " ")
}

// classifyGeminiError maps a Gemini API error into the engine error
// taxonomy.
func classifyGeminiError(err error) *GenerationError {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return newGenerationError(
			EngineGemini,
			ErrKindProvider,
			err.Error(),
			err,
		)
	}

	lower := strings.ToLower(apiErr.Message)
	kind := ErrKindProvider
	switch {
	case apiErr.Code == http.StatusTooManyRequests,
		strings.Contains(lower, "quota"):
		kind = ErrKindQuota
	case strings.Contains(lower, "safety"),
		strings.Contains(lower, "policy"):
		kind = ErrKindSafety
	}

	genErr := newGenerationError(EngineGemini, kind, apiErr.Message, err)
	genErr.Status = apiErr.Code
	genErr.Code = apiErr.Status
	return genErr
}
