package hellodalle

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/lmittmann/tint"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// FallbackDescription is returned when avatar analysis fails for any
// reason. Analysis failures degrade personalization, they never block
// generation.
const FallbackDescription = "an image with a primary subject"

const geminiAnalysisPrompt = "Describe the primary subject of this image, " +
	"its pose, and its background in 15 words or less. If it is a person, " +
	"identify key features like hair color, expression, clothing. If it is " +
	"an object, identify its type and material. Be concise and specific."

const (
	visionPromptGenderSensitive = "This image is used as a discord profile " +
		"picture. Describe its main features, especially any characteristics " +
		"(such as hairstyle, clothing, or accessories) that might help in " +
		"adjusting for personalization. Please provide a concise description " +
		"in the form of '<description>' without using explicit gender labels " +
		"unless the characteristics are very apparent. Limit your response " +
		"to around 50 tokens."
	visionPromptNeutral = "This image is used as a discord profile picture. " +
		"Describe the most notable visual feature concisely, in the form of " +
		"'<description>'. Focus only on distinctive elements like colors, " +
		"shapes, or items without drawing any conclusions about personal " +
		"characteristics. Limit your response to around 50 tokens."
	visionMaxTokens = 50
)

// AvatarAnalyzer produces a short description of an image's subject,
// used to condition image generation. Implementations never return an
// error: any failure degrades to [FallbackDescription].
type AvatarAnalyzer interface {
	Analyze(ctx context.Context, imagePath string) string
}

// mimeTypeForFile guesses an image MIME type from the file extension.
func mimeTypeForFile(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// geminiAnalyzer describes images using a Gemini multimodal model.
type geminiAnalyzer struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

func newGeminiAnalyzer(
	client *genai.Client,
	model string,
	logger *slog.Logger,
) *geminiAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &geminiAnalyzer{
		client: client,
		model:  model,
		logger: logger.With(loggerNameKey, "gemini_analyzer"),
	}
}

func (a *geminiAnalyzer) Analyze(ctx context.Context, imagePath string) string {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		a.logger.WarnContext(
			ctx,
			"unable to read image for analysis",
			"image_path", imagePath,
			tint.Err(err),
		)
		return FallbackDescription
	}

	parts := []*genai.Part{
		genai.NewPartFromText(geminiAnalysisPrompt),
		{
			InlineData: &genai.Blob{
				MIMEType: mimeTypeForFile(imagePath),
				Data:     data,
			},
		},
	}
	content := genai.NewContentFromParts(parts, genai.RoleUser)

	resp, err := a.client.Models.GenerateContent(
		ctx,
		a.model,
		[]*genai.Content{content},
		nil,
	)
	if err != nil {
		a.logger.WarnContext(ctx, "avatar analysis failed", tint.Err(err))
		return FallbackDescription
	}

	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text := strings.TrimSpace(part.Text); text != "" {
				a.logger.DebugContext(
					ctx,
					"avatar analysis result",
					"description", text,
				)
				return text
			}
		}
	}

	a.logger.WarnContext(ctx, "avatar analysis returned no text")
	return FallbackDescription
}

// visionAnalyzer describes images using an OpenAI vision-capable chat
// model, with a data-URI image attachment.
type visionAnalyzer struct {
	client *openai.Client
	model  string

	// genderSensitive selects the description prompt variant
	genderSensitive func() bool

	logger *slog.Logger
}

func newVisionAnalyzer(
	client *openai.Client,
	model string,
	genderSensitive func() bool,
	logger *slog.Logger,
) *visionAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if genderSensitive == nil {
		genderSensitive = func() bool { return false }
	}
	return &visionAnalyzer{
		client:          client,
		model:           model,
		genderSensitive: genderSensitive,
		logger:          logger.With(loggerNameKey, "vision_analyzer"),
	}
}

func (a *visionAnalyzer) Analyze(ctx context.Context, imagePath string) string {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		a.logger.WarnContext(
			ctx,
			"unable to read image for analysis",
			"image_path", imagePath,
			tint.Err(err),
		)
		return FallbackDescription
	}

	prompt := visionPromptNeutral
	if a.genderSensitive() {
		prompt = visionPromptGenderSensitive
	}

	dataURI := fmt.Sprintf(
		"data:%s;base64,%s",
		mimeTypeForFile(imagePath),
		base64.StdEncoding.EncodeToString(data),
	)

	resp, err := a.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:     a.model,
			MaxTokens: visionMaxTokens,
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleUser,
					MultiContent: []openai.ChatMessagePart{
						{
							Type: openai.ChatMessagePartTypeText,
							Text: prompt,
						},
						{
							Type: openai.ChatMessagePartTypeImageURL,
							ImageURL: &openai.ChatMessageImageURL{
								URL: dataURI,
							},
						},
					},
				},
			},
		},
	)
	if err != nil {
		a.logger.WarnContext(ctx, "avatar analysis failed", tint.Err(err))
		return FallbackDescription
	}
	if len(resp.Choices) == 0 {
		a.logger.WarnContext(ctx, "avatar analysis returned no choices")
		return FallbackDescription
	}

	description := strings.TrimSpace(resp.Choices[0].Message.Content)
	if description == "" {
		return FallbackDescription
	}
	return description
}

// cachingAnalyzer wraps another analyzer with the content-addressed
// description cache. Identical image bytes are only analyzed once,
// no matter how many users or filenames they arrive under.
type cachingAnalyzer struct {
	inner  AvatarAnalyzer
	db     DBI
	source string
	logger *slog.Logger
}

func newCachingAnalyzer(
	inner AvatarAnalyzer,
	db DBI,
	source string,
	logger *slog.Logger,
) *cachingAnalyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &cachingAnalyzer{
		inner:  inner,
		db:     db,
		source: source,
		logger: logger.With(loggerNameKey, "description_cache"),
	}
}

func (c *cachingAnalyzer) Analyze(ctx context.Context, imagePath string) string {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		// Unreadable input can't be hashed. Let the inner analyzer
		// produce its own degraded answer.
		return c.inner.Analyze(ctx, imagePath)
	}
	hash := hashImageContent(data)

	cached, err := c.db.GetImageDescription(ctx, hash)
	if err != nil {
		// Cache trouble is a miss, never a failure.
		c.logger.WarnContext(ctx, "description cache read failed", tint.Err(err))
	}
	if cached != nil && cached.Description != "" {
		c.logger.DebugContext(
			ctx,
			"description cache hit",
			"hash", hash,
			"description", cached.Description,
		)
		return cached.Description
	}

	description := c.inner.Analyze(ctx, imagePath)
	if description == FallbackDescription {
		// Don't pin a degraded answer to this image content forever.
		return description
	}

	putErr := c.db.PutImageDescription(
		ctx,
		&ImageDescription{
			Hash:        hash,
			Description: description,
			Source:      c.source,
		},
	)
	if putErr != nil {
		c.logger.WarnContext(ctx, "description cache write failed", tint.Err(putErr))
	}
	return description
}
