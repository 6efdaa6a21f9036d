package hellodalle

import (
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// stubGeminiModels is a geminiModelClient returning a canned response,
// capturing the request for inspection.
type stubGeminiModels struct {
	resp *genai.GenerateContentResponse
	err  error

	lastModel    string
	lastContents []*genai.Content
	lastConfig   *genai.GenerateContentConfig
}

func (s *stubGeminiModels) GenerateContent(
	_ context.Context,
	model string,
	contents []*genai.Content,
	config *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	s.lastModel = model
	s.lastContents = contents
	s.lastConfig = config
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func geminiImageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						{
							InlineData: &genai.Blob{
								MIMEType: "image/png",
								Data:     data,
							},
						},
					},
				},
			},
		},
	}
}

func geminiTextResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{
				Content: &genai.Content{
					Parts: []*genai.Part{
						genai.NewPartFromText(text),
					},
				},
			},
		},
	}
}

func TestGeminiGenerateTextToImage(t *testing.T) {
	t.Parallel()

	imageBytes := []byte("generated image bytes")
	models := &stubGeminiModels{resp: geminiImageResponse(imageBytes)}
	adapter := NewGeminiAdapter(models, nil, nil, t.TempDir(), nil)

	result, err := adapter.Generate(
		context.Background(),
		"a lighthouse at dusk",
		"",
		false,
	)
	require.NoError(t, err)
	assert.Equal(t, ResultLocal, result.Kind)

	written, err := os.ReadFile(result.Path)
	require.NoError(t, err)
	assert.Equal(t, imageBytes, written)

	assert.Equal(t, DefaultGeminiImageModel, models.lastModel)
	require.NotNil(t, models.lastConfig)
	assert.Equal(t, []string{"IMAGE", "TEXT"}, models.lastConfig.ResponseModalities)

	require.Len(t, models.lastContents, 1)
	parts := models.lastContents[0].Parts
	require.Len(t, parts, 1)
	assert.Equal(t, "a lighthouse at dusk", parts[0].Text)
}

func TestGeminiGenerateEnhancedPrompt(t *testing.T) {
	t.Parallel()

	tmpdir := t.TempDir()
	avatarPath := writeTestImage(t, tmpdir, "avatar.png", []byte("avatar bytes"))

	models := &stubGeminiModels{resp: geminiImageResponse([]byte("out"))}
	analyzer := &countingAnalyzer{description: "an orange cat wearing headphones"}
	adapter := NewGeminiAdapter(models, nil, analyzer, tmpdir, nil)

	_, err := adapter.Generate(
		context.Background(),
		"create a profile picture",
		avatarPath,
		true,
	)
	require.NoError(t, err)
	assert.Equal(t, 1, analyzer.calls)

	require.Len(t, models.lastContents, 1)
	parts := models.lastContents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(
		t,
		"Using the input image as reference: an orange cat wearing headphones. "+
			"create a profile picture",
		parts[0].Text,
	)
	require.NotNil(t, parts[1].InlineData)
	assert.Equal(t, []byte("avatar bytes"), parts[1].InlineData.Data)
}

func TestGeminiGenerateSkipsAnalysisWhenDisabled(t *testing.T) {
	t.Parallel()

	tmpdir := t.TempDir()
	avatarPath := writeTestImage(t, tmpdir, "avatar.png", []byte("avatar bytes"))

	models := &stubGeminiModels{resp: geminiImageResponse([]byte("out"))}
	analyzer := &countingAnalyzer{description: "should not be used"}
	adapter := NewGeminiAdapter(models, nil, analyzer, tmpdir, nil)

	_, err := adapter.Generate(
		context.Background(),
		"create a profile picture",
		avatarPath,
		false,
	)
	require.NoError(t, err)
	assert.Equal(t, 0, analyzer.calls)

	parts := models.lastContents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "create a profile picture", parts[0].Text)
}

func TestGeminiGenerateMissingInputImage(t *testing.T) {
	t.Parallel()

	models := &stubGeminiModels{resp: geminiImageResponse([]byte("out"))}
	adapter := NewGeminiAdapter(models, nil, nil, t.TempDir(), nil)

	_, err := adapter.Generate(
		context.Background(),
		"create a profile picture",
		"/nonexistent/avatar.png",
		true,
	)
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ErrKindInvalidInput, genErr.Kind)
	assert.False(t, genErr.FallbackEligible())

	// The provider was never called
	assert.Nil(t, models.lastContents)
}

func TestGeminiGenerateTextOnlyResponse(t *testing.T) {
	t.Parallel()

	models := &stubGeminiModels{
		resp: geminiTextResponse("I can't create that image."),
	}
	adapter := NewGeminiAdapter(models, nil, nil, t.TempDir(), nil)

	_, err := adapter.Generate(
		context.Background(),
		"a lighthouse at dusk",
		"",
		false,
	)
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, ErrKindTextResponse, genErr.Kind)
	assert.Contains(t, genErr.Message, "I can't create that image.")
}

func TestClassifyGeminiError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{
			name: "rate limited",
			err: genai.APIError{
				Code:    http.StatusTooManyRequests,
				Status:  "RESOURCE_EXHAUSTED",
				Message: "Resource has been exhausted",
			},
			want: ErrKindQuota,
		},
		{
			name: "quota message",
			err: genai.APIError{
				Code:    http.StatusForbidden,
				Message: "Quota exceeded for this project",
			},
			want: ErrKindQuota,
		},
		{
			name: "safety block",
			err: genai.APIError{
				Code:    http.StatusBadRequest,
				Message: "The prompt was blocked by safety settings",
			},
			want: ErrKindSafety,
		},
		{
			name: "server error",
			err: genai.APIError{
				Code:    http.StatusInternalServerError,
				Status:  "INTERNAL",
				Message: "internal error",
			},
			want: ErrKindProvider,
		},
		{
			name: "untyped error",
			err:  errors.New("connection refused"),
			want: ErrKindProvider,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name,
			func(t *testing.T) {
				t.Parallel()
				genErr := classifyGeminiError(tt.err)
				assert.Equal(t, tt.want, genErr.Kind)
				assert.Equal(t, EngineGemini, genErr.Engine)
			},
		)
	}

	// Provider status detail is preserved for diagnostics
	genErr := classifyGeminiError(
		genai.APIError{
			Code:    http.StatusTooManyRequests,
			Status:  "RESOURCE_EXHAUSTED",
			Message: "Resource has been exhausted",
		},
	)
	assert.Equal(t, http.StatusTooManyRequests, genErr.Status)
	assert.Equal(t, "RESOURCE_EXHAUSTED", genErr.Code)
}
