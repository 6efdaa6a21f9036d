package hellodalle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerationErrorMessage(t *testing.T) {
	t.Parallel()

	err := &GenerationError{
		Engine:  EngineDalle,
		Kind:    ErrKindSafety,
		Status:  400,
		Code:    "content_policy_violation",
		Message: "Your request was rejected by the safety system",
	}
	assert.Equal(
		t,
		"dalle: safety_rejected (status: 400, code: content_policy_violation): "+
			"Your request was rejected by the safety system",
		err.Error(),
	)

	bare := newGenerationError(EngineGemini, ErrKindQuota, "", nil)
	assert.Equal(t, "gemini: quota_exceeded", bare.Error())
}

func TestGenerationErrorIs(t *testing.T) {
	t.Parallel()

	err := newGenerationError(EngineGemini, ErrKindQuota, "quota exhausted", nil)

	assert.True(t, errors.Is(err, &GenerationError{Kind: ErrKindQuota}))
	assert.True(t, errors.Is(err, &GenerationError{Engine: EngineGemini}))
	assert.True(
		t,
		errors.Is(err, &GenerationError{Engine: EngineGemini, Kind: ErrKindQuota}),
	)
	assert.False(t, errors.Is(err, &GenerationError{Kind: ErrKindSafety}))
	assert.False(t, errors.Is(err, &GenerationError{Engine: EngineDalle}))
}

func TestGenerationErrorFallbackEligible(t *testing.T) {
	t.Parallel()

	for _, kind := range []ErrorKind{
		ErrKindQuota,
		ErrKindSafety,
		ErrKindProvider,
		ErrKindTextResponse,
	} {
		err := newGenerationError(EngineDalle, kind, "", nil)
		assert.Truef(t, err.FallbackEligible(), "%s should be fallback eligible", kind)
	}

	err := newGenerationError(EngineGemini, ErrKindInvalidInput, "", nil)
	assert.False(t, err.FallbackEligible())
}

func TestUserFacingError(t *testing.T) {
	t.Parallel()

	both := &BothEnginesError{
		Primary:  newGenerationError(EngineDalle, ErrKindQuota, "429", nil),
		Fallback: newGenerationError(EngineGemini, ErrKindSafety, "blocked", nil),
	}
	assert.Equal(
		t,
		"both engines failed (dalle: quota_exceeded, gemini: safety_rejected)",
		userFacingError(both),
	)

	assert.Equal(
		t,
		"the prompt was rejected by the engine's safety filters",
		userFacingError(newGenerationError(EngineDalle, ErrKindSafety, "", nil)),
	)
	assert.Equal(
		t,
		"the engine replied with text instead of an image",
		userFacingError(newGenerationError(EngineGemini, ErrKindTextResponse, "", nil)),
	)
	assert.Equal(
		t,
		"something went wrong generating the image",
		userFacingError(errors.New("plain error")),
	)
}
