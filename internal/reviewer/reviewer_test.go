package reviewer

import (
	"errors"
	"progression-pipeline/internal/models"
	"progression-pipeline/internal/resilience"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validReview = `{"scores":{"correctness":90,"code_quality":85,"completeness":80,"efficiency":70,"best_practices":75},"risk":"medium","feedback":"nice"}`

func TestParseReviewJSON(t *testing.T) {
	result, err := ParseReviewJSON(validReview)
	require.NoError(t, err)

	assert.Equal(t, models.RiskMedium, result.Risk)
	assert.Equal(t, []float64{90, 85, 80, 70, 75}, result.Scores.Values())
	assert.Equal(t, "nice", result.Feedback)
}

func TestParseReviewJSON_CodeFenceAndCase(t *testing.T) {
	result, err := ParseReviewJSON("```json\n" + `{"scores":{"correctness":0,"code_quality":0,"completeness":0,"efficiency":0,"best_practices":0},"risk":"HIGH"}` + "\n```")
	require.NoError(t, err)

	assert.Equal(t, models.RiskHigh, result.Risk)
	assert.Equal(t, []float64{0, 0, 0, 0, 0}, result.Scores.Values())
}

func TestParseReviewJSON_Malformed(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty", "   "},
		{"not json", "looks good to me"},
		{"missing score", `{"scores":{"correctness":90,"code_quality":85,"completeness":80,"efficiency":70},"risk":"low"}`},
		{"score above range", `{"scores":{"correctness":101,"code_quality":85,"completeness":80,"efficiency":70,"best_practices":75},"risk":"low"}`},
		{"negative score", `{"scores":{"correctness":-1,"code_quality":85,"completeness":80,"efficiency":70,"best_practices":75},"risk":"low"}`},
		{"missing risk", `{"scores":{"correctness":90,"code_quality":85,"completeness":80,"efficiency":70,"best_practices":75}}`},
		{"unknown risk", `{"scores":{"correctness":90,"code_quality":85,"completeness":80,"efficiency":70,"best_practices":75},"risk":"extreme"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseReviewJSON(tt.text)
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
			assert.True(t, resilience.IsPermanent(err))
		})
	}
}

func TestCleanJSONBlock(t *testing.T) {
	assert.Equal(t, `{"a":1}`, CleanJSONBlock("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanJSONBlock("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, CleanJSONBlock("  {\"a\":1}  "))
}

func TestResponseText(t *testing.T) {
	_, err := responseText(&genai.GenerateContentResponse{})
	assert.True(t, errors.Is(err, ErrEmptyResult))
	assert.False(t, resilience.IsPermanent(err))

	text, err := responseText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"a":`), genai.Text(`1}`)}},
		}},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, text)
}

func TestBuildPrompt(t *testing.T) {
	assert.Contains(t, BuildPrompt("package main"), "package main")
	assert.Contains(t, BuildPrompt("x"), "best_practices")
}
