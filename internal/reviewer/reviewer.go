// Package reviewer adapts the AI code reviewer behind a narrow interface.
package reviewer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"progression-pipeline/internal/models"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Reviewer produces a review of submitted content
type Reviewer interface {
	Review(ctx context.Context, content string) (*models.ReviewResult, error)
}

// ErrEmptyResult is returned when the reviewer answers without a result
var ErrEmptyResult = errors.New("reviewer returned no result")

// MalformedResultError reports a reviewer answer that cannot be used.
// Retrying the same content will not fix it.
type MalformedResultError struct {
	Reason string
	Err    error
}

func (e *MalformedResultError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed review result: %s: %v", e.Reason, e.Err)
	}
	return "malformed review result: " + e.Reason
}

func (e *MalformedResultError) Unwrap() error { return e.Err }

// Permanent marks the error as not retryable
func (e *MalformedResultError) Permanent() bool { return true }

// IsMalformed reports whether err is or wraps a MalformedResultError
func IsMalformed(err error) bool {
	var m *MalformedResultError
	return errors.As(err, &m)
}

var validate = validator.New()

// ParseReviewJSON decodes and validates a reviewer answer.
// Every sub-score must be present and in [0,100] and risk must be low, medium or high.
func ParseReviewJSON(text string) (*models.ReviewResult, error) {
	text = CleanJSONBlock(text)
	if text == "" {
		return nil, &MalformedResultError{Reason: "empty response"}
	}

	var result models.ReviewResult
	dec := json.NewDecoder(strings.NewReader(text))
	if err := dec.Decode(&result); err != nil {
		return nil, &MalformedResultError{Reason: "invalid JSON", Err: err}
	}
	result.Risk = models.RiskLevel(strings.ToLower(strings.TrimSpace(string(result.Risk))))

	if err := validate.Struct(&result); err != nil {
		return nil, &MalformedResultError{Reason: "validation failed", Err: err}
	}
	return &result, nil
}

// CleanJSONBlock removes markdown code fences models like to wrap JSON in
func CleanJSONBlock(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if idx := strings.Index(text, "\n"); idx >= 0 {
		first := text[:idx]
		if len(first) < 20 && !strings.ContainsAny(first, " {") {
			text = text[idx+1:]
		}
	}
	if idx := strings.LastIndex(text, "```"); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSpace(text)
}

const reviewPrompt = `You are a senior engineer reviewing a training submission.
Rate the submission from 0 to 100 on each of: correctness, code_quality,
completeness, efficiency, best_practices. Classify its risk as low, medium
or high. Give short actionable feedback.

Respond with JSON only, in exactly this shape:
{"scores":{"correctness":0,"code_quality":0,"completeness":0,"efficiency":0,"best_practices":0},"risk":"low","feedback":""}

Submission:
%s`

// BuildPrompt renders the review prompt for content
func BuildPrompt(content string) string {
	return fmt.Sprintf(reviewPrompt, content)
}
