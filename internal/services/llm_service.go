package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/justsurfingit/jobsync/internal/models"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
)

// Extraction is the probabilistic step's reading of an ambiguous message.
type Extraction struct {
	IsJobRelated bool
	Status       models.ApplicationStatus
	CompanyName  string
	JobTitle     string
}

// ApplicationExtractor is the fallback the classifier consults when no
// deterministic status rule matches.
type ApplicationExtractor interface {
	ExtractApplication(ctx context.Context, env *Envelope) (*Extraction, error)
}

type LLMService struct {
	Client llms.Model
}

// NewLLMService initializes the Gemini client.
func NewLLMService(ctx context.Context, apiKey, model string) (*LLMService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY is empty")
	}
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &LLMService{Client: llm}, nil
}

const applicationExtractionPrompt = `
You classify a single email for a job seeker's application tracker.

### INSTRUCTIONS:
1. Decide whether the email is about one of the recipient's job applications or a recruiter contacting them.
   Job alerts, newsletters, marketing and social notifications are NOT job related.
2. If it is job related, pick exactly one status from this list:
%s
3. Extract the hiring company and the job title if they are stated. Do not guess.
4. Output valid JSON only. Do not wrap the output in markdown code blocks.

### OUTPUT SCHEMA:
{"is_job_related": true, "status": "...", "company_name": "... or null", "job_title": "... or null"}

### EMAIL:
From: %s
Subject: %s
Preview: %s
`

const maxPromptSnippet = 2000

type llmExtraction struct {
	IsJobRelated bool    `json:"is_job_related"`
	Status       string  `json:"status"`
	CompanyName  *string `json:"company_name"`
	JobTitle     *string `json:"job_title"`
}

func (s *LLMService) ExtractApplication(ctx context.Context, env *Envelope) (*Extraction, error) {
	resp, err := llms.GenerateFromSinglePrompt(ctx, s.Client, extractionPrompt(env), llms.WithTemperature(0))
	if err != nil {
		return nil, fmt.Errorf("llm extraction: %w", err)
	}
	return parseExtraction(resp)
}

func extractionPrompt(env *Envelope) string {
	statuses := make([]string, 0, len(models.StoredStatuses))
	for _, st := range models.StoredStatuses {
		statuses = append(statuses, "- "+string(st))
	}
	return fmt.Sprintf(applicationExtractionPrompt, strings.Join(statuses, "\n"), env.From, env.Subject, truncate(env.Snippet, maxPromptSnippet))
}

func parseExtraction(raw string) (*Extraction, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out llmExtraction
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return nil, fmt.Errorf("llm extraction: bad JSON: %w", err)
	}

	ex := &Extraction{IsJobRelated: out.IsJobRelated}
	if out.CompanyName != nil {
		ex.CompanyName = strings.TrimSpace(*out.CompanyName)
	}
	if out.JobTitle != nil {
		ex.JobTitle = strings.TrimSpace(*out.JobTitle)
	}
	if !out.IsJobRelated {
		ex.Status = models.StatusFalsePositive
		return ex, nil
	}

	st, err := models.ParseApplicationStatus(out.Status)
	if err != nil {
		// Job related but off-list: the conservative default.
		st = models.StatusInformationRequest
	}
	ex.Status = st
	return ex, nil
}
