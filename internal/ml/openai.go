package ml

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hotsignals/hotsignals/internal/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig holds configuration for OpenAI API usage.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
}

// DefaultOpenAIConfig returns sensible defaults for annotation workloads.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		Model:       openai.GPT4oMini,
		Temperature: 0.1, // deterministic-ish output for structured extraction
		MaxTokens:   2000,
		Timeout:     60 * time.Second,
	}
}

// ConfigFromEnv creates config from environment variables with defaults.
func ConfigFromEnv() OpenAIConfig {
	config := DefaultOpenAIConfig()
	config.APIKey = os.Getenv("OPENAI_API_KEY")

	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.Model = model
	}

	if tempStr := os.Getenv("OPENAI_TEMPERATURE"); tempStr != "" {
		if temp, err := strconv.ParseFloat(tempStr, 32); err == nil {
			config.Temperature = float32(temp)
		}
	}

	return config
}

// OpenAIProvider implements every ML capability against the OpenAI API.
type OpenAIProvider struct {
	client *openai.Client
	config OpenAIConfig
	store  ObjectReader
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*TopicJob
}

// NewOpenAIProvider creates an OpenAI-backed capability provider. The store
// is used to fetch staged images and topic-model input documents.
func NewOpenAIProvider(config OpenAIConfig, store ObjectReader, logger *slog.Logger) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("openai api key not configured")
	}

	return &OpenAIProvider{
		client: openai.NewClient(config.APIKey),
		config: config,
		store:  store,
		logger: logger,
		jobs:   make(map[string]*TopicJob),
	}, nil
}

// DetectDominantLanguage returns the ISO 639-1 code of the text's language.
func (p *OpenAIProvider) DetectDominantLanguage(ctx context.Context, text string) (DetectedLanguage, error) {
	var result DetectedLanguage

	err := p.completeJSON(ctx,
		"You identify the dominant language of text. Respond only with JSON of the form "+
			`{"code": "<iso 639-1 code>", "score": <confidence 0-1>}.`,
		text, &result)
	if err != nil {
		return DetectedLanguage{}, fmt.Errorf("detect language: %w", err)
	}

	result.Code = strings.ToLower(strings.TrimSpace(result.Code))
	return result, nil
}

// Translate converts text from sourceLang to targetLang.
func (p *OpenAIProvider) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	resp, err := p.complete(ctx,
		fmt.Sprintf("You are a translator. Translate the user's text from %s to %s. "+
			"Respond only with the translated text, no commentary.", sourceLang, targetLang),
		text)
	if err != nil {
		return "", fmt.Errorf("translate: %w", err)
	}
	return strings.TrimSpace(resp), nil
}

// DetectSentiment classifies the sentiment of cleansed text.
func (p *OpenAIProvider) DetectSentiment(ctx context.Context, text, lang string) (string, models.SentimentScore, error) {
	var result struct {
		Sentiment string                `json:"sentiment"`
		Scores    models.SentimentScore `json:"scores"`
	}

	err := p.completeJSON(ctx,
		fmt.Sprintf("You classify sentiment of %s text. Respond only with JSON of the form "+
			`{"sentiment": "POSITIVE|NEGATIVE|NEUTRAL|MIXED", "scores": {"positive": x, "negative": x, "neutral": x, "mixed": x}} `+
			"where the four scores sum to 1.", lang),
		text, &result)
	if err != nil {
		return "", models.SentimentScore{}, fmt.Errorf("detect sentiment: %w", err)
	}

	return strings.ToUpper(result.Sentiment), result.Scores, nil
}

// DetectEntities extracts named entities with character offsets.
func (p *OpenAIProvider) DetectEntities(ctx context.Context, text, lang string) ([]models.Entity, error) {
	var result struct {
		Entities []models.Entity `json:"entities"`
	}

	err := p.completeJSON(ctx,
		fmt.Sprintf("You extract named entities from %s text. Respond only with JSON of the form "+
			`{"entities": [{"text": "...", "type": "PERSON|LOCATION|ORGANIZATION|DATE|QUANTITY|EVENT|TITLE|OTHER", `+
			`"score": <0-1>, "begin_offset": <int>, "end_offset": <int>}]} `+
			"with non-negative offsets and end_offset >= begin_offset.", lang),
		text, &result)
	if err != nil {
		return nil, fmt.Errorf("detect entities: %w", err)
	}

	return clampOffsets(result.Entities), nil
}

// DetectKeyPhrases extracts key phrases with character offsets.
func (p *OpenAIProvider) DetectKeyPhrases(ctx context.Context, text, lang string) ([]models.KeyPhrase, error) {
	var result struct {
		KeyPhrases []models.KeyPhrase `json:"key_phrases"`
	}

	err := p.completeJSON(ctx,
		fmt.Sprintf("You extract key phrases from %s text. Respond only with JSON of the form "+
			`{"key_phrases": [{"text": "...", "score": <0-1>, "begin_offset": <int>, "end_offset": <int>}]} `+
			"with non-negative offsets and end_offset >= begin_offset.", lang),
		text, &result)
	if err != nil {
		return nil, fmt.Errorf("detect key phrases: %w", err)
	}

	phrases := result.KeyPhrases
	for i := range phrases {
		if phrases[i].BeginOffset < 0 {
			phrases[i].BeginOffset = 0
		}
		if phrases[i].EndOffset < phrases[i].BeginOffset {
			phrases[i].EndOffset = phrases[i].BeginOffset
		}
	}
	return phrases, nil
}

// DetectTextInImage returns line-level text detections for a staged image.
func (p *OpenAIProvider) DetectTextInImage(ctx context.Context, ref ObjectRef) ([]TextDetection, error) {
	var result struct {
		Detections []TextDetection `json:"detections"`
	}

	err := p.completeVisionJSON(ctx, ref,
		"You read text out of images. For every visible line of text respond with JSON of the form "+
			`{"detections": [{"type": "LINE", "text": "...", "confidence": <0-1>}]}. `+
			"Return an empty detections list when the image contains no text.",
		&result)
	if err != nil {
		return nil, fmt.Errorf("detect text in image: %w", err)
	}

	return result.Detections, nil
}

// DetectModerationLabels returns unsafe-content labels for a staged image.
func (p *OpenAIProvider) DetectModerationLabels(ctx context.Context, ref ObjectRef) ([]models.ModerationLabel, error) {
	var result struct {
		Labels []models.ModerationLabel `json:"labels"`
	}

	err := p.completeVisionJSON(ctx, ref,
		"You moderate images for unsafe content (violence, nudity, hate symbols, drugs, weapons). "+
			`Respond only with JSON of the form {"labels": [{"name": "...", "confidence": <0-100>}]}. `+
			"Return an empty labels list for safe images.",
		&result)
	if err != nil {
		return nil, fmt.Errorf("detect moderation labels: %w", err)
	}

	return result.Labels, nil
}

// SubmitTopicJob starts an asynchronous topic-modeling run over the
// one-document-per-line objects under inputURI. The job runs in a background
// goroutine; DescribeTopicJob reports its progress.
func (p *OpenAIProvider) SubmitTopicJob(ctx context.Context, inputURI, outputURI string, numTopics int) (string, error) {
	inputBucket, inputPrefix, err := splitURI(inputURI)
	if err != nil {
		return "", err
	}
	outputBucket, outputPrefix, err := splitURI(outputURI)
	if err != nil {
		return "", err
	}

	keys, err := p.store.List(ctx, inputBucket, inputPrefix)
	if err != nil {
		return "", fmt.Errorf("list topic input: %w", err)
	}
	if len(keys) == 0 {
		return "", ErrNoTopicData
	}

	jobID := uuid.NewString()
	job := &TopicJob{JobID: jobID, Status: models.TopicJobSubmitted, OutputURI: outputURI}

	p.mu.Lock()
	p.jobs[jobID] = job
	p.mu.Unlock()

	go p.runTopicJob(jobID, inputBucket, keys, outputBucket, outputPrefix, numTopics)

	return jobID, nil
}

// DescribeTopicJob reports the current status of a submitted job.
func (p *OpenAIProvider) DescribeTopicJob(ctx context.Context, jobID string) (TopicJob, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	job, ok := p.jobs[jobID]
	if !ok {
		return TopicJob{}, fmt.Errorf("unknown topic job: %s", jobID)
	}
	return *job, nil
}

func (p *OpenAIProvider) runTopicJob(jobID, inputBucket string, keys []string, outputBucket, outputPrefix string, numTopics int) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	p.setJobStatus(jobID, models.TopicJobInProgress, "")

	var docs []string
	for _, key := range keys {
		data, err := p.store.Get(ctx, inputBucket, key)
		if err != nil {
			p.setJobStatus(jobID, models.TopicJobFailed, fmt.Sprintf("read input %s: %v", key, err))
			return
		}
		for _, line := range strings.Split(string(data), "\n") {
			if strings.TrimSpace(line) != "" {
				docs = append(docs, line)
			}
		}
	}

	if len(docs) == 0 {
		p.setJobStatus(jobID, models.TopicJobNoData, "no documents in input window")
		return
	}

	var result struct {
		Topics []struct {
			Topic string   `json:"topic"`
			Terms []string `json:"terms"`
		} `json:"topics"`
	}

	err := p.completeJSON(ctx,
		fmt.Sprintf("You run topic modeling. Group the documents (one per line) into at most %d topics. "+
			`Respond only with JSON of the form {"topics": [{"topic": "...", "terms": ["..."]}]}.`, numTopics),
		strings.Join(docs, "\n"), &result)
	if err != nil {
		p.setJobStatus(jobID, models.TopicJobFailed, err.Error())
		return
	}

	output, err := json.Marshal(result)
	if err != nil {
		p.setJobStatus(jobID, models.TopicJobFailed, err.Error())
		return
	}

	outputKey := strings.TrimSuffix(outputPrefix, "/") + "/" + jobID + "/topic-terms.json"
	if err := p.store.Put(ctx, outputBucket, outputKey, output); err != nil {
		p.setJobStatus(jobID, models.TopicJobFailed, err.Error())
		return
	}

	p.setJobStatus(jobID, models.TopicJobCompleted, "")
	p.logger.Info("topic job completed", "job_id", jobID, "topics", len(result.Topics), "documents", len(docs))
}

func (p *OpenAIProvider) setJobStatus(jobID string, status models.TopicJobStatus, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if job, ok := p.jobs[jobID]; ok {
		job.Status = status
		job.Message = message
	}
}

func (p *OpenAIProvider) complete(ctx context.Context, system, user string) (string, error) {
	apiCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(apiCtx, openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("empty completion response")
	}

	return resp.Choices[0].Message.Content, nil
}

func (p *OpenAIProvider) completeJSON(ctx context.Context, system, user string, out interface{}) error {
	content, err := p.complete(ctx, system, user)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(stripCodeFence(content)), out)
}

func (p *OpenAIProvider) completeVisionJSON(ctx context.Context, ref ObjectRef, system string, out interface{}) error {
	data, err := p.store.Get(ctx, ref.Bucket, ref.Key)
	if err != nil {
		return fmt.Errorf("read staged image %s/%s: %w", ref.Bucket, ref.Key, err)
	}

	apiCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(apiCtx, openai.ChatCompletionRequest{
		Model:       p.config.Model,
		Temperature: p.config.Temperature,
		MaxTokens:   p.config.MaxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL: "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data),
						},
					},
				},
			},
		},
	})
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty completion response")
	}

	return json.Unmarshal([]byte(stripCodeFence(resp.Choices[0].Message.Content)), out)
}

// ErrNoTopicData indicates the ingestion window held no documents to model.
var ErrNoTopicData = fmt.Errorf("no data in topic-model input")

func clampOffsets(entities []models.Entity) []models.Entity {
	for i := range entities {
		if entities[i].BeginOffset < 0 {
			entities[i].BeginOffset = 0
		}
		if entities[i].EndOffset < entities[i].BeginOffset {
			entities[i].EndOffset = entities[i].BeginOffset
		}
	}
	return entities
}

// stripCodeFence removes a markdown code fence that models sometimes wrap
// around JSON output despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func splitURI(uri string) (bucket, prefix string, err error) {
	trimmed := strings.TrimPrefix(uri, "store://")
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", fmt.Errorf("invalid store uri: %s", uri)
	}
	if len(parts) == 2 {
		prefix = parts[1]
	}
	return parts[0], prefix, nil
}
