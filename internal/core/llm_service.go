package core

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultChatModelName = "gemini-2.5-flash"

	imageStandIn = "[image]"
	emptyStandIn = "[no text]"
)

// StreamRequest is one user turn plus the conversation so far.
type StreamRequest struct {
	Prompt string
	Image  *Attachment
	// Language is the display name the reply should be written in.
	Language  string
	UseSearch bool
	History   []ChatMessage
}

// Chunk is one increment of a streamed reply.
type Chunk struct {
	Text string
	// Grounded is set when the response carried grounding chunks. Sources
	// then replaces the sources shown for the message, even when empty.
	Grounded bool
	Sources  []Source
}

// ChatStreamer produces a reply lazily, chunk by chunk, in delivery order.
type ChatStreamer interface {
	StreamChat(ctx context.Context, req StreamRequest) iter.Seq2[Chunk, error]
}

// LLMService streams chat replies from Gemini.
type LLMService struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewLLMService(ctx context.Context, apiKey, model string, logger *zap.Logger) (*LLMService, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = defaultChatModelName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	return &LLMService{client: client, model: model, log: logger.Named("llm")}, nil
}

func (s *LLMService) StreamChat(ctx context.Context, req StreamRequest) iter.Seq2[Chunk, error] {
	contents := buildContents(req)
	config := buildConfig(req.UseSearch)
	return func(yield func(Chunk, error) bool) {
		s.log.Debug("Starting chat stream",
			zap.String("model", s.model),
			zap.Int("history", len(req.History)),
			zap.Bool("search", req.UseSearch),
			zap.Bool("image", req.Image != nil))
		for resp, err := range s.client.Models.GenerateContentStream(ctx, s.model, contents, config) {
			if err != nil {
				yield(Chunk{}, fmt.Errorf("gemini stream failed: %w", err))
				return
			}
			if !yield(chunkFromResponse(resp), nil) {
				return
			}
		}
	}
}

// buildContents carries history forward as text-only turns and appends the
// new user turn: the inline image first, then the language-prefixed prompt.
func buildContents(req StreamRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.History)+1)
	for _, msg := range req.History {
		if msg.Loading || msg.InProgress {
			continue
		}
		var parts []*genai.Part
		for _, p := range msg.Parts {
			if p.Text == "" {
				continue
			}
			parts = append(parts, &genai.Part{Text: p.Text})
		}
		if len(parts) == 0 {
			// Keep the turn so user and model turns still alternate.
			parts = []*genai.Part{{Text: standInText(msg)}}
		}
		contents = append(contents, &genai.Content{Role: string(msg.Role), Parts: parts})
	}

	var parts []*genai.Part
	if req.Image != nil {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			Data:     req.Image.Data,
			MIMEType: req.Image.MIMEType,
		}})
	}
	parts = append(parts, &genai.Part{Text: fmt.Sprintf("Respond in %s. %s", req.Language, req.Prompt)})
	return append(contents, &genai.Content{Role: string(RoleUser), Parts: parts})
}

// standInText replaces a finished turn that carried no text, such as an
// image-only question.
func standInText(msg ChatMessage) string {
	if msg.Image != nil {
		return imageStandIn
	}
	return emptyStandIn
}

func buildConfig(useSearch bool) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{Tools: []*genai.Tool{}}
	if useSearch {
		config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	return config
}

func chunkFromResponse(resp *genai.GenerateContentResponse) Chunk {
	if resp == nil {
		return Chunk{}
	}
	chunk := Chunk{Text: resp.Text()}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return chunk
	}
	gm := resp.Candidates[0].GroundingMetadata
	if gm == nil || gm.GroundingChunks == nil {
		return chunk
	}
	chunk.Grounded = true
	chunk.Sources = []Source{}
	for _, gc := range gm.GroundingChunks {
		if gc == nil || gc.Web == nil || gc.Web.URI == "" {
			continue
		}
		chunk.Sources = append(chunk.Sources, Source{URI: gc.Web.URI, Title: gc.Web.Title})
	}
	return chunk
}
