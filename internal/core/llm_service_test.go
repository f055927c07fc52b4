package core

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

func textResponse(text string, gm *genai.GroundingMetadata) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:           &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
			GroundingMetadata: gm,
		}},
	}
}

func TestChunkFromResponse(t *testing.T) {
	t.Run("plain text", func(t *testing.T) {
		chunk := chunkFromResponse(textResponse("Sow after the first rain.", nil))
		assert.Equal(t, Chunk{Text: "Sow after the first rain."}, chunk)
	})

	t.Run("metadata without chunks is not grounded", func(t *testing.T) {
		chunk := chunkFromResponse(textResponse("x", &genai.GroundingMetadata{}))
		assert.False(t, chunk.Grounded)
		assert.Nil(t, chunk.Sources)
	})

	t.Run("web chunks become sources", func(t *testing.T) {
		gm := &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{URI: "https://agmarknet.example", Title: "Agmarknet"}},
			{Web: &genai.GroundingChunkWeb{URI: ""}},
			{},
			nil,
			{Web: &genai.GroundingChunkWeb{URI: "https://imd.example"}},
		}}
		chunk := chunkFromResponse(textResponse("Onion is up 4%.", gm))
		assert.True(t, chunk.Grounded)
		assert.Equal(t, []Source{
			{URI: "https://agmarknet.example", Title: "Agmarknet"},
			{URI: "https://imd.example"},
		}, chunk.Sources)
	})

	t.Run("grounded with nothing usable", func(t *testing.T) {
		gm := &genai.GroundingMetadata{GroundingChunks: []*genai.GroundingChunk{}}
		chunk := chunkFromResponse(textResponse("", gm))
		assert.True(t, chunk.Grounded)
		assert.NotNil(t, chunk.Sources)
		assert.Empty(t, chunk.Sources)
	})

	t.Run("nil and empty responses", func(t *testing.T) {
		assert.Equal(t, Chunk{}, chunkFromResponse(nil))
		assert.Equal(t, Chunk{}, chunkFromResponse(&genai.GenerateContentResponse{}))
	})
}

func TestBuildContentsPutsImageBeforePrompt(t *testing.T) {
	img := &Attachment{Name: "leaf.png", MIMEType: "image/png", Data: []byte("png-bytes")}
	contents := buildContents(StreamRequest{Prompt: "Identify this disease", Image: img, Language: "Marathi"})

	require.Len(t, contents, 1)
	turn := contents[0]
	assert.Equal(t, "user", turn.Role)
	require.Len(t, turn.Parts, 2)
	require.NotNil(t, turn.Parts[0].InlineData)
	assert.Equal(t, "image/png", turn.Parts[0].InlineData.MIMEType)
	assert.Equal(t, []byte("png-bytes"), turn.Parts[0].InlineData.Data)
	assert.Equal(t, "Respond in Marathi. Identify this disease", turn.Parts[1].Text)
}

func TestBuildContentsKeepsTurnsAlternating(t *testing.T) {
	history := []ChatMessage{
		{Role: RoleUser, Parts: []MessagePart{{Text: ""}}, Image: &ImageRef{Name: "leaf.png", MIMEType: "image/png", Size: 9}},
		{Role: RoleModel, Parts: []MessagePart{{Text: "That leaf has blight."}}},
		{Role: RoleUser, Parts: []MessagePart{{Text: "Which spray?"}}},
		{Role: RoleModel, Parts: []MessagePart{{Text: ""}}},
		{Role: RoleModel, Parts: []MessagePart{{Text: "half"}}, InProgress: true},
		{Role: RoleModel, Parts: []MessagePart{}, Loading: true},
	}
	contents := buildContents(StreamRequest{Prompt: "and fertiliser?", Language: "English", History: history})

	require.Len(t, contents, 5)
	want := []struct{ role, text string }{
		{"user", imageStandIn},
		{"model", "That leaf has blight."},
		{"user", "Which spray?"},
		{"model", emptyStandIn},
		{"user", "Respond in English. and fertiliser?"},
	}
	for i, w := range want {
		assert.Equal(t, w.role, contents[i].Role, "turn %d", i)
		require.Len(t, contents[i].Parts, 1, "turn %d", i)
		assert.Equal(t, w.text, contents[i].Parts[0].Text, "turn %d", i)
		assert.Nil(t, contents[i].Parts[0].InlineData, "history carries no image bytes")
	}
}

func TestBuildConfig(t *testing.T) {
	assert.Empty(t, buildConfig(false).Tools)

	tools := buildConfig(true).Tools
	require.Len(t, tools, 1)
	assert.NotNil(t, tools[0].GoogleSearch)
}

func TestNewLLMServiceRequiresKey(t *testing.T) {
	_, err := NewLLMService(context.Background(), "", "", nil)
	assert.Error(t, err)
}
