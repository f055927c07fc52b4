package shell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kisanmitra.ai/assistant/internal/language"
)

func TestDashboardCards(t *testing.T) {
	d := BuildDashboard()
	require.Len(t, d.Cards, 3)
	assert.Equal(t, ViewCropAdvisory, d.Cards[0].View)
	assert.Equal(t, "Get AI-powered assistance for market & weather.", d.Cards[1].Description)
	assert.Equal(t, "Get AI-powered assistance for government connect.", d.Cards[2].Description)
}

func TestChatViews(t *testing.T) {
	crop, ok := ChatViewFor(ViewCropAdvisory)
	require.True(t, ok)
	assert.True(t, crop.AllowImages)
	assert.False(t, crop.UseSearch)
	require.Len(t, crop.ExamplePrompts, 4)
	assert.True(t, crop.ExamplePrompts[0].Upload)

	crop.ExamplePrompts[0].Text = "changed"
	again, _ := ChatViewFor(ViewCropAdvisory)
	assert.Equal(t, "Identify this pest from an image.", again.ExamplePrompts[0].Text)

	market, ok := ChatViewFor(ViewMarketWeather)
	require.True(t, ok)
	assert.True(t, market.ConversationOptions().UseSearch)

	_, ok = ChatViewFor(ViewGovConnect)
	assert.False(t, ok)
}

func TestParseView(t *testing.T) {
	v, err := ParseView("gov_connect")
	require.NoError(t, err)
	assert.Equal(t, ViewGovConnect, v)

	_, err = ParseView("Gov_Connect")
	assert.ErrorIs(t, err, ErrUnknownView)
}

func TestDefaultPhrasesCoverEveryLanguage(t *testing.T) {
	table, err := DefaultPhrases()
	require.NoError(t, err)
	for _, item := range NavItems() {
		for _, lang := range language.All() {
			assert.NotEmpty(t, table.Phrases(item.ID, lang.Code), "%s/%s", item.ID, lang.Code)
		}
	}
}

func TestParsePhraseTable(t *testing.T) {
	table, err := ParsePhraseTable([]byte("crop_advisory:\n  en-IN: [\"  Crop Doctor \"]\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{"crop doctor"}, table.Phrases(ViewCropAdvisory, "en-IN"))
	assert.Nil(t, table.Phrases(ViewDashboard, "en-IN"))

	_, err = ParsePhraseTable([]byte("settings:\n  en-IN: [\"settings\"]\n"))
	assert.ErrorIs(t, err, ErrUnknownView)

	_, err = ParsePhraseTable([]byte("dashboard:\n  en-IN: [\"  \"]\n"))
	assert.Error(t, err)

	_, err = ParsePhraseTable([]byte("dashboard: [oops"))
	assert.Error(t, err)
}
