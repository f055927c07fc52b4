package shell

import (
	"errors"
	"fmt"
	"strings"

	"kisanmitra.ai/assistant/internal/core"
)

var ErrUnknownView = errors.New("unknown view")

type ViewType string

const (
	ViewDashboard     ViewType = "dashboard"
	ViewCropAdvisory  ViewType = "crop_advisory"
	ViewMarketWeather ViewType = "market_weather"
	ViewGovConnect    ViewType = "gov_connect"
)

type NavItem struct {
	ID    ViewType `json:"id"`
	Label string   `json:"label"`
}

var navItems = []NavItem{
	{ID: ViewDashboard, Label: "Dashboard"},
	{ID: ViewCropAdvisory, Label: "Crop Advisory"},
	{ID: ViewMarketWeather, Label: "Market & Weather"},
	{ID: ViewGovConnect, Label: "Government Connect"},
}

// NavItems returns the navigation entries in display order.
func NavItems() []NavItem {
	out := make([]NavItem, len(navItems))
	copy(out, navItems)
	return out
}

func ParseView(s string) (ViewType, error) {
	for _, item := range navItems {
		if string(item.ID) == s {
			return item.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownView, s)
}

type ExamplePrompt struct {
	Text string `json:"text"`
	// Upload asks the client to open the image picker as well.
	Upload bool `json:"upload,omitempty"`
}

// ChatView configures a chat screen and the conversations it opens.
type ChatView struct {
	View           ViewType        `json:"view"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	UseSearch      bool            `json:"use_search"`
	AllowImages    bool            `json:"allow_images"`
	ExamplePrompts []ExamplePrompt `json:"example_prompts"`
}

func (c ChatView) ConversationOptions() core.ConversationOptions {
	return core.ConversationOptions{View: string(c.View), UseSearch: c.UseSearch, AllowImages: c.AllowImages}
}

var chatViews = map[ViewType]ChatView{
	ViewCropAdvisory: {
		View:        ViewCropAdvisory,
		Title:       "Crop Advisory",
		Description: "Ask about pests, diseases, farming techniques, or upload an image for identification.",
		AllowImages: true,
		ExamplePrompts: []ExamplePrompt{
			{Text: "Identify this pest from an image.", Upload: true},
			{Text: "What are the most common insects that attack cotton crops?"},
			{Text: "Suggest some organic pest control methods for my vegetable garden."},
			{Text: "How do I identify and treat leaf curl virus on my chili plants?"},
		},
	},
	ViewMarketWeather: {
		View:           ViewMarketWeather,
		Title:          "Market Prices & Weather",
		Description:    "Get real-time market prices for crops and accurate weather forecasts for your location.",
		UseSearch:      true,
		ExamplePrompts: []ExamplePrompt{},
	},
}

// ChatViewFor reports the chat configuration of v, if v is a chat view.
func ChatViewFor(v ViewType) (ChatView, bool) {
	cv, ok := chatViews[v]
	if ok {
		cv.ExamplePrompts = append([]ExamplePrompt{}, cv.ExamplePrompts...)
	}
	return cv, ok
}

type DashboardCard struct {
	View        ViewType `json:"view"`
	Label       string   `json:"label"`
	Description string   `json:"description"`
}

type Dashboard struct {
	Title    string          `json:"title"`
	Subtitle string          `json:"subtitle"`
	Cards    []DashboardCard `json:"cards"`
}

// BuildDashboard lists every view except the dashboard itself.
func BuildDashboard() Dashboard {
	d := Dashboard{
		Title:    "Welcome to Kisan Mitra AI",
		Subtitle: "Your trusted partner in modern farming. Select a service to get started.",
	}
	for _, item := range navItems {
		if item.ID == ViewDashboard {
			continue
		}
		d.Cards = append(d.Cards, DashboardCard{
			View:        item.ID,
			Label:       item.Label,
			Description: fmt.Sprintf("Get AI-powered assistance for %s.", strings.ToLower(item.Label)),
		})
	}
	return d
}
