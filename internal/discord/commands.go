package discord

import (
	"context"
	"net/http"

	"github.com/set-night/progressmate/internal/config"
)

const (
	optionTypeString  = 3
	optionTypeInteger = 4
)

// CommandOption describes one slash command argument.
type CommandOption struct {
	Type        int    `json:"type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Required    bool   `json:"required,omitempty"`
	MinValue    *int   `json:"min_value,omitempty"`
	MaxValue    *int   `json:"max_value,omitempty"`
}

// CommandDefinition is the payload for one application command.
type CommandDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Options     []CommandOption `json:"options,omitempty"`
}

// SlashCommands returns the /start, /stop and /progress definitions.
func SlashCommands() []CommandDefinition {
	minCadence, maxCadence := 1, config.MaxCadenceMinutes
	return []CommandDefinition{
		{
			Name:        "progress",
			Description: "Share a progress update for your active session",
			Options: []CommandOption{
				{Type: optionTypeString, Name: "status", Description: "What you have done since the last check-in", Required: true},
			},
		},
		{
			Name:        "start",
			Description: "Start a progress session with periodic check-ins",
			Options: []CommandOption{
				{Type: optionTypeString, Name: "title", Description: "What you are working on", Required: true},
				{Type: optionTypeInteger, Name: "cadence", Description: "Minutes between check-ins (default 20)", MinValue: &minCadence, MaxValue: &maxCadence},
			},
		},
		{
			Name:        "stop",
			Description: "Stop your active progress session",
		},
	}
}

// CommandsPath is the bulk-overwrite endpoint, guild scoped when guildID is set.
func CommandsPath(applicationID, guildID string) string {
	if guildID != "" {
		return "/applications/" + applicationID + "/guilds/" + guildID + "/commands"
	}
	return "/applications/" + applicationID + "/commands"
}

// RegisterCommands replaces the application's slash commands and returns
// how many Discord reports as registered.
func (c *Client) RegisterCommands(ctx context.Context, applicationID, guildID string, defs []CommandDefinition) (int, error) {
	var registered []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := c.do(ctx, "register commands", http.MethodPut, CommandsPath(applicationID, guildID), defs, &registered); err != nil {
		return 0, err
	}
	return len(registered), nil
}
