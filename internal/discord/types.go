package discord

import (
	"encoding/json"
	"log/slog"
)

// InteractionType discriminates inbound interactions.
// See https://discord.com/developers/docs/interactions/receiving-and-responding#interaction-object-interaction-type
type InteractionType int

const (
	InteractionTypePing               InteractionType = 1
	InteractionTypeApplicationCommand InteractionType = 2
	InteractionTypeMessageComponent   InteractionType = 3
	InteractionTypeAutocomplete       InteractionType = 4
	InteractionTypeModalSubmit        InteractionType = 5
)

func (t InteractionType) String() string {
	switch t {
	case InteractionTypePing:
		return "ping"
	case InteractionTypeApplicationCommand:
		return "application_command"
	case InteractionTypeMessageComponent:
		return "message_component"
	case InteractionTypeAutocomplete:
		return "autocomplete"
	case InteractionTypeModalSubmit:
		return "modal_submit"
	default:
		return "unknown"
	}
}

// ResponseType is the callback type sent back in the HTTP response to an interaction.
type ResponseType int

const (
	ResponseTypePong                             ResponseType = 1
	ResponseTypeDeferredChannelMessageWithSource ResponseType = 5
)

// InteractionResponse is the synchronous acknowledgement body.
type InteractionResponse struct {
	Type ResponseType `json:"type"`
}

// Interaction is one inbound event. Token is a single-use credential for the
// follow-up call and is redacted from log output.
type Interaction struct {
	ID            string          `json:"id"`
	ApplicationID string          `json:"application_id"`
	Type          InteractionType `json:"type"`
	Token         string          `json:"token"`
	Data          *CommandData    `json:"data,omitempty"`
}

// CommandName returns the invoked command name, or "" when the interaction
// carries no command data.
func (i Interaction) CommandName() string {
	if i.Data == nil {
		return ""
	}
	return i.Data.Name
}

// LogValue implements slog.LogValuer so the token never reaches a log sink.
func (i Interaction) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", i.ID),
		slog.String("application_id", i.ApplicationID),
		slog.String("type", i.Type.String()),
	}
	if i.Data != nil {
		attrs = append(attrs, slog.String("command", i.Data.Name))
	}
	return slog.GroupValue(attrs...)
}

// CommandData is the payload of an application command interaction.
type CommandData struct {
	ID      string          `json:"id"`
	Name    string          `json:"name"`
	Type    int             `json:"type"`
	Options []CommandOption `json:"options,omitempty"`
}

// CommandOption is one argument supplied with a command. Value is kept raw
// because Discord sends strings, numbers or booleans depending on the option type.
type CommandOption struct {
	Name  string          `json:"name"`
	Type  int             `json:"type"`
	Value json.RawMessage `json:"value,omitempty"`
}

// Message is the follow-up payload used to edit the original deferred response.
type Message struct {
	Content    string      `json:"content"`
	Embeds     []Embed     `json:"embeds"`
	Components []ActionRow `json:"components"`
}

// MarshalJSON always emits arrays for embeds and components; Discord treats
// null differently from an empty list when editing a message.
func (m Message) MarshalJSON() ([]byte, error) {
	type alias Message
	out := alias(m)
	if out.Embeds == nil {
		out.Embeds = []Embed{}
	}
	if out.Components == nil {
		out.Components = []ActionRow{}
	}
	return json.Marshal(out)
}

// Embed is a rich display block.
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	URL         string       `json:"url,omitempty"`
	Color       *int         `json:"color,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedMedia  `json:"image,omitempty"`
	Thumbnail   *EmbedMedia  `json:"thumbnail,omitempty"`
	Video       *EmbedMedia  `json:"video,omitempty"`
	Author      *EmbedAuthor `json:"author,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
}

type EmbedFooter struct {
	Text    string `json:"text"`
	IconURL string `json:"icon_url,omitempty"`
}

// EmbedMedia covers image, thumbnail and video blocks, which only carry a URL.
type EmbedMedia struct {
	URL string `json:"url"`
}

type EmbedAuthor struct {
	Name    string `json:"name"`
	URL     string `json:"url,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// ComponentType identifies message component kinds.
type ComponentType int

const (
	ComponentTypeActionRow ComponentType = 1
	ComponentTypeButton    ComponentType = 2
)

// ButtonStyle identifies button styles. Only link buttons are supported since
// nothing in this service can handle a custom_id callback.
type ButtonStyle int

const ButtonStyleLink ButtonStyle = 5

// ActionRow groups buttons in a message.
type ActionRow struct {
	Type       ComponentType `json:"type"`
	Components []Button      `json:"components"`
}

// Button is a link-style button.
type Button struct {
	Type  ComponentType `json:"type"`
	Style ButtonStyle   `json:"style"`
	Label string        `json:"label"`
	URL   string        `json:"url"`
}

// LinkButton builds a link-style button.
func LinkButton(label, url string) Button {
	return Button{
		Type:  ComponentTypeButton,
		Style: ButtonStyleLink,
		Label: label,
		URL:   url,
	}
}

// NewActionRow wraps buttons in a single action row.
func NewActionRow(buttons ...Button) ActionRow {
	return ActionRow{
		Type:       ComponentTypeActionRow,
		Components: buttons,
	}
}

// IntegrationType is where a command can be installed.
type IntegrationType int

const (
	IntegrationTypeGuildInstall IntegrationType = 0
	IntegrationTypeUserInstall  IntegrationType = 1
)

// InteractionContext is where a command can be used.
type InteractionContext int

const (
	InteractionContextGuild          InteractionContext = 0
	InteractionContextBotDM          InteractionContext = 1
	InteractionContextPrivateChannel InteractionContext = 2
)

// CommandDescriptor is the registration payload for one command.
type CommandDescriptor struct {
	Name             string               `json:"name"`
	Description      string               `json:"description"`
	IntegrationTypes []IntegrationType    `json:"integration_types"`
	Contexts         []InteractionContext `json:"contexts"`
}

// ApplicationCommand is a registered command as returned by Discord.
type ApplicationCommand struct {
	ID            string `json:"id"`
	ApplicationID string `json:"application_id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Version       string `json:"version"`
}

// Application is the subset of /applications/@me this service reads.
type Application struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
