// Package commands loads the command catalog file into a response table and
// keeps it current while the process runs.
//
// The file maps each command name to its description and follow-up message:
//
//	ping:
//	  description: Replies with pong
//	  content: pong!
//	  embeds:
//	    - title: Pong
//	      color: "ff0000"
//	  buttons:
//	    - label: Docs
//	      url: https://example.com
//
// embeds, buttons and embed fields may be written as lists or as mappings;
// mappings are read in key order.
package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tjfontaine/interactions-gateway/internal/discord"
	"github.com/tjfontaine/interactions-gateway/internal/responses"
)

// DefaultPath is the catalog location used when none is configured.
const DefaultPath = "Commands.yml"

// Discord's chat-input command name rule.
var namePattern = regexp.MustCompile(`^[-_\p{L}\p{N}]{1,32}$`)

type commandDef struct {
	Description string `koanf:"description"`
	Content     string `koanf:"content"`
	Embeds      any    `koanf:"embeds"`
	Buttons     any    `koanf:"buttons"`
}

type embedDef struct {
	Title       string     `koanf:"title"`
	Description string     `koanf:"description"`
	URL         string     `koanf:"url"`
	Color       string     `koanf:"color"`
	Footer      *footerDef `koanf:"footer"`
	Image       *mediaDef  `koanf:"image"`
	Thumbnail   *mediaDef  `koanf:"thumbnail"`
	Video       *mediaDef  `koanf:"video"`
	Author      *authorDef `koanf:"author"`
	Fields      any        `koanf:"fields"`
}

type footerDef struct {
	Text    string `koanf:"text"`
	IconURL string `koanf:"icon_url"`
}

type mediaDef struct {
	URL string `koanf:"url"`
}

type authorDef struct {
	Name    string `koanf:"name"`
	URL     string `koanf:"url"`
	IconURL string `koanf:"icon_url"`
}

type fieldDef struct {
	Name   string `koanf:"name"`
	Value  string `koanf:"value"`
	Inline bool   `koanf:"inline"`
}

type buttonDef struct {
	Label string `koanf:"label"`
	URL   string `koanf:"url"`
}

// EnsureFile creates an empty catalog at path when none exists so that a
// fresh install starts with zero commands instead of failing.
func EnsureFile(path string) (created bool, err error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("create %s: %w", path, err)
	}
	return true, f.Close()
}

// Load reads the catalog at path and builds a table from it.
func Load(path string) (*responses.Table, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	entries, err := parse(k)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return responses.NewTable(entries), nil
}

// Parse builds a table from catalog YAML held in memory.
func Parse(data []byte) (*responses.Table, error) {
	k := koanf.New(".")
	if err := k.Load(rawBytes(data), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}
	entries, err := parse(k)
	if err != nil {
		return nil, err
	}
	return responses.NewTable(entries), nil
}

func parse(k *koanf.Koanf) ([]responses.Entry, error) {
	raw := k.Raw()
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]responses.Entry, 0, len(names))
	for _, name := range names {
		if !namePattern.MatchString(name) {
			return nil, fmt.Errorf("command %q: name must be 1-32 letters, digits, '-' or '_'", name)
		}
		if name != strings.ToLower(name) {
			return nil, fmt.Errorf("command %q: name must be lowercase", name)
		}

		var def commandDef
		if err := k.UnmarshalWithConf(name, &def, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
			return nil, fmt.Errorf("command %q: %w", name, err)
		}

		msg, err := buildMessage(def)
		if err != nil {
			return nil, fmt.Errorf("command %q: %w", name, err)
		}
		entries = append(entries, responses.Entry{
			Name:        name,
			Description: def.Description,
			Message:     msg,
		})
	}
	return entries, nil
}

func buildMessage(def commandDef) (discord.Message, error) {
	msg := discord.Message{Content: def.Content}

	embedItems, err := items(def.Embeds)
	if err != nil {
		return msg, fmt.Errorf("embeds: %w", err)
	}
	for i, raw := range embedItems {
		var es embedDef
		if err := decode(raw, &es); err != nil {
			return msg, fmt.Errorf("embeds[%d]: %w", i, err)
		}
		embed, err := buildEmbed(es)
		if err != nil {
			return msg, fmt.Errorf("embeds[%d]: %w", i, err)
		}
		msg.Embeds = append(msg.Embeds, embed)
	}

	buttonItems, err := items(def.Buttons)
	if err != nil {
		return msg, fmt.Errorf("buttons: %w", err)
	}
	var buttons []discord.Button
	for i, raw := range buttonItems {
		var bs buttonDef
		if err := decode(raw, &bs); err != nil {
			return msg, fmt.Errorf("buttons[%d]: %w", i, err)
		}
		if bs.URL == "" {
			return msg, fmt.Errorf("buttons[%d]: url is required", i)
		}
		buttons = append(buttons, discord.LinkButton(bs.Label, bs.URL))
	}
	if len(buttons) > 0 {
		msg.Components = []discord.ActionRow{discord.NewActionRow(buttons...)}
	}
	return msg, nil
}

func buildEmbed(es embedDef) (discord.Embed, error) {
	embed := discord.Embed{
		Title:       es.Title,
		Description: es.Description,
		URL:         es.URL,
	}
	if es.Color != "" {
		color, err := ParseColor(es.Color)
		if err != nil {
			return embed, err
		}
		embed.Color = &color
	}
	if es.Footer != nil {
		embed.Footer = &discord.EmbedFooter{Text: es.Footer.Text, IconURL: es.Footer.IconURL}
	}
	if es.Image != nil {
		embed.Image = &discord.EmbedMedia{URL: es.Image.URL}
	}
	if es.Thumbnail != nil {
		embed.Thumbnail = &discord.EmbedMedia{URL: es.Thumbnail.URL}
	}
	if es.Video != nil {
		embed.Video = &discord.EmbedMedia{URL: es.Video.URL}
	}
	if es.Author != nil {
		embed.Author = &discord.EmbedAuthor{Name: es.Author.Name, URL: es.Author.URL, IconURL: es.Author.IconURL}
	}

	fieldItems, err := items(es.Fields)
	if err != nil {
		return embed, fmt.Errorf("fields: %w", err)
	}
	for i, raw := range fieldItems {
		var f fieldDef
		if err := decode(raw, &f); err != nil {
			return embed, fmt.Errorf("fields[%d]: %w", i, err)
		}
		embed.Fields = append(embed.Fields, discord.EmbedField{Name: f.Name, Value: f.Value, Inline: f.Inline})
	}
	return embed, nil
}

// ParseColor reads a 24-bit RGB color written as hex, with or without a
// leading '#'.
func ParseColor(s string) (int, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("color %q: not a hex value", s)
	}
	if v > 0xFFFFFF {
		return 0, fmt.Errorf("color %q: exceeds 24 bits", s)
	}
	return int(v), nil
}

// items flattens a list, or a mapping read in key order, into its elements.
func items(v any) ([]any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, t[k])
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a list or mapping, got %T", v)
	}
}

func decode(in any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "koanf",
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(in)
}

// rawBytes adapts an in-memory document to koanf.Provider.
type rawBytes []byte

func (b rawBytes) ReadBytes() ([]byte, error) { return b, nil }

func (b rawBytes) Read() (map[string]any, error) {
	return nil, errors.New("raw bytes provider does not support Read")
}
