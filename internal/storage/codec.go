package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"

	"autoposter/internal/destination"
)

// fileDocument is the on-disk layout. Channels is the older flat layout
// and is only read, never written.
type fileDocument struct {
	BotToken     string                    `json:"bot_token,omitempty"`
	Destinations []destination.Destination `json:"destinations"`
	Channels     []legacyChannel           `json:"channels,omitempty"`
}

type legacyChannel struct {
	ChannelID  flexString `json:"channel_id"`
	UserID     flexString `json:"user_id"`
	WebhookURL string     `json:"webhook_url"`
	Message    string     `json:"message"`
	Interval   flexString `json:"interval"`
}

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = flexString(n.String())
	return nil
}

func (c legacyChannel) destination() destination.Destination {
	target := strings.TrimSpace(c.WebhookURL)
	if target == "" {
		target = strings.TrimSpace(string(c.ChannelID))
	}
	return destination.Destination{
		TargetRef:  target,
		MentionRef: strings.TrimSpace(string(c.UserID)),
		Message:    c.Message,
		Interval:   destination.ParseInterval(string(c.Interval)),
	}
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// decodeDocument parses JSON or YAML (by path) including the legacy layout.
func decodeDocument(path string, data []byte) (destination.Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return destination.Document{}, nil
	}
	if isYAML(path) {
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return destination.Document{}, fmt.Errorf("yaml unmarshal: %w", err)
		}
		j, err := json.Marshal(stringKeys(v))
		if err != nil {
			return destination.Document{}, fmt.Errorf("yaml->json marshal: %w", err)
		}
		data = j
	}

	var fd fileDocument
	if err := json.Unmarshal(data, &fd); err != nil {
		return destination.Document{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	doc := destination.Document{BotToken: fd.BotToken, Destinations: fd.Destinations}
	for _, c := range fd.Channels {
		doc.Destinations = append(doc.Destinations, c.destination())
	}
	return doc, nil
}

func encodeDocument(path string, doc destination.Document) ([]byte, error) {
	fd := fileDocument{BotToken: doc.BotToken, Destinations: doc.Destinations}
	if fd.Destinations == nil {
		fd.Destinations = []destination.Destination{}
	}
	j, err := json.MarshalIndent(fd, "", "  ")
	if err != nil {
		return nil, err
	}
	if !isYAML(path) {
		return append(j, '\n'), nil
	}
	var v any
	if err := json.Unmarshal(j, &v); err != nil {
		return nil, err
	}
	return yaml.Marshal(v)
}

func stringKeys(in any) any {
	switch x := in.(type) {
	case map[any]any:
		m := make(map[string]any, len(x))
		for k, v := range x {
			m[fmt.Sprint(k)] = stringKeys(v)
		}
		return m
	case map[string]any:
		for k, v := range x {
			x[k] = stringKeys(v)
		}
		return x
	case []any:
		for i := range x {
			x[i] = stringKeys(x[i])
		}
		return x
	default:
		return in
	}
}
