package extract

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// chatMessage tolerates the common export shapes: content as a plain
// string or as an array of typed blocks.
type chatMessage struct {
	Role    string          `json:"role"`
	Sender  string          `json:"sender"`
	Content json.RawMessage `json:"content"`
	Text    string          `json:"text"`
}

type chatExport struct {
	Title    string        `json:"title"`
	Name     string        `json:"name"`
	Messages []chatMessage `json:"messages"`
}

// extractAIChat renders an exported AI conversation as a readable
// transcript. Both a bare message array and a {title, messages} wrapper
// are accepted.
func (p *Pipeline) extractAIChat(path string) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var export chatExport
	if err := json.Unmarshal(data, &export); err != nil || len(export.Messages) == 0 {
		var msgs []chatMessage
		if err := json.Unmarshal(data, &msgs); err == nil {
			export.Messages = msgs
		}
	}
	if len(export.Messages) == 0 {
		// Not a shape we recognize. Keep the file as plain text so the
		// note survives instead of failing the item.
		text := normalizeNewlines(strings.TrimSpace(string(data)))
		if text == "" {
			return &Result{Tier: TierNone}, fmt.Errorf("chat export %s: empty file: %w", path, ErrExhausted)
		}
		return &Result{
			Title:         firstLine(text),
			RawText:       string(data),
			ProcessedText: text,
			Tier:          TierDirect,
			LowConfidence: true,
			Metadata:      map[string]string{"chat_format": "unrecognized"},
		}, nil
	}

	var sb strings.Builder
	for _, m := range export.Messages {
		text := m.messageText()
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s: %s", m.speaker(), text)
	}

	transcript := sb.String()
	if transcript == "" {
		return nil, fmt.Errorf("chat export %s: no message text", path)
	}

	title := export.Title
	if title == "" {
		title = export.Name
	}
	if title == "" {
		title = firstLine(transcript)
	}
	return &Result{
		Title:         title,
		RawText:       string(data),
		ProcessedText: transcript,
		Tier:          TierDirect,
		Metadata:      map[string]string{"messages": fmt.Sprintf("%d", len(export.Messages))},
	}, nil
}

func (m *chatMessage) speaker() string {
	role := m.Role
	if role == "" {
		role = m.Sender
	}
	switch strings.ToLower(role) {
	case "user", "human":
		return "User"
	case "assistant", "ai", "model":
		return "Assistant"
	case "system":
		return "System"
	case "":
		return "Unknown"
	default:
		return strings.ToUpper(role[:1]) + role[1:]
	}
}

// messageText flattens the content field: a JSON string, an array of
// {type, text} blocks, or the sibling "text" field.
func (m *chatMessage) messageText() string {
	if len(m.Content) > 0 {
		var s string
		if err := json.Unmarshal(m.Content, &s); err == nil {
			return strings.TrimSpace(s)
		}
		var blocks []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(m.Content, &blocks); err == nil {
			var parts []string
			for _, b := range blocks {
				if t := strings.TrimSpace(b.Text); t != "" {
					parts = append(parts, t)
				}
			}
			return strings.Join(parts, "\n")
		}
	}
	return strings.TrimSpace(m.Text)
}
