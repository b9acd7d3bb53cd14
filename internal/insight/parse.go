package insight

import (
	"encoding/json"
	"errors"
	"strings"

	"trendwatch/internal/core"
)

// topicPayload is the shape the model is asked to emit.
type topicPayload struct {
	Topic    string   `json:"topic"`
	Keywords []string `json:"keywords"`
	Hooks    []string `json:"hooks"`
}

// parseTopics decodes the model's cluster answer. Models wander between
// three shapes despite the prompt: a bare array, an object wrapping the
// array under "topics", and an object mapping topic name to keyword
// list. All three are accepted.
func parseTopics(text string) ([]core.Topic, error) {
	raw := stripFences(text)
	if raw == "" {
		return nil, errors.New("insight: empty cluster response")
	}

	var list []topicPayload
	if err := json.Unmarshal([]byte(raw), &list); err == nil {
		return toTopics(list), nil
	}

	var wrapped struct {
		Topics []topicPayload `json:"topics"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && len(wrapped.Topics) > 0 {
		return toTopics(wrapped.Topics), nil
	}

	var byName map[string][]string
	if err := json.Unmarshal([]byte(raw), &byName); err == nil && len(byName) > 0 {
		list = list[:0]
		for topic, keywords := range byName {
			list = append(list, topicPayload{Topic: topic, Keywords: keywords})
		}
		// Map iteration order is random; sort for stable topic IDs.
		sortPayloads(list)
		return toTopics(list), nil
	}

	return nil, errors.New("insight: unrecognized cluster response shape")
}

func sortPayloads(list []topicPayload) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].Topic < list[j-1].Topic; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func toTopics(payloads []topicPayload) []core.Topic {
	topics := make([]core.Topic, 0, len(payloads))
	for _, p := range payloads {
		if p.Topic == "" || len(p.Keywords) == 0 {
			continue
		}
		topics = append(topics, core.Topic{
			Topic:    p.Topic,
			Keywords: p.Keywords,
			Hooks:    p.Hooks,
		})
	}
	return topics
}

// parseHooks decodes a hook answer: the asked-for {"hooks": [...]} shape,
// or a plain list of lines when the model ignores the format.
func parseHooks(text string) []string {
	raw := stripFences(text)

	var wrapped struct {
		Hooks []string `json:"hooks"`
	}
	if err := json.Unmarshal([]byte(raw), &wrapped); err == nil && len(wrapped.Hooks) > 0 {
		return wrapped.Hooks
	}

	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err == nil && len(list) > 0 {
		return list
	}

	var hooks []string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimLeft(line, "-*0123456789. ")
		line = strings.Trim(line, `"`)
		if line != "" {
			hooks = append(hooks, line)
		}
	}
	return hooks
}

// stripFences removes a markdown code fence around a JSON answer.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	return strings.TrimSpace(text)
}
