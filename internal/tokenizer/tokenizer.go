/*
Copyright 2025 IBM.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package tokenizer estimates prompt sizes of chat completion requests.
package tokenizer

import (
	"encoding/json"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkoukk/tiktoken-go"
)

// Encoding names used by tiktoken
const (
	EncodingCL100kBase = "cl100k_base"
	EncodingO200kBase  = "o200k_base"
)

const (
	// per message framing tokens
	messageOverhead = 3
	// reply priming tokens
	replyOverhead = 3

	maxCachedEncodings = 4
)

// modelEncodings maps model prefixes to encodings, longest prefix first
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", EncodingO200kBase},
	{"gpt-4", EncodingCL100kBase},
	{"gpt-3.5", EncodingCL100kBase},
	{"o1", EncodingO200kBase},
	{"o3", EncodingO200kBase},
}

// encodeFunc returns the token count of text for an encoding
type encodeFunc func(text string) int

// Counter counts prompt tokens with tiktoken. DeepSeek models use their own
// vocabulary, so counts are estimates.
type Counter struct {
	encodings *lru.Cache[string, encodeFunc]
	load      func(name string) (encodeFunc, error)
}

// New creates a new Counter
func New() (*Counter, error) {
	cache, err := lru.New[string, encodeFunc](maxCachedEncodings)
	if err != nil {
		return nil, err
	}
	return &Counter{
		encodings: cache,
		load:      loadTiktoken,
	}, nil
}

func loadTiktoken(name string) (encodeFunc, error) {
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding %s: %w", name, err)
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

// ResolveEncoding returns the encoding name used for model
func ResolveEncoding(model string) string {
	m := strings.ToLower(model)
	for _, me := range modelEncodings {
		if strings.HasPrefix(m, me.prefix) {
			return me.encoding
		}
	}
	return EncodingCL100kBase
}

func (c *Counter) encoding(model string) (encodeFunc, error) {
	name := ResolveEncoding(model)
	if enc, ok := c.encodings.Get(name); ok {
		return enc, nil
	}
	enc, err := c.load(name)
	if err != nil {
		return nil, err
	}
	c.encodings.Add(name, enc)
	return enc, nil
}

type message struct {
	Role    string          `json:"role"`
	Name    string          `json:"name,omitempty"`
	Content json.RawMessage `json:"content"`
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CountMessages counts the tokens of a JSON array of chat messages.
// Non-text content parts are ignored.
func (c *Counter) CountMessages(messages json.RawMessage, model string) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}

	var msgs []message
	if err := json.Unmarshal(messages, &msgs); err != nil {
		return 0, fmt.Errorf("failed to decode messages: %w", err)
	}

	encode, err := c.encoding(model)
	if err != nil {
		return 0, err
	}

	total := replyOverhead
	for _, m := range msgs {
		total += messageOverhead + encode(m.Role) + encode(m.Name) + encode(contentText(m.Content))
	}
	return total, nil
}

// contentText flattens string or multipart content
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}

	var parts []contentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}
