// Package server - request.go parses call requests and results from JSON bodies.
//
// DESIGN: Bodies are read with gjson instead of struct decoding so that
// provider-native payloads are accepted as-is:
//   - message content may be a string or an array of {type, text} parts
//   - a top-level "system" field becomes a leading system message
//   - "anthropic/claude-..." style model names split into provider + model
//   - purpose/context/file_path may also live under "metadata"
//
// The CLI reuses the same parsers for files on disk.
package server

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/compresr/callrisk/internal/monitoring"
)

// ErrMalformedBody is returned when a body is not a JSON object.
var ErrMalformedBody = errors.New("malformed JSON body")

// knownProviders are the prefixes split off "provider/model" names.
var knownProviders = []string{"anthropic", "openai", "google", "meta", "mistral", "bedrock", "ollama"}

// ParseCallRequest extracts a CallRequest from a JSON body.
func ParseCallRequest(body []byte) (monitoring.CallRequest, error) {
	root, err := parseObject(body)
	if err != nil {
		return monitoring.CallRequest{}, err
	}

	req := monitoring.CallRequest{
		CallID:    root.Get("call_id").String(),
		Provider:  root.Get("provider").String(),
		Model:     root.Get("model").String(),
		Purpose:   firstString(root, "purpose", "metadata.purpose"),
		Context:   firstString(root, "context", "metadata.context"),
		FilePath:  firstString(root, "file_path", "metadata.file_path"),
		MaxTokens: int(firstInt(root, "max_tokens", "max_completion_tokens")),
	}
	if req.Provider == "" {
		req.Provider, req.Model = splitProvider(req.Model)
	}

	if sys := root.Get("system"); sys.Exists() {
		if text := contentText(sys); text != "" {
			req.Messages = append(req.Messages, monitoring.Message{Role: "system", Content: text})
		}
	}
	root.Get("messages").ForEach(func(_, m gjson.Result) bool {
		req.Messages = append(req.Messages, monitoring.Message{
			Role:    m.Get("role").String(),
			Content: contentText(m.Get("content")),
		})
		return true
	})
	return req, nil
}

// ParseCallResult extracts a CallResult from a JSON body.
// A non-empty error implies failure even when "success" is absent.
func ParseCallResult(body []byte) (monitoring.CallResult, error) {
	root, err := parseObject(body)
	if err != nil {
		return monitoring.CallResult{}, err
	}

	res := monitoring.CallResult{
		CallID:   root.Get("call_id").String(),
		Error:    root.Get("error").String(),
		Provider: root.Get("provider").String(),
		Model:    root.Get("model").String(),
		Cost:     root.Get("cost").Float(),
		Tokens:   int(firstInt(root, "tokens", "usage.total_tokens")),
	}
	if s := root.Get("success"); s.Exists() {
		res.Success = s.Bool()
	} else {
		res.Success = res.Error == ""
	}
	if res.Provider == "" {
		res.Provider, res.Model = splitProvider(res.Model)
	}
	return res, nil
}

func parseObject(body []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return gjson.Result{}, ErrMalformedBody
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return gjson.Result{}, ErrMalformedBody
	}
	return root, nil
}

// contentText flattens string content or an array of text parts.
func contentText(c gjson.Result) string {
	if !c.IsArray() {
		return c.String()
	}
	var parts []string
	c.ForEach(func(_, part gjson.Result) bool {
		if part.Type == gjson.String {
			parts = append(parts, part.String())
		} else if text := part.Get("text"); text.Exists() {
			parts = append(parts, text.String())
		}
		return true
	})
	return strings.Join(parts, "\n")
}

// splitProvider turns "anthropic/claude-3" into ("anthropic", "claude-3").
// Unknown prefixes are left in the model name.
func splitProvider(model string) (string, string) {
	prefix, rest, ok := strings.Cut(model, "/")
	if !ok {
		return "", model
	}
	for _, p := range knownProviders {
		if strings.EqualFold(prefix, p) {
			return p, rest
		}
	}
	return "", model
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() {
			return v.String()
		}
	}
	return ""
}

func firstInt(root gjson.Result, paths ...string) int64 {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() {
			return v.Int()
		}
	}
	return 0
}
