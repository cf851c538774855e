// Package costcontrol prices and estimates outbound model calls before they are issued.
//
// DESIGN: Pricing is a static per-million-token table with a longest-prefix
// family fallback. The Estimator turns a pending request's messages into a
// token count (tiktoken) and a projected USD cost using that table.
package costcontrol

import "strings"

// ModelPricing holds per-million-token pricing for a model.
type ModelPricing struct {
	InputPerMTok  float64 // USD per million input tokens
	OutputPerMTok float64 // USD per million output tokens
}

// modelPricingTable maps exact model names to their pricing.
var modelPricingTable = map[string]ModelPricing{
	// Anthropic
	"claude-opus-4-6":            {InputPerMTok: 5, OutputPerMTok: 25},
	"claude-opus-4-0-20250514":   {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet-4-5-20250929": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4-5-20251001":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-sonnet-20241022": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-haiku-20240307":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},

	// OpenAI
	"gpt-3.5-turbo": {InputPerMTok: 0.5, OutputPerMTok: 1.5},
	"gpt-4":         {InputPerMTok: 30, OutputPerMTok: 60},
	"gpt-4-turbo":   {InputPerMTok: 10, OutputPerMTok: 30},
	"gpt-4o":        {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4o-mini":   {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4.1":       {InputPerMTok: 2, OutputPerMTok: 8},
	"gpt-4.1-mini":  {InputPerMTok: 0.4, OutputPerMTok: 1.6},
	"o3-mini":       {InputPerMTok: 1.1, OutputPerMTok: 4.4},

	// Google
	"gemini-1.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 5},
	"gemini-1.5-flash": {InputPerMTok: 0.075, OutputPerMTok: 0.3},
}

// defaultPricing is used for unknown models (conservative, so an unknown
// model never looks cheap to the cost rules).
var defaultPricing = ModelPricing{InputPerMTok: 15, OutputPerMTok: 75}

// modelFamilyPricing maps model family prefixes to pricing.
// Longest matching prefix wins, so "gpt-4o-mini-..." never resolves to "gpt-4".
var modelFamilyPricing = map[string]ModelPricing{
	"claude-opus-4-6":   {InputPerMTok: 5, OutputPerMTok: 25},
	"claude-sonnet-4":   {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku-4":    {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-5-sonnet": {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-3-5-haiku":  {InputPerMTok: 1, OutputPerMTok: 5},
	"claude-3-haiku":    {InputPerMTok: 0.25, OutputPerMTok: 1.25},
	"claude-opus":       {InputPerMTok: 15, OutputPerMTok: 75},
	"claude-sonnet":     {InputPerMTok: 3, OutputPerMTok: 15},
	"claude-haiku":      {InputPerMTok: 1, OutputPerMTok: 5},
	"gpt-3.5-turbo":     {InputPerMTok: 0.5, OutputPerMTok: 1.5},
	"gpt-4o-mini":       {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":            {InputPerMTok: 2.5, OutputPerMTok: 10},
	"gpt-4-turbo":       {InputPerMTok: 10, OutputPerMTok: 30},
	"gpt-4.1-mini":      {InputPerMTok: 0.4, OutputPerMTok: 1.6},
	"gpt-4.1":           {InputPerMTok: 2, OutputPerMTok: 8},
	"gpt-4":             {InputPerMTok: 30, OutputPerMTok: 60},
	"gemini-1.5-flash":  {InputPerMTok: 0.075, OutputPerMTok: 0.3},
	"gemini-1.5-pro":    {InputPerMTok: 1.25, OutputPerMTok: 5},
}

// GetModelPricing returns pricing for a model.
// Tries exact match, then prefix/family match (longest prefix wins), then default.
func GetModelPricing(model string) ModelPricing {
	p, _ := lookupPricing(model)
	return p
}

// lookupPricing resolves pricing and reports whether the model was recognized.
func lookupPricing(model string) (ModelPricing, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if p, ok := modelPricingTable[model]; ok {
		return p, true
	}

	bestPrefix := ""
	var bestPricing ModelPricing
	for prefix, p := range modelFamilyPricing {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(bestPrefix) {
			bestPrefix = prefix
			bestPricing = p
		}
	}
	if bestPrefix != "" {
		return bestPricing, true
	}

	return defaultPricing, false
}

// CalculateCost computes the cost in USD from token counts.
func CalculateCost(inputTokens, outputTokens int, pricing ModelPricing) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * pricing.InputPerMTok
	outputCost := float64(outputTokens) / 1_000_000 * pricing.OutputPerMTok
	return inputCost + outputCost
}
