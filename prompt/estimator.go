// Package prompt はトークン予算内に収まるLLM向けメッセージリストを組み立てる
package prompt

import "math"

// Estimator はテキストのトークン数を見積もる
// 厳密なトークナイザではなく近似で、プロバイダごとに差し替え可能
type Estimator interface {
	Estimate(text string) int
}

// プロバイダごとのchars-per-token比
// 実測に基づく近似値で、安全側に10%の上乗せをかける
const (
	ratioAnthropic = 3.3
	ratioLocal     = 3.5
	ratioDefault   = 4.0

	estimateOverhead = 1.1
)

// RatioEstimator は文字数ベースの近似トークン見積もり
type RatioEstimator struct {
	charsPerToken float64
}

// NewEstimator はプロバイダに合った見積もり器を返す
func NewEstimator(provider string) *RatioEstimator {
	ratio := ratioDefault
	switch provider {
	case ProviderAnthropic:
		ratio = ratioAnthropic
	case ProviderOllama, ProviderLlamaCPP:
		ratio = ratioLocal
	}
	return &RatioEstimator{charsPerToken: ratio}
}

// Estimate はテキストの推定トークン数を返す
func (e *RatioEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	tokens := float64(len(text)) / e.charsPerToken * estimateOverhead
	return int(math.Ceil(tokens))
}
