package prompt

// プロバイダ識別子
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
	ProviderOllama    = "ollama"
	ProviderLlamaCPP  = "llamacpp"
)

// providerCeilings は既知のコンテキストウィンドウ上限
var providerCeilings = map[string]int{
	ProviderAnthropic: 200_000,
	ProviderOpenAI:    128_000,
	ProviderGemini:    1_000_000,
	ProviderOllama:    8_192,
	ProviderLlamaCPP:  4_096,
}

// defaultCeiling は未知のプロバイダに適用する保守的な上限
const defaultCeiling = 8_192

// MaxTokensFor はユーザー設定値とプロバイダ上限の小さい方を返す
func MaxTokensFor(provider string, configured int) int {
	ceiling, ok := providerCeilings[provider]
	if !ok {
		ceiling = defaultCeiling
	}
	if configured > 0 && configured < ceiling {
		return configured
	}
	return ceiling
}

// singlePromptProviders は複数メッセージのchat形式を持たないプロバイダ
var singlePromptProviders = map[string]bool{
	ProviderOllama:   true,
	ProviderLlamaCPP: true,
}
