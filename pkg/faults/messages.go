package faults

// userMessage holds the localizable short message pair plus an optional hint.
type userMessage struct {
	ja   string
	en   string
	hint string
}

var messages = map[Kind]userMessage{
	WeatherFetch:      {ja: "天気予報の取得に失敗しました", en: "failed to fetch the weather forecast", hint: "check network connectivity and the forecast service status"},
	DataAccess:        {ja: "参照コメントの読み込みに失敗しました", en: "failed to load reference comments", hint: "check the comments data directory"},
	CacheError:        {ja: "キャッシュ操作に失敗しました", en: "cache operation failed"},
	LLMError:          {ja: "コメント生成に失敗しました", en: "LLM comment generation failed", hint: "check the LLM provider configuration"},
	ValidationError:   {ja: "生成コメントが検証に通りませんでした", en: "generated comment failed validation"},
	ParsingError:      {ja: "応答の解析に失敗しました", en: "failed to parse a response"},
	ConfigError:       {ja: "設定が不正です", en: "invalid configuration", hint: "check the config file"},
	MissingCredential: {ja: "APIキーが見つからないか無効です", en: "API key missing or invalid", hint: "check API key"},
	NetworkError:      {ja: "ネットワークエラーが発生しました", en: "network error"},
	TimeoutError:      {ja: "処理がタイムアウトしました", en: "operation timed out"},
	APIError:          {ja: "外部APIがエラーを返しました", en: "upstream API returned an error"},
	RateLimitError:    {ja: "APIの利用制限に達しました", en: "API rate limit reached", hint: "wait and retry"},
	APIResponseError:  {ja: "外部APIの応答が不正です", en: "upstream API response was malformed or empty"},
	FileIOError:       {ja: "ファイル入出力に失敗しました", en: "file I/O failed"},
	LocationNotFound:  {ja: "地点が見つかりません", en: "location not found", hint: "supply coordinates as name,lat,lon"},
	CommentGeneration: {ja: "コメントの生成に失敗しました", en: "comment generation failed"},
	MissingData:       {ja: "必要なデータがありません", en: "required data is missing"},
	SystemError:       {ja: "内部エラーが発生しました", en: "internal error"},
	Unknown:           {ja: "不明なエラーが発生しました", en: "unknown error"},
}

// Message returns the localized short message for a kind.
// lang is "ja" or "en"; anything else falls back to English.
func Message(kind Kind, lang string) string {
	m, ok := messages[kind]
	if !ok {
		m = messages[Unknown]
	}
	if lang == "ja" {
		return m.ja
	}
	return m.en
}

// Hint returns the optional remediation hint for a kind, or "".
func Hint(kind Kind) string {
	return messages[kind].hint
}
