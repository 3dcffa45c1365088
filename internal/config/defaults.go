package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/dukerupert/docscan/internal/classify"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.max_upload_bytes", 16<<20)
	v.SetDefault("server.secure_cookies", false)
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("store.driver", "file")
	v.SetDefault("store.accounts_path", "users.json")
	v.SetDefault("store.db_path", "docscan.db")

	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.folder_id", "")
	v.SetDefault("llm.model", "yandexgpt-lite/latest")
	v.SetDefault("llm.base_url", "https://llm.api.cloud.yandex.net")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.max_tokens", 2000)
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("quota.version", "2024-01")
	v.SetDefault("quota.default_tier", "free")
	v.SetDefault("quota.timezone", "Local")
	v.SetDefault("quota.tiers", []map[string]any{
		{"name": "free", "title": "Бесплатный", "daily_limit": 3, "price": 0, "ai_access": true},
		{"name": "premium", "title": "Премиум", "daily_limit": 50, "price": 490, "ai_access": true},
		{"name": "business", "title": "Бизнес", "daily_limit": 1000, "price": 1900, "ai_access": true},
		{"name": "unlimited", "title": "Безлимитный", "unlimited": true, "price": 0, "ai_access": true},
	})

	v.SetDefault("analysis.max_prompt_chars", 8000)
	v.SetDefault("analysis.min_text_chars", 10)

	p := classify.DefaultPolicy()
	v.SetDefault("classify.risk_markers", p.RiskMarkers)
	v.SetDefault("classify.recommendation_markers", p.RecommendationMarkers)
	v.SetDefault("classify.skip_phrases", p.SkipPhrases)
	v.SetDefault("classify.bullets", p.Bullets)
	v.SetDefault("classify.numbered_bullets", p.NumberedBullets)
	v.SetDefault("classify.bullet_min_length", p.BulletMinLength)
	v.SetDefault("classify.item_min_length", p.ItemMinLength)
	v.SetDefault("classify.fallback.risk_keywords", p.Fallback.RiskKeywords)
	v.SetDefault("classify.fallback.recommendation_keywords", p.Fallback.RecommendationKeywords)
	v.SetDefault("classify.fallback.risk_exclude_prefixes", p.Fallback.RiskExcludePrefixes)
	v.SetDefault("classify.fallback.recommendation_exclude_prefixes", p.Fallback.RecommendationExcludePrefixes)
	v.SetDefault("classify.fallback.window", p.Fallback.Window)
	v.SetDefault("classify.fallback.min_length", p.Fallback.MinLength)

	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password_hash", "")
	v.SetDefault("admin.session_ttl", 12*time.Hour)

	v.SetDefault("rate_limit.analyze_requests", 20)
	v.SetDefault("rate_limit.analyze_window", time.Minute)
	v.SetDefault("rate_limit.login_requests", 5)
	v.SetDefault("rate_limit.login_window", 15*time.Minute)

	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.endpoint", "")
	v.SetDefault("snapshot.region", "us-east-1")
	v.SetDefault("snapshot.bucket", "")
	v.SetDefault("snapshot.prefix", "docscan/")
	v.SetDefault("snapshot.access_key", "")
	v.SetDefault("snapshot.secret_key", "")
	v.SetDefault("snapshot.passphrase", "")
	v.SetDefault("snapshot.interval", time.Duration(0))
}
