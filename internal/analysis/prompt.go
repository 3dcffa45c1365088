package analysis

import "fmt"

const systemPrompt = `Ты опытный юрист-аналитик. Проанализируй документ и выдели ТОЛЬКО:
1. ПОТЕНЦИАЛЬНЫЕ РИСКИ (конкретные проблемы, что может привести к потерям)
2. КОНКРЕТНЫЕ РЕКОМЕНДАЦИИ по исправлению

Формат ответа:
РИСКИ:
- риск 1
- риск 2

РЕКОМЕНДАЦИИ:
- рекомендация 1
- рекомендация 2

Не добавляй общие оценки безопасности и другие комментарии.`

const userPromptPrefix = "Проанализируй этот документ как юрист и выдели только риски и рекомендации:\n\n"

const (
	noRisksPlaceholder           = "✅ Критических рисков не обнаружено"
	noRecommendationsPlaceholder = "✅ Все рекомендации учтены в документе"

	localRisk           = "✅ Базовый анализ завершен"
	localRecommendation = "💎 Перейдите на премиум для AI-анализа"
)

func aiSummary(chars int) string {
	return fmt.Sprintf("🤖 YandexGPT: %d символов проанализировано", chars)
}

func localSummary(chars int) string {
	return fmt.Sprintf("📊 Локальный анализ: %d символов", chars)
}
