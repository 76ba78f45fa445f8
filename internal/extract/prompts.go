package extract

import (
	"fmt"
	"strconv"
	"strings"
)

// System prompts. The {K} placeholder is replaced by the requested keyword count.
const systemZH = `你是信息抽取助手。任务：从给定“回答”中抽取关键词。
硬性要求：
- 只输出 JSON 数组，例如：["关键词1","关键词2"]，不要输出任何解释、前后缀或 Markdown。
- 去重，避免同义重复；不要虚词/套话（如：因此、同时、我们、可以、重要的是）。
- 关键词尽量是名词或名词短语（2-8个汉字），保留必要专有名词/缩写。
- 数量：给出约 {K} 个（允许上下浮动，但不少于 3）。
如果无法抽取，输出 []。
`

const systemEN = `You are an information extraction assistant. Task: extract keywords/keyphrases from the given Statement.
Hard requirements:
- Output ONLY a JSON array, e.g. ["keyword 1","keyword 2"]. No extra text, no Markdown.
- Deduplicate; avoid stopwords and filler phrases.
- Prefer noun phrases (1-4 words). Keep proper nouns/acronyms.
- Return about {K} items (at least 3).
If unsure, output [].
`

// BuildPrompt composes the extraction prompt for one answer. Without a
// tokenizer-side chat template the plain system/user concatenation is used;
// OpenAI-compatible servers apply their own template on top when configured.
func BuildPrompt(answer string, k int, lang string) string {
	if lang == "en" {
		system := strings.ReplaceAll(systemEN, "{K}", strconv.Itoa(k))
		user := fmt.Sprintf("Statement: \n%s\n\nExtract keywords from the Statement.", answer)
		return system + "\n\n" + user + "\n"
	}
	system := strings.ReplaceAll(systemZH, "{K}", strconv.Itoa(k))
	user := fmt.Sprintf("陈述：\n%s\n\n请从这段陈述中抽取关键词。", answer)
	return system + "\n\n" + user + "\n"
}
