package llm

import "fmt"

// CompressionPrompt builds the re-summarization prompt for a decay phase
// transition. Each phase keeps a different essence of the memory as the
// token budget shrinks.
func CompressionPrompt(content, instruction string, tokenBudget int) string {
	return fmt.Sprintf(`You are a memory compression system. Rewrite the memory below into at most %d tokens.

%s

Rules:
- Output only the compressed memory text, no preamble or commentary
- Never invent facts that are not in the original
- Prefer dropping detail over dropping meaning

MEMORY:
%s`, tokenBudget, instruction, content)
}
