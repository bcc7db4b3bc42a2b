package adapter

// Builtins returns the definitions of the supported providers. Markup is
// undocumented and drifts; selectors err on the side of over-inclusion
// because unknown-role and empty nodes are dropped later anyway.
func Builtins() []Definition {
	return []Definition{chatGPT(), claude(), gemini()}
}

func chatGPT() Definition {
	return Definition{
		Platform:   "chatgpt",
		Ping:       "ChatGPT watcher initialised",
		Roots:      []string{"main", "body"},
		Candidates: []string{"[data-message-author-role]"},
		Rules: []RuleDef{
			{Attribute: "data-message-author-role"},
		},
	}
}

func claude() Definition {
	return Definition{
		Platform: "claude",
		Ping:     "Claude watcher initialised",
		Roots:    []string{`[data-qa="message-list"]`, "main", "body"},
		Candidates: []string{
			"[data-message-role]",
			"[data-message-author]",
			"[data-qa*='message']",
			"[data-testid*='message']",
			"[data-role*='assistant']",
			"[data-role*='user']",
			"div.font-claude-response",
		},
		Rules: []RuleDef{
			{Fixed: &FixedDef{Selector: "div.font-claude-response", Role: "assistant"}},
			{Keywords: &KeywordsDef{
				Attrs: []string{"data-message-role", "data-message-author", "data-qa-role", "data-role", "data-testid", "data-qa"},
				Words: []KeywordDef{
					{Word: "assistant", Role: "assistant"},
					{Word: "user", Role: "user"},
					{Word: "system", Role: "system"},
				},
			}},
		},
	}
}

// gemini renders turns as custom elements under #chat-history. The reply
// element carries no role attribute, so the tag/class blob is tried before
// falling back to alternation.
func gemini() Definition {
	return Definition{
		Platform:   "gemini",
		Ping:       "Gemini watcher initialised",
		Roots:      []string{"#chat-history", "main", "body"},
		Candidates: []string{"user-query-content", "message-content"},
		Rules: []RuleDef{
			{Keywords: &KeywordsDef{
				Words: []KeywordDef{
					{Word: "assistant", Role: "assistant"},
					{Word: "model", Role: "assistant"},
					{Word: "response", Role: "assistant"},
					{Word: "user", Role: "user"},
				},
			}},
			{Positional: true},
		},
	}
}
