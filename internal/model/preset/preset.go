package preset

// Preset describes a chat view exposed to the frontend. Each view gets its
// own session, initialised with SystemContext.
type Preset struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Title         string `json:"title"`
	Description   string `json:"description,omitempty"`
	SystemContext string `json:"systemContext"`
}

// Seed provides the default views.
func Seed() []Preset {
	return []Preset{
		{
			ID:            "chat",
			Name:          "Chat",
			Title:         "通用对话",
			Description:   "Free-form conversation with the assistant.",
			SystemContext: "You are a helpful assistant. Answer the user's questions accurately and concisely.",
		},
		{
			ID:            "summarize",
			Name:          "Summarize",
			Title:         "文章摘要",
			Description:   "Condenses pasted text into a short summary.",
			SystemContext: "You summarize the text the user provides. Keep the summary short, factual, and in the language of the input.",
		},
		{
			ID:            "editorial",
			Name:          "Editorial",
			Title:         "校对润色",
			Description:   "Points out typos and awkward phrasing.",
			SystemContext: "You are a careful proofreader. List typos, grammar mistakes and awkward phrasing in the user's text, and suggest corrections.",
		},
		{
			ID:            "translate",
			Name:          "Translate",
			Title:         "翻译",
			Description:   "Translates text into the requested language.",
			SystemContext: "You translate the user's text into the language they request. Output only the translation.",
		},
		{
			ID:          "interpreter",
			Name:        "Interpreter",
			Title:       "代码生成",
			Description: "Writes a function from a description and drafts test input for it.",
			SystemContext: "You are a programmer. Write a single Python 3 function named handler(event) that fulfils the requirement the user describes. " +
				"The function takes one JSON-compatible argument and returns a JSON-compatible value. " +
				"Reply with exactly one fenced code block and nothing else. Update the whole function when the user asks for changes.",
		},
		{
			ID:            "rag",
			Name:          "RAG",
			Title:         "文档问答",
			Description:   "Answers from retrieved reference documents.",
			SystemContext: "You answer questions using the reference documents provided to you.",
		},
	}
}
