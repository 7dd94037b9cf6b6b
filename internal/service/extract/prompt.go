package extract

import "fmt"

func systemPrompt(contextText string, format Format) string {
	return fmt.Sprintf(`You convert free text into JSON.
Read the text in the user message and fill in the following JSON object. Each value describes what the key should contain.

%s

Rules:
- Output only the JSON object. No explanations, no code fences.
- Use exactly the keys above. Do not add or omit keys.
- Every value must be a string.
- If the text does not contain the information for a key, use "%s".

Context: %s`, format.example(), NotApplicable, contextText)
}

func parseErrorRetryPrompt(format Format) string {
	return fmt.Sprintf(`Your output could not be parsed as a JSON object whose values are all strings.
Output only the JSON object in the following shape, without any other text:

%s`, format.example())
}

func keysInvalidRetryPrompt(format Format) string {
	return fmt.Sprintf(`The keys in your output do not match the required keys.
Output a JSON object with exactly these keys and no others:

%s`, format.example())
}
