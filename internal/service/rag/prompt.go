package rag

import (
	"encoding/json"
	"strings"
)

// NoQuery is what the model answers when the history needs no search.
const NoQuery = "No Query"

// QueryPrompt asks the model to turn the query history, oldest first, into a
// single search query for the latest entry.
func QueryPrompt(queries []string) string {
	var b strings.Builder
	b.WriteString(`You are an assistant that writes queries for a document search engine.
Follow these steps to write the query.

# Steps
* Read every entry of "# Query history". It is ordered oldest first, so the last entry is the newest query. "# Query history END" marks its end.
* Ignore entries that are not questions, such as "summarize this".
* Rewrite requests for an overview ("what is X?", "explain X") as "X overview".
* The user cares most about the newest query. Write a query of at most 30 tokens for it.
* If the query has no subject, add one. Never replace the subject.
* Take any missing subject or background from "# Query history".
* Do not end the query with phrases such as "tell me about".
* If there is nothing to search for, output "No Query".
* Output only the query. Output nothing else, without exception.

# Query history
`)
	for _, q := range queries {
		b.WriteString("* ")
		b.WriteString(q)
		b.WriteByte('\n')
	}
	b.WriteString("# Query history END\n")
	return b.String()
}

type reference struct {
	DocumentID    string `json:"DocumentId"`
	DocumentTitle string `json:"DocumentTitle"`
	DocumentURI   string `json:"DocumentURI"`
	Content       string `json:"Content"`
}

// SystemContext renders docs into the system message for the answering turn.
func SystemContext(docs []Document) string {
	refs := make([]string, 0, len(docs))
	for _, d := range docs {
		b, err := json.Marshal(reference{DocumentID: d.ID, DocumentTitle: d.Title, DocumentURI: d.URI, Content: d.Content})
		if err != nil {
			continue
		}
		refs = append(refs, string(b))
	}

	var b strings.Builder
	b.WriteString(`You are an assistant that answers the user's questions.
Answer by following the steps below and do nothing else.

# Steps
* Read everything in "# Reference documents". Each entry has the format described in "# Reference document format".
* Read "# Answer rules" and always follow them.
* Answer the user's questions from "# Reference documents" according to "# Answer rules".

# Reference document format
{
  "DocumentId": "ID that identifies the document.",
  "DocumentTitle": "Title of the document.",
  "DocumentURI": "Where the document is stored.",
  "Content": "Text of the document. Base your answer on it."
}[]

# Reference documents
[
`)
	b.WriteString(strings.Join(refs, ",\n"))
	b.WriteString(`
]

# Answer rules
* Do not engage in small talk or greetings. Output only "I cannot chat. Please use the regular chat view."
* Answer only from "# Reference documents". Never answer anything they do not support.
* End the answer with the documents you used: print the heading "---\n#### References" followed by links of the form [DocumentTitle](DocumentURI).
* If "# Reference documents" cannot answer the question, output only "No information needed for the answer was found."
* If the question is too vague to answer, advise the user how to ask it.
* Output only the answer as plain text, not JSON, without headings or titles.
`)
	return b.String()
}
