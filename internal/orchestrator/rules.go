package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	defaultSystemMessage = "You are a helpful ai assistant. User will give you two things, a list of api's and some useful information, called context."

	jsonInstruction = `Based on the information provided to you I want you to answer the questions that follow. Your should respond with a json that looks like the following - 
    {
        "ids": ["list", "of", "operationIds", "for apis to be called"],
        "bot_message": "your response based on the instructions provided at the beginning"
    }                
    `

	clarifyInstruction = "If you are unsure / confused, ask claryfying questions"
)

// evidenceMessage builds the single message describing retrieved
// evidence. Richer combinations take precedence; ok is false when there
// is nothing to say.
func evidenceMessage(context string, summaries, flows []json.RawMessage) (msg string, ok bool) {
	switch {
	case context != "" && len(summaries) > 0 && len(flows) > 0:
		return fmt.Sprintf("Here is some relevant context I found that might be helpful - ```%s```. "+
			"Also, here is the excerpt from API swagger for the APIs I think might be helpful in answering the question ```%s```. "+
			"I also found some api flows, that maybe able to answer the following question ```%s```. "+
			"If one of the flows can accurately answer the question, then set `id` in the response should be the ids defined in the flows. "+
			"Flows should take precedence over the api_summaries",
			dumps(context), dumps(summaries), dumps(flows)), true

	case context != "" && len(summaries) > 0:
		return fmt.Sprintf("Here is some relevant context I found that might be helpful - ```%s```. "+
			"Also, here is the excerpt from API swagger for the APIs I think might be helpful in answering the question ```%s```. ",
			dumps(context), dumps(summaries)), true

	case context != "":
		return fmt.Sprintf("I found some relevant context that might be helpful. Here is the context: ```%s```. ",
			dumps(context)), true

	case len(summaries) > 0:
		return fmt.Sprintf("I found API summaries that might be helpful in answering the question. Here are the api summaries: ```%s```. ",
			dumps(summaries)), true
	}
	return "", false
}

// dumps encodes v as compact JSON without HTML escaping.
func dumps(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return string(bytes.TrimRight(buf.Bytes(), "\n"))
}
