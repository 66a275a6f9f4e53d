package synth

import (
	"context"
	"fmt"

	"github.com/opencopilot/copilot/internal/llm"
)

const defaultSummarizer = "You are a chatbot that can understand API responses"

type SummaryInput struct {
	UserInput   string
	APIResponse string
	RequestData string
	BotID       string
}

// Summarize turns raw API responses into an answer for the user.
func (s *Synthesizer) Summarize(ctx context.Context, in SummaryInput) (string, error) {
	sys := defaultSummarizer
	if o := s.prompts.ForBot(in.BotID).APISummarizer; o != "" {
		sys = o
	}

	msgs := []llm.Message{
		system(sys),
		human("You'll receive user input and server responses obtained by making calls to various APIs. You will also recieve a dictionary that specifies, the body, param and query param used to make those api calls. Your task is to transform the JSON response into a response that in an answer to the user input. You should inform the user about the filters that were used to make these api calls"),
		human(fmt.Sprintf("Here is the user input: %s.", in.UserInput)),
		human("Here is the response from the apis: " + in.APIResponse),
		human("Here is the api_request_data: " + in.RequestData),
	}

	resp, err := s.guard.Complete(ctx, s.llm, &llm.CompletionRequest{Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}
	return resp.Content, nil
}
