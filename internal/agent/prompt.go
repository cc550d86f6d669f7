package agent

import (
	"fmt"
	"strings"

	"github.com/54b3r/docrag-go/internal/rag"
)

// NoResultsAnswer is returned when retrieval finds nothing to ground on.
const NoResultsAnswer = "I don't have enough information to answer your question. Please try ingesting more documents first."

// EmptyAnswer replaces a blank completion from the generator.
const EmptyAnswer = "Unable to generate response"

// contextDelimiter separates consecutive source blocks in the context.
const contextDelimiter = "\n\n---\n\n"

// promptTemplate is the fixed instruction wrapped around every question.
// The model must answer from the supplied context only.
const promptTemplate = `You are a helpful assistant that answers questions based on the provided context.
Use the following pieces of context to answer the question at the end.
If you don't know the answer based on the context, just say that you don't know, don't try to make up an answer.

Context:
%s

Question: %s

Answer:`

// buildContext renders results in ranking order as "Source/Content" blocks.
func buildContext(results []rag.QueryResult) string {
	blocks := make([]string, len(results))
	for i, r := range results {
		blocks[i] = fmt.Sprintf("Source: %s\nContent: %s", r.Record.SourceID, r.Record.Content)
	}
	return strings.Join(blocks, contextDelimiter)
}

// buildPrompt fills the instruction template with context and question.
func buildPrompt(query string, results []rag.QueryResult) string {
	return fmt.Sprintf(promptTemplate, buildContext(results), query)
}
