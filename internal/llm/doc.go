// Package llm defines the provider-neutral message and tool types exchanged
// with a hosted language model, and the interfaces a provider implements.
//
// Provider adapters live in sub-packages (see llm/openai).
package llm
