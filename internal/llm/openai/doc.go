// Package openai implements llm.Provider and llm.Transcriber on top of the
// official OpenAI Go SDK. Any OpenAI-compatible endpoint can be targeted by
// setting a base URL.
package openai
