// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ollama provides the HTTP client for the Ollama model server.
//
// It covers the four calls the dialogue loop needs: streaming chat with a
// separate thinking channel, raw non-streaming generation for intent
// classification, the resident model list, and preload/unload requests.
//
// # Key Types
//
//   - Client: HTTP client for Ollama API communication
//   - ClientError: typed error with NotRunning, Timeout, ModelNotFound,
//     Connection and InvalidResponse categories
//   - StreamReader: newline-delimited JSON reader that skips malformed lines
//   - StreamChunk: one thinking and/or content delta
//
// # Usage
//
//	client := ollama.NewClientWithConfig(&ollama.ClientConfig{BaseURL: url})
//	err := client.ChatStream(ctx, ollama.ChatRequest{
//	    Model:    "qwen3:4b",
//	    Messages: []ollama.Message{{Role: "user", Content: "Hello"}},
//	    Think:    true,
//	}, func(chunk ollama.StreamChunk) error {
//	    fmt.Print(chunk.Content)
//	    return nil
//	})
//
// Unloading a model:
//
//	models, _ := client.ListRunning(ctx)
//	for _, m := range models {
//	    go client.Unload(context.Background(), m.Name)
//	}
package ollama
