// Package model defines the provider-agnostic completion service used by
// personas.
//
// Core goals:
//   - Unify streaming and non-streaming generation behind a single interface
//   - Keep request/response shapes minimal and transport independent
//   - Mark retryable provider failures with ErrTransient so callers can back off
//   - Facilitate deterministic tests (ScriptedModel)
//
// Providers (OpenAI, Anthropic) implement Model in sub-packages so the
// persona layer stays decoupled from vendor SDKs.
package model
