// Package api hosts the HTTP handlers fronting the stream control REST API.
//
// The handlers assembled by Handler coordinate request validation and
// response shaping while delegating persistence to storage.Repository
// implementations and dispatching to the scheduler injected at construction
// time. The package does not reach for globals or singletons and expects
// callers to supply fully configured dependencies.
//
// Handler implementations assume upstream middleware from internal/server has
// already enforced request identification, metrics, and logging concerns. New
// routes should preserve that contract by leaning on the middleware
// guarantees established in the server stack.
package api
