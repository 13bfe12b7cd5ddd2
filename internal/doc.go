// Package internal contains the core implementation packages for vellum.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the vellum CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - assembly: Assembly orchestration, built-in assemblers, and charset encoding
//   - config: Configuration management with validation
//   - content: Content loading, field interception, and the assembly result cache
//   - errors: Structured errors and per-item problem collection
//   - eval: Binding environments and the expression evaluator
//   - logging: Structured logging shared by all components
//   - notify: Repository change notification and file watching
//   - preview: HTTP preview server with WebSocket live reload
//   - registry: Template and slot resolution with invalidating caches
//   - repository: Content repository interfaces and the file-backed implementation
//   - rewrite: Inline reference rewriting over a streaming markup state machine
//   - types: Shared domain types carried across package boundaries
//
// # Inter-Package Communication
//
// Packages communicate through well-defined interfaces:
//
//   - The notify bus is the central hub for repository change events
//   - Registry and content caches subscribe to it and invalidate themselves
//   - The assembly service coordinates resolution, loading, binding, and rendering
//   - The preview server drives the service and pushes reloads to browsers
//   - The rewriter consults the repository through a narrow resolver interface
//
// For detailed documentation, see the individual package documentation.
package internal
