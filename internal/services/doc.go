// Package services provides the centralized service registry for healerd.
//
// Registry pattern for accessing the core services (orchestrator, session
// store, progress bus). Use NewRegistry() to create a registry with service
// instances, then accessor methods to retrieve individual services. The HTTP
// and MCP surfaces take a Registry instead of a bag of constructor arguments.
package services
