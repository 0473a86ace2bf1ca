// Package interfaces contains the shared types and component contracts used
// across the GroupAuth agent: member, code and app identifiers, the
// registration proof tuple, and the registry and key-provider interfaces.
//
// Keeping these in a leaf package lets the registry client, the proof
// assembler and the onboarding watcher depend on each other's contracts
// without importing each other's implementations.
package interfaces
