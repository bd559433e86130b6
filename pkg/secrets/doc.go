// Package secrets loads per-app secrets from flat KEY=VALUE files on disk,
// merging a shared file with an app-specific override file. There is no
// encryption and nothing is ever persisted to the store: secrets exist only
// as files and as environment variables in a running machine.
package secrets
