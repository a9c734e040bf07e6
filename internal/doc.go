// Package internal contains the core implementation packages for crate.
//
// This package follows Go's internal package convention, making these
// packages unavailable for import by external modules while providing
// all the core functionality for the crate CLI tool.
//
// # Package Organization
//
// The internal packages are organized by functional domain:
//
//   - phar: Archive container format, compression and signatures
//   - crate: Archive builder with compaction, placeholders and signing
//   - compactor: PHP and JSON source compactors and the compactor chain
//   - annotations: Docblock annotation tokenizer used by the PHP compactor
//   - stub: Loader stub generation and the embedded extractor
//   - signer: PEM private key parsing for OpenSSL signatures
//   - cache: Content-addressed compaction cache with an in-memory front
//   - build: Build pipeline turning a configuration into an archive
//   - config: Configuration loading, defaults and validation
//   - watcher: File system monitoring with debouncing
//   - errors: Structured error types shared by every package
//   - logging: slog-backed structured logging
//   - version: Build and version information
//
// # Data Flow
//
//   - config loads .crate.yml and hands a validated Config to build
//   - build creates a crate, registers compactors and feeds it sources
//   - crate substitutes placeholders, compacts contents (through cache)
//     and adds them to the phar archive
//   - stub renders the loader placed in front of the archive
//   - crate signs and writes the archive through phar and signer
//   - watcher reruns the build pipeline when a source changes
//
// For detailed documentation, see the individual package documentation.
package internal
