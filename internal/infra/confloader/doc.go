// Package confloader loads layered configuration with koanf.
//
// Sources, lowest priority first:
//
//  1. Values already present in the target struct (defaults)
//  2. A YAML configuration file
//  3. Environment variables with the VMSTATE_ prefix
//  4. Explicit maps, used for command-line flags
//
// Environment variable names separate sections with a double
// underscore so that single underscores survive in key names:
// VMSTATE_ENGINE__MAX_CHECKPOINTS sets engine.max_checkpoints.
//
// Watcher reports changes to a configuration file so long-running
// commands can reload settings such as the log level.
package confloader
