// Package config loads and validates gateway configuration from YAML.
//
// Files are read once at startup via LoadAndValidate and can be watched
// for changes with Watch. ${VAR} references are expanded from the
// environment before parsing, so secrets stay out of the file.
package config
