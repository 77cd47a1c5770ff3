// Package config loads carton configuration from files, environment
// variables and CLI flags with viper, then validates the result.
package config
