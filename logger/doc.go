// Package logger provides structured logging for blockflow components
// using zerolog.
//
// It supports JSON and console output, level configuration, and
// component-scoped loggers with structured fields.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "json"
//
// # Usage
//
//	log := logger.NewDefault("blockflow").WithComponent("scheduler")
//	log.Info("block completed", logger.Fields(logger.FieldBlock, "load_data"))
package logger
