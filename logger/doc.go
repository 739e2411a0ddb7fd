// Package logger provides structured logging on top of zerolog.
//
// Loggers are scoped by component and by suite so that output from several
// suites started in parallel, including the forwarded output of their
// application processes, can be told apart.
//
// # Configuration
//
//	logging:
//	  level: "info"
//	  format: "console"
//	  app_output: "classified"
//
// # Usage
//
//	log := logger.Get("supervisor").WithSuite("dashboard")
//	log.Info("app ready", logger.Fields("port", 4101))
package logger
