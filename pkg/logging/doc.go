// Package logging builds the structured loggers used across mockcore.
//
// Every component accepts a *slog.Logger in its constructor or through a
// SetLogger method. When none is supplied the component falls back to Nop().
//
//	log := logging.New(logging.Config{
//	    Level:  logging.LevelDebug,
//	    Format: logging.FormatJSON,
//	})
//	log.Info("serving", "port", 4280)
//
// A second sink (for example an events file for an external collector) can be
// attached with Tee; records are fanned out to every handler that is enabled
// for their level.
package logging
