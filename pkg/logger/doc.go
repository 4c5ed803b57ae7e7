// Package logger assembles the process logger on top of log/slog: a
// preset per deployment tier, attribute helpers shared across packages,
// and context-driven record enrichment.
//
// New builds the logger. The daemon picks a preset from the environment
// and registers the environment extractor, then installs the result as
// the process default:
//
//	log := logger.New(
//		logger.WithProduction("renderkitd"),
//		logger.WithContextExtractors(environment.LoggerExtractor()),
//	)
//	slog.SetDefault(log)
//
// The helpers in attr.go keep attribute keys consistent wherever jobs,
// queues, and automations are logged:
//
//	log.Info("job completed",
//		logger.JobID(job.ID),
//		logger.Queue(job.Queue),
//		logger.Duration(time.Since(start)),
//	)
//
// Error and Errors return an empty attribute for nil errors, so success
// paths can log them unconditionally.
package logger
