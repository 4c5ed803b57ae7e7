// Package environment names the deployment tier and carries it through
// context and logs.
//
// The daemon parses the tier once at startup, stamps it into its root
// context, and keys the logging preset off it:
//
//	env := environment.Parse(cfg.Environment)
//	ctx = environment.WithContext(ctx, env)
//
//	mode := logger.WithDevelopment(service)
//	if env.IsProduction() {
//		mode = logger.WithProduction(service)
//	}
//	log := logger.New(mode, logger.WithContextExtractors(environment.LoggerExtractor()))
//
// Parse accepts the usual short spellings ("prod", "stage"); anything
// unrecognized is Development.
package environment
