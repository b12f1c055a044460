// Package engine wires all Gatekit subsystems together and provides the
// primary application-level API: workflow lifecycle, retry scheduling,
// artifact evaluation, and recovery sweeping.
//
// The engine package exists to break a fundamental import cycle: the
// root gatekit package defines Entity (imported by workflow, retry,
// approval, etc.) and therefore cannot import those packages back.
// Engine sits above all subsystem packages and below the application
// layer.
//
// # Building an Engine
//
//	c, err := gatekit.New(
//	    gatekit.WithStore(pgStore),
//	    gatekit.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(c,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Timeout(time.Minute)),
//	    engine.WithLimitConfig(limiter.Config{
//	        ItemType:     "email.send",
//	        RateLimit:    10,
//	    }),
//	)
//
// # Registering Retry Handlers
//
//	engine.Register(eng, &retry.Definition[EmailPayload]{
//	    ItemType: "email.send",
//	    Handler:  sendEmail,
//	})
//
// # Driving Workflows
//
//	inst, _ := eng.CreateWorkflow(ctx, workflow.ModeProduceAndRelease, "form-42")
//	eng.TransitionWorkflow(ctx, inst.ID, workflow.EventStart, workflow.Meta{})
//
// # Evaluating Artifacts
//
//	decision, _ := eng.EvaluateArtifact(ctx, inst.ID, targetID, approval.Artifact{
//	    Target: "buyer@acme.io",
//	    Score:  0.93,
//	})
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the retry execution chain
//   - [WithBackoff] — set the retry backoff schedule
//   - [WithLimitConfig] — configure per-item-type rate limits
//   - [WithGateDisabled] — start with the release gate off
//   - [WithInteractionCache] / [WithInteractionSource] — reply lookups
//   - [WithTracerProvider] / [WithMeterProvider] — OTel providers
package engine
