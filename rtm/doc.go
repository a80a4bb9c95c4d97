// Package rtm implements a resilient client for a channel-based real-time
// publish/subscribe messaging service.
//
// The package is organized as a stack of decorators around one abstract
// capability set (Client = Publisher + Subscriber + lifecycle):
//
//   - a low-level WebSocket client produced by a ClientFactory, bound to one
//     endpoint and credential configuration
//   - ResilientClient, which survives transport failures by discarding the
//     broken connection, requesting a replacement from the factory, and
//     replaying every active subscription against it with positions advanced
//     to the last delivered message
//   - ThreadBoundClient, which marshals calls from any goroutine onto one
//     owning EventLoop so the layers underneath need no internal locking
//
// The usual composition is:
//
//	loop := rtm.NewEventLoop()
//	go loop.Run()
//	factory := rtm.NewClientFactory(config, loop, logger)
//	client := rtm.NewThreadBoundClient(loop,
//		rtm.NewResilientClient(loop, factory, nil))
//	if condition := client.Start(); condition != nil {
//		// handle startup failure
//	}
//
// Reconnect retries are unbounded; bounded retry or backoff is
// composed into the factory with WithBackoff and WithEndpoints, never built
// into the resilient layer. Failures are reported as ErrorCondition values
// whose equality is tag-only, so callers can branch on the taxonomy while
// logging the message text.
package rtm
