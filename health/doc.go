// Package health reports the state of a session as a tree of statuses.
//
// Every node is healthy, degraded or unhealthy. Aggregate combines children:
// any unhealthy child makes the parent unhealthy, otherwise any degraded
// child makes it degraded.
//
//	report := health.Aggregate("natspad", []health.Status{
//		health.Healthy("connection localhost:4222", "connected"),
//		health.Unhealthy("subscription actions.yaml:12", err.Error()),
//	})
//	report.IsUnhealthy() // true
//
// Messages built from errors are sanitized: URLs, paths, addresses and
// credentials are masked before they reach a health endpoint.
package health
