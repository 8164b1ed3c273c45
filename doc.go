// Package aemclient provides the resilient remote-operation client at the
// core of the AEMaaCS MCP server. Every tool call the server translates into
// an outbound AEM HTTP request goes through a single pipeline that layers:
//
//   - Authentication (basic, OAuth client-credentials, or IMS service-account
//     JWT exchange) with single-flighted token refresh
//   - Response caching for read operations (in-memory LRU/LFU/TTL or a shared
//     Redis cache that degrades to cache-miss when unreachable)
//   - Circuit breaking per operation key so independent AEM endpoint classes
//     ("pages", "assets", "publish", ...) fail independently
//   - Bounded retries with exponential backoff, capped jitter, a per-attempt
//     timeout and an optional last-resort fallback
//   - Token-bucket rate limiting and coalescing of identical in-flight reads
//   - Prometheus metrics and lightweight structured debug logging
//
// Design goals:
//   - Callers only ever see get/post/put/delete and a uniform Response
//     envelope; expected failures are returned, never panicked
//   - Small surface area – functional options configure everything
//   - Safe concurrent use of a single *Client instance
//   - Domain reshaping of AEM's JSON stays with the caller; the envelope
//     carries the payload opaquely
//
// Typical usage:
//
//	client := aemclient.New(
//	    aemclient.WithBaseURL("https://author-p1234-e5678.adobeaemcloud.com"),
//	    aemclient.WithCredentials(aemclient.Credentials{
//	        Type:     aemclient.CredentialBasic,
//	        Username: "mcp-reader",
//	        Password: secret,
//	    }),
//	    aemclient.WithMemoryCache(1000, aemclient.EvictLRU, 5*time.Minute),
//	    aemclient.WithMetrics(),
//	)
//	defer client.Close()
//
//	resp := client.Get(ctx, "/content/site/en.json", nil, &aemclient.RequestOptions{
//	    Cache:    true,
//	    CacheTTL: time.Minute,
//	    Context:  aemclient.CallContext{Operation: "pages", Resource: "/content/site/en"},
//	})
//	if !resp.Success {
//	    // resp.Error carries the kind (VALIDATION, SERVER, CIRCUIT_OPEN, ...)
//	}
package aemclient
