// Package httppost provides the orchd.sinks.HTTPPostSink sink.
//
// # Overview
//
// Every payload delivered to the sink is encoded with the configured codec
// and sent as the body of one POST request. Transient failures (network
// errors, 5xx and 429 responses) are retried with exponential backoff;
// other 4xx responses fail immediately.
//
// # Configuration
//
// Properties of the sink template:
//
//   - url: endpoint (http or https, required)
//   - timeout: per-request timeout (default 30s, at most 300s)
//   - retry_count: additional attempts after the first (default 3, at most 10)
//   - retry_delay: initial backoff (default 100ms)
//   - content_type: overrides the codec's content type
//   - codec: "json" (default) or "cbor"
//   - rate_limit: requests per second, 0 disables
//   - header.<Name>: extra request headers
//   - tls.ca_files, tls.insecure_skip_verify, tls.min_version,
//     tls.cert_file, tls.key_file: client TLS (see pkg/tlsutil)
//
// Example template:
//
//	{
//	  "name": "io.orchd.sinks.AlertWebhook",
//	  "version": "1.0",
//	  "sink_class": "orchd.sinks.HTTPPostSink",
//	  "properties": {
//	    "url": "https://api.example.com/alerts",
//	    "header.Authorization": "Bearer ${API_KEY}",
//	    "rate_limit": "5"
//	  }
//	}
//
// # Rate Limiting
//
// The limiter is a token bucket from golang.org/x/time/rate with a burst of
// rate_limit requests. Waiting for a token honours the delivery context, so
// a reaction that is closing does not block on a slow limiter.
package httppost
