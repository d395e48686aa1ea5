// Package httpsession provides a session-based HTTP client layer with
// explicit request lifecycle control, chained response handling, and
// built-in resilience and observability.
//
// # Features
//
//   - Request lifecycle control: resume, suspend, and cancel at any time
//   - Chained response serializers (bytes, string, JSON, custom decodable)
//   - Response validation with automatic error promotion
//   - Automatic retries driven by composable interceptors
//   - Streaming downloads with pause, cancel-with-resume-data, and
//     resumption via HTTP range requests
//   - Uploads from data, files, readers, and streaming multipart forms
//   - Per-request and per-session redirect policies
//   - Certificate pinning through per-host trust evaluators
//   - Event monitors with OpenTelemetry, Prometheus, and zerolog backends
//   - Circuit breaking (local or Redis-coordinated), request coalescing,
//     and chaos injection
//
// # Quick Start
//
//	session := httpsession.New()
//
//	type User struct {
//	    ID   int    `json:"id"`
//	    Name string `json:"name"`
//	}
//
//	req := session.Get("https://api.example.com/users/1").Validate()
//	httpsession.ResponseDecodable(req, httpsession.DecodableSerializer[User]{},
//	    func(resp httpsession.DataResponse[User]) {
//	        if resp.Err != nil {
//	            log.Fatal(resp.Err)
//	        }
//	        fmt.Println(resp.Value.Name)
//	    })
//
//	<-req.Done()
//
// Requests start automatically when the first handler is attached. Pass
// WithStartRequestsImmediately(false) to require an explicit Resume.
//
// # Building Requests
//
// Anything implementing RequestConvertible can be passed to the session.
// URLConvertible turns a plain URL string into a GET; Builder composes
// methods, paths, queries, headers, and JSON bodies:
//
//	req := session.Request(httpsession.NewBuilder(http.MethodPost, "https://api.example.com/users").
//	    BodyJSON(newUser).
//	    Header("X-Request-ID", id))
//
// # Validation
//
// Validators run once per finished attempt, before retry consultation, so
// a retrier sees validation failures too:
//
//	session.Get(url).
//	    Validate() // status 200..299 plus content type agreement
//
//	session.Get(url).
//	    ValidateWith(httpsession.ValidateStatusCodes(200, 201),
//	        httpsession.ValidateContentTypes("application/json"))
//
// # Retries and Interceptors
//
// An Interceptor adapts outgoing requests and votes on retrying failed
// ones. RetryPolicy is the ready-made implementation with exponential
// backoff and Retry-After awareness:
//
//	session := httpsession.New(
//	    httpsession.WithInterceptor(httpsession.NewRetryPolicy(httpsession.DefaultRetryConfig())),
//	)
//
// # Downloads
//
//	req := session.Download(
//	    httpsession.URLConvertible("https://example.com/archive.zip"),
//	    httpsession.DestinationPath("/tmp/archive.zip"),
//	)
//	req.DownloadProgress(func(p httpsession.Progress) {
//	    fmt.Printf("%.0f%%\n", p.Fraction()*100)
//	})
//	req.ResponseFile(func(resp httpsession.DownloadResponse[string]) {
//	    fmt.Println("saved to", resp.FilePath)
//	})
//
// Cancel with CancelProducingResumeData to keep the partial file, then
// hand the blob to DownloadResume to pick up where it stopped.
//
// # Uploads
//
//	form := httpsession.NewMultipartForm().
//	    AppendValue("kind", "avatar").
//	    AppendFile("file", "/tmp/avatar.png")
//
//	req := session.UploadMultipart(form,
//	    httpsession.NewBuilder(http.MethodPost, "https://api.example.com/upload"))
//	req.UploadProgress(func(p httpsession.Progress) { bar.Set(p.Completed) })
//
// # Observability
//
// Event monitors observe every request lifecycle event. Ship them to
// OpenTelemetry, Prometheus, or a zerolog logger, or build your own from
// the EventMonitor callback struct:
//
//	tracing := httpsession.NewTracingMonitor(otel.Tracer("checkout"))
//	metrics, _ := httpsession.NewPrometheusMonitor(prometheus.DefaultRegisterer)
//	session := httpsession.New(httpsession.WithEventMonitors(tracing, metrics))
//
// # Configuration Presets
//
// DefaultConfig suits typical API traffic. HighThroughputConfig,
// LowLatencyConfig, LargeTransferConfig, and ConservativeConfig retune
// pool sizes, buffers, and timeouts for their named scenarios:
//
//	session := httpsession.New(
//	    httpsession.WithConfig(httpsession.LargeTransferConfig()),
//	)
package httpsession
