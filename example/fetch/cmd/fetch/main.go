package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridian-labs/courier-go/example/fetch/internal/client"
	"github.com/meridian-labs/courier-go/example/fetch/internal/config"
	"github.com/meridian-labs/courier-go/httpsession"
)

func main() {
	out := flag.String("o", "", "download to this path instead of printing the body")
	sum := flag.String("sha256", "", "verify the downloaded file against this hex digest")
	verbose := flag.Bool("v", false, "log every request event")
	flag.Parse()
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: fetch [flags] URL")
		flag.PrintDefaults()
		os.Exit(2)
	}
	url := flag.Arg(0)

	// 1. Build the instrumented session
	session, err := client.New(*verbose)
	if err != nil {
		log.Fatalf("Failed to build session: %v", err)
	}
	defer session.Invalidate()

	// 2. Start Prometheus Metrics Server
	http.Handle("/metrics", httpsession.MetricsHandler())
	metricsServer := &http.Server{Addr: config.MetricsPort}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server failed: %v", err)
		}
	}()

	// 3. Run the transfer
	if *out == "" {
		fetch(session, url)
		return
	}
	download(session, url, *out, *sum)
}

// fetch prints the response body to stdout and a one-line summary to
// stderr.
func fetch(session *httpsession.Session, url string) {
	done := make(chan struct{})
	var failure error

	conv := httpsession.NewBuilder(http.MethodGet, url).
		Header("User-Agent", config.UserAgent)

	session.Request(conv).
		Validate().
		ResponseString(func(resp httpsession.DataResponse[string]) {
			defer close(done)
			body, err := resp.Result()
			if err != nil {
				failure = err
				return
			}
			fmt.Print(body)
			if m := resp.Metrics; m != nil {
				fmt.Fprintf(os.Stderr, "✓ %d %s in %s (%d bytes)\n",
					resp.StatusCode(), url, m.Total.Round(time.Millisecond), m.BytesReceived)
			}
		})

	<-done
	if failure != nil {
		log.Fatalf("Fetch failed: %v", failure)
	}
}

// download streams the body to disk. Ctrl+C cancels but records resume
// data next to the destination, and a later run picks it up again.
func download(session *httpsession.Session, url, dest, sum string) {
	resumePath := dest + config.ResumeSuffix

	var req *httpsession.DownloadRequest
	if blob, err := os.ReadFile(resumePath); err == nil {
		fmt.Fprintf(os.Stderr, "⏯  Resuming from %s\n", resumePath)
		req = session.DownloadResume(blob, httpsession.DestinationPath(dest))
	} else {
		req = session.Download(httpsession.URLConvertible(url), httpsession.DestinationPath(dest))
	}

	req.DownloadProgress(progressPrinter()).Validate()
	if sum != "" {
		req.VerifySHA256(sum)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\n🛑 Cancelling, recording resume data...")
		req.CancelProducingResumeData()
	}()

	done := make(chan struct{})
	var result httpsession.DownloadResponse[string]
	req.ResponseFile(func(resp httpsession.DownloadResponse[string]) {
		result = resp
		close(done)
	})
	<-done
	signal.Stop(sigChan)

	if blob := result.ResumeData; blob != nil {
		if err := os.WriteFile(resumePath, blob, 0o644); err != nil {
			log.Fatalf("Failed to record resume data: %v", err)
		}
		fmt.Fprintf(os.Stderr, "⏸  Interrupted; run again to resume (%s)\n", resumePath)
		os.Exit(1)
	}
	if _, err := result.Result(); err != nil {
		log.Fatalf("Download failed: %v", err)
	}
	os.Remove(resumePath)

	fmt.Fprintf(os.Stderr, "✅ Saved %s", result.FilePath)
	if m := result.Metrics; m != nil {
		fmt.Fprintf(os.Stderr, " (%d bytes in %s)", m.BytesReceived, m.Total.Round(time.Millisecond))
	}
	fmt.Fprintln(os.Stderr)
}

// progressPrinter writes carriage-return progress lines to stderr,
// rate-limited so large files do not flood the terminal.
func progressPrinter() httpsession.ProgressHandler {
	lastPct := -config.ProgressStep
	var lastBytes int64
	return func(p httpsession.Progress) {
		if p.Indeterminate() {
			if p.Completed < lastBytes+config.ProgressByteStep {
				return
			}
			lastBytes = p.Completed
			fmt.Fprintf(os.Stderr, "\r⬇  %d bytes", p.Completed)
			return
		}
		pct := int(p.Fraction() * 100)
		if pct < lastPct+config.ProgressStep && !(pct == 100 && lastPct != 100) {
			return
		}
		lastPct = pct
		fmt.Fprintf(os.Stderr, "\r⬇  %3d%% (%d/%d bytes)", pct, p.Completed, p.Total)
		if pct == 100 {
			fmt.Fprintln(os.Stderr)
		}
	}
}
