// Package checker periodically compares the published listings snapshot
// against what was last imported and triggers a reconciliation when the
// snapshot is fresher than the local data.
package checker

import (
	"context"
	"net/http"
	"time"

	"eddnlistener/config"
	"eddnlistener/internal/eddn/coord"
	"eddnlistener/internal/eddn/idcache"

	"go.uber.org/zap"
)

// Reconciler imports a listings snapshot and remembers when it last did.
type Reconciler interface {
	Reconcile(ctx context.Context, url string) error
	LastImported() time.Time
}

// Checker polls the snapshot sources. In client mode it prefers the
// mirror and falls back to the canonical source; in server mode only the
// canonical source is used, since the mirror is what the server feeds.
type Checker struct {
	cfg        config.CheckerConfig
	clientMode bool
	rec        Reconciler
	caches     *idcache.Caches
	loader     idcache.Loader
	sig        *coord.Signal
	log        *zap.Logger

	client *http.Client
}

func New(cfg config.CheckerConfig, clientMode bool, rec Reconciler, caches *idcache.Caches, loader idcache.Loader, sig *coord.Signal, log *zap.Logger) *Checker {
	return &Checker{
		cfg:        cfg,
		clientMode: clientMode,
		rec:        rec,
		caches:     caches,
		loader:     loader,
		sig:        sig,
		log:        log,
		client:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Run checks once per interval until shutdown.
func (c *Checker) Run(ctx context.Context) {
	for c.sig.Running() {
		c.checkOnce(ctx)
		if !c.sig.Sleep(c.cfg.Interval) {
			break
		}
	}
	c.log.Info("shutting down update checker")
}

// checkOnce performs a single freshness check and, when the snapshot is
// newer than the last import, pauses the other workers and reconciles.
func (c *Checker) checkOnce(ctx context.Context) {
	url, published, ok := c.pickSource(ctx)
	if !ok {
		// No source reachable this cycle; try again next interval.
		return
	}

	last := c.rec.LastImported()
	if !published.After(last) {
		c.log.Debug("snapshot not newer than last import",
			zap.Time("published", published),
			zap.Time("imported", last),
		)
		return
	}

	c.log.Info("newer snapshot published, reconciling",
		zap.String("source", url),
		zap.Time("published", published),
	)

	// Take the store: raise the busy flag and wait until the applier
	// and the exporter both acknowledge in the same observation.
	c.sig.SetCheckerBusy(true)
	defer c.sig.SetCheckerBusy(false)
	if !c.sig.WaitUntil(func() bool {
		return c.sig.ApplierAck() && c.sig.ExporterAck()
	}) {
		return
	}

	if err := c.rec.Reconcile(ctx, url); err != nil {
		c.log.Error("snapshot reconciliation failed", zap.Error(err))
		return
	}
	if err := c.caches.Rebuild(ctx, c.loader); err != nil {
		c.log.Error("cache rebuild failed, keeping previous tables", zap.Error(err))
		return
	}
	c.log.Info("snapshot reconciled, caches rebuilt")
}

// pickSource probes the configured sources in preference order and
// returns the first reachable one with its Last-Modified time.
func (c *Checker) pickSource(ctx context.Context) (url string, published time.Time, ok bool) {
	candidates := []string{c.cfg.FallbackURL}
	if c.clientMode {
		candidates = []string{c.cfg.ListingsURL, c.cfg.FallbackURL}
	}
	for _, u := range candidates {
		published, err := c.lastModified(ctx, u)
		if err != nil {
			c.log.Warn("snapshot source unreachable",
				zap.String("source", u), zap.Error(err))
			continue
		}
		return u, published, true
	}
	return "", time.Time{}, false
}

// lastModified issues a HEAD request and parses the Last-Modified header.
func (c *Checker) lastModified(ctx context.Context, url string) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return time.Time{}, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return time.Time{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, &httpStatusError{url: url, status: resp.Status}
	}
	return http.ParseTime(resp.Header.Get("Last-Modified"))
}

type httpStatusError struct {
	url    string
	status string
}

func (e *httpStatusError) Error() string {
	return "unexpected status " + e.status + " from " + e.url
}
