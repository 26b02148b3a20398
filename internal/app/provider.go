package app

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"

	"roomwatch/internal/status"
	logx "roomwatch/pkg/logx"
)

var errNoProvider = errors.New("app: status provider not configured")

// swapProvider lets a config reload point every monitor at a new status page
// without recreating the monitors.
type swapProvider struct {
	cur atomic.Pointer[status.HTTPProvider]
}

func (p *swapProvider) Check(ctx context.Context) (status.Observation, error) {
	inner := p.cur.Load()
	if inner == nil {
		return status.Observation{}, errNoProvider
	}
	return inner.Check(ctx)
}

func (p *swapProvider) set(cfg status.HTTPConfig, client *http.Client, log logx.Logger) error {
	next, err := status.NewHTTPProvider(cfg, client, log)
	if err != nil {
		return err
	}
	p.cur.Store(next)
	return nil
}
