package status

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	logx "roomwatch/pkg/logx"
)

// HTTPConfig configures HTTPProvider.
type HTTPConfig struct {
	URL       string
	Extractor string
	Keywords  Keywords
	Timeout   time.Duration
	MaxBody   int64
	UserAgent string
}

// HTTPProvider fetches a status page and classifies it.
type HTTPProvider struct {
	cfg      HTTPConfig
	extract  Extractor
	codeOnly bool
	client   *http.Client
	log      logx.Logger
}

func NewHTTPProvider(cfg HTTPConfig, client *http.Client, log logx.Logger) (*HTTPProvider, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("status: url is required")
	}
	ex, err := ParseExtractor(cfg.Extractor)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = 2 << 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "roomwatch/1"
	}
	if client == nil {
		client = &http.Client{}
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg.Keywords = cfg.Keywords.withDefaults()
	return &HTTPProvider{
		cfg:      cfg,
		extract:  ex,
		codeOnly: strings.TrimSpace(cfg.Extractor) == "http",
		client:   client,
		log:      log,
	}, nil
}

func (p *HTTPProvider) Check(ctx context.Context) (Observation, error) {
	cctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, p.cfg.URL, http.NoBody)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return Observation{}, fmt.Errorf("%w: %v", ErrFetch, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxBody))
	if err != nil {
		return Observation{}, fmt.Errorf("%w: read body: %v", ErrFetch, err)
	}
	if !p.codeOnly && (resp.StatusCode < 200 || resp.StatusCode >= 300) {
		return Observation{}, fmt.Errorf("%w: http %d", ErrFetch, resp.StatusCode)
	}

	ex, err := p.extract(body, resp.StatusCode)
	if err != nil {
		return Observation{}, err
	}
	obs := Observation{
		Code:      p.cfg.Keywords.Classify(ex.Token),
		Text:      ex.Text,
		CheckedAt: time.Now(),
	}
	p.log.Debug("status checked",
		logx.String("code", obs.Code.String()),
		logx.Int("http", resp.StatusCode),
		logx.Duration("took", time.Since(start)),
	)
	return obs, nil
}
