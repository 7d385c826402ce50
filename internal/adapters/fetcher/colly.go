package fetcher

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog"

	"pasantias-monitor/internal/domain"
	"pasantias-monitor/internal/infra/metrics"
)

// DefaultListingURL: страница с офертами стажировок факультета.
const DefaultListingURL = "https://www.derecho.uba.ar/academica/asuntos_estudiantiles/pasantias/ofertas.php"

const defaultUserAgent = "Mozilla/5.0 (compatible; pasantias-monitor/1.0)"

// Config настраивает загрузчик.
type Config struct {
	ListingURL string
	UserAgent  string
	Timeout    time.Duration
	// FetchDetails: заходить на страницы «MÁS INFORMACIÓN» за email и описанием.
	FetchDetails bool
}

// Colly загружает страницу оферт через gocolly.
type Colly struct {
	cfg    Config
	logger zerolog.Logger
}

var _ domain.Fetcher = (*Colly)(nil)

// NewColly создаёт загрузчик.
func NewColly(cfg Config, logger zerolog.Logger) *Colly {
	if cfg.ListingURL == "" {
		cfg.ListingURL = DefaultListingURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Colly{cfg: cfg, logger: logger.With().Str("component", "fetcher").Logger()}
}

// Fetch возвращает сырые записи со страницы. Ошибки загрузки списка: *domain.FetchError,
// сбой страницы подробностей только логируется.
func (f *Colly) Fetch(ctx context.Context) ([]domain.RawOffer, error) {
	var (
		text  string
		links []link
	)
	c := f.collector(ctx)
	c.OnHTML("body", func(e *colly.HTMLElement) {
		content := e.DOM.Find("div.content").First()
		if content.Length() == 0 {
			content = e.DOM.Find("main").First()
		}
		if content.Length() == 0 {
			content = e.DOM
		}
		text = content.Text()
		e.ForEach("a[href]", func(_ int, a *colly.HTMLElement) {
			links = append(links, link{text: a.Text, href: a.Request.AbsoluteURL(a.Attr("href"))})
		})
	})

	if err := f.visit(ctx, c, f.cfg.ListingURL, "listing"); err != nil {
		return nil, err
	}

	offers := parseListing(text, links)
	f.logger.Debug().Int("offers", len(offers)).Msg("fetcher: страница разобрана")
	if !f.cfg.FetchDetails {
		return offers, nil
	}
	for i := range offers {
		if offers[i].DetailURL == "" {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		email, description, err := f.fetchDetail(ctx, offers[i].DetailURL)
		if err != nil {
			f.logger.Warn().Err(err).Str("url", offers[i].DetailURL).Msg("fetcher: страница оферты недоступна")
			continue
		}
		if email != "" {
			offers[i].ContactEmail = email
		}
		offers[i].Description = description
	}
	return offers, nil
}

func (f *Colly) fetchDetail(ctx context.Context, detailURL string) (string, string, error) {
	var text string
	c := f.collector(ctx)
	c.OnHTML("body", func(e *colly.HTMLElement) {
		text = e.DOM.Text()
	})
	if err := f.visit(ctx, c, detailURL, "detail"); err != nil {
		return "", "", err
	}
	email, description := parseDetail(text)
	return email, description, nil
}

func (f *Colly) collector(ctx context.Context) *colly.Collector {
	c := colly.NewCollector(
		colly.UserAgent(f.cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	timeout := f.cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		timeout = time.Millisecond
	}
	c.SetRequestTimeout(timeout)
	return c
}

// visit загружает страницу и переводит ошибку в FetchError.
func (f *Colly) visit(ctx context.Context, c *colly.Collector, target, operation string) error {
	var status int
	var cbErr error
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		cbErr = err
	})

	start := time.Now()
	err := c.Visit(target)
	if err == nil {
		err = cbErr
	}
	metrics.ObserveNetworkRequest("colly", operation, hostOf(target), start, err)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if err == nil {
		return nil
	}
	return classify(err, status)
}

func classify(err error, status int) *domain.FetchError {
	if status >= 400 {
		return &domain.FetchError{Kind: domain.FetchHTTPStatus, Status: status, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &domain.FetchError{Kind: domain.FetchTimeout, Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.FetchError{Kind: domain.FetchTimeout, Err: err}
	}
	return &domain.FetchError{Kind: domain.FetchConnection, Err: err}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Host
}
