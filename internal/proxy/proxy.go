package proxy

import (
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/aman-churiwal/inventory-gateway/internal/middleware"
	"github.com/aman-churiwal/inventory-gateway/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Identity headers for the upstream. Inbound copies are always discarded.
const (
	keyIDHeader  = "X-Gateway-Key-ID"
	userIDHeader = "X-Gateway-User-ID"
)

// Proxy forwards admitted requests to the inventory service
type Proxy struct {
	target  *url.URL
	reverse *httputil.ReverseProxy
}

func New(targetURL string) (*Proxy, error) {
	if targetURL == "" {
		return nil, errors.New("upstream target is required")
	}

	target, err := url.Parse(targetURL)
	if err != nil {
		return nil, err
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, errors.New("upstream target must be an absolute URL")
	}

	p := &Proxy{target: target}
	p.reverse = &httputil.ReverseProxy{
		Rewrite: func(r *httputil.ProxyRequest) {
			r.SetURL(target)
			r.SetXForwarded()
			r.Out.Header.Del(middleware.APIKeyHeader)
			if q := r.Out.URL.Query(); q.Has(middleware.APIKeyQueryParam) {
				q.Del(middleware.APIKeyQueryParam)
				r.Out.URL.RawQuery = q.Encode()
			}
		},
		ErrorHandler: p.handleError,
	}

	log.Info().Str("target", target.String()).Msg("Proxy initialized")

	return p, nil
}

// Forwards the request upstream. Caller identity is passed on in headers so
// the inventory service does not need to re-authenticate.
func (p *Proxy) Handle(c *gin.Context) {
	req := c.Request
	req.Header.Del(keyIDHeader)
	req.Header.Del(userIDHeader)

	req.Header.Set(middleware.RequestIDHeader, c.GetString(middleware.ContextRequestID))
	if key, ok := middleware.APIKeyFrom(c); ok {
		req.Header.Set(keyIDHeader, key.ID.String())
	}
	if id := c.GetString(middleware.ContextUserID); id != "" {
		req.Header.Set(userIDHeader, id)
	}

	c.Header("X-Backend-Server", p.target.Host)
	p.reverse.ServeHTTP(c.Writer, req)
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().Err(err).
		Str("target", p.target.Host).
		Str("path", r.URL.Path).
		Msg("Upstream request failed")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadGateway)
	w.Write([]byte(`{"error":"Upstream unavailable","code":"` + string(models.CodeServerError) + `"}`))
}
