package crawler

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// Promoter decides whether a plain response should be re-fetched headless.
type Promoter interface {
	ShouldPromote(resp FetchResponse) bool
}

type reasoner interface {
	Reason(resp FetchResponse) string
}

// FallbackFetcher tries the plain fetcher first and retries GET pages once in a
// headless browser when the promoter rejects the plain result.
type FallbackFetcher struct {
	primary  Fetcher
	headless Fetcher
	promoter Promoter
	logger   *zap.Logger
}

var _ Fetcher = (*FallbackFetcher)(nil)

// NewFallbackFetcher composes the two fetchers. A nil headless fetcher or promoter
// turns the fallback off.
func NewFallbackFetcher(primary, headless Fetcher, promoter Promoter, logger *zap.Logger) *FallbackFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FallbackFetcher{primary: primary, headless: headless, promoter: promoter, logger: logger}
}

// Fetch returns the plain response unless it needs rendering. If the headless
// attempt fails, the plain response is returned instead.
func (f *FallbackFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	resp, err := f.primary.Fetch(ctx, req)
	if err != nil || f.headless == nil || f.promoter == nil {
		return resp, err
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return resp, nil
	}
	if !f.promoter.ShouldPromote(resp) {
		return resp, nil
	}
	rendered, herr := f.headless.Fetch(ctx, req)
	if herr != nil {
		f.logger.Warn("headless fallback failed", zap.String("url", req.URL), zap.Error(herr))
		return resp, nil
	}
	fields := []zap.Field{zap.String("url", req.URL)}
	if r, ok := f.promoter.(reasoner); ok {
		fields = append(fields, zap.String("reason", r.Reason(resp)))
	}
	f.logger.Debug("page rendered headless", fields...)
	return rendered, nil
}
