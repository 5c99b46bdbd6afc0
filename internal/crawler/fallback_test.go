package crawler

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) Fetch(ctx context.Context, req FetchRequest) (FetchResponse, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(FetchResponse), args.Error(1)
}

type promoteFunc func(FetchResponse) bool

func (f promoteFunc) ShouldPromote(r FetchResponse) bool { return f(r) }

func TestFallbackFetcherPromotes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	req := FetchRequest{URL: "https://a.test/manga/x/"}

	primary := &mockFetcher{}
	primary.On("Fetch", ctx, req).Return(FetchResponse{StatusCode: 200, Body: []byte("shell")}, nil)
	headless := &mockFetcher{}
	headless.On("Fetch", ctx, req).Return(FetchResponse{StatusCode: 200, Body: []byte("rendered"), Headless: true}, nil)

	f := NewFallbackFetcher(primary, headless, promoteFunc(func(FetchResponse) bool { return true }), nil)
	resp, err := f.Fetch(ctx, req)
	require.NoError(t, err)
	assert.True(t, resp.Headless)
	assert.Equal(t, "rendered", string(resp.Body))
	primary.AssertExpectations(t)
	headless.AssertExpectations(t)
}

func TestFallbackFetcherKeepsPlainOnHeadlessFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	req := FetchRequest{URL: "https://a.test/"}

	primary := &mockFetcher{}
	primary.On("Fetch", ctx, req).Return(FetchResponse{StatusCode: 200, Body: []byte("plain")}, nil)
	headless := &mockFetcher{}
	headless.On("Fetch", ctx, req).Return(FetchResponse{}, errors.New("no chrome"))

	f := NewFallbackFetcher(primary, headless, promoteFunc(func(FetchResponse) bool { return true }), nil)
	resp, err := f.Fetch(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "plain", string(resp.Body))
}

func TestFallbackFetcherSkipsPostAndErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	post := FetchRequest{URL: "https://a.test/wp-admin/admin-ajax.php", Method: http.MethodPost}
	broken := FetchRequest{URL: "https://a.test/gone/"}

	primary := &mockFetcher{}
	primary.On("Fetch", ctx, post).Return(FetchResponse{StatusCode: 200}, nil)
	primary.On("Fetch", ctx, broken).Return(FetchResponse{}, &FetchError{URL: broken.URL, StatusCode: 404})
	headless := &mockFetcher{}

	f := NewFallbackFetcher(primary, headless, promoteFunc(func(FetchResponse) bool { return true }), nil)
	_, err := f.Fetch(ctx, post)
	require.NoError(t, err)
	_, err = f.Fetch(ctx, broken)
	assert.True(t, IsFetch(err))
	headless.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}
