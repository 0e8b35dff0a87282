package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hermesindex/hermes/application/service"
	"github.com/hermesindex/hermes/infrastructure/auth"
	"github.com/hermesindex/hermes/infrastructure/postgres"
	"github.com/hermesindex/hermes/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubSearch struct {
	gotParams service.SearchParams
	resp      service.SearchResponse
	err       error
}

func (s *stubSearch) Search(_ context.Context, params service.SearchParams) (service.SearchResponse, error) {
	s.gotParams = params
	return s.resp, s.err
}

type stubKeyword struct {
	gotQ       string
	gotLimit   int
	gotSources []string
	resp       service.SearchResponse
	err        error
}

func (s *stubKeyword) Search(_ context.Context, q string, limit int, sources []string) (service.SearchResponse, error) {
	s.gotQ = q
	s.gotLimit = limit
	s.gotSources = sources
	return s.resp, s.err
}

type stubStatus struct{ snap service.StatusSnapshot }

func (s *stubStatus) Snapshot() service.StatusSnapshot { return s.snap }

type stubIndex struct{ size int }

func (s *stubIndex) Size(_ context.Context) (int, error) { return s.size, nil }

type stubEnrichReader struct {
	files   []postgres.TorrentFile
	latest  []postgres.LatestTMDBItem
	details map[string]*postgres.TMDBDetail
}

func (s *stubEnrichReader) FetchTorrentFiles(_ context.Context, _ string) ([]postgres.TorrentFile, error) {
	return s.files, nil
}

func (s *stubEnrichReader) FetchLatestTMDB(_ context.Context, _ int) ([]postgres.LatestTMDBItem, error) {
	return s.latest, nil
}

func (s *stubEnrichReader) FetchTMDBDetail(_ context.Context, contentType, tmdbID string) (*postgres.TMDBDetail, error) {
	return s.details[contentType+":"+tmdbID], nil
}

type stubEnricher struct {
	enriched []postgres.TMDBRef
	onEnrich func(postgres.TMDBRef)
}

func (s *stubEnricher) EnrichOne(_ context.Context, ref postgres.TMDBRef) error {
	s.enriched = append(s.enriched, ref)
	if s.onEnrich != nil {
		s.onEnrich(ref)
	}
	return nil
}

func newTestServer(t *testing.T, cfg config.Config, deps HandlerDeps) *httptest.Server {
	t.Helper()
	srv := NewServer("127.0.0.1:0", NewHandlers(cfg, deps, discardLogger()), discardLogger())
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url, token string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func postJSON(t *testing.T, url, token string, body, out any) int {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealthEndpoint(t *testing.T) {
	cfg := config.Config{EmbeddingModelVersion: "bge-m3"}
	ts := newTestServer(t, cfg, HandlerDeps{Index: &stubIndex{size: 42}})

	var body map[string]any
	status := getJSON(t, ts.URL+"/health", "", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(42), body["vector_index_size"])
	assert.Equal(t, "bge-m3", body["embedding_model_version"])
}

func TestSearchEndpoint(t *testing.T) {
	search := &stubSearch{resp: service.SearchResponse{
		Count:    1,
		PageSize: 20,
		Results:  []service.Result{{Score: 0.9, Source: "torrents", PGID: "1", Title: "Alien"}},
	}}
	ts := newTestServer(t, config.Config{}, HandlerDeps{Search: search})

	var body service.SearchResponse
	status := getJSON(t, ts.URL+"/search?q=alien&topk=5&page_size=10&cursor=20&exclude_nsfw=true&size_min_gb=1.5&size_sort=desc&tmdb_only=1", "", &body)

	assert.Equal(t, http.StatusOK, status)
	require.Equal(t, 1, body.Count)
	assert.Equal(t, "Alien", body.Results[0].Title)

	assert.Equal(t, "alien", search.gotParams.Query)
	assert.Equal(t, 5, search.gotParams.TopK)
	assert.Equal(t, 10, search.gotParams.PageSize)
	assert.Equal(t, 20, search.gotParams.Cursor)
	assert.True(t, search.gotParams.ExcludeNSFW)
	assert.True(t, search.gotParams.TMDBOnly)
	assert.InDelta(t, 1.5, search.gotParams.SizeMinGB, 1e-9)
	assert.Equal(t, "desc", search.gotParams.SizeSort)
}

func TestSearchEndpointNSFWDefault(t *testing.T) {
	search := &stubSearch{}
	ts := newTestServer(t, config.Config{}, HandlerDeps{Search: search})

	// A plain query never serves NSFW results; they are opt-in.
	getJSON(t, ts.URL+"/search?q=alien", "", nil)
	assert.True(t, search.gotParams.ExcludeNSFW)

	getJSON(t, ts.URL+"/search?q=alien&exclude_nsfw=false", "", nil)
	assert.False(t, search.gotParams.ExcludeNSFW)

	getJSON(t, ts.URL+"/search?q=alien&exclude_nsfw=0", "", nil)
	assert.False(t, search.gotParams.ExcludeNSFW)
}

func TestSearchEndpointValidation(t *testing.T) {
	ts := newTestServer(t, config.Config{}, HandlerDeps{Search: &stubSearch{}})

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/search", "", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/search?q=x&topk=0", "", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/search?q=x&page_size=101", "", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/search?q=x&cursor=-1", "", nil))
	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/search?q=x&size_sort=sideways", "", nil))
}

func TestSearchKeywordEndpoint(t *testing.T) {
	keyword := &stubKeyword{resp: service.SearchResponse{Count: 0, PageSize: 10}}
	ts := newTestServer(t, config.Config{}, HandlerDeps{Keyword: keyword})

	status := getJSON(t, ts.URL+"/search_keyword?q=alien&page_size=10&sources=torrents,files", "", nil)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "alien", keyword.gotQ)
	assert.Equal(t, 10, keyword.gotLimit)
	assert.Equal(t, []string{"torrents", "files"}, keyword.gotSources)
}

func TestSearchKeywordPageSizeAliases(t *testing.T) {
	keyword := &stubKeyword{}
	ts := newTestServer(t, config.Config{}, HandlerDeps{Keyword: keyword})

	getJSON(t, ts.URL+"/search_keyword?q=x", "", nil)
	assert.Equal(t, 20, keyword.gotLimit)

	getJSON(t, ts.URL+"/search_keyword?q=x&topk=7", "", nil)
	assert.Equal(t, 7, keyword.gotLimit)

	getJSON(t, ts.URL+"/search_keyword?q=x&limit=9", "", nil)
	assert.Equal(t, 9, keyword.gotLimit)

	// page_size wins over the aliases.
	getJSON(t, ts.URL+"/search_keyword?q=x&page_size=5&limit=9", "", nil)
	assert.Equal(t, 5, keyword.gotLimit)

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/search_keyword?q=x&page_size=101", "", nil))
}

func TestSyncStatusEndpoint(t *testing.T) {
	snap := service.StatusSnapshot{
		Sources:     []postgres.SourceStatus{{Source: "torrents", Total: 7}},
		RefreshedAt: time.Now().UTC(),
	}
	ts := newTestServer(t, config.Config{}, HandlerDeps{Status: &stubStatus{snap: snap}})

	var body service.StatusSnapshot
	status := getJSON(t, ts.URL+"/sync_status", "", &body)

	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Sources, 1)
	assert.Equal(t, int64(7), body.Sources[0].Total)
}

func TestTorrentFilesEndpoint(t *testing.T) {
	reader := &stubEnrichReader{files: []postgres.TorrentFile{{Index: 0, Path: "movie.mkv"}}}
	ts := newTestServer(t, config.Config{}, HandlerDeps{Enrich: reader})

	var body map[string]any
	status := getJSON(t, ts.URL+"/torrent_files?info_hash=abc", "", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["count"])

	assert.Equal(t, http.StatusBadRequest, getJSON(t, ts.URL+"/torrent_files", "", nil))
}

func TestTMDBDetailLiveEnrichment(t *testing.T) {
	reader := &stubEnrichReader{details: map[string]*postgres.TMDBDetail{}}
	enricher := &stubEnricher{onEnrich: func(ref postgres.TMDBRef) {
		reader.details[ref.ContentType+":"+ref.TMDBID] = &postgres.TMDBDetail{
			ContentType: ref.ContentType,
			TMDBID:      ref.TMDBID,
			Plot:        "fetched live",
		}
	}}
	cfg := config.Config{TMDB: config.TMDBConfig{Enabled: true}}
	ts := newTestServer(t, cfg, HandlerDeps{Enrich: reader, Enricher: enricher})

	var body postgres.TMDBDetail
	status := getJSON(t, ts.URL+"/tmdb_detail?tmdb_id=603", "", &body)

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "fetched live", body.Plot)
	require.Len(t, enricher.enriched, 1)
	assert.Equal(t, "movie", enricher.enriched[0].ContentType)
}

func TestTMDBDetailNotFound(t *testing.T) {
	ts := newTestServer(t, config.Config{}, HandlerDeps{Enrich: &stubEnrichReader{}})
	assert.Equal(t, http.StatusNotFound, getJSON(t, ts.URL+"/tmdb_detail?tmdb_id=999", "", nil))
}

func authDeps(t *testing.T) (HandlerDeps, config.Config) {
	t.Helper()
	users, err := auth.NewUserStore("", "admin", "hunter2")
	require.NoError(t, err)
	tokens := auth.NewTokenStore(time.Hour)
	cfg := config.Config{Auth: config.AuthConfig{Enabled: true, AdminUser: "admin"}}
	return HandlerDeps{
		Search: &stubSearch{},
		Index:  &stubIndex{},
		Users:  users,
		Tokens: tokens,
	}, cfg
}

func TestAuthProtectsRoutes(t *testing.T) {
	deps, cfg := authDeps(t)
	ts := newTestServer(t, cfg, deps)

	// No token: protected routes reject, health stays open.
	assert.Equal(t, http.StatusUnauthorized, getJSON(t, ts.URL+"/search?q=x", "", nil))
	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/health", "", nil))

	var login map[string]any
	status := postJSON(t, ts.URL+"/auth/login", "", credentials{Username: "admin", Password: "hunter2"}, &login)
	require.Equal(t, http.StatusOK, status)
	token, _ := login["token"].(string)
	require.NotEmpty(t, token)
	assert.Equal(t, true, login["is_admin"])

	assert.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/search?q=x", token, nil))

	var me map[string]any
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/auth/me", token, &me))
	assert.Equal(t, "admin", me["username"])
}

func TestAuthLoginRejectsBadPassword(t *testing.T) {
	deps, cfg := authDeps(t)
	ts := newTestServer(t, cfg, deps)

	status := postJSON(t, ts.URL+"/auth/login", "", credentials{Username: "admin", Password: "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestUserManagement(t *testing.T) {
	deps, cfg := authDeps(t)
	ts := newTestServer(t, cfg, deps)

	var login map[string]any
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/auth/login", "", credentials{Username: "admin", Password: "hunter2"}, &login))
	admin := login["token"].(string)

	require.Equal(t, http.StatusCreated, postJSON(t, ts.URL+"/auth/users", admin, credentials{Username: "bob", Password: "pw1"}, nil))

	var users map[string][]string
	require.Equal(t, http.StatusOK, getJSON(t, ts.URL+"/auth/users", admin, &users))
	assert.Equal(t, []string{"bob"}, users["users"])

	// Bob is not an admin and cannot manage users.
	var bobLogin map[string]any
	require.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/auth/login", "", credentials{Username: "bob", Password: "pw1"}, &bobLogin))
	bob := bobLogin["token"].(string)
	assert.Equal(t, http.StatusForbidden, getJSON(t, ts.URL+"/auth/users", bob, nil))

	// Bob can change his own password but nobody else's.
	assert.Equal(t, http.StatusOK, postJSON(t, ts.URL+"/auth/password", bob, passwordChange{Password: "pw2"}, nil))
	assert.Equal(t, http.StatusForbidden, postJSON(t, ts.URL+"/auth/password", bob, passwordChange{Username: "admin", Password: "x"}, nil))

	req, err := http.NewRequest(http.MethodDelete, ts.URL+"/auth/users/bob", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+admin)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}
