package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/seanblong/rlmcode/internal/auth"
	"github.com/seanblong/rlmcode/internal/config"
	"github.com/seanblong/rlmcode/internal/formatter"
	"github.com/seanblong/rlmcode/internal/indexer"
	"github.com/seanblong/rlmcode/internal/retriever"
)

// runServe exposes the three external-protocol operations (search_code,
// index_code, get_status) over HTTP, guarded by the GitHub OAuth/JWT
// middleware. The wire protocol itself (a bidirectional line-delimited
// request/response stream with a sibling diagnostic-log stream) belongs
// to whatever frontend embeds this engine; this is the thin HTTP shape
// exposed for that frontend to front.
func runServe(ctx context.Context, cfg config.Specification, logger zerolog.Logger) {
	guard := auth.New(auth.Config{
		JWTSecret:    []byte(cfg.Auth.JwtSecret),
		ClientID:     cfg.Auth.GithubClientID,
		ClientSecret: cfg.Auth.GithubClientSecret,
		RedirectURL:  cfg.Auth.GithubRedirectURL,
		AllowedOrg:   cfg.Auth.GithubAllowedOrg,
		Enabled:      cfg.Auth.Enabled,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, guard.LoginURL(auth.GenerateState()), http.StatusFound)
	})

	mux.HandleFunc("/auth/callback", func(w http.ResponseWriter, r *http.Request) {
		code := r.URL.Query().Get("code")
		if code == "" {
			http.Error(w, "missing code", http.StatusBadRequest)
			return
		}
		accessToken, err := guard.ExchangeCode(r.Context(), code)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		user, err := guard.FetchUser(r.Context(), accessToken)
		if err != nil {
			http.Error(w, err.Error(), http.StatusForbidden)
			return
		}
		token, err := guard.IssueToken(user)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"user": user, "token": token})
	})

	mux.HandleFunc("/search_code", guard.Middleware(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		q := strings.TrimSpace(r.URL.Query().Get("q"))
		if q == "" {
			http.Error(w, "missing required query parameter q", http.StatusBadRequest)
			return
		}
		limit := 10
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()

		embedder, err := embedderFor(reqCtx, cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		st, err := openStore(reqCtx, cfg, embedder.Dim())
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer st.Close()

		cache := newCache(cfg)
		opts := buildRetrieverOptions(cfg, embedder, cache)
		opts.Limit = limit
		opts.Timeout = retriever.DefaultQuickTimeout

		results, err := retriever.HybridSearch(reqCtx, st, cfg.Collection, q, opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(formatter.EncodeCompact(results)))

		hlog.FromRequest(r).Info().Str("path", "/search_code").Str("q", q).
			Dur("dur", time.Since(start)).Int("results", len(results)).Msg("served")
	}))

	mux.HandleFunc("/index_code", guard.Middleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		path := strings.TrimSpace(r.URL.Query().Get("path"))
		if path == "" {
			http.Error(w, "missing required query parameter path", http.StatusBadRequest)
			return
		}

		reqCtx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
		defer cancel()

		embedder, err := embedderFor(reqCtx, cfg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		dim := embedder.Dim()
		if dim == 0 {
			dim = 768
		}
		st, err := openStore(reqCtx, cfg, dim)
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer st.Close()

		cache := newCache(cfg)
		opts := indexer.DefaultOptions(embedder, cache)
		opts.ChunkOptions.MaxChunkSize = cfg.Engine.MaxChunkSize

		result, err := indexer.IndexDirectory(reqCtx, st, cfg.Collection, path, opts)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"indexed": result.Indexed,
			"skipped": result.Skipped,
			"errors":  len(result.Errors),
		})
	}))

	mux.HandleFunc("/get_status", guard.Middleware(func(w http.ResponseWriter, r *http.Request) {
		reqCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(getStatus(reqCtx, cfg))
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Dur("dur", dur).Msg("http")
		})(mux),
	)

	addr := ":" + strconv.Itoa(cfg.Port)
	srv := &http.Server{Addr: addr, Handler: handler}
	logger.Info().Str("addr", addr).Bool("auth_enabled", cfg.Auth.Enabled).Msg("reposearch protocol server listening")
	logger.Fatal().Err(srv.ListenAndServe()).Msg("server exited")
}
