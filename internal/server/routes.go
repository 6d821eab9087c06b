package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hupe1980/chunkcache"
)

func chunkKey(r *http.Request) (chunkcache.ChunkKey, error) {
	x, err := strconv.ParseInt(chi.URLParam(r, "x"), 10, 32)
	if err != nil {
		return chunkcache.ChunkKey{}, errors.New("invalid x coordinate")
	}
	z, err := strconv.ParseInt(chi.URLParam(r, "z"), 10, 32)
	if err != nil {
		return chunkcache.ChunkKey{}, errors.New("invalid z coordinate")
	}
	return chunkcache.Key(chi.URLParam(r, "world"), int32(x), int32(z)), nil
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	key, err := chunkKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	info, ok := s.cache.Inspect(key)
	if !ok {
		writeError(w, http.StatusNotFound, "chunk not resident")
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleUnload(w http.ResponseWriter, r *http.Request) {
	key, err := chunkKey(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	freed, err := s.cache.Unload(key)
	switch {
	case errors.Is(err, chunkcache.ErrUnloadRefused):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"key": key.String(), "freed_bytes": freed})
	}
}

func (s *Server) handlePass(w http.ResponseWriter, r *http.Request) {
	kind, ok := chunkcache.ParsePassKind(chi.URLParam(r, "kind"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown pass: want compress, unload or emergency")
		return
	}
	res, err := s.cache.RunPass(r.Context(), kind)
	switch {
	case errors.Is(err, chunkcache.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.opts.Reload == nil {
		writeError(w, http.StatusNotImplemented, "no configuration source")
		return
	}
	cfg, err := s.opts.Reload()
	if err != nil {
		s.logger.Warn("configuration reload failed", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	errs := s.cache.UpdateConfig(cfg)
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "reloaded",
		"warnings": msgs,
		"config":   s.cache.Config(),
	})
}
