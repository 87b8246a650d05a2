package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/monitor"
	"github.com/JakeFAU/pricewatch/internal/watchlist"
)

type insertRequest struct {
	Description string `json:"description" validate:"required"`
	URL         string `json:"url" validate:"required,http_url"`
}

type toggleRequest struct {
	KeepMonitoring *bool `json:"keepMonitoring" validate:"required"`
}

type bulkRefreshResponse struct {
	Results []monitor.Result        `json:"results"`
	Summary map[monitor.Outcome]int `json:"summary"`
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.monitor.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []watchlist.Item{}
	}
	s.writeJSON(w, http.StatusOK, items)
}

func (s *Server) insertItem(w http.ResponseWriter, r *http.Request) {
	var req insertRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.monitor.Insert(r.Context(), req.Description, req.URL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, item)
}

func (s *Server) toggleItem(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.monitor.SetMonitoring(r.Context(), chi.URLParam(r, "id"), *req.KeepMonitoring)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) getRoutine(w http.ResponseWriter, r *http.Request) {
	target, err := domainParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	source, err := s.monitor.Routine(r.Context(), target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.WriteString(w, source); err != nil {
		s.logger.Error("write routine failed", zap.Error(err))
	}
}

func (s *Server) editRoutine(w http.ResponseWriter, r *http.Request) {
	target, err := domainParam(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRoutineBytes))
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: read routine: %w", watchlist.ErrInvalidInput, err))
		return
	}
	if err := s.monitor.EditRoutine(r.Context(), target, string(body)); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) refreshItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.monitor.Refresh(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, item)
}

func (s *Server) refreshItems(w http.ResponseWriter, r *http.Request) {
	results, err := s.monitor.RefreshStale(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []monitor.Result{}
	}
	s.writeJSON(w, http.StatusOK, bulkRefreshResponse{Results: results, Summary: monitor.Summarize(results)})
}

// decode reads a JSON body into dst and validates it.
func (s *Server) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid JSON: %w", watchlist.ErrInvalidInput, err)
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", watchlist.ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", watchlist.ErrInvalidInput, err)
	}
	return nil
}

// domainParam returns the {domain} segment, which may be a URL-encoded URL.
func domainParam(r *http.Request) (string, error) {
	raw := chi.URLParam(r, "domain")
	target, err := url.PathUnescape(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %w", watchlist.ErrInvalidInput, raw, err)
	}
	return target, nil
}
