package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pcrpg2df4s-blip/dietweb/internal/estimator"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/pcrpg2df4s-blip/dietweb/internal/model"
	"github.com/pcrpg2df4s-blip/dietweb/internal/provider/openfoodfacts"
	"github.com/pcrpg2df4s-blip/dietweb/internal/service"
)

type stateResponse struct {
	State model.LedgerState  `json:"state"`
	Today service.TodayStatus `json:"today"`
}

func newStateResponse(s model.LedgerState) stateResponse {
	return stateResponse{State: s, Today: service.TodaySummary(s)}
}

type foodRequest struct {
	Name       string     `json:"name"`
	Calories   float64    `json:"calories"`
	ProteinG   float64    `json:"protein_g"`
	CarbsG     float64    `json:"carbs_g"`
	FatG       float64    `json:"fat_g"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	Thumbnail  string     `json:"thumbnail,omitempty"`
	Source     string     `json:"source,omitempty"`
}

func (f foodRequest) entry() model.FoodEntry {
	e := model.FoodEntry{
		Name:      f.Name,
		Calories:  f.Calories,
		ProteinG:  f.ProteinG,
		CarbsG:    f.CarbsG,
		FatG:      f.FatG,
		Thumbnail: f.Thumbnail,
		Source:    f.Source,
	}
	if f.ConsumedAt != nil {
		e.ConsumedAt = *f.ConsumedAt
	}
	return e
}

type foodResponse struct {
	Entry     model.FoodEntry `json:"entry"`
	Estimated bool            `json:"estimated"`
	stateResponse
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	var state model.LedgerState
	err := s.registry.With(r.Context(), userFrom(r.Context()), func(l *ledger.Ledger) error {
		state = l.Snapshot()
		return nil
	})
	if err != nil {
		s.writeLedgerError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(state))
}

func (s *Server) handleSetProfile(w http.ResponseWriter, r *http.Request) {
	var p model.Profile
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var state model.LedgerState
	err := s.registry.With(r.Context(), userFrom(r.Context()), func(l *ledger.Ledger) error {
		var err error
		state, err = l.SetProfile(r.Context(), p)
		return err
	})
	if err != nil {
		s.writeLedgerError(w, r, err, &state)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(state))
}

func (s *Server) handleRecordFood(w http.ResponseWriter, r *http.Request) {
	var req foodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.record(w, r, req.entry(), false)
}

// handleEstimateFood accepts a multipart form with an optional "photo" file
// and "description", "name" and "calories" fields. When estimation fails the
// entry is logged with the given name and calories and zero macros.
func (s *Server) handleEstimateFood(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("parse form: %v", err))
		return
	}
	req := estimator.Request{Description: strings.TrimSpace(r.FormValue("description"))}
	if file, header, err := r.FormFile("photo"); err == nil {
		defer file.Close()
		img, err := io.ReadAll(file)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("read photo: %v", err))
			return
		}
		req.Image = img
		req.MIMEType = header.Header.Get("Content-Type")
	} else if !errors.Is(err, http.ErrMissingFile) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("read photo: %v", err))
		return
	}
	if len(req.Image) == 0 && req.Description == "" {
		writeError(w, http.StatusBadRequest, "photo or description is required")
		return
	}

	var calories float64
	if v := strings.TrimSpace(r.FormValue("calories")); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil || c < 0 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid calories %q", v))
			return
		}
		calories = c
	}

	entry, ok := estimator.EstimateOrFallback(r.Context(), s.estimator, s.log, req, r.FormValue("name"), calories)
	s.record(w, r, entry, ok)
}

type barcodeRequest struct {
	Barcode  string  `json:"barcode"`
	Servings float64 `json:"servings"`
	Name     string  `json:"name,omitempty"`
}

func (s *Server) handleBarcodeFood(w http.ResponseWriter, r *http.Request) {
	var req barcodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.barcodes == nil {
		writeError(w, http.StatusNotImplemented, "barcode lookup is not configured")
		return
	}
	if req.Servings < 0 {
		writeError(w, http.StatusBadRequest, "servings must be >= 0")
		return
	}
	product, err := s.barcodes.LookupBarcode(r.Context(), req.Barcode)
	switch {
	case errors.Is(err, openfoodfacts.ErrInvalidBarcode):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, openfoodfacts.ErrProductNotFound):
		writeError(w, http.StatusNotFound, err.Error())
		return
	case err != nil:
		s.log.Warn(r.Context(), "barcode lookup failed", "barcode", req.Barcode, "error", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	entry := product.Entry(req.Servings)
	if name := strings.TrimSpace(req.Name); name != "" {
		entry.Name = name
	}
	s.record(w, r, entry, false)
}

func (s *Server) record(w http.ResponseWriter, r *http.Request, e model.FoodEntry, estimated bool) {
	var (
		saved model.FoodEntry
		state model.LedgerState
	)
	err := s.registry.With(r.Context(), userFrom(r.Context()), func(l *ledger.Ledger) error {
		var err error
		saved, err = l.RecordFood(r.Context(), e)
		state = l.Snapshot()
		return err
	})
	if err != nil && !errors.Is(err, ledger.ErrStorageExhausted) {
		s.writeLedgerError(w, r, err, nil)
		return
	}
	status := http.StatusCreated
	if err != nil {
		status = http.StatusInsufficientStorage
	}
	resp := foodResponse{Entry: saved, Estimated: estimated, stateResponse: newStateResponse(state)}
	if err != nil {
		writeJSON(w, status, struct {
			foodResponse
			Error errorBody `json:"error"`
		}{resp, errorBody{Message: err.Error(), Type: "storage_exhausted"}})
		return
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleEditFood(w http.ResponseWriter, r *http.Request) {
	var req foodRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	id := chi.URLParam(r, "id")
	var state model.LedgerState
	err := s.registry.With(r.Context(), userFrom(r.Context()), func(l *ledger.Ledger) error {
		err := l.EditFood(r.Context(), id, req.entry())
		state = l.Snapshot()
		return err
	})
	if err != nil {
		s.writeLedgerError(w, r, err, &state)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(state))
}

func (s *Server) handleDeleteFood(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var state model.LedgerState
	err := s.registry.With(r.Context(), userFrom(r.Context()), func(l *ledger.Ledger) error {
		err := l.DeleteFood(r.Context(), id)
		state = l.Snapshot()
		return err
	})
	if err != nil {
		s.writeLedgerError(w, r, err, &state)
		return
	}
	writeJSON(w, http.StatusOK, newStateResponse(state))
}

// handleHistory reports on ?days=N (default 7) ending today, or on an
// explicit ?from=&to= range.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.historyRange(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var report *service.HistoryReport
	err = s.registry.With(r.Context(), userFrom(r.Context()), func(l *ledger.Ledger) error {
		var err error
		report, err = service.HistoryRange(l.Snapshot(), from, to, s.tolerance)
		if err != nil {
			return fmt.Errorf("%w: %v", ledger.ErrInvalid, err)
		}
		return nil
	})
	if err != nil {
		s.writeLedgerError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) historyRange(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	fromRaw, toRaw := strings.TrimSpace(q.Get("from")), strings.TrimSpace(q.Get("to"))
	if fromRaw != "" || toRaw != "" {
		from, err := time.ParseInLocation(model.DateLayout, fromRaw, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from %q (expected YYYY-MM-DD)", fromRaw)
		}
		to, err := time.ParseInLocation(model.DateLayout, toRaw, time.Local)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to %q (expected YYYY-MM-DD)", toRaw)
		}
		return from, to, nil
	}
	days := 7
	if v := strings.TrimSpace(q.Get("days")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 366 {
			return time.Time{}, time.Time{}, fmt.Errorf("days must be between 1 and 366")
		}
		days = n
	}
	from, to := service.LastDays(s.now(), days)
	return from, to, nil
}

func (s *Server) handleTips(w http.ResponseWriter, r *http.Request) {
	var state model.LedgerState
	err := s.registry.With(r.Context(), userFrom(r.Context()), func(l *ledger.Ledger) error {
		state = l.Snapshot()
		return nil
	})
	if err != nil {
		s.writeLedgerError(w, r, err, nil)
		return
	}
	tips := estimator.DefaultTips
	if state.Profile != nil {
		tips = estimator.TipsOrDefault(r.Context(), s.tips, s.log, *state.Profile, state.Targets)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tips": tips})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var data *service.ExportData
	err := s.registry.With(r.Context(), userFrom(r.Context()), func(l *ledger.Ledger) error {
		data = service.ExportState(l.Snapshot(), s.now())
		return nil
	})
	if err != nil {
		s.writeLedgerError(w, r, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

type errorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// writeLedgerError maps ledger errors to responses. Storage exhaustion still
// returns the in-memory state so the client keeps what the user entered.
func (s *Server) writeLedgerError(w http.ResponseWriter, r *http.Request, err error, state *model.LedgerState) {
	switch {
	case errors.Is(err, ledger.ErrInvalid):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrStorageExhausted) && state != nil:
		writeJSON(w, http.StatusInsufficientStorage, struct {
			stateResponse
			Error errorBody `json:"error"`
		}{newStateResponse(*state), errorBody{Message: err.Error(), Type: "storage_exhausted"}})
	default:
		s.log.Error(r.Context(), "ledger operation failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}
