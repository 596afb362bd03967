package reports

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/flooringops/opsdesk/internal/platform/httpx"
	"github.com/flooringops/opsdesk/internal/shared"
)

const (
	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	pdfContentType  = "application/pdf"
)

// Handler serves dashboard and export endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	staffOnly func(http.Handler) http.Handler
}

// NewHandler constructs Handler.
func NewHandler(logger *slog.Logger, service *Service, staffOnly func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if staffOnly == nil {
		staffOnly = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{logger: logger, service: service, staffOnly: staffOnly}
}

// MountRoutes registers report routes. All of them are office-only.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.staffOnly)
		r.Get("/reports/dashboard", h.dashboard)
		r.Get("/reports/quotes.xlsx", h.quotesXLSX)
		r.Get("/reports/quotes/{id}.pdf", h.quotePDF)
	})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := h.service.Dashboard(r.Context())
	if err != nil {
		h.logger.Error("dashboard", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, sum)
}

func parseDate(raw, field string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, shared.NewValidationError(field, "must be YYYY-MM-DD")
	}
	return &t, nil
}

func (h *Handler) quotesXLSX(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := QuoteFilter{Status: q.Get("status")}
	var err error
	if filter.From, err = parseDate(q.Get("from"), "from"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseDate(q.Get("to"), "to"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	body, err := h.service.QuotesXLSX(r.Context(), filter)
	if err != nil {
		h.logger.Error("export quotes", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	writeFile(w, xlsxContentType, "quotes.xlsx", body)
}

func (h *Handler) quotePDF(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, shared.NewValidationError("id", "must be a positive integer"))
		return
	}
	body, err := h.service.QuotePDF(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	writeFile(w, pdfContentType, fmt.Sprintf("quote-%d.pdf", id), body)
}

func writeFile(w http.ResponseWriter, contentType, name string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
