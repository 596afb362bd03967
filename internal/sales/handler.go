package sales

import (
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/flooringops/opsdesk/internal/lifecycle"
	"github.com/flooringops/opsdesk/internal/platform/httpx"
	"github.com/flooringops/opsdesk/internal/shared"
)

const maxPhotoUploadBytes = 32 << 20

// Handler manages sales endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	staffOnly func(http.Handler) http.Handler
}

// NewHandler builds Handler instance. staffOnly guards office-only routes.
func NewHandler(logger *slog.Logger, service *Service, staffOnly func(http.Handler) http.Handler) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if staffOnly == nil {
		staffOnly = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{logger: logger, service: service, staffOnly: staffOnly}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.staffOnly)

		r.Get("/customers", h.listCustomers)
		r.Post("/customers", h.createCustomer)
		r.Get("/customers/{id}", h.showCustomer)
		r.Patch("/customers/{id}", h.updateCustomer)
		r.Delete("/customers/{id}", h.deleteCustomer)

		r.Get("/enquiries", h.listEnquiries)
		r.Post("/enquiries", h.createEnquiry)
		r.Get("/enquiries/{id}", h.showEnquiry)
		r.Patch("/enquiries/{id}", h.updateEnquiry)
		r.Delete("/enquiries/{id}", h.deleteEnquiry)
		r.Post("/enquiries/{id}/convert-to-customer", h.convertEnquiryToCustomer)
		r.Post("/enquiries/{id}/convert-to-quote", h.convertEnquiryToQuote)

		r.Get("/quotes", h.listQuotes)
		r.Post("/quotes", h.createQuote)
		r.Get("/quotes/{id}", h.showQuote)
		r.Patch("/quotes/{id}", h.updateQuote)
		r.Delete("/quotes/{id}", h.deleteQuote)
		r.Put("/quotes/{id}/items", h.replaceQuoteItems)
		r.Post("/quotes/{id}/items", h.addQuoteItem)
		r.Patch("/quotes/{id}/items/{itemID}", h.updateQuoteItem)
		r.Delete("/quotes/{id}/items/{itemID}", h.removeQuoteItem)
		r.Post("/quotes/{id}/transitions/{action}", h.transitionQuote)
		r.Post("/quotes/{id}/convert-to-job", h.convertQuoteToJob)
		r.Post("/quotes/{id}/invoice", h.invoiceQuote)

		r.Post("/jobs", h.createJob)
		r.Post("/jobs/{id}/cancel", h.cancelJob)
		r.Post("/jobs/{id}/reschedule", h.rescheduleJob)

		r.Get("/invoices", h.listInvoices)
		r.Get("/invoices/{id}", h.showInvoice)
		r.Post("/invoices/{id}/payments", h.recordPayment)
	})

	// Installers reach their own jobs through these.
	r.Get("/jobs", h.listJobs)
	r.Get("/jobs/{id}", h.showJob)
	r.Post("/jobs/{id}/accept", h.acceptJob)
	r.Post("/jobs/{id}/reject", h.rejectJob)
	r.Post("/jobs/{id}/start", h.startJob)
	r.Post("/jobs/{id}/progress", h.updateJobProgress)
	r.Post("/jobs/{id}/complete", h.completeJob)
}

type listResponse[T any] struct {
	Data       []T               `json:"data"`
	Pagination shared.Pagination `json:"pagination"`
}

func respondList[T any](w http.ResponseWriter, items []T, page shared.PageRequest, total int) {
	if items == nil {
		items = []T{}
	}
	httpx.JSON(w, http.StatusOK, listResponse[T]{
		Data:       items,
		Pagination: shared.NewPagination(page.Page, page.PerPage, total),
	})
}

func actorFrom(r *http.Request) (shared.Actor, error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		return shared.Actor{}, shared.ErrUnauthorized
	}
	return actor, nil
}

// decode reads the JSON body and the actor. It writes the problem response itself.
func decode[T any](w http.ResponseWriter, r *http.Request) (T, shared.Actor, bool) {
	var req T
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return req, actor, false
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return req, actor, false
	}
	return req, actor, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, v any, err error) {
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, status, v)
}

func conversionStatus(already bool) int {
	if already {
		return http.StatusOK
	}
	return http.StatusCreated
}

func optionalInt64(r *http.Request, name string) (*int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v <= 0 {
		return nil, shared.NewValidationError(name, "must be a positive integer")
	}
	return &v, nil
}

// ---- customers

func (h *Handler) listCustomers(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePageRequest(r.URL.Query())
	req := ListCustomersRequest{Search: r.URL.Query().Get("search"), Limit: page.Limit(), Offset: page.Offset()}
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage := LifecycleStage(strings.ToLower(raw))
		if !stage.Valid() {
			httpx.RespondError(w, shared.NewValidationError("stage", "unknown lifecycle stage"))
			return
		}
		req.Stage = &stage
	}
	customers, total, err := h.service.ListCustomers(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondList(w, customers, page, total)
}

func (h *Handler) createCustomer(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := decode[CreateCustomerRequest](w, r)
	if !ok {
		return
	}
	c, err := h.service.CreateCustomer(r.Context(), req, actor)
	h.respond(w, http.StatusCreated, c, err)
}

func (h *Handler) showCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	c, err := h.service.GetCustomer(r.Context(), id)
	h.respond(w, http.StatusOK, c, err)
}

func (h *Handler) updateCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[UpdateCustomerRequest](w, r)
	if !ok {
		return
	}
	c, err := h.service.UpdateCustomer(r.Context(), id, req, actor)
	h.respond(w, http.StatusOK, c, err)
}

func (h *Handler) deleteCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteCustomer(r.Context(), id, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- enquiries

func (h *Handler) listEnquiries(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePageRequest(r.URL.Query())
	req := ListEnquiriesRequest{Limit: page.Limit(), Offset: page.Offset()}
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := lifecycle.ParseEnquiryStatus(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("status", err.Error()))
			return
		}
		req.Status = &status
	}
	enquiries, total, err := h.service.ListEnquiries(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondList(w, enquiries, page, total)
}

func (h *Handler) createEnquiry(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := decode[CreateEnquiryRequest](w, r)
	if !ok {
		return
	}
	e, err := h.service.CreateEnquiry(r.Context(), req, actor)
	h.respond(w, http.StatusCreated, e, err)
}

func (h *Handler) showEnquiry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	e, err := h.service.GetEnquiry(r.Context(), id)
	h.respond(w, http.StatusOK, e, err)
}

func (h *Handler) updateEnquiry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[UpdateEnquiryRequest](w, r)
	if !ok {
		return
	}
	e, err := h.service.UpdateEnquiry(r.Context(), id, req, actor)
	h.respond(w, http.StatusOK, e, err)
}

func (h *Handler) deleteEnquiry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteEnquiry(r.Context(), id, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) convertEnquiryToCustomer(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ConvertEnquiryToCustomer(r.Context(), id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, conversionStatus(res.AlreadyConverted), res)
}

func (h *Handler) convertEnquiryToQuote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ConvertEnquiryToQuote(r.Context(), id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, conversionStatus(res.AlreadyConverted), res)
}

// ---- quotes

type quoteResponse struct {
	*Quote
	Actions []lifecycle.QuoteAction `json:"actions"`
}

func (h *Handler) respondQuote(w http.ResponseWriter, status int, q *Quote, err error) {
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actions := q.Actions()
	if actions == nil {
		actions = []lifecycle.QuoteAction{}
	}
	httpx.JSON(w, status, quoteResponse{Quote: q, Actions: actions})
}

func (h *Handler) listQuotes(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePageRequest(r.URL.Query())
	req := ListQuotesRequest{Limit: page.Limit(), Offset: page.Offset()}
	customerID, err := optionalInt64(r, "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.CustomerID = customerID
	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := lifecycle.ParseQuoteStatus(raw)
		if err != nil {
			httpx.RespondError(w, shared.NewValidationError("status", err.Error()))
			return
		}
		req.Status = &status
	}
	quotes, total, err := h.service.ListQuotes(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondList(w, quotes, page, total)
}

func (h *Handler) createQuote(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := decode[CreateQuoteRequest](w, r)
	if !ok {
		return
	}
	q, err := h.service.CreateQuote(r.Context(), req, actor)
	h.respondQuote(w, http.StatusCreated, q, err)
}

func (h *Handler) showQuote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.GetQuote(r.Context(), id)
	h.respondQuote(w, http.StatusOK, q, err)
}

func (h *Handler) updateQuote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[UpdateQuoteRequest](w, r)
	if !ok {
		return
	}
	q, err := h.service.UpdateQuote(r.Context(), id, req, actor)
	h.respondQuote(w, http.StatusOK, q, err)
}

func (h *Handler) deleteQuote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.service.DeleteQuote(r.Context(), id, actor); err != nil {
		httpx.RespondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) replaceQuoteItems(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[ReplaceItemsRequest](w, r)
	if !ok {
		return
	}
	q, err := h.service.ReplaceQuoteItems(r.Context(), id, req, actor)
	h.respondQuote(w, http.StatusOK, q, err)
}

type addQuoteItemRequest struct {
	QuoteItemInput
	ExpectedTotal *float64 `json:"expected_total,omitempty"`
}

func (h *Handler) addQuoteItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[addQuoteItemRequest](w, r)
	if !ok {
		return
	}
	q, err := h.service.AddQuoteItem(r.Context(), id, req.QuoteItemInput, req.ExpectedTotal, actor)
	h.respondQuote(w, http.StatusCreated, q, err)
}

func (h *Handler) updateQuoteItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[UpdateQuoteItemRequest](w, r)
	if !ok {
		return
	}
	q, err := h.service.UpdateQuoteItem(r.Context(), id, itemID, req, actor)
	h.respondQuote(w, http.StatusOK, q, err)
}

func (h *Handler) removeQuoteItem(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	itemID, err := httpx.IDParam(r, "itemID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q, err := h.service.RemoveQuoteItem(r.Context(), id, itemID, actor)
	h.respondQuote(w, http.StatusOK, q, err)
}

func (h *Handler) transitionQuote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	action := lifecycle.QuoteAction(chi.URLParam(r, "action"))
	q, err := h.service.TransitionQuote(r.Context(), id, action, actor)
	h.respondQuote(w, http.StatusOK, q, err)
}

func (h *Handler) convertQuoteToJob(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req ConvertQuoteToJobRequest
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	res, err := h.service.ConvertQuoteToJob(r.Context(), id, req, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, conversionStatus(res.AlreadyConverted), res)
}

func (h *Handler) invoiceQuote(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.InvoiceQuote(r.Context(), id, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, conversionStatus(res.AlreadyConverted), res)
}

// ---- jobs

type jobResponse struct {
	*Job
	Actions []lifecycle.JobAction `json:"actions"`
}

func (h *Handler) respondJob(w http.ResponseWriter, status int, j *Job, err error) {
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actions := j.Actions()
	if actions == nil {
		actions = []lifecycle.JobAction{}
	}
	httpx.JSON(w, status, jobResponse{Job: j, Actions: actions})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	q := r.URL.Query()
	page := shared.ParsePageRequest(q)
	req := ListJobsRequest{Limit: page.Limit(), Offset: page.Offset()}
	if raw := q.Get("status"); raw != "" {
		status := lifecycle.JobStatus(strings.ToLower(raw))
		if !status.Valid() {
			httpx.RespondError(w, shared.NewValidationError("status", "unknown job status"))
			return
		}
		req.Status = &status
	}
	if raw := q.Get("acceptance_status"); raw != "" {
		acc := lifecycle.Acceptance(strings.ToLower(raw))
		if !acc.Valid() {
			httpx.RespondError(w, shared.NewValidationError("acceptance_status", "unknown acceptance status"))
			return
		}
		req.Acceptance = &acc
	}
	if raw := q.Get("installer_id"); raw != "" {
		req.InstallerID = &raw
	}
	customerID, err := optionalInt64(r, "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.CustomerID = customerID
	jobs, total, err := h.service.ListJobs(r.Context(), req, actor)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondList(w, jobs, page, total)
}

func (h *Handler) createJob(w http.ResponseWriter, r *http.Request) {
	req, actor, ok := decode[CreateJobRequest](w, r)
	if !ok {
		return
	}
	j, err := h.service.CreateJob(r.Context(), req, actor)
	h.respondJob(w, http.StatusCreated, j, err)
}

func (h *Handler) showJob(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	j, err := h.service.GetJob(r.Context(), id, actor)
	h.respondJob(w, http.StatusOK, j, err)
}

// jobAction adapts the body-less job actions.
func (h *Handler) jobAction(fn func(s *Service, r *http.Request, id int64, actor shared.Actor) (*Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		actor, err := actorFrom(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		j, err := fn(h.service, r, id, actor)
		h.respondJob(w, http.StatusOK, j, err)
	}
}

func (h *Handler) acceptJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(func(s *Service, r *http.Request, id int64, actor shared.Actor) (*Job, error) {
		return s.AcceptJob(r.Context(), id, actor)
	})(w, r)
}

func (h *Handler) startJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(func(s *Service, r *http.Request, id int64, actor shared.Actor) (*Job, error) {
		return s.StartJob(r.Context(), id, actor)
	})(w, r)
}

func (h *Handler) cancelJob(w http.ResponseWriter, r *http.Request) {
	h.jobAction(func(s *Service, r *http.Request, id int64, actor shared.Actor) (*Job, error) {
		return s.CancelJob(r.Context(), id, actor)
	})(w, r)
}

func (h *Handler) rejectJob(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[RejectJobRequest](w, r)
	if !ok {
		return
	}
	j, err := h.service.RejectJob(r.Context(), id, req, actor)
	h.respondJob(w, http.StatusOK, j, err)
}

func (h *Handler) updateJobProgress(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[ProgressRequest](w, r)
	if !ok {
		return
	}
	j, err := h.service.UpdateJobProgress(r.Context(), id, req, actor)
	h.respondJob(w, http.StatusOK, j, err)
}

func (h *Handler) rescheduleJob(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[RescheduleJobRequest](w, r)
	if !ok {
		return
	}
	j, err := h.service.RescheduleJob(r.Context(), id, req, actor)
	h.respondJob(w, http.StatusOK, j, err)
}

type completeJobJSON struct {
	CompletionNotes string  `json:"completion_notes"`
	HoursWorked     float64 `json:"hours_worked"`
}

// completeJob accepts multipart/form-data (completion_notes, hours_worked and
// any number of "photos" files) or a JSON body without photos.
func (h *Handler) completeJob(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, err := actorFrom(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var in CompleteJobInput
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxPhotoUploadBytes)
		if err := r.ParseMultipartForm(maxPhotoUploadBytes); err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %v", shared.ErrValidation, err))
			return
		}
		defer func() {
			_ = r.MultipartForm.RemoveAll()
		}()
		in.CompletionNotes = r.FormValue("completion_notes")
		if raw := r.FormValue("hours_worked"); raw != "" {
			hours, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				httpx.RespondError(w, shared.NewValidationError("hours_worked", "must be a number"))
				return
			}
			in.HoursWorked = hours
		}
		files, closeAll, err := openPhotos(r.MultipartForm.File["photos"])
		defer closeAll()
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.Photos = files
	} else {
		var body completeJobJSON
		if err := httpx.DecodeJSON(r, &body); err != nil {
			httpx.RespondError(w, err)
			return
		}
		in.CompletionNotes = body.CompletionNotes
		in.HoursWorked = body.HoursWorked
	}

	j, err := h.service.CompleteJob(r.Context(), id, in, actor)
	h.respondJob(w, http.StatusOK, j, err)
}

func openPhotos(headers []*multipart.FileHeader) ([]PhotoUpload, func(), error) {
	var opened []multipart.File
	closeAll := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}
	photos := make([]PhotoUpload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			return nil, closeAll, fmt.Errorf("%w: photo %s: %v", shared.ErrValidation, fh.Filename, err)
		}
		opened = append(opened, f)
		photos = append(photos, PhotoUpload{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Body:        f,
		})
	}
	return photos, closeAll, nil
}

// ---- invoices

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	page := shared.ParsePageRequest(r.URL.Query())
	req := ListInvoicesRequest{Limit: page.Limit(), Offset: page.Offset()}
	if raw := r.URL.Query().Get("payment_status"); raw != "" {
		status := PaymentStatus(strings.ToLower(raw))
		switch status {
		case PaymentPending, PaymentPartial, PaymentPaid, PaymentOverdue:
		default:
			httpx.RespondError(w, shared.NewValidationError("payment_status", "unknown payment status"))
			return
		}
		req.Status = &status
	}
	customerID, err := optionalInt64(r, "customer_id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req.CustomerID = customerID
	invoices, total, err := h.service.ListInvoices(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	respondList(w, invoices, page, total)
}

func (h *Handler) showInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	inv, err := h.service.GetInvoice(r.Context(), id)
	h.respond(w, http.StatusOK, inv, err)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, actor, ok := decode[RecordPaymentRequest](w, r)
	if !ok {
		return
	}
	inv, err := h.service.RecordPayment(r.Context(), id, req, r.Header.Get("Idempotency-Key"), actor)
	h.respond(w, http.StatusCreated, inv, err)
}
