package transfers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"log/slog"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/stockline-erp/stockline/internal/platform/httpx"
	"github.com/stockline-erp/stockline/internal/shared"
)

// Handler exposes the transfer API.
type Handler struct {
	service  *Service
	validate *validator.Validate
	logger   *slog.Logger
}

// NewHandler returns a Handler.
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: validator.New(),
		logger:   logger,
	}
}

// Routes mounts the transfer endpoints.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.With(httprate.LimitByIP(120, time.Minute)).Get("/", h.list)
	r.Post("/", h.create)
	r.Post("/batch/create", h.batchCreate)
	r.Post("/batch/complete", h.batchComplete)
	r.Post("/batch/cancel", h.batchCancel)
	r.Get("/{transferID}", h.get)
	r.Post("/{transferID}/complete", h.complete)
	r.Post("/{transferID}/cancel", h.cancel)
	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	result, err := h.service.Create(r.Context(), actor.ID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.Envelope{Success: true, Data: result})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "transferID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	req, err := parseListRequest(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	result, err := h.service.List(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Complete)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.Cancel)
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, actorID, transferID int64) (WithItems, error)) {
	actor, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	id, err := pathID(r, "transferID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := op(r.Context(), actor.ID, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) batchComplete(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req BatchTransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	result, err := h.service.BatchComplete(r.Context(), actor.ID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) batchCancel(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req BatchTransitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	result, err := h.service.BatchCancel(r.Context(), actor.ID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.OK(w, http.StatusOK, result)
}

func (h *Handler) batchCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}
	var req BatchCreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, shared.Validationf("invalid request body"))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.RespondError(w, shared.Validationf("%s", err.Error()))
		return
	}
	result, err := h.service.BatchCreate(r.Context(), actor.ID, req)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, httpx.Envelope{Success: true, Data: result})
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validationf("invalid %s", name)
	}
	return id, nil
}

func parseListRequest(r *http.Request) (ListRequest, error) {
	q := r.URL.Query()
	req := ListRequest{
		Status: q.Get("status"),
		From:   q.Get("from"),
		To:     q.Get("to"),
		Search: q.Get("q"),
	}
	var err error
	if req.Page, err = queryInt(q.Get("page")); err != nil {
		return ListRequest{}, shared.Validationf("invalid page")
	}
	if req.PerPage, err = queryInt(q.Get("per_page")); err != nil {
		return ListRequest{}, shared.Validationf("invalid per_page")
	}
	if req.ShopID, err = queryInt64(q.Get("shop_id")); err != nil {
		return ListRequest{}, shared.Validationf("invalid shop_id")
	}
	if req.SourceShopID, err = queryInt64(q.Get("source_shop_id")); err != nil {
		return ListRequest{}, shared.Validationf("invalid source_shop_id")
	}
	if req.DestinationShopID, err = queryInt64(q.Get("destination_shop_id")); err != nil {
		return ListRequest{}, shared.Validationf("invalid destination_shop_id")
	}
	return req, nil
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}

func queryInt64(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}
