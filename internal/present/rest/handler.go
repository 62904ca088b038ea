package rest

import (
	"context"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/totegamma/aswan"
	"github.com/totegamma/aswan/internal/domain"
	"github.com/totegamma/aswan/internal/present/rest/middleware"
	"github.com/totegamma/aswan/internal/present/rest/presenter"
	"github.com/totegamma/aswan/internal/service"
	"github.com/totegamma/aswan/internal/usecase"
)

type Handler struct {
	config   domain.Config
	gateway  *usecase.VerificationGateway
	registry *usecase.CredentialRegistry
	signal   *service.SignalService
	metrics  http.Handler
}

// NewHandler builds the REST surface. signal and metrics may be nil, which
// disables /realtime and /metrics respectively.
func NewHandler(
	config domain.Config,
	gateway *usecase.VerificationGateway,
	registry *usecase.CredentialRegistry,
	signal *service.SignalService,
	metrics http.Handler,
) *Handler {
	return &Handler{
		config:   config,
		gateway:  gateway,
		registry: registry,
		signal:   signal,
		metrics:  metrics,
	}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/.well-known/aswan", h.handleWellKnown)
	e.POST("/verify", h.handleVerify)

	keys := e.Group("/keys", middleware.RequireDeveloper)
	keys.POST("", h.handleIssueKey)
	keys.GET("", h.handleListKeys)
	keys.GET("/stats", h.handleKeyStats)
	keys.PATCH("/:id", h.handleRenameKey)
	keys.DELETE("/:id", h.handleRevokeKey)
	keys.POST("/:id/limit", h.handleLimitKey)
	keys.DELETE("/:id/limit", h.handleUnlimitKey)

	e.GET("/realtime", h.handleRealtime, middleware.RequireDeveloper)

	if h.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(h.metrics))
	}
}

func (h *Handler) handleWellKnown(c echo.Context) error {
	wellknown := aswan.WellKnownAswan{
		Version: "1.0",
		Domain:  h.config.FQDN,
		Endpoints: map[string]aswan.Endpoint{
			"aswan.verify": {
				Template: "/verify",
				Method:   "POST",
				Headers: &[]string{
					aswan.HeaderAPIKey,
					aswan.HeaderSignature,
					aswan.HeaderTimestamp,
					aswan.HeaderDocumentBlob,
					aswan.HeaderSelfieBlob,
				},
			},
			"aswan.keys": {
				Template: "/keys",
				Method:   "GET",
			},
			"aswan.keys.issue": {
				Template: "/keys",
				Method:   "POST",
			},
			"aswan.keys.stats": {
				Template: "/keys/stats",
				Method:   "GET",
			},
			"aswan.realtime": {
				Template: "/realtime",
				Method:   "GET",
			},
		},
	}
	return presenter.OK(c, wellknown)
}

func (h *Handler) handleVerify(c echo.Context) error {
	ctx := c.Request().Context()

	var request aswan.VerifyRequest
	if err := c.Bind(&request); err != nil {
		return presenter.Outcome(c, domain.OutcomeMissingField, errors.New("request body is not valid json"))
	}

	header := c.Request().Header

	document, err := decodeBlob(header.Get(aswan.HeaderDocumentBlob), request.Document)
	if err != nil {
		return presenter.Outcome(c, domain.OutcomeMissingField, errors.New("document is not valid base64"))
	}
	selfie, err := decodeBlob(header.Get(aswan.HeaderSelfieBlob), request.Selfie)
	if err != nil {
		return presenter.Outcome(c, domain.OutcomeMissingField, errors.New("selfie is not valid base64"))
	}

	attempt := domain.Attempt{
		SubjectID:       request.UserID,
		CredentialID:    header.Get(aswan.HeaderAPIKey),
		Timestamp:       header.Get(aswan.HeaderTimestamp),
		Signature:       header.Get(aswan.HeaderSignature),
		DocumentPayload: document,
		FacePayload:     selfie,
	}

	outcome, err := h.gateway.HandleVerify(ctx, attempt)
	return presenter.Outcome(c, outcome, err)
}

// decodeBlob prefers the header value and falls back to the body field.
func decodeBlob(header, body string) ([]byte, error) {
	value := header
	if value == "" {
		value = body
	}
	if value == "" {
		return nil, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

type keyRequest struct {
	Name string `json:"name"`
}

type issuedKey struct {
	domain.PublicCredential
	Secret string `json:"secret"`
}

func (h *Handler) handleIssueKey(c echo.Context) error {
	ctx := c.Request().Context()
	owner, _ := middleware.RequesterID(ctx)

	var request keyRequest
	if err := c.Bind(&request); err != nil {
		return presenter.BadRequest(c, err)
	}

	cred, err := h.registry.Issue(ctx, owner, request.Name)
	if err != nil {
		return h.registryError(c, err)
	}

	return presenter.Created(c, issuedKey{
		PublicCredential: cred.Public(),
		Secret:           cred.Secret,
	})
}

func (h *Handler) handleListKeys(c echo.Context) error {
	ctx := c.Request().Context()
	owner, _ := middleware.RequesterID(ctx)

	return presenter.OK(c, h.registry.ListByOwner(ctx, owner))
}

func (h *Handler) handleKeyStats(c echo.Context) error {
	ctx := c.Request().Context()
	owner, _ := middleware.RequesterID(ctx)

	return presenter.OK(c, h.registry.Stats(ctx, owner))
}

func (h *Handler) handleRenameKey(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := h.ownedKey(ctx, c.Param("id"))
	if err != nil {
		return h.registryError(c, err)
	}

	var request keyRequest
	if err := c.Bind(&request); err != nil {
		return presenter.BadRequest(c, err)
	}

	cred, err := h.registry.Rename(ctx, id, request.Name)
	if err != nil {
		return h.registryError(c, err)
	}
	return presenter.OK(c, cred.Public())
}

func (h *Handler) handleRevokeKey(c echo.Context) error {
	return h.changeStatus(c, h.registry.Revoke)
}

func (h *Handler) handleLimitKey(c echo.Context) error {
	return h.changeStatus(c, h.registry.SetLimited)
}

func (h *Handler) handleUnlimitKey(c echo.Context) error {
	return h.changeStatus(c, h.gateway.ClearLimited)
}

func (h *Handler) changeStatus(c echo.Context, apply func(context.Context, string) error) error {
	ctx := c.Request().Context()

	id, err := h.ownedKey(ctx, c.Param("id"))
	if err != nil {
		return h.registryError(c, err)
	}

	if err := apply(ctx, id); err != nil {
		return h.registryError(c, err)
	}

	cred, err := h.registry.Resolve(ctx, id)
	if err != nil {
		return h.registryError(c, err)
	}
	return presenter.OK(c, cred.Public())
}

// ownedKey resolves id and hides credentials that belong to another developer.
func (h *Handler) ownedKey(ctx context.Context, id string) (string, error) {
	owner, _ := middleware.RequesterID(ctx)

	cred, err := h.registry.Resolve(ctx, id)
	if err != nil {
		return "", err
	}
	if cred.Owner != owner {
		return "", domain.NotFoundError{Resource: "credential"}
	}
	return cred.ID, nil
}

func (h *Handler) registryError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return presenter.NotFound(c, "credential not found")
	case errors.Is(err, domain.ErrInvalidName):
		return presenter.BadRequest(c, err)
	case errors.Is(err, domain.ErrCredentialRevoked), errors.Is(err, domain.ErrIllegalTransition):
		return presenter.Conflict(c, err.Error())
	default:
		return presenter.InternalError(c, err)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type socketRequest struct {
	Type string `json:"type"`
}

func (h *Handler) handleRealtime(c echo.Context) error {
	if h.signal == nil {
		return presenter.Unavailable(c, "realtime events require redis")
	}

	owner, _ := middleware.RequesterID(c.Request().Context())

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		slog.Error(
			"Failed to upgrade WebSocket",
			slog.String("error", err.Error()),
			slog.String("module", domain.ModuleSocket),
		)
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	output := make(chan domain.UsageEvent)
	go func() {
		err := h.signal.Realtime(ctx, owner, output, nil)
		if err != nil {
			slog.ErrorContext(
				ctx, "Realtime subscription failed",
				slog.String("error", err.Error()),
				slog.String("module", domain.ModuleSocket),
			)
		}
		cancel()
	}()

	go func() {
		defer cancel()
		for {
			var req socketRequest
			err := ws.ReadJSON(&req)
			if err != nil {
				wsErr, ok := err.(*websocket.CloseError)
				if ok {
					if !(wsErr.Code == websocket.CloseNormalClosure || wsErr.Code == websocket.CloseGoingAway) {
						slog.DebugContext(
							ctx, "WebSocket closed",
							slog.String("error", wsErr.Error()),
							slog.String("module", domain.ModuleSocket),
						)
					}
				} else {
					slog.DebugContext(
						ctx, "Error reading message",
						slog.String("error", err.Error()),
						slog.String("module", domain.ModuleSocket),
					)
				}
				return
			}

			switch req.Type {
			case "h": // heartbeat
			default:
				slog.InfoContext(
					ctx, "Unknown request type",
					slog.String("type", req.Type),
					slog.String("module", domain.ModuleSocket),
				)
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-output:
			err := ws.WriteJSON(event)
			if err != nil {
				slog.ErrorContext(
					ctx, "Error writing message",
					slog.String("error", err.Error()),
					slog.String("module", domain.ModuleSocket),
				)
				return nil
			}
		}
	}
}
