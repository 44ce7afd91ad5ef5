package api

import (
	"encoding/base64"
	"net"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"loghold/internal/indexer"
	"loghold/internal/ingest"
	"loghold/internal/journal"
	"loghold/internal/logger"
	"loghold/internal/users"
	pkgerrors "loghold/pkg/errors"
)

// Handler exposes the node's operational surface: deflector state and
// cycling, message ingestion, and account management.
type Handler struct {
	deflector *indexer.Deflector
	ingest    *ingest.Service
	users     users.Repository
	log       logger.Logger
}

func NewHandler(deflector *indexer.Deflector, ingestSvc *ingest.Service, userRepo users.Repository, log logger.Logger) *Handler {
	return &Handler{
		deflector: deflector,
		ingest:    ingestSvc,
		users:     userRepo,
		log:       log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		system := v1.Group("/system")
		{
			system.GET("/deflector", h.GetDeflector)
			system.POST("/deflector/cycle", h.CycleDeflector)
			system.GET("/indices", h.ListIndices)
		}

		v1.POST("/messages", h.IngestMessage)

		accounts := v1.Group("/users")
		{
			accounts.GET("", h.ListUsers)
			accounts.GET("/:username", h.GetUser)
			accounts.PUT("/:username", h.SaveUser)
			accounts.DELETE("/:username", h.DeleteUser)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.log.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)
	c.JSON(pkgerrors.ToHTTPStatus(err), pkgerrors.ToErrorResponse(err))
}

type deflectorResponse struct {
	AliasName     string `json:"alias_name"`
	IsUp          bool   `json:"is_up"`
	CurrentTarget string `json:"current_target,omitempty"`
}

func (h *Handler) GetDeflector(c *gin.Context) {
	ctx := c.Request.Context()

	resp := deflectorResponse{
		AliasName: h.deflector.Name(),
		IsUp:      h.deflector.IsUp(ctx),
	}
	if resp.IsUp {
		target, err := h.deflector.CurrentTarget(ctx)
		if err != nil {
			h.handleError(c, err)
			return
		}
		resp.CurrentTarget = target
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) CycleDeflector(c *gin.Context) {
	if err := h.deflector.Cycle(c.Request.Context()); err != nil {
		h.handleError(c, err)
		return
	}

	target, err := h.deflector.CurrentTarget(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"current_target": target})
}

type indexSummary struct {
	Name           string `json:"name"`
	Documents      int64  `json:"documents"`
	StoreSizeBytes int64  `json:"store_size_bytes"`
}

func (h *Handler) ListIndices(c *gin.Context) {
	stats, err := h.deflector.ManagedIndices(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	summaries := make([]indexSummary, 0, len(stats))
	for name, s := range stats {
		summaries = append(summaries, indexSummary{
			Name:           name,
			Documents:      s.Documents,
			StoreSizeBytes: s.StoreSizeBytes,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Name < summaries[j].Name })

	c.JSON(http.StatusOK, summaries)
}

type ingestRequest struct {
	Payload     string                 `json:"payload" binding:"required"`
	CodecName   string                 `json:"codec_name" binding:"required"`
	CodecConfig map[string]interface{} `json:"codec_config"`
	InputID     string                 `json:"input_id" binding:"required"`
}

func (h *Handler) IngestMessage(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkgerrors.ToErrorResponse(pkgerrors.ErrValidation.WithCause(err)))
		return
	}

	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		c.JSON(http.StatusBadRequest, pkgerrors.ToErrorResponse(
			pkgerrors.ErrValidation.WithDetail("message", "payload must be base64 encoded")))
		return
	}

	in := ingest.Input{
		Payload:     payload,
		CodecName:   req.CodecName,
		CodecConfig: journal.CodecConfig(req.CodecConfig),
		InputID:     req.InputID,
	}

	if ip := net.ParseIP(c.ClientIP()); ip != nil {
		if v4 := ip.To4(); v4 != nil {
			in.RemoteAddr = v4
		} else {
			in.RemoteAddr = ip
		}
	}

	msg, err := h.ingest.Ingest(c.Request.Context(), in)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message_id": msg.ID().String()})
}

type userResponse struct {
	Username    string   `json:"username"`
	Email       string   `json:"email"`
	FullName    string   `json:"full_name"`
	Permissions []string `json:"permissions"`
	ReadOnly    bool     `json:"read_only"`
}

func toUserResponse(u *users.User) userResponse {
	return userResponse{
		Username:    u.Username,
		Email:       u.Email,
		FullName:    u.FullName,
		Permissions: u.Permissions,
		ReadOnly:    u.IsReadOnly(),
	}
}

func (h *Handler) ListUsers(c *gin.Context) {
	list, err := h.users.List(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}

	resp := make([]userResponse, 0, len(list))
	for _, u := range list {
		resp = append(resp, toUserResponse(u))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) GetUser(c *gin.Context) {
	user, err := h.users.GetByName(c.Request.Context(), c.Param("username"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

type saveUserRequest struct {
	Email       string   `json:"email" binding:"required"`
	FullName    string   `json:"full_name"`
	Password    string   `json:"password" binding:"required"`
	Permissions []string `json:"permissions"`
}

func (h *Handler) SaveUser(c *gin.Context) {
	var req saveUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, pkgerrors.ToErrorResponse(pkgerrors.ErrValidation.WithCause(err)))
		return
	}

	permissions := req.Permissions
	if permissions == nil {
		permissions = []string{}
	}

	hash, err := users.HashPassword(req.Password)
	if err != nil {
		h.handleError(c, err)
		return
	}

	user := &users.User{
		Kind:           users.KindLocal,
		Username:       c.Param("username"),
		Email:          req.Email,
		FullName:       req.FullName,
		HashedPassword: hash,
		Permissions:    permissions,
	}

	if err := h.users.Save(c.Request.Context(), user); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toUserResponse(user))
}

func (h *Handler) DeleteUser(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), c.Param("username")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
