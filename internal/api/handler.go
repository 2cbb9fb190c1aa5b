package api

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"eventattend/internal/attendance"
	"eventattend/internal/auth"
	"eventattend/internal/faces"
	"eventattend/internal/gateway"
	"eventattend/internal/review"
)

// maxPhotoBytes bounds uploaded face photos.
const maxPhotoBytes = 10 << 20

// Handler holds the HTTP handlers.
type Handler struct {
	att    *attendance.Service
	review *review.List
	faces  *faces.Registry
	issuer auth.Issuer
	admin  *auth.Admin
	health map[string]HealthCheck
}

func New(d Deps) *Handler {
	return &Handler{
		att:    d.Attendance,
		review: d.Review,
		faces:  d.Faces,
		issuer: d.Issuer,
		admin:  d.Admin,
		health: d.Health,
	}
}

// writeError maps service errors to status codes.
func writeError(c *gin.Context, err error) {
	var rej *attendance.Rejection
	switch {
	case errors.As(err, &rej):
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":      rej.Reason.Label(),
			"reason":     rej.Reason,
			"attempt_id": rej.AttemptID,
		})
	case errors.Is(err, attendance.ErrMissingInput),
		errors.Is(err, attendance.ErrInvalidTimeRange),
		errors.Is(err, attendance.ErrInvalidPerimeter),
		errors.Is(err, attendance.ErrInvalidFilter),
		errors.Is(err, review.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrEventNotFound),
		errors.Is(err, attendance.ErrFaceNotFound),
		errors.Is(err, attendance.ErrAttemptNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, attendance.ErrEventEnded),
		errors.Is(err, attendance.ErrDuplicateFace):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// ---------- Health ----------

func (h *Handler) Healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// ---------- Auth ----------

func (h *Handler) RegisterDevice(c *gin.Context) {
	var req struct {
		DeviceID string `json:"device_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	if err := h.att.RegisterDevice(ctx, req.DeviceID); err != nil {
		writeError(c, err)
		return
	}
	tokens, err := h.issuer.Issue(req.DeviceID, auth.RoleDevice)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	if err := h.att.SaveRefreshToken(ctx, req.DeviceID, tokens.RefreshToken, tokens.RefreshExp); err != nil {
		log.Printf("save refresh token for %s: %v", req.DeviceID, err)
	}
	c.JSON(http.StatusCreated, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
	})
}

func (h *Handler) AdminLogin(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.admin.Check(req.Username, req.Password); err != nil {
		if errors.Is(err, auth.ErrAdminDisabled) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	tokens, err := h.issuer.Issue(req.Username, auth.RoleAdmin)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token": tokens.AccessToken,
		"expires_at":   tokens.AccessExp.Unix(),
	})
}

// ---------- Events ----------

// ListEvents is public so kiosks can offer the open events.
func (h *Handler) ListEvents(c *gin.Context) {
	events, err := h.att.ListEvents(c.Request.Context(), c.Query("status"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (h *Handler) CreateEvent(c *gin.Context) {
	var in attendance.EventInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e, err := h.att.CreateEvent(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

func (h *Handler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	d, err := h.att.Dashboard(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	counts, err := h.review.Counts(ctx)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"activeEvents": d.Active,
		"pastEvents":   d.Past,
		"faceCount":    d.FaceCount,
		"attempts":     counts,
	})
}

func (h *Handler) ListAttendees(c *gin.Context) {
	attendees, err := h.att.ListAttendees(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attendees": attendees})
}

func (h *Handler) ExportAttendees(c *gin.Context) {
	id := c.Param("id")
	// Buffered so a missing event still yields a JSON error.
	var buf bytes.Buffer
	if err := h.att.ExportAttendees(c.Request.Context(), id, &buf); err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="event-`+id+`-attendees.csv"`)
	c.Data(http.StatusOK, "text/csv; charset=utf-8", buf.Bytes())
}

// ---------- Attendance ----------

func (h *Handler) SubmitAttendance(c *gin.Context) {
	var p gateway.Payload
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	photo, err := gateway.DecodePhoto(p.Photo)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	device := p.DeviceInfo
	if device == "" {
		if claims, ok := auth.FromContext(c); ok {
			device = claims.Subject
		}
	}

	receipt, err := h.att.Submit(c.Request.Context(), attendance.Submission{
		EventID:    p.EventID,
		Photo:      photo,
		Location:   p.Location,
		Address:    p.Address,
		DeviceInfo: device,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, receipt)
}

// ---------- Review ----------

func (h *Handler) ListAttempts(c *gin.Context) {
	attempts, err := h.review.Filter(c.Request.Context(), review.Filter{
		EventID: c.Query("event"),
		Status:  c.Query("status"),
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": attempts})
}

func (h *Handler) ApproveAttempt(c *gin.Context) {
	a, changed, err := h.review.Approve(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempt": a, "changed": changed})
}

func (h *Handler) DeclineAttempt(c *gin.Context) {
	a, changed, err := h.review.Decline(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempt": a, "changed": changed})
}

// ---------- Faces ----------

func (h *Handler) ListFaces(c *gin.Context) {
	list, err := h.faces.List(c.Request.Context(), c.Query("search"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"faces": list})
}

type registerFaceRequest struct {
	Name               string `form:"name" binding:"required"`
	RegistrationNumber string `form:"registration_number" binding:"required"`
}

// RegisterFace expects a multipart form with name, registration_number and photo (file).
func (h *Handler) RegisterFace(c *gin.Context) {
	var req registerFaceRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	file, _, err := c.Request.FormFile("photo")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "photo file is required"})
		return
	}
	defer file.Close()
	photo, err := io.ReadAll(io.LimitReader(file, maxPhotoBytes+1))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read photo"})
		return
	}
	if len(photo) > maxPhotoBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "photo too large"})
		return
	}

	rec, err := h.faces.Register(c.Request.Context(), req.Name, req.RegistrationNumber, photo)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h *Handler) DeleteFace(c *gin.Context) {
	if err := h.faces.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
