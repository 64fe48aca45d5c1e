package provisioning

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/brokerdesk/backoffice/pkg/response"
	"github.com/brokerdesk/backoffice/pkg/storage"
)

// Handler serves the provisioning endpoints of the admin panel.
type Handler struct {
	orch     *Orchestrator
	reporter *Reporter
	logger   *zap.Logger
}

// NewHandler creates a provisioning handler.
func NewHandler(orch *Orchestrator, reporter *Reporter, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{orch: orch, reporter: reporter, logger: logger}
}

// Provision handles POST /admin/tenants/provision (JSON or multipart with a "logo" file).
// The run is detached from the request so a disconnecting client does not stop it.
func (h *Handler) Provision(c *gin.Context) {
	var req Request
	if err := c.ShouldBind(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	logo, err := readLogo(c)
	if err != nil {
		response.BadRequest(c, "invalid logo upload")
		return
	}
	req.Logo = logo

	result, err := h.orch.Provision(context.WithoutCancel(c.Request.Context()), &req)
	if err != nil {
		h.writeError(c, result, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"tenant_id":    result.TenantID,
		"progress_key": result.ProgressKey,
	})
}

func (h *Handler) writeError(c *gin.Context, result *Result, err error) {
	var verr *ValidationError
	var cerr *ConflictError
	var serr *StepError
	switch {
	case errors.As(err, &verr):
		response.Unprocessable(c, "validation failed", verr.Fields)
	case errors.As(err, &cerr):
		response.ConflictFields(c, "subdomain or domain already taken", cerr.Fields)
	case errors.Is(err, ErrProgressKeyInUse):
		response.ConflictFields(c, err.Error(), map[string]string{"progress_key": "is already in use"})
	case errors.As(err, &serr):
		c.JSON(http.StatusInternalServerError, gin.H{
			"success":      false,
			"error":        serr.Err.Error(),
			"failed_step":  serr.Step,
			"progress_key": serr.ProgressKey,
		})
	default:
		h.logger.Error("provisioning failed", zap.Error(err))
		body := gin.H{"success": false, "error": "provisioning failed"}
		if result != nil {
			body["progress_key"] = result.ProgressKey
		}
		c.JSON(http.StatusInternalServerError, body)
	}
}

// readLogo returns the optional "logo" multipart file. Reads at most one byte
// past the size limit so validation can reject oversized files.
func readLogo(c *gin.Context) (*Logo, error) {
	if c.ContentType() != gin.MIMEMultipartPOSTForm {
		return nil, nil
	}
	fh, err := c.FormFile("logo")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, err
	}
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, storage.MaxLogoFileSize+1))
	if err != nil {
		return nil, err
	}
	return &Logo{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

type progressRequest struct {
	ProgressKey string `json:"progress_key" form:"progress_key"`
}

// Progress handles POST /admin/tenants/provision/progress.
func (h *Handler) Progress(c *gin.Context) {
	var body progressRequest
	_ = c.ShouldBind(&body)
	if body.ProgressKey == "" {
		body.ProgressKey = c.Query("progress_key")
	}
	rec, err := h.reporter.Get(c.Request.Context(), body.ProgressKey)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, rec)
	case errors.Is(err, ErrProgressKeyRequired):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrProgressNotFound):
		c.JSON(http.StatusNotFound, gin.H{"success": false, "status": "unknown", "error": "progress not found or expired"})
	default:
		h.logger.Error("read progress failed", zap.String("progress_key", body.ProgressKey), zap.Error(err))
		response.Internal(c, "failed to read progress")
	}
}
