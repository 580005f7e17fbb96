package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"cellvault/internal/audit"
	"cellvault/internal/core"
	"cellvault/internal/export"
	"cellvault/internal/failure"
	"cellvault/internal/mutation"
)

type handlers struct {
	svc *core.Service
}

type updateRequest struct {
	Changes []mutation.ChangeRequest `json:"changes"`
}

type updateResponse struct {
	ChangesApplied int            `json:"changes_applied"`
	Version        string         `json:"version,omitempty"`
	Warning        *failureBody   `json:"warning,omitempty"`
	Changes        []changeResult `json:"changes,omitempty"`
}

type changeResult struct {
	Sheet    string `json:"sheet"`
	Cell     string `json:"cell"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

type failureBody struct {
	Error string       `json:"error"`
	Kind  failure.Kind `json:"kind"`
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "ts": time.Now().UTC().Format(time.RFC3339Nano)})
}

func (h *handlers) ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "pong"})
}

func (h *handlers) publicURL(c *gin.Context) {
	u, err := h.svc.PublicURL(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": u})
}

func (h *handlers) download(c *gin.Context) {
	info, b, err := h.svc.Download(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", h.svc.Document().Name))
	if info.ETag != "" {
		c.Header("ETag", strconv.Quote(info.ETag))
	}
	c.Data(http.StatusOK, mutation.ContentTypeXLSX, b)
}

func (h *handlers) sheets(c *gin.Context) {
	names, err := h.svc.Sheets(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sheets": names})
}

func (h *handlers) cell(c *gin.Context) {
	view, err := h.svc.Cell(c.Request.Context(), c.Query("sheet"), c.Query("cell"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) preview(c *gin.Context) {
	rows, err := intQuery(c, "rows")
	if err != nil {
		writeError(c, err)
		return
	}
	cols, err := intQuery(c, "cols")
	if err != nil {
		writeError(c, err)
		return
	}
	view, err := h.svc.Preview(c.Request.Context(), c.Query("sheet"), rows, cols)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *handlers) metadata(c *gin.Context) {
	md, err := h.svc.Metadata(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, md)
}

func (h *handlers) export(c *gin.Context) {
	a, err := h.svc.Export(c.Request.Context(), export.Format(c.Param("format")), c.Query("sheet"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", a.Filename))
	c.Data(http.StatusOK, a.ContentType, a.Payload)
}

func (h *handlers) update(c *gin.Context) {
	var req updateRequest
	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, failureBody{Error: fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit), Kind: failure.KindValidation})
			return
		}
		writeError(c, failure.Wrap(failure.KindValidation, err, "invalid JSON body"))
		return
	}
	out, err := h.svc.ApplyChanges(c.Request.Context(), GetIdentity(c), req.Changes)
	if err != nil {
		writeError(c, err)
		return
	}
	resp := updateResponse{ChangesApplied: out.Applied, Version: out.Handle.Version}
	for _, r := range out.Changes {
		resp.Changes = append(resp.Changes, changeResult{Sheet: r.Sheet, Cell: r.Cell, OldValue: r.Old, NewValue: r.New})
	}
	if out.Warning != nil {
		resp.Warning = &failureBody{Error: out.Warning.Error(), Kind: out.Warning.Kind}
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) audit(c *gin.Context) {
	limit, err := intQuery(c, "limit")
	if err != nil {
		writeError(c, err)
		return
	}
	recs, err := h.svc.QueryAudit(c.Request.Context(), GetIdentity(c), c.Query("user"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"logs": recs})
}

func (h *handlers) me(c *gin.Context) {
	c.JSON(http.StatusOK, GetIdentity(c))
}

func (h *handlers) selfEdit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"instruction": "Set user_metadata.can_edit=true for your account through the identity provider's session update API.",
	})
}

func (h *handlers) guide(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"note": "Roles come from the identity provider's user metadata and are read on every request.",
		"steps": []string{
			"Mark the first account as admin (user_metadata.role=admin).",
			"New users default to role=user without edit rights.",
			"Grant edit rights by setting user_metadata.can_edit=true for that user.",
			"Admins can always edit and can read every user's audit records.",
		},
	})
}

func intQuery(c *gin.Context, name string) (int, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, failure.New(failure.KindValidation, "%s must be a non-negative integer", name)
	}
	return n, nil
}

// writeError renders err as {"error", "kind"} with the kind's status.
func writeError(c *gin.Context, err error) {
	kind := failure.KindOf(err)
	status := failure.HTTPStatus(kind)
	if status >= http.StatusInternalServerError {
		slog.Default().Error("request failed",
			slog.String("route", c.FullPath()), slog.String("kind", string(kind)), slog.Any("error", err))
	}
	c.JSON(status, failureBody{Error: err.Error(), Kind: kind})
}
