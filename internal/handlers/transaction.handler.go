package handlers

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/nimasrn/transaction-guard/internal/model"
	"github.com/nimasrn/transaction-guard/internal/services"
	xhttp "github.com/nimasrn/transaction-guard/pkg/http"
	"github.com/nimasrn/transaction-guard/pkg/logger"
	"github.com/nimasrn/transaction-guard/pkg/prom"
)

const (
	uploadFormField   = "file"
	emailFormField    = "email"
	emailHeader       = "X-User-Email"
	uploadAcceptedMsg = "File received and will be processed"
)

type UploadService interface {
	Check(u services.Upload) error
	Stage(ctx context.Context, u services.Upload) (*model.IngestionJob, error)
}

type TransactionService interface {
	List(ctx context.Context, f model.TransactionFilter) ([]*model.Transaction, error)
	Delete(ctx context.Context, id int64) error
	VolumeByPeriod(ctx context.Context) (model.VolumeByPeriod, error)
	TopMerchants(ctx context.Context) ([]string, error)
	FraudReport(ctx context.Context) (*model.FraudReport, error)
}

type TransactionHandler struct {
	uploads UploadService
	svc     TransactionService
}

func RegisterTransactionRoutes(r *xhttp.Router, h *TransactionHandler) {
	r.POST("/transactions/upload", h.Upload)
	r.GET("/transactions", h.List)
	r.DELETE("/transactions/{id}", h.Delete)
	r.GET("/transactions/analysis/volume-by-period", h.VolumeByPeriod)
	r.GET("/transactions/analysis/merchants/top-10-by-transaction-volume", h.TopMerchants)
	r.GET("/transactions/analysis/posible-fraudalents", h.FraudReport)
}

func NewTransactionHandler(uploads UploadService, svc TransactionService) *TransactionHandler {
	return &TransactionHandler{
		uploads: uploads,
		svc:     svc,
	}
}

/* --------------------------------- Routes ----------------------------------- */

func (h *TransactionHandler) Upload(ctx *xhttp.RequestCtx) {
	fh, err := ctx.FormFile(uploadFormField)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "multipart field \"file\" is required")
		return
	}

	u := services.Upload{
		FileName:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Email:       string(ctx.FormValue(emailFormField)),
	}
	if strings.TrimSpace(u.Email) == "" {
		u.Email = string(ctx.Request.Header.Peek(emailHeader))
	}

	// reject on metadata before reading the body
	if err := h.uploads.Check(u); err != nil {
		writeUploadError(ctx, err)
		return
	}

	f, err := fh.Open()
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "cannot read uploaded file")
		return
	}
	defer f.Close()

	u.Data, err = io.ReadAll(f)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "cannot read uploaded file")
		return
	}

	if _, err := h.uploads.Stage(ctx, u); err != nil {
		writeUploadError(ctx, err)
		return
	}

	prom.IncUpload("staged")
	writeJSON(ctx, xhttp.StatusAccepted, map[string]string{"message": uploadAcceptedMsg})
}

func writeUploadError(ctx *xhttp.RequestCtx, err error) {
	outcome := "rejected"
	defer func() { prom.IncUpload(outcome) }()

	switch {
	case errors.Is(err, services.ErrFileTooLarge):
		writeError(ctx, xhttp.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, services.ErrUnsupportedFileType):
		writeError(ctx, xhttp.StatusUnsupportedMediaType, err.Error())
	case errors.Is(err, services.ErrEmptyFile), errors.Is(err, services.ErrMissingEmail):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	default:
		outcome = "error"
		logger.Error("failed to accept upload", "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, "file could not be accepted, try again later")
	}
}

func (h *TransactionHandler) List(ctx *xhttp.RequestCtx) {
	var f model.TransactionFilter

	if v := query(ctx, "user_id"); v != "" {
		f.UserID = &v
	}
	if v := query(ctx, "merchant"); v != "" {
		f.Merchant = &v
	}
	if v := query(ctx, "from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "invalid from: "+v)
			return
		}
		f.From = &t
	}
	if v := query(ctx, "to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "invalid to: "+v)
			return
		}
		f.To = &t
	}

	txns, err := h.svc.List(ctx, f)
	if err != nil {
		logger.Error("failed to list transactions", "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
		return
	}

	items := make([]transactionResponse, 0, len(txns))
	for _, t := range txns {
		items = append(items, toTransactionResponse(t))
	}
	writeJSON(ctx, xhttp.StatusOK, items)
}

func (h *TransactionHandler) Delete(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "id must be an integer")
		return
	}

	err = h.svc.Delete(ctx, id)
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(ctx, xhttp.StatusNotFound, "transaction not found")
	case err != nil:
		logger.Error("failed to delete transaction", "id", id, "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
	default:
		ctx.SetStatusCode(xhttp.StatusNoContent)
	}
}

func (h *TransactionHandler) VolumeByPeriod(ctx *xhttp.RequestCtx) {
	v, err := h.svc.VolumeByPeriod(ctx)
	if err != nil {
		logger.Error("failed to compute volume by period", "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
		return
	}
	writeJSON(ctx, xhttp.StatusOK, v)
}

func (h *TransactionHandler) TopMerchants(ctx *xhttp.RequestCtx) {
	names, err := h.svc.TopMerchants(ctx)
	if err != nil {
		logger.Error("failed to compute top merchants", "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
		return
	}
	writeJSON(ctx, xhttp.StatusOK, names)
}

func (h *TransactionHandler) FraudReport(ctx *xhttp.RequestCtx) {
	report, err := h.svc.FraudReport(ctx)
	if err != nil {
		logger.Error("failed to compute fraud report", "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
		return
	}
	writeJSON(ctx, xhttp.StatusOK, report)
}
