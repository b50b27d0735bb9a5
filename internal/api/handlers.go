package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/jgoulah/securepeak/internal/peakdata"
)

type handler struct {
	session *peakdata.Session
	timeout time.Duration
	log     zerolog.Logger
}

func (h *handler) flowContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), h.timeout)
}

// GET /api/status
func (h *handler) status(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Status())
}

// GET /api/records?mine=true
func (h *handler) listRecords(c *gin.Context) {
	records := h.session.Records()

	if mine, _ := strconv.ParseBool(c.Query("mine")); mine {
		st := h.session.Status()
		if st.Signer == nil {
			c.JSON(http.StatusPreconditionFailed, gin.H{"error": peakdata.ErrSignerUnavailable.Error()})
			return
		}
		ctx, cancel := h.flowContext(c)
		defer cancel()
		ids, err := h.session.UserRecordIDs(ctx, *st.Signer)
		if err != nil {
			h.fail(c, err)
			return
		}
		records = h.session.RecordsOf(ids)
	}

	c.JSON(http.StatusOK, gin.H{"records": records, "count": len(records)})
}

// GET /api/graph
func (h *handler) graph(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"points": h.session.GraphData()})
}

// POST /api/records/refresh
func (h *handler) refresh(c *gin.Context) {
	ctx, cancel := h.flowContext(c)
	defer cancel()

	switch outcome := h.session.Refresh(ctx); outcome {
	case peakdata.OutcomeBusy:
		c.JSON(http.StatusTooManyRequests, gin.H{"outcome": outcome.String()})
	case peakdata.OutcomeStale:
		c.JSON(http.StatusConflict, gin.H{"outcome": outcome.String(), "message": h.session.Message()})
	case peakdata.OutcomeFailed:
		c.JSON(http.StatusBadGateway, gin.H{"outcome": outcome.String(), "error": h.session.Message()})
	default:
		records := h.session.Records()
		c.JSON(http.StatusOK, gin.H{"outcome": outcome.String(), "records": records, "count": len(records)})
	}
}

type createRequest struct {
	Consumption *uint32 `json:"consumption" binding:"required"`
	Peak        bool    `json:"peak"`
}

// POST /api/records
func (h *handler) createRecord(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	ctx, cancel := h.flowContext(c)
	defer cancel()

	res, err := h.session.Create(ctx, *req.Consumption, req.Peak)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.txResponse(c, http.StatusCreated, res)
}

// POST /api/records/:id/decrypt
func (h *handler) decryptRecord(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}

	ctx, cancel := h.flowContext(c)
	defer cancel()

	res, err := h.session.Decrypt(ctx, id)
	if err != nil {
		h.fail(c, err)
		return
	}
	if h.nonCompleted(c, res.Outcome) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"outcome":     res.Outcome.String(),
		"record_id":   res.RecordID,
		"consumption": res.Consumption,
		"peak":        res.Peak,
	})
}

// POST /api/records/:id/consumption
func (h *handler) updateConsumption(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	var req struct {
		Consumption *uint32 `json:"consumption" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	ctx, cancel := h.flowContext(c)
	defer cancel()

	res, err := h.session.UpdateConsumption(ctx, id, *req.Consumption)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.txResponse(c, http.StatusOK, res)
}

// POST /api/records/:id/peak
func (h *handler) updatePeak(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	var req struct {
		Peak *bool `json:"peak" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}

	ctx, cancel := h.flowContext(c)
	defer cancel()

	res, err := h.session.UpdatePeak(ctx, id, *req.Peak)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.txResponse(c, http.StatusOK, res)
}

// POST /api/records/:id/grant
func (h *handler) grantAccess(c *gin.Context) {
	id, ok := recordID(c)
	if !ok {
		return
	}
	var req struct {
		Auditor string `json:"auditor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request", "details": err.Error()})
		return
	}
	if !common.IsHexAddress(req.Auditor) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid auditor address format"})
		return
	}

	ctx, cancel := h.flowContext(c)
	defer cancel()

	res, err := h.session.GrantAccess(ctx, id, common.HexToAddress(req.Auditor))
	if err != nil {
		h.fail(c, err)
		return
	}
	h.txResponse(c, http.StatusOK, res)
}

func (h *handler) txResponse(c *gin.Context, status int, res peakdata.TxResult) {
	if h.nonCompleted(c, res.Outcome) {
		return
	}
	body := gin.H{
		"outcome":        res.Outcome.String(),
		"tx_hash":        res.TxHash.Hex(),
		"receipt_status": res.Status,
	}
	if res.HasRecordID {
		body["record_id"] = res.RecordID
	}
	c.JSON(status, body)
}

// nonCompleted writes the response for busy and stale outcomes
func (h *handler) nonCompleted(c *gin.Context, outcome peakdata.Outcome) bool {
	switch outcome {
	case peakdata.OutcomeBusy:
		c.JSON(http.StatusTooManyRequests, gin.H{"outcome": outcome.String()})
		return true
	case peakdata.OutcomeStale:
		c.JSON(http.StatusConflict, gin.H{"outcome": outcome.String(), "message": h.session.Message()})
		return true
	}
	return false
}

func (h *handler) fail(c *gin.Context, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, peakdata.ErrNotDeployed),
		errors.Is(err, peakdata.ErrInstanceNotReady),
		errors.Is(err, peakdata.ErrSignerUnavailable),
		errors.Is(err, peakdata.ErrSignatureUnavailable):
		status = http.StatusPreconditionFailed
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}
	h.log.Warn().Err(err).Int("status", status).Str("path", c.FullPath()).Msg("request failed")
	c.JSON(status, gin.H{"error": err.Error(), "message": h.session.Message()})
}

func recordID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record id"})
		return 0, false
	}
	return id, true
}
