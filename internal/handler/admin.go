package handler

import (
	"net/http"
	"shipping-escrow/internal/domain"
	"shipping-escrow/internal/service"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

type AdminHandler struct {
	admin service.AdminService
}

func NewAdminHandler(admin service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

type oracleDetailsRequest struct {
	Oracle    string `json:"oracle" binding:"required"`
	Reference string `json:"reference"`
	JobID     string `json:"job_id" binding:"required"`
	Fee       int64  `json:"fee"`
}

func (h *AdminHandler) GetOracleDetails(c *gin.Context) {
	details, err := h.admin.OracleDetails(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(details))
}

func (h *AdminHandler) UpdateOracleDetails(c *gin.Context) {
	caller, _ := GetCaller(c)
	var req oracleDetailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !common.IsHexAddress(req.Oracle) {
		badRequest(c, "oracle must be a hex address")
		return
	}
	reference := common.Address{}
	if ref := strings.TrimSpace(req.Reference); ref != "" {
		if !common.IsHexAddress(ref) {
			badRequest(c, "reference must be a hex address")
			return
		}
		reference = common.HexToAddress(ref)
	}

	details, err := h.admin.UpdateOracleDetails(c.Request.Context(), caller, domain.OracleDetails{
		Oracle:    common.HexToAddress(req.Oracle),
		Reference: reference,
		JobID:     strings.TrimSpace(req.JobID),
		Fee:       req.Fee,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.toResponse(details))
}

func (h *AdminHandler) toResponse(d domain.OracleDetails) oracleDetailsResponse {
	resp := oracleDetailsResponse{
		Owner:     h.admin.Owner().Hex(),
		Oracle:    d.Oracle.Hex(),
		Reference: d.Reference.Hex(),
		JobID:     d.JobID,
		Fee:       d.Fee,
	}
	if !d.UpdatedAt.IsZero() {
		at := d.UpdatedAt.UTC()
		resp.UpdatedAt = &at
	}
	return resp
}
