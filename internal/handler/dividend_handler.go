package handler

import (
	"net/http"
	"strconv"

	"github.com/blues/fundledger/internal/logic"
	"github.com/blues/fundledger/internal/model"
	"github.com/gin-gonic/gin"
)

// DividendHandler 分红接口
type DividendHandler struct {
	dividendEngine *logic.DividendEngine
}

func NewDividendHandler(services *logic.Services) *DividendHandler {
	return &DividendHandler{dividendEngine: services.Dividend}
}

// CreateDividend 创建并派发分红，async=true 时落库后立即返回
func (h *DividendHandler) CreateDividend(c *gin.Context) {
	var req CreateDividendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	distributionType, err := model.ParseDistributionType(req.DistributionType)
	if err != nil {
		HandleError(c, logic.ErrInvalidDistributionType.Withf("%v", err))
		return
	}
	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))

	params := logic.CreateDividendRequest{
		CampaignID:       c.Param("id"),
		TotalAmount:      req.TotalAmount,
		Asset:            req.Asset,
		IssuerAddress:    req.IssuerAddress,
		DistributionType: distributionType,
	}

	if async {
		dividend, err := h.dividendEngine.CreateDividendAsync(c.Request.Context(), params)
		if err != nil {
			HandleError(c, err)
			return
		}
		SuccessResponse(c, http.StatusAccepted, "dividend distribution started", dividend)
		return
	}

	outcome, err := h.dividendEngine.CreateDividend(c.Request.Context(), params)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "dividend distributed", outcome)
}

// ListCampaignDividends 活动分红列表
func (h *DividendHandler) ListCampaignDividends(c *gin.Context) {
	dividends, err := h.dividendEngine.ListCampaignDividends(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", dividends)
}

func (h *DividendHandler) GetDividendStatus(c *gin.Context) {
	progress, err := h.dividendEngine.GetDividendStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", progress)
}

// ResumeDividend 重发失败和未完成的支付
func (h *DividendHandler) ResumeDividend(c *gin.Context) {
	outcome, err := h.dividendEngine.ResumeDividend(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "dividend resumed", outcome)
}
