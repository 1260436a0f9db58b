package handler

import (
	"net/http"

	"github.com/blues/fundledger/internal/logic"
	"github.com/gin-gonic/gin"
)

// InvestmentHandler 投资确认与托管接口
type InvestmentHandler struct {
	investmentLogic *logic.InvestmentLogic
	escrowManager   *logic.EscrowManager
}

func NewInvestmentHandler(services *logic.Services) *InvestmentHandler {
	return &InvestmentHandler{
		investmentLogic: services.Investment,
		escrowManager:   services.Escrow,
	}
}

// CreateInvestment 创建投资意向，返回托管条件与平台地址
func (h *InvestmentHandler) CreateInvestment(c *gin.Context) {
	var req CreateInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	intent, err := h.investmentLogic.CreateInvestmentIntent(c.Request.Context(), req.CampaignID, req.InvestorID, req.Amount)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "investment created", intent)
}

// GetInvestment 查询单笔投资
func (h *InvestmentHandler) GetInvestment(c *gin.Context) {
	investment, err := h.investmentLogic.GetInvestment(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", investment)
}

// ListInvestorInvestments 投资人的投资列表
func (h *InvestmentHandler) ListInvestorInvestments(c *gin.Context) {
	investments, err := h.investmentLogic.ListInvestorInvestments(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", investments)
}

// ConfirmInvestment 用账本交易哈希确认投资
func (h *InvestmentHandler) ConfirmInvestment(c *gin.Context) {
	var req ConfirmInvestmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.investmentLogic.ConfirmInvestment(c.Request.Context(), c.Param("id"), req.TransactionHash)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "investment confirmed", result)
}

// CreateEscrow 平台代投资人提交托管
func (h *InvestmentHandler) CreateEscrow(c *gin.Context) {
	var req CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	investment, err := h.escrowManager.CreateEscrow(c.Request.Context(), c.Param("id"), req.OwnerKey, req.FinishAfter)
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "escrow created", investment)
}

// ReleaseCampaignEscrows 释放活动托管
func (h *InvestmentHandler) ReleaseCampaignEscrows(c *gin.Context) {
	result, err := h.escrowManager.ReleaseCampaignEscrows(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "escrow release finished", result)
}

// CheckAndReleaseEscrows 扫描全部已达标活动
func (h *InvestmentHandler) CheckAndReleaseEscrows(c *gin.Context) {
	releases, err := h.escrowManager.CheckAndReleaseEscrows(c.Request.Context())
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "escrow sweep finished", releases)
}
