package handler

import (
	"net/http"

	"github.com/blues/fundledger/internal/logic"
	"github.com/gin-gonic/gin"
)

// TokenHandler 活动代币接口
type TokenHandler struct {
	tokenEngine *logic.TokenEngine
}

func NewTokenHandler(services *logic.Services) *TokenHandler {
	return &TokenHandler{tokenEngine: services.Token}
}

// IssueToken 发行活动代币
func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	token, err := h.tokenEngine.IssueToken(c.Request.Context(), logic.IssueTokenRequest{
		CampaignID:    c.Param("id"),
		Name:          req.Name,
		Symbol:        req.Symbol,
		Description:   req.Description,
		IssuerAddress: req.IssuerAddress,
		TotalSupply:   req.TotalSupply,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "token issued", token)
}

func (h *TokenHandler) GetToken(c *gin.Context) {
	token, err := h.tokenEngine.GetToken(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", token)
}

// DistributeTokens 按投资比例发放代币
func (h *TokenHandler) DistributeTokens(c *gin.Context) {
	result, err := h.tokenEngine.DistributeTokens(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "token distribution finished", result)
}

func (h *TokenHandler) GetTokenBalance(c *gin.Context) {
	balance, err := h.tokenEngine.GetTokenBalance(c.Request.Context(), c.Param("id"), c.Param("address"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", balance)
}

func (h *TokenHandler) CheckTrustline(c *gin.Context) {
	status, err := h.tokenEngine.CheckInvestorTrustline(c.Request.Context(), c.Param("id"), c.Param("investorId"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", status)
}
