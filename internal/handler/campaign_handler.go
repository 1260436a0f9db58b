package handler

import (
	"net/http"

	"github.com/blues/fundledger/internal/logic"
	"github.com/gin-gonic/gin"
)

// CampaignHandler 活动与投资人接口
type CampaignHandler struct {
	campaignLogic *logic.CampaignLogic
}

func NewCampaignHandler(services *logic.Services) *CampaignHandler {
	return &CampaignHandler{campaignLogic: services.Campaign}
}

// CreateCampaign 创建活动
func (h *CampaignHandler) CreateCampaign(c *gin.Context) {
	var req CreateCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	campaign, err := h.campaignLogic.CreateCampaign(c.Request.Context(), logic.CreateCampaignRequest{
		Title:       req.Title,
		Description: req.Description,
		OwnerID:     req.OwnerID,
		GoalAmount:  req.GoalAmount,
		StartDate:   req.StartDate,
		EndDate:     req.EndDate,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "campaign created", campaign)
}

// ActivateCampaign 开始募资
func (h *CampaignHandler) ActivateCampaign(c *gin.Context) {
	campaign, err := h.campaignLogic.ActivateCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "campaign activated", campaign)
}

// GetCampaign 活动详情
func (h *CampaignHandler) GetCampaign(c *gin.Context) {
	campaign, err := h.campaignLogic.GetCampaign(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", campaign)
}

// CreateInvestor 登记投资人
func (h *CampaignHandler) CreateInvestor(c *gin.Context) {
	var req CreateInvestorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	investor, err := h.campaignLogic.CreateInvestor(c.Request.Context(), logic.CreateInvestorRequest{
		Name:          req.Name,
		Email:         req.Email,
		WalletAddress: req.WalletAddress,
	})
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusCreated, "investor created", investor)
}

func (h *CampaignHandler) GetInvestor(c *gin.Context) {
	investor, err := h.campaignLogic.GetInvestor(c.Request.Context(), c.Param("id"))
	if err != nil {
		HandleError(c, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "ok", investor)
}
