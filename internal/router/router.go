package router

import (
	"github.com/blues/fundledger/internal/handler"
	"github.com/blues/fundledger/internal/logic"
	"github.com/gin-gonic/gin"
)

func Setup(services *logic.Services) *gin.Engine {
	r := gin.Default()

	// 中间件
	r.Use(corsMiddleware())

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "fundledger",
		})
	})

	campaignHandler := handler.NewCampaignHandler(services)
	investmentHandler := handler.NewInvestmentHandler(services)
	tokenHandler := handler.NewTokenHandler(services)
	dividendHandler := handler.NewDividendHandler(services)

	// API版本组
	v1 := r.Group("/api/v1")
	{
		campaigns := v1.Group("/campaigns")
		{
			campaigns.POST("", campaignHandler.CreateCampaign)
			campaigns.GET("/:id", campaignHandler.GetCampaign)
			campaigns.POST("/:id/activate", campaignHandler.ActivateCampaign)
			campaigns.POST("/:id/escrows/release", investmentHandler.ReleaseCampaignEscrows)

			campaigns.POST("/:id/token", tokenHandler.IssueToken)
			campaigns.GET("/:id/token", tokenHandler.GetToken)
			campaigns.POST("/:id/token/distribute", tokenHandler.DistributeTokens)
			campaigns.GET("/:id/token/balance/:address", tokenHandler.GetTokenBalance)
			campaigns.GET("/:id/token/trustline/:investorId", tokenHandler.CheckTrustline)

			campaigns.POST("/:id/dividends", dividendHandler.CreateDividend)
			campaigns.GET("/:id/dividends", dividendHandler.ListCampaignDividends)
		}

		investors := v1.Group("/investors")
		{
			investors.POST("", campaignHandler.CreateInvestor)
			investors.GET("/:id", campaignHandler.GetInvestor)
			investors.GET("/:id/investments", investmentHandler.ListInvestorInvestments)
		}

		investments := v1.Group("/investments")
		{
			investments.POST("", investmentHandler.CreateInvestment)
			investments.GET("/:id", investmentHandler.GetInvestment)
			investments.POST("/:id/confirm", investmentHandler.ConfirmInvestment)
			investments.POST("/:id/escrow", investmentHandler.CreateEscrow)
		}

		v1.POST("/escrows/check-and-release", investmentHandler.CheckAndReleaseEscrows)

		dividends := v1.Group("/dividends")
		{
			dividends.GET("/:id/status", dividendHandler.GetDividendStatus)
			dividends.POST("/:id/resume", dividendHandler.ResumeDividend)
		}
	}

	return r
}

// CORS中间件
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
