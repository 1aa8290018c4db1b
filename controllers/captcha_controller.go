package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cppla/countdownstack/utils"
)

// CaptchaController hands out captchas for dashboard creation.
type CaptchaController struct {
	enabled bool
}

// NewCaptchaController creates a CaptchaController.
func NewCaptchaController(enabled bool) *CaptchaController {
	return &CaptchaController{enabled: enabled}
}

// Captcha returns a fresh captcha id and base64 image (data URI)
func (c *CaptchaController) Captcha(ctx *gin.Context) {
	if !c.enabled {
		utils.Success(ctx, gin.H{"enabled": false})
		return
	}
	id, b64, err := utils.GenerateCaptcha()
	if err != nil {
		utils.Error(ctx, http.StatusInternalServerError, 50060, "failed to generate captcha")
		return
	}
	utils.Success(ctx, gin.H{"enabled": true, "id": id, "image": b64})
}
