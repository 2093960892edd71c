// Signature HTTP handler.
//
// POST /wechat/signature returns the JS-SDK configuration for a page URL.
// Issuance is wrapped in the retry policy; any failure left after the
// retries is a 500 with a generic message.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/match-results-backend/internal/credential"
	"github.com/tbourn/match-results-backend/internal/query"
	"github.com/tbourn/match-results-backend/internal/retry"
)

// SignatureRequest is the JSON payload for POST /wechat/signature.
type SignatureRequest struct {
	// URL is the page to sign. Any #fragment is ignored.
	URL string `json:"url" binding:"required" example:"https://example.com/result?id=42"`
}

// SignatureResponse documents the signature payload.
type SignatureResponse = credential.Signature

// Signature godoc
// @ID          wechatSignature
// @Summary     Sign a page for the WeChat JS-SDK
// @Description Returns appId, timestamp, nonceStr and signature for the given page URL.
// @Tags        WeChat
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.SignatureRequest   true  "Page to sign"
// @Success     200   {object}  handlers.SignatureResponse  "Signature"
// @Failure     400   {object}  handlers.ErrorResponse      "Missing url"
// @Failure     500   {object}  handlers.ErrorResponse      "Signing failed"
// @Router      /wechat/signature [post]
func (h *Handlers) Signature(c *gin.Context) {
	var req SignatureRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		failValidation(c, query.NewValidationError("url", "required", "is required"))
		return
	}

	issue := func(ctx context.Context) (*credential.Signature, error) {
		sig, err := h.sigs.GetSignature(ctx, req.URL)
		if errors.Is(err, credential.ErrURLRequired) {
			return nil, retry.Permanent(err)
		}
		return sig, err
	}

	var (
		sig *credential.Signature
		err error
	)
	if h.retrier != nil {
		sig, err = retry.Value(c.Request.Context(), h.retrier, issue)
	} else {
		sig, err = issue(c.Request.Context())
	}
	if err != nil {
		failErr(c, err, ErrCodeSignatureFailed)
		return
	}
	ok(c, http.StatusOK, sig)
}
