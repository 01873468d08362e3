package httpapi

import (
	"errors"
	"net/http"

	"github.com/MrEthical07/authkit"
	"github.com/MrEthical07/authkit/otp"
	"go.uber.org/zap"
)

// Message and error values of the MFA routes.
const (
	CodeNoMFA            = "no-mfa"
	CodeInvalidCode      = "invalid-code"
	CodeTooManyAttempts  = "too-many-attempts"
	CodeTokenNotFound    = "token-not-found"
	CodeAuthenticatorApp = "use-authenticator-app"
	CodeCodeSent         = "code-sent"
	CodeFactorApproved   = "factor-approved"
	CodeMFAApproved      = "mfa-approved"
)

type mfaRequest struct {
	Type string `json:"type"`
	Code string `json:"code"`
}

type mfaResponse struct {
	Status      bool   `json:"status"`
	Message     string `json:"message,omitempty"`
	Error       string `json:"error,omitempty"`
	AccessToken string `json:"access_token,omitempty"`
}

func (a *api) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req mfaRequest
	if err := readJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, CodeInvalidBody)
		return
	}
	d, _ := authkit.DecisionFromContext(r.Context())

	res, err := a.engine.SendOTP(r.Context(), d.Token, req.Type)
	if err != nil {
		a.mfaError(w, err)
		return
	}
	switch res.Outcome {
	case otp.OutcomeSent:
		writeJSON(w, http.StatusOK, mfaResponse{Status: true, Message: CodeCodeSent})
	case otp.OutcomeAuthenticatorApp:
		writeJSON(w, http.StatusOK, mfaResponse{Status: true, Message: CodeAuthenticatorApp})
	default:
		writeJSON(w, http.StatusOK, mfaResponse{Status: false, Error: CodeNoMFA})
	}
}

func (a *api) validateOTP(w http.ResponseWriter, r *http.Request) {
	var req mfaRequest
	if err := readJSON(w, r, &req); err != nil {
		writeDetail(w, http.StatusBadRequest, CodeInvalidBody)
		return
	}
	d, _ := authkit.DecisionFromContext(r.Context())

	rec, err := a.engine.ValidateOTP(r.Context(), d.Token, req.Type, req.Code)
	if err != nil {
		a.mfaError(w, err)
		return
	}
	resp := mfaResponse{Status: true, Message: CodeFactorApproved}
	if rec.Scope.IsApproved() {
		resp.Message = CodeMFAApproved
		resp.AccessToken = rec.Token
	}
	writeJSON(w, http.StatusOK, resp)
}

// mfaError maps OTP failures onto soft {status: false} answers. Only
// unexpected errors become a 5xx.
func (a *api) mfaError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, authkit.ErrMFADisabled):
		writeJSON(w, http.StatusOK, mfaResponse{Error: CodeNoMFA})
	case errors.Is(err, otp.ErrCodeInvalid):
		writeJSON(w, http.StatusOK, mfaResponse{Error: CodeInvalidCode})
	case errors.Is(err, otp.ErrTokenNotFound):
		writeJSON(w, http.StatusOK, mfaResponse{Error: CodeTokenNotFound})
	case errors.Is(err, otp.ErrTooManyAttempts):
		writeJSON(w, http.StatusTooManyRequests, mfaResponse{Error: CodeTooManyAttempts})
	default:
		a.logger.Error("otp operation failed", zap.Error(err))
		writeDetail(w, http.StatusInternalServerError, CodeInternal)
	}
}
