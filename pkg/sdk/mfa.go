package sdk

import (
	"context"
	"fmt"
	"net/http"

	"github.com/pterm/pterm"
)

// MFAProviderTOTP is the time-based one-time password factor.
const MFAProviderTOTP = "totp"

// TOTPPrompt asks the operator for a one-time code.
type TOTPPrompt func(ctx context.Context) (string, error)

// MFAVerifier checks whether a token session needs a second factor and submits it.
type MFAVerifier struct {
	client HTTPClient
	logger *pterm.Logger
}

// NewMFAVerifier creates a verifier sending requests through client.
func NewMFAVerifier(client HTTPClient, optFns ...Option) *MFAVerifier {
	opts := newOptions(optFns)
	return &MFAVerifier{client: client, logger: opts.Logger}
}

// Required reports whether provider must be verified for the session. Only an
// HTTP 200 means yes. Any other status, and any transport failure, means no: a
// degraded MFA endpoint must not lock operators out.
func (m *MFAVerifier) Required(ctx context.Context, s *Session, provider string) bool {
	req := &Request{
		Method: http.MethodGet,
		Path:   "/mfa/verify/" + provider + ".json",
		Header: http.Header{"Content-Type": []string{"application/json"}},
	}
	if err := s.Authorize(ctx, req); err != nil {
		m.logger.Warn("MFA check skipped, continuing without MFA", m.logger.Args("provider", provider, "error", err))
		return false
	}

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		m.logger.Warn("MFA check failed, continuing without MFA", m.logger.Args("provider", provider, "error", err))
		return false
	}

	switch resp.StatusCode {
	case http.StatusOK:
		m.logger.Info("MFA verification required", m.logger.Args("provider", provider))
		return true
	case http.StatusBadRequest, http.StatusInternalServerError:
		m.logger.Info("No MFA required", m.logger.Args("provider", provider, "status", resp.StatusCode))
		return false
	default:
		m.logger.Warn("Unexpected MFA check response, continuing without MFA", m.logger.Args(
			"provider", provider,
			"error", statusError("mfa check", resp),
		))
		return false
	}
}

// VerifyTOTP submits code for the session. Any failure aborts the login.
func (m *MFAVerifier) VerifyTOTP(ctx context.Context, s *Session, code string) error {
	req, err := newJSONRequest(http.MethodPost, "/mfa/verify/totp.json", map[string]string{"totp": code})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginAborted, err)
	}
	if err := s.Authorize(ctx, req); err != nil {
		return fmt.Errorf("%w: %w", ErrLoginAborted, err)
	}

	resp, err := m.client.Do(ctx, req)
	if err != nil {
		m.logger.Error("TOTP verification failed", m.logger.Args("error", err))
		return fmt.Errorf("%w: %w", ErrLoginAborted, err)
	}
	if resp.StatusCode != http.StatusOK {
		statusErr := statusError("verify totp", resp)
		m.logger.Error("TOTP verification rejected", m.logger.Args("status", resp.StatusCode, "error", statusErr))
		return fmt.Errorf("%w: %s", ErrLoginAborted, statusErr)
	}

	m.logger.Info("TOTP verified")
	return nil
}
