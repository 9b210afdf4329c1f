package httpapi

import (
	"net/http"
	"time"

	"github.com/zahash/mona/internal/audit"
	"github.com/zahash/mona/internal/auth"
	"github.com/zahash/mona/internal/obs"
)

func (a *API) handleSignup(w http.ResponseWriter, r *http.Request) {
	user, err := a.svc.Signup(r.Context(), auth.SignupRequest{
		Username: formValue(r, "username"),
		Email:    formValue(r, "email"),
		Password: r.PostFormValue("password"),
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.signup", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})
	if err := a.svc.InitiateEmailVerification(r.Context(), user.Email); err != nil {
		obs.Logger().WarnContext(r.Context(), "signup_verification_not_sent",
			"request_id", audit.RequestIDFromContext(r.Context()),
			"error", err.Error(),
		)
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, sess, err := a.svc.Login(r.Context(), formValue(r, "username"), r.PostFormValue("password"), r.UserAgent())
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	defer id.Zero()

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    id.Encode(),
		Path:     "/",
		Expires:  sess.ExpiresAt,
		MaxAge:   int(time.Until(sess.ExpiresAt).Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	_ = audit.LogEvent(r.Context(), "account.login", map[string]any{
		"user_id": sess.UserID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":    sess.UserID,
		"expires_at": sess.ExpiresAt,
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	err := a.svc.Logout(r.Context(), r.Header)
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) handleInitiateEmailVerification(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.InitiateEmailVerification(r.Context(), formValue(r, "email")); err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "sent"})
}

func (a *API) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	text := r.URL.Query().Get("token")
	if text == "" {
		writeError(w, r, http.StatusBadRequest, "token is required")
		return
	}
	addr, err := a.svc.VerifyEmail(r.Context(), text)
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "account.email_verified", map[string]any{
		"email": addr.String(),
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"email":    addr.String(),
		"verified": true,
	})
}

func (a *API) handleUsernameAvailability(w http.ResponseWriter, r *http.Request) {
	ok, err := a.svc.UsernameAvailable(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": ok})
}

func (a *API) handleEmailAvailability(w http.ResponseWriter, r *http.Request) {
	ok, err := a.svc.EmailAvailable(r.Context(), r.URL.Query().Get("email"))
	if err != nil {
		handleAuthError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"available": ok})
}
