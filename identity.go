package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/sunset00x/report2clean/mailer"
)

const usersCollection = "users"

// RegisterPayload carries the full registration form. Everything is required;
// province/district/city must be a consistent path through the geo catalog.
type RegisterPayload struct {
	FullName        string `json:"fullName"`
	Email           string `json:"email"`
	Phone           string `json:"phone"`
	Province        string `json:"province"`
	District        string `json:"district"`
	City            string `json:"city"`
	Address         string `json:"address"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

// UserSession is the JWT cookie payload.
type UserSession struct {
	UserID int    `json:"userId"`
	Email  string `json:"email"`
}

func (a *App) registerHandler(c *gin.Context) {
	var payload RegisterPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid registration payload"})
		return
	}

	if err := validateRegisterPayload(&payload); err != nil {
		writeAPIError(c, err)
		return
	}

	identity, err := a.createUser(c.Request.Context(), payload)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	profile := map[string]any{
		"fullName":  payload.FullName,
		"email":     payload.Email,
		"phone":     payload.Phone,
		"province":  payload.Province,
		"district":  payload.District,
		"city":      payload.City,
		"address":   payload.Address,
		"photoUrl":  "",
		"createdAt": time.Now().UTC().Format(time.RFC3339),
	}
	if err := a.documents.Put(c.Request.Context(), usersCollection, strconv.Itoa(identity.UserID), profile); err != nil {
		a.log.Error("failed to store user profile", "user_id", identity.UserID, "err", err)
		writeAPIError(c, &apiError{Status: http.StatusBadGateway, Code: "gateway_error", Message: "Registration failed. Try again."})
		return
	}

	if err := a.startUserSession(c, UserSession{UserID: identity.UserID, Email: identity.Email}); err != nil {
		writeAPIError(c, err)
		return
	}

	go a.sendWelcomeEmail(identity.Email, payload.FullName)

	c.JSON(http.StatusCreated, gin.H{"userId": identity.UserID, "email": identity.Email})
}

func validateRegisterPayload(payload *RegisterPayload) error {
	payload.FullName = strings.TrimSpace(payload.FullName)
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))
	payload.Phone = strings.TrimSpace(payload.Phone)
	payload.Province = strings.TrimSpace(payload.Province)
	payload.District = strings.TrimSpace(payload.District)
	payload.City = strings.TrimSpace(payload.City)
	payload.Address = strings.TrimSpace(payload.Address)

	if payload.FullName == "" || payload.Email == "" || payload.Phone == "" ||
		payload.Province == "" || payload.District == "" || payload.City == "" ||
		payload.Address == "" || payload.Password == "" || payload.ConfirmPassword == "" {
		return &apiError{Status: http.StatusBadRequest, Code: "missing_fields", Message: "Please fill all fields."}
	}
	if !strings.Contains(payload.Email, "@") {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_email", Message: "Valid email required"}
	}
	if payload.Password != payload.ConfirmPassword {
		return &apiError{Status: http.StatusBadRequest, Code: "password_mismatch", Message: "Passwords do not match."}
	}
	if len(payload.Password) < 8 {
		return &apiError{Status: http.StatusBadRequest, Code: "weak_password", Message: "Password must be at least 8 characters"}
	}
	if !isValidProvince(payload.Province) {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_province", Message: "Unknown province"}
	}
	if !isValidDistrict(payload.Province, payload.District) {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_district", Message: "District does not belong to the selected province"}
	}
	if !isValidCity(payload.Province, payload.District, payload.City) {
		return &apiError{Status: http.StatusBadRequest, Code: "invalid_city", Message: "City does not belong to the selected district"}
	}
	return nil
}

func (a *App) createUser(ctx context.Context, payload RegisterPayload) (*Identity, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	var userID int
	err = a.db.QueryRowContext(ctx, `
		INSERT INTO users (email, password_hash, full_name, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (email) DO NOTHING
		RETURNING id
	`, payload.Email, string(hash), payload.FullName).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apiError{Status: http.StatusConflict, Code: "email_taken", Message: "An account with this email already exists"}
		}
		return nil, err
	}

	return &Identity{UserID: userID, Email: payload.Email, FullName: payload.FullName}, nil
}

func (a *App) loginHandler(c *gin.Context) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		writeAPIError(c, &apiError{Status: http.StatusBadRequest, Code: "invalid_payload", Message: "Invalid login payload"})
		return
	}
	payload.Email = strings.ToLower(strings.TrimSpace(payload.Email))

	identity, err := a.authenticateUser(c.Request.Context(), payload.Email, payload.Password)
	if err != nil {
		writeAPIError(c, err)
		return
	}

	if err := a.startUserSession(c, UserSession{UserID: identity.UserID, Email: identity.Email}); err != nil {
		writeAPIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"userId": identity.UserID, "email": identity.Email})
}

func (a *App) authenticateUser(ctx context.Context, email, password string) (*Identity, error) {
	var userID int
	var passwordHash string
	var fullName string
	var isActive bool
	err := a.db.QueryRowContext(ctx, `
		SELECT id, password_hash, full_name, is_active
		FROM users
		WHERE email = $1
	`, email).Scan(&userID, &passwordHash, &fullName, &isActive)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &apiError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid credentials"}
		}
		return nil, err
	}
	if !isActive || bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(password)) != nil {
		return nil, &apiError{Status: http.StatusUnauthorized, Code: "invalid_credentials", Message: "Invalid credentials"}
	}
	return &Identity{UserID: userID, Email: email, FullName: fullName}, nil
}

func (a *App) logoutHandler(c *gin.Context) {
	secure := a.isProduction()
	c.SetCookie(userCookieName, "", -1, "/", "", secure, true)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (a *App) sessionHandler(c *gin.Context) {
	token, err := c.Cookie(userCookieName)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "User session required"})
		return
	}
	session, err := a.verifyUserSessionToken(token)
	if err != nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "User session required"})
		return
	}
	c.JSON(http.StatusOK, session)
}

func (a *App) profileHandler(c *gin.Context) {
	identity := a.currentIdentity(c)
	if identity == nil {
		writeAPIError(c, &apiError{Status: http.StatusUnauthorized, Code: "unauthorized", Message: "User session required", Redirect: "/register"})
		return
	}

	document, err := a.documents.Get(c.Request.Context(), usersCollection, strconv.Itoa(identity.UserID))
	if err != nil {
		a.log.Error("failed to load profile", "user_id", identity.UserID, "err", err)
		writeAPIError(c, &apiError{Status: http.StatusBadGateway, Code: "gateway_error", Message: "Failed to load profile"})
		return
	}
	if document == nil {
		writeAPIError(c, &apiError{Status: http.StatusNotFound, Code: "profile_not_found", Message: "Profile not found"})
		return
	}
	c.JSON(http.StatusOK, document.Data)
}

func (a *App) startUserSession(c *gin.Context, session UserSession) error {
	token, err := a.createUserSessionToken(session)
	if err != nil {
		return err
	}
	secure := a.isProduction()
	c.SetCookie(userCookieName, token, int(userSessionDuration.Seconds()), "/", "", secure, true)
	return nil
}

func (a *App) createUserSessionToken(session UserSession) (string, error) {
	claims := jwt.MapClaims{
		"user_id": session.UserID,
		"email":   session.Email,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(userSessionDuration).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(a.cfg.AppSigningSecret))
}

func (a *App) verifyUserSessionToken(tokenString string) (*UserSession, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(a.cfg.AppSigningSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid user session token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	rawUserID, ok := claims["user_id"].(float64)
	if !ok || rawUserID <= 0 || rawUserID != math.Trunc(rawUserID) {
		return nil, fmt.Errorf("invalid user_id claim")
	}
	email, _ := claims["email"].(string)
	if email == "" {
		return nil, fmt.Errorf("invalid user session payload")
	}
	return &UserSession{UserID: int(rawUserID), Email: email}, nil
}

// currentIdentity resolves the acting user from the session cookie. Nil means
// "none": the caller decides whether that is a redirect or a 401.
func (a *App) currentIdentity(c *gin.Context) *Identity {
	token, err := c.Cookie(userCookieName)
	if err != nil {
		return nil
	}
	session, err := a.verifyUserSessionToken(token)
	if err != nil {
		return nil
	}

	identity := &Identity{UserID: session.UserID, Email: session.Email}
	if a.db != nil {
		var fullName string
		if err := a.db.QueryRowContext(c.Request.Context(), `
			SELECT full_name FROM users WHERE id = $1 AND is_active
		`, session.UserID).Scan(&fullName); err == nil {
			identity.FullName = fullName
		}
	}
	return identity
}

func (a *App) sendWelcomeEmail(email, fullName string) {
	msg := mailer.Message{
		To:      []string{email},
		Subject: "Welcome to Report2Clean",
		HTML:    fmt.Sprintf(`<p>Hi %s,</p><p>Your Report2Clean account is ready. Submit your first cleanliness report and help keep the city clean.</p>`, fullName),
		Text:    fmt.Sprintf("Hi %s,\n\nYour Report2Clean account is ready. Submit your first cleanliness report and help keep the city clean.", fullName),
	}
	result, err := a.mailer.Send(msg)
	if err != nil {
		a.log.Error("failed to send welcome email", "email", email, "err", err)
		return
	}
	a.log.Info("welcome email sent", "email", email, "provider", a.mailer.ProviderName(), "message_id", result.ProviderMessageID)
}
