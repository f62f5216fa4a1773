package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/apollo-lhc/cmtestgo/internal/middleware"
	"github.com/apollo-lhc/cmtestgo/internal/models"
	"github.com/apollo-lhc/cmtestgo/internal/utils"
	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// register creates a new user account
func (r *Router) register(w http.ResponseWriter, req *http.Request) {
	var creds credentials
	if err := json.NewDecoder(req.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	creds.Username = strings.TrimSpace(creds.Username)
	if creds.Username == "" || creds.Password == "" {
		respondError(w, http.StatusBadRequest, "Username and password are required")
		return
	}

	var existing models.User
	if err := r.db.DB.Where("username = ?", creds.Username).First(&existing).Error; err == nil {
		respondError(w, http.StatusConflict, "Username already taken")
		return
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		respondError(w, http.StatusInternalServerError, "Database error")
		return
	}

	hash, err := utils.HashPassword(creds.Password)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to hash password")
		return
	}

	user := models.User{
		Username: creds.Username,
		Password: hash,
	}
	if err := r.db.DB.Create(&user).Error; err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	log.Printf("👤 New user registered: %s", user.Username)
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// login authenticates a user and issues tokens
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var creds credentials
	if err := json.NewDecoder(req.Body).Decode(&creds); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var user models.User
	if err := r.db.DB.Where("username = ?", creds.Username).First(&user).Error; err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	if !utils.CheckPasswordHash(creds.Password, user.Password) {
		respondError(w, http.StatusUnauthorized, "Invalid username or password")
		return
	}

	access, refresh, err := utils.GenerateTokens(&user, r.cfg.JWTSecret)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate tokens")
		return
	}

	now := time.Now()
	r.db.DB.Model(&user).Update("last_login", &now)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  access,
		"refresh_token": refresh,
		"username":      user.Username,
		"is_admin":      user.IsAdmin,
	})
}

// logout releases any wizard entry the user still holds open. Token
// invalidation is left to the client since tokens are stateless.
func (r *Router) logout(w http.ResponseWriter, req *http.Request) {
	token := strings.TrimPrefix(req.Header.Get("Authorization"), "Bearer ")
	claims, err := utils.ValidateToken(token, r.cfg.JWTSecret)
	if err == nil {
		if user, uerr := r.userFromClaims(claims); uerr == nil {
			if cerr := r.entries.CloseSession(user); cerr != nil {
				log.Printf("⚠️ Failed to close session for %s: %v", user.Username, cerr)
			}
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
}

// currentUser loads the authenticated user for the request
func (r *Router) currentUser(req *http.Request) (*models.User, error) {
	claims, ok := req.Context().Value(middleware.UserContextKey).(jwt.MapClaims)
	if !ok {
		return nil, errors.New("no authenticated user in context")
	}
	return r.userFromClaims(claims)
}

func (r *Router) userFromClaims(claims jwt.MapClaims) (*models.User, error) {
	id, ok := utils.UserIDFromClaims(claims)
	if !ok {
		return nil, errors.New("token carries no user id")
	}
	var user models.User
	if err := r.db.DB.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// requireAdmin gates admin routes on the stored admin flag, not the token
// claim, so a demotion takes effect immediately. Rejected users are counted
// for the suspicious activity report.
func (r *Router) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		user, err := r.currentUser(req)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if !user.IsAdmin {
			r.fishy.record(user.Username)
			log.Printf("🚨 Non-admin %s attempted admin access: %s", user.Username, req.URL.Path)
			respondError(w, http.StatusForbidden, "Permission Denied")
			return
		}
		next.ServeHTTP(w, req)
	})
}
