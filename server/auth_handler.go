package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"FeiLiu/core/auth"
	"FeiLiu/logger"
	"FeiLiu/model"
)

type contextKey string

const (
	ctxKeyUserID   contextKey = "userID"
	ctxKeyUsername contextKey = "username"
	ctxKeyIsAdmin  contextKey = "isAdmin"
)

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler handles user login requests
func (h *APIHandler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("[Login] 解析请求体失败", logger.ErrorField(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username == "" || req.Password == "" {
		http.Error(w, "Username and password are required", http.StatusBadRequest)
		return
	}

	user, err := h.userRepo.GetUserByUsername(req.Username)
	if err != nil {
		logger.Error("[Login] 查询用户失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if user == nil {
		logger.Warn("[Login] 用户不存在", logger.String("username", req.Username))
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	// 验证密码
	if !auth.CheckPasswordHash(req.Password, user.PasswordHash) {
		logger.Warn("[Login] 密码验证失败", logger.String("username", req.Username))
		http.Error(w, "Invalid username or password", http.StatusUnauthorized)
		return
	}

	// 生成JWT token
	token, err := auth.GenerateToken(user.ID, user.Username, user.IsAdmin)
	if err != nil {
		logger.Error("[Login] 生成Token失败", logger.ErrorField(err))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	logger.Info("[Login] 登录成功", logger.String("username", user.Username))

	response := struct {
		Token string     `json:"token"`
		User  model.User `json:"user"`
	}{
		Token: token,
		User:  *user,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// AuthMiddleware is a middleware function that checks for a valid JWT token
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		claims, err := auth.ParseToken(parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxKeyUsername, claims.Username)
		ctx = context.WithValue(ctx, ctxKeyIsAdmin, claims.IsAdmin)

		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// AdminMiddleware 仅放行管理员，套在 AuthMiddleware 之后使用
func (h *APIHandler) AdminMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return h.AuthMiddleware(func(w http.ResponseWriter, r *http.Request) {
		isAdmin, ok := r.Context().Value(ctxKeyIsAdmin).(bool)
		if !ok || !isAdmin {
			http.Error(w, "Admin privileges required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetUserIDFromContext extracts the user ID from the request context
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(ctxKeyUserID).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}
