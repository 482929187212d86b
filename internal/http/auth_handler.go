package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// KeyStore 访问密钥的签发与校验
type KeyStore interface {
	GenerateKey(ctx context.Context, userID int64) (string, error)
	ValidateKey(ctx context.Context, key string) (int64, bool)
}

// AuthHandler 密钥签发接口 + 受保护路由的中间件
type AuthHandler struct {
	keys      KeyStore
	botSecret string
	logger    *zap.Logger
}

func NewAuthHandler(keys KeyStore, botSecret string, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{keys: keys, botSecret: botSecret, logger: logger}
}

// POST /auth/generate_key?user_id= — 仅机器人（X-Bot-Secret）可调用
func (h *AuthHandler) GenerateKey(w http.ResponseWriter, r *http.Request) {
	if h.botSecret == "" || r.Header.Get("X-Bot-Secret") != h.botSecret {
		writeJSON(w, http.StatusForbidden, Fail("invalid bot secret"))
		return
	}

	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusBadRequest, Fail("invalid user_id"))
		return
	}

	key, err := h.keys.GenerateKey(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to generate access key", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, Fail("failed to generate key"))
		return
	}

	h.logger.Info("Access key issued", zap.Int64("user_id", userID))
	writeJSON(w, http.StatusOK, Ok(map[string]string{"access_key": key}))
}

// RequireAccessKey 校验 X-Access-Key 的中间件（缺失 401，无效 403）
func (h *AuthHandler) RequireAccessKey(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("X-Access-Key")
		if key == "" {
			writeJSON(w, http.StatusUnauthorized, Fail("missing X-Access-Key header"))
			return
		}

		userID, ok := h.keys.ValidateKey(r.Context(), key)
		if !ok {
			writeJSON(w, http.StatusForbidden, Fail("invalid or expired key"))
			return
		}

		h.logger.Debug("Request authorized", zap.Int64("user_id", userID))
		next(w, r)
	}
}
