package httpapi

import (
	"net/http"

	"go.uber.org/zap"
)

// Router 使用标准库 http.ServeMux（避免引入第三方路由依赖）
type Router struct {
	mux    *http.ServeMux
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	return &Router{
		mux:    http.NewServeMux(),
		logger: logger,
	}
}

func (r *Router) Handle(pattern string, h http.HandlerFunc) {
	r.mux.HandleFunc(pattern, h)
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// methodHandler 按方法分发，未列出的方法返回 405
func methodHandler(handlers map[string]http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if h, ok := handlers[req.Method]; ok {
			h(w, req)
			return
		}
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// RegisterDeviceRoutes 设备会话路由（全部挂 X-Access-Key 校验）
func (r *Router) RegisterDeviceRoutes(d *DeviceHandler, auth *AuthHandler) {
	r.Handle("/esp_service/telemetry", auth.RequireAccessKey(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet: d.GetTelemetry,
	})))

	r.Handle("/esp_service/settings", auth.RequireAccessKey(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet:  d.GetSettings,
		http.MethodPost: d.UpdateSettings,
	})))

	r.Handle("/esp_service/history", auth.RequireAccessKey(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet: d.GetHistory,
	})))

	r.Handle("/esp_service/stats", auth.RequireAccessKey(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet: d.GetStats,
	})))

	r.Handle("/esp_service/weather", auth.RequireAccessKey(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet: d.GetWeather,
	})))

	r.Handle("/esp_service/ai_report/daily", auth.RequireAccessKey(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet: d.GetDailyReport,
	})))

	r.Handle("/esp_service/ai_report/weekly", auth.RequireAccessKey(methodHandler(map[string]http.HandlerFunc{
		http.MethodGet: d.GetWeeklyReport,
	})))
}

// RegisterAuthRoutes 密钥签发路由（用 X-Bot-Secret 保护，不走访问密钥）
func (r *Router) RegisterAuthRoutes(auth *AuthHandler) {
	r.Handle("/auth/generate_key", methodHandler(map[string]http.HandlerFunc{
		http.MethodPost: auth.GenerateKey,
	}))
}
