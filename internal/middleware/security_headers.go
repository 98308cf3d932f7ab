package middleware

import "net/http"

// hstsValue は1年間HTTPSを強制するHSTSヘッダー値。
const hstsValue = "max-age=31536000; includeSubDomains"

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// APIはJSON、イベントストリーム、xlsxファイルのみを返すため、CSPは全面的に拒否する。
// strictTransportがtrueの場合（BASE_URLがhttps）はHSTSも付与する。
func NewSecurityHeadersMiddleware(strictTransport bool) func(next http.Handler) http.Handler {
	headers := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Cache-Control":           "no-store",
	}
	if strictTransport {
		headers["Strict-Transport-Security"] = hstsValue
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for k, v := range headers {
				h.Set(k, v)
			}
			next.ServeHTTP(w, r)
		})
	}
}
