package internal

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var visitors = make(map[string]*rate.Limiter)
var mu sync.Mutex

func getVisitor(ip string) *rate.Limiter {
	mu.Lock()
	defer mu.Unlock()

	limiter, exists := visitors[ip]
	if !exists {
		// Allow 1 request per second with a burst of 3
		limiter = rate.NewLimiter(1, 3)
		visitors[ip] = limiter
	}

	return limiter
}

func (s *Server) ProtectedFileServer(root http.FileSystem) http.Handler {
	fileServer := http.FileServer(root)
	return s.ValidateSessionToken(toHandlerFunc(fileServer))
}

func (s *Server) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Get IP address (Handle X-Forwarded-For if behind Cloudflare)
		ip := r.Header.Get("CF-Connecting-IP")
		if ip == "" {
			ip, _, _ = net.SplitHostPort(r.RemoteAddr)
		}

		limiter := getVisitor(ip)
		if !limiter.Allow() {
			s.Log.Printf("Rate limit exceeded for IP: %s", ip)
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type contextKey string

const emailContextKey contextKey = "email"

func callerEmail(r *http.Request) string {
	email, _ := r.Context().Value(emailContextKey).(string)
	return email
}

// ValidateSessionToken accepts either a session token or an
// "email:apikey" Authorization header, and stashes the caller's
// email in the request context for the handlers downstream.
func (s *Server) ValidateSessionToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, err := s.GetTokenFromSession(r)

		if err != nil {
			header := r.Header.Get("Authorization")
			parts := strings.Split(header, ":")
			if header == "" || len(parts) != 2 {
				http.Error(w, "Token is missing or malformed", http.StatusUnauthorized)
				return
			}

			email := parts[0]
			key := parts[1]
			user, err := s.DB.GetUserByEmail(email)
			if err != nil {
				s.Log.Printf("error getting user by email %s: %v", email, err)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}
			if user.Key != key {
				s.Log.Printf("api key mismatch for user %s", email)
				http.Error(w, "Invalid token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), emailContextKey, email)
			setSecurityHeaders(w)
			next(w, r.WithContext(ctx))
			return
		}

		tk, err := s.DB.GetTokenByValue(token)
		if err != nil || tk.ExpiresAt.Before(time.Now()) {
			s.Log.Printf("invalid session token: %v", err)
			http.Error(w, "Invalid session token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), emailContextKey, tk.Email)
		setSecurityHeaders(w)
		next(w, r.WithContext(ctx))
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	cspValue := `default-src 'self'; script-src 'self' https://cdnjs.cloudflare.com; img-src 'self' data:; style-src 'self' 'unsafe-inline' https://fonts.googleapis.com; font-src 'self' https://fonts.gstatic.com;`
	w.Header().Set("Content-Security-Policy", cspValue)
	w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
}

func (s *Server) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := false
		for _, o := range s.Details.CorsOrigins {
			if o == origin {
				allowed = true
				break
			}
		}
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "null")
		}
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func toHandlerFunc(handler http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}
}
