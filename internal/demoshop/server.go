package demoshop

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFS embed.FS

const (
	SessionCookie = "PHPSESSID"
	CSRFHeader    = "X-CSRF-Token"
)

// DefaultCatalog is the stock the shop starts with when none is given. It
// has discounted products, a product with ten or more units and enough
// distinct products to fill a nine-line cart.
func DefaultCatalog() []Product {
	return []Product{
		{ID: "1", Name: "Блокнот в точку", Price: 400, Stock: 12},
		{ID: "2", Name: "Ручка гелевая", Price: 90, OldPrice: 110, Stock: 5, Discount: true},
		{ID: "3", Name: "Тетрадь в клетку", Price: 50, Stock: 9},
		{ID: "4", Name: "Скетчбук", Price: 620, OldPrice: 700, Stock: 3, Discount: true},
		{ID: "5", Name: "Набор маркеров", Price: 350, Stock: 7},
		{ID: "6", Name: "Ежедневник", Price: 540, Stock: 4},
		{ID: "7", Name: "Карандаш чернографитный", Price: 25, Stock: 30},
		{ID: "8", Name: "Стикеры", Price: 120, OldPrice: 150, Stock: 6, Discount: true},
		{ID: "9", Name: "Линейка", Price: 60, Stock: 8},
		{ID: "10", Name: "Папка на кнопке", Price: 80, Stock: 10},
	}
}

// Server serves the storefront.
type Server struct {
	store          *store
	templates      *template.Template
	logger         *zap.Logger
	loginRedirects int
	serverError    bool
	router         chi.Router
}

type Option func(*Server)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithLoginRedirects makes a successful login pass through n redirect hops
// before reaching the landing page.
func WithLoginRedirects(n int) Option {
	return func(s *Server) { s.loginRedirects = n }
}

// WithServerError makes the cart page show a server error banner.
func WithServerError() Option {
	return func(s *Server) { s.serverError = true }
}

// New returns a shop selling products with a single account. A nil
// products uses DefaultCatalog.
func New(products []Product, username, password string, opts ...Option) (*Server, error) {
	if products == nil {
		products = DefaultCatalog()
	}
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"panelPrice": func(n int) string { return fmt.Sprintf("- %d р.", n) },
	}).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}

	s := &Server{
		store:     newStore(products),
		templates: tmpl,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.store.addAccount(username, password); err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.router = s.routes()
	return s, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/login", s.handleLoginForm)
	r.Post("/login", s.handleLogin)
	r.Get("/auth/hop/{n}", s.handleHop)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)

		r.Get("/", s.handleIndex)
		r.Get("/basket", s.handleBasket)
		r.Get("/basket/fragment", s.handleBasketFragment)

		r.Group(func(r chi.Router) {
			r.Use(s.requireCSRF)
			r.Post("/basket/buy/{id}", s.handleBuy)
			r.Post("/basket/clear", s.handleClear)
		})
	})
	return r
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.logger.Info("demo shop listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type ctxKey struct{}

type visitor struct {
	id     string
	user   string
	csrf   string
	basket Basket
}

func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(SessionCookie)
		if err != nil {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		user, csrf, basket, ok := s.store.view(c.Value)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		v := &visitor{id: c.Value, user: user, csrf: csrf, basket: basket}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, v)))
	})
}

// requireCSRF accepts the token from the X-CSRF-Token header or the _csrf
// form field.
func (s *Server) requireCSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v := current(r)
		token := r.Header.Get(CSRFHeader)
		if token == "" {
			token = r.PostFormValue("_csrf")
		}
		if token == "" || token != v.csrf {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid csrf token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func current(r *http.Request) *visitor {
	return r.Context().Value(ctxKey{}).(*visitor)
}

type page struct {
	Title       string
	User        string
	CSRF        string
	Basket      Basket
	Products    []Product
	Username    string
	Error       string
	ServerError bool
}

func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		s.logger.Error("failed to render template", zap.String("template", name), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "login.html", page{Title: "Авторизация"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	username := r.PostFormValue("LoginForm[username]")
	password := r.PostFormValue("LoginForm[password]")

	id, err := s.store.login(username, password)
	if err != nil {
		s.logger.Info("login rejected", zap.String("user", username))
		s.render(w, http.StatusOK, "login.html", page{
			Title:    "Авторизация",
			Username: username,
			Error:    "Неверное имя пользователя или пароль.",
		})
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	s.logger.Info("login", zap.String("user", username))
	http.Redirect(w, r, s.hop(1), http.StatusFound)
}

// hop returns the URL of redirect hop n, or the landing page once every hop
// has been taken.
func (s *Server) hop(n int) string {
	if n > s.loginRedirects {
		return "/"
	}
	return "/auth/hop/" + strconv.Itoa(n)
}

func (s *Server) handleHop(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(chi.URLParam(r, "n"))
	if err != nil || n < 1 {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, s.hop(n+1), http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(SessionCookie); err == nil {
		s.store.logout(c.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	v := current(r)
	s.render(w, http.StatusOK, "index.html", page{
		Title:    "OK-Notes",
		User:     v.user,
		CSRF:     v.csrf,
		Basket:   v.basket,
		Products: s.store.catalog(),
	})
}

func (s *Server) handleBasket(w http.ResponseWriter, r *http.Request) {
	v := current(r)
	status := http.StatusOK
	if s.serverError {
		status = http.StatusInternalServerError
	}
	s.render(w, status, "basket.html", page{
		Title:       "Корзина",
		User:        v.user,
		CSRF:        v.csrf,
		Basket:      v.basket,
		ServerError: s.serverError,
	})
}

func (s *Server) handleBasketFragment(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, "basket", current(r).basket)
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	v := current(r)
	id := chi.URLParam(r, "id")

	switch err := s.store.buy(v.id, id); {
	case errors.Is(err, ErrUnknownProduct):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, ErrOutOfStock):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
	default:
		s.logger.Debug("product added", zap.String("user", v.user), zap.String("product", id))
		writeJSON(w, http.StatusOK, map[string]bool{"response": true})
	}
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	v := current(r)
	s.store.clear(v.id)
	s.logger.Debug("basket cleared", zap.String("user", v.user))
	writeJSON(w, http.StatusOK, map[string]bool{"response": true})
}
