// Package api exposes the canary store operations over HTTP.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/adrianmcphee/canarystore"
)

// maxBodyBytes bounds request bodies; configs and metric set lists are small JSON documents
const maxBodyBytes = 16 << 20

// Server routes HTTP requests to the storage, config and query services
type Server struct {
	accounts *canarystore.AccountRegistry
	storage  *canarystore.StorageServiceRepository
	configs  *canarystore.CanaryConfigService
	queries  *canarystore.QueryProcessor
	logger   canarystore.Logger
	router   *mux.Router
}

// Option configures a Server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(logger canarystore.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithQueryProcessor enables POST /metrics/query
func WithQueryProcessor(p *canarystore.QueryProcessor) Option {
	return func(s *Server) { s.queries = p }
}

// WithCanaryConfigService replaces the default config service
func WithCanaryConfigService(c *canarystore.CanaryConfigService) Option {
	return func(s *Server) { s.configs = c }
}

// NewServer creates the HTTP surface over storage
func NewServer(storage *canarystore.StorageServiceRepository, opts ...Option) *Server {
	s := &Server{
		accounts: storage.Accounts(),
		storage:  storage,
		logger:   &canarystore.NoOpLogger{},
		router:   mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.configs == nil {
		s.configs = canarystore.NewCanaryConfigService(storage)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/credentials", s.handleCredentials).Methods(http.MethodGet)

	r.HandleFunc("/objects/{type}", s.handleListObjects).Methods(http.MethodGet)
	r.HandleFunc("/objects/{type}/{key}", s.handleLoadObject).Methods(http.MethodGet)
	r.HandleFunc("/objects/{type}/{key}", s.handleStoreObject).Methods(http.MethodPut)
	r.HandleFunc("/objects/{type}/{key}", s.handleDeleteObject).Methods(http.MethodDelete)

	r.HandleFunc("/canaryConfig", s.handleListConfigs).Methods(http.MethodGet)
	r.HandleFunc("/canaryConfig", s.handleCreateConfig).Methods(http.MethodPost)
	r.HandleFunc("/canaryConfig/{id}", s.handleLoadConfig).Methods(http.MethodGet)
	r.HandleFunc("/canaryConfig/{id}", s.handleUpdateConfig).Methods(http.MethodPut)
	r.HandleFunc("/canaryConfig/{id}", s.handleDeleteConfig).Methods(http.MethodDelete)

	r.HandleFunc("/metrics/query", s.handleQuery).Methods(http.MethodPost)
}

// Router returns the route table so callers can mount extra handlers such as /metrics
func (s *Server) Router() *mux.Router {
	return s.router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "UP",
		"accounts": s.accounts.Len(),
	})
}

// accountView is the credentials listing entry; secrets are never included
type accountView struct {
	Name                 string                   `json:"name"`
	Type                 string                   `json:"type"`
	SupportedTypes       []canarystore.Capability `json:"supportedTypes"`
	Locations            []string                 `json:"locations,omitempty"`
	RecommendedLocations []string                 `json:"recommendedLocations,omitempty"`
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	views := []accountView{}
	for _, account := range s.accounts.All() {
		views = append(views, accountView{
			Name:                 account.Name(),
			Type:                 account.Type(),
			SupportedTypes:       account.SupportedTypes(),
			Locations:            account.Locations(),
			RecommendedLocations: account.RecommendedLocations(),
		})
	}
	s.respondJSON(w, http.StatusOK, views)
}

// objectTarget resolves the object type in the path and the optional accountName query parameter
func (s *Server) objectTarget(r *http.Request) (canarystore.ObjectType, canarystore.Account, canarystore.StorageService, error) {
	objectType, err := canarystore.ParseObjectType(mux.Vars(r)["type"])
	if err != nil {
		return canarystore.ObjectType{}, nil, nil, err
	}
	capability := canarystore.ObjectStore
	if objectType == canarystore.CanaryConfigType {
		capability = canarystore.ConfigurationStore
	}
	account, service, err := s.storage.ResolveOrFirst(r.URL.Query().Get("accountName"), capability)
	if err != nil {
		return canarystore.ObjectType{}, nil, nil, err
	}
	return objectType, account, service, nil
}

func (s *Server) handleListObjects(w http.ResponseWriter, r *http.Request) {
	objectType, account, service, err := s.objectTarget(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	query := r.URL.Query()
	opts := canarystore.ListOptions{Applications: query["application"]}
	if skip := query.Get("skipIndex"); skip != "" {
		if opts.SkipIndex, err = strconv.ParseBool(skip); err != nil {
			s.respondError(w, r, badRequest("skipIndex must be a boolean"))
			return
		}
	}

	summaries, err := service.ListObjectKeys(r.Context(), account, objectType, opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if summaries == nil {
		summaries = []canarystore.ObjectSummary{}
	}
	s.respondJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleLoadObject(w http.ResponseWriter, r *http.Request) {
	objectType, account, service, err := s.objectTarget(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	dest := objectType.NewValue()
	if err := service.LoadObject(r.Context(), account, objectType, mux.Vars(r)["key"], dest); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, dest)
}

func (s *Server) handleStoreObject(w http.ResponseWriter, r *http.Request) {
	objectType, account, service, err := s.objectTarget(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	value := objectType.NewValue()
	if err := decodeBody(w, r, value); err != nil {
		s.respondError(w, r, err)
		return
	}

	query := r.URL.Query()
	opts := canarystore.StoreOptions{Filename: query.Get("filename")}
	if isUpdate := query.Get("isUpdate"); isUpdate != "" {
		if opts.IsUpdate, err = strconv.ParseBool(isUpdate); err != nil {
			s.respondError(w, r, badRequest("isUpdate must be a boolean"))
			return
		}
	}

	key := mux.Vars(r)["key"]
	if err := service.StoreObject(r.Context(), account, objectType, key, value, opts); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"id": key})
}

func (s *Server) handleDeleteObject(w http.ResponseWriter, r *http.Request) {
	objectType, account, service, err := s.objectTarget(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := service.DeleteObject(r.Context(), account, objectType, mux.Vars(r)["key"]); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) error {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dest); err != nil {
		return canarystore.WithContext(canarystore.ErrInvalidData, map[string]interface{}{
			"reason": "malformed request body",
			"error":  err.Error(),
		})
	}
	return nil
}
