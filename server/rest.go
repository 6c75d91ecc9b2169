// Copyright 2024 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	restfulspec "github.com/emicklei/go-restful-openapi/v2"
	"github.com/emicklei/go-restful/v3"
	"github.com/go-openapi/spec"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/taletrail/recommender/base/log"
	"github.com/taletrail/recommender/cmd/version"
	"github.com/taletrail/recommender/config"
	"github.com/taletrail/recommender/engine"
	"github.com/taletrail/recommender/logics"
	"go.opentelemetry.io/contrib/instrumentation/github.com/emicklei/go-restful/otelrestful"
	"go.uber.org/zap"
)

const (
	apiKeyHeader    = "X-API-Key"
	requestIdHeader = "X-Request-ID"
	defaultSimilarN = 5
)

// RestServer implements a REST-ful API server.
type RestServer struct {
	Engine     *engine.Engine
	Config     *config.Config
	WebService *restful.WebService
	Container  *restful.Container
	httpServer *http.Server
}

// NewRestServer creates a server with all routes registered.
func NewRestServer(e *engine.Engine, cfg *config.Config) *RestServer {
	s := &RestServer{
		Engine:     e,
		Config:     cfg,
		WebService: new(restful.WebService),
		Container:  restful.NewContainer(),
	}
	s.CreateWebService()
	s.Container.Add(s.WebService)
	specConfig := restfulspec.Config{
		WebServices:                   s.Container.RegisteredWebServices(),
		APIPath:                       "/apidocs.json",
		PostBuildSwaggerObjectHandler: enrichSwaggerObject,
	}
	s.Container.Add(restfulspec.NewOpenAPIService(specConfig))
	s.Container.Handle("/metrics", promhttp.Handler())
	return s
}

func enrichSwaggerObject(swo *spec.Swagger) {
	swo.Info = &spec.Info{
		InfoProps: spec.InfoProps{
			Title:       "TaleTrail",
			Description: "Book recommendation API",
			Version:     version.Version,
		},
	}
}

// StartHttpServer starts the REST-ful API server. It blocks until the server is shut down.
func (s *RestServer) StartHttpServer() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.Container,
	}
	log.Logger().Info("start http server", zap.String("url", "http://"+addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errors.Trace(err)
	}
	return nil
}

func (s *RestServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// RequestIdFilter tags every response with a request id, generated unless the client sent one.
func RequestIdFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	requestId := req.HeaderParameter(requestIdHeader)
	if requestId == "" {
		requestId = uuid.NewString()
	}
	resp.Header().Set(requestIdHeader, requestId)
	chain.ProcessFilter(req, resp)
}

func LogFilter(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
	start := time.Now()
	chain.ProcessFilter(req, resp)
	route := req.SelectedRoutePath()
	RequestSecondsVec.WithLabelValues(route).Observe(time.Since(start).Seconds())
	ResponsesTotalVec.WithLabelValues(route, strconv.Itoa(resp.StatusCode())).Inc()
	log.ResponseLogger(resp).Info(fmt.Sprintf("%s %s", req.Request.Method, req.Request.URL),
		zap.Int("status_code", resp.StatusCode()),
		zap.Duration("duration", time.Since(start)))
}

// CreateWebService creates web service.
func (s *RestServer) CreateWebService() {
	ws := s.WebService
	ws.Consumes(restful.MIME_JSON).Produces(restful.MIME_JSON)
	ws.Path("/api/")
	ws.Filter(otelrestful.OTelFilter("taletrail"))
	ws.Filter(RequestIdFilter)
	ws.Filter(LogFilter)

	ws.Route(ws.GET("/health").To(s.health).
		Doc("Get readiness and the serving version.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"health"}).
		Writes(Health{}))

	ws.Route(ws.GET("/recommend/similar/{item-id}").To(s.getSimilar).
		Filter(s.authFilter).
		Doc("Get items similar to an item.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("item-id", "identifier of the item").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]logics.ScoredItem{}))
	ws.Route(ws.GET("/recommend/user/{user-id}").To(s.getRecommend).
		Filter(s.authFilter).
		Doc("Get recommendations for a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Param(ws.QueryParameter("content-weight", "weight of content-based scores").DataType("number")).
		Param(ws.QueryParameter("collaborative-weight", "weight of collaborative scores").DataType("number")).
		Writes([]logics.ScoredItem{}))
	ws.Route(ws.GET("/recommend/user/{user-id}/genres").To(s.getGenresForUser).
		Filter(s.authFilter).
		Doc("Get items from the favorite genres of a user.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("user-id", "identifier of the user").DataType("integer")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]logics.ScoredItem{}))
	ws.Route(ws.GET("/recommend/trending").To(s.getTrending).
		Filter(s.authFilter).
		Doc("Get trending items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Param(ws.QueryParameter("days", "length of the window in days").DataType("integer")).
		Writes([]logics.ScoredItem{}))
	ws.Route(ws.GET("/recommend/genre/{genre}").To(s.getByGenre).
		Filter(s.authFilter).
		Doc("Get top rated items of a genre.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("genre", "genre tag, matched case-insensitively").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]logics.ScoredItem{}))
	ws.Route(ws.GET("/recommend/country/{country-code}").To(s.getByCountry).
		Filter(s.authFilter).
		Doc("Get top rated items of a country.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("country-code", "country code").DataType("string")).
		Param(ws.QueryParameter("n", "number of returned items").DataType("integer")).
		Writes([]logics.ScoredItem{}))
	ws.Route(ws.GET("/recommend/explain/{item-id-1}/{item-id-2}").To(s.getExplain).
		Filter(s.authFilter).
		Doc("Explain the similarity of two items.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"recommendation"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Param(ws.PathParameter("item-id-1", "identifier of the first item").DataType("integer")).
		Param(ws.PathParameter("item-id-2", "identifier of the second item").DataType("integer")).
		Writes(logics.Explanation{}))

	ws.Route(ws.POST("/train").To(s.train).
		Filter(s.authFilter).
		Doc("Rebuild all models.").
		Metadata(restfulspec.KeyOpenAPITags, []string{"train"}).
		Param(ws.HeaderParameter(apiKeyHeader, "secret key for RESTful API")).
		Writes(engine.Summary{}))
}

type Health struct {
	Ready   bool  `json:"ready"`
	Version int64 `json:"version"`
}

func (s *RestServer) health(_ *restful.Request, response *restful.Response) {
	Ok(response, Health{
		Ready:   s.Engine.Ready(),
		Version: s.Engine.Version(),
	})
}

// ParseInt parses integers from the query parameter.
func ParseInt(request *restful.Request, name string, fallback int) (value int, err error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return fallback, nil
	}
	value, err = strconv.Atoi(valueString)
	if err != nil {
		return 0, errors.NotValidf("%s = %q", name, valueString)
	}
	return
}

// ParseFloat parses non-negative floats from the query parameter.
func ParseFloat(request *restful.Request, name string, fallback float64) (float64, error) {
	valueString := request.QueryParameter(name)
	if valueString == "" {
		return fallback, nil
	}
	value, err := strconv.ParseFloat(valueString, 64)
	if err != nil || value < 0 {
		return 0, errors.NotValidf("%s = %q", name, valueString)
	}
	return value, nil
}

// parseN parses the number of returned items, which must be positive.
func parseN(request *restful.Request, fallback int) (int, error) {
	n, err := ParseInt(request, "n", fallback)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, errors.NotValidf("n = %d", n)
	}
	return n, nil
}

func parseId(request *restful.Request, name string) (int64, error) {
	valueString := request.PathParameter(name)
	value, err := strconv.ParseInt(valueString, 10, 64)
	if err != nil {
		return 0, errors.NotValidf("%s = %q", name, valueString)
	}
	return value, nil
}

func (s *RestServer) getSimilar(request *restful.Request, response *restful.Response) {
	itemId, err := parseId(request, "item-id")
	if err != nil {
		BadRequest(response, err)
		return
	}
	n, err := parseN(request, defaultSimilarN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := s.Engine.Similar(request.Request.Context(), itemId, n)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getRecommend(request *restful.Request, response *restful.Response) {
	userId, err := parseId(request, "user-id")
	if err != nil {
		BadRequest(response, err)
		return
	}
	n, err := parseN(request, s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	contentWeight, err := ParseFloat(request, "content-weight", s.Config.Recommend.Blend.ContentWeight)
	if err != nil {
		BadRequest(response, err)
		return
	}
	collaborativeWeight, err := ParseFloat(request, "collaborative-weight", s.Config.Recommend.Blend.CollaborativeWeight)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := s.Engine.RecommendForUser(request.Request.Context(), userId, n, contentWeight, collaborativeWeight)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getGenresForUser(request *restful.Request, response *restful.Response) {
	userId, err := parseId(request, "user-id")
	if err != nil {
		BadRequest(response, err)
		return
	}
	n, err := parseN(request, s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := s.Engine.GenreRecommendationsForUser(request.Request.Context(), userId, n)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getTrending(request *restful.Request, response *restful.Response) {
	n, err := parseN(request, s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	days, err := ParseInt(request, "days", s.Config.Recommend.Trending.Days)
	if err != nil {
		BadRequest(response, err)
		return
	}
	if days < 1 {
		BadRequest(response, errors.NotValidf("days = %d", days))
		return
	}
	items, err := s.Engine.Trending(request.Request.Context(), n, days)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getByGenre(request *restful.Request, response *restful.Response) {
	n, err := parseN(request, s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := s.Engine.ByGenre(request.Request.Context(), request.PathParameter("genre"), n)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getByCountry(request *restful.Request, response *restful.Response) {
	n, err := parseN(request, s.Config.Server.DefaultN)
	if err != nil {
		BadRequest(response, err)
		return
	}
	items, err := s.Engine.ByCountry(request.Request.Context(), request.PathParameter("country-code"), n)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, items)
}

func (s *RestServer) getExplain(request *restful.Request, response *restful.Response) {
	a, err := parseId(request, "item-id-1")
	if err != nil {
		BadRequest(response, err)
		return
	}
	b, err := parseId(request, "item-id-2")
	if err != nil {
		BadRequest(response, err)
		return
	}
	explanation, err := s.Engine.Explain(request.Request.Context(), a, b)
	if err != nil {
		WriteError(response, err)
		return
	}
	Ok(response, explanation)
}

func (s *RestServer) train(request *restful.Request, response *restful.Response) {
	summary, err := s.Engine.Rebuild(request.Request.Context())
	if errors.Is(err, engine.ErrRebuildInProgress) {
		writeError(response, http.StatusConflict, err)
		return
	} else if errors.Is(err, engine.ErrDataUnavailable) {
		writeError(response, http.StatusServiceUnavailable, err)
		return
	} else if err != nil {
		InternalServerError(response, err)
		return
	}
	Ok(response, summary)
}

// WriteError maps engine errors to status codes.
func WriteError(response *restful.Response, err error) {
	switch {
	case errors.Is(err, errors.NotValid):
		BadRequest(response, err)
	case errors.Is(err, errors.NotFound):
		PageNotFound(response, err)
	default:
		InternalServerError(response, err)
	}
}

// BadRequest returns a bad request error.
func BadRequest(response *restful.Response, err error) {
	log.ResponseLogger(response).Warn("bad request", zap.Error(err))
	writeError(response, http.StatusBadRequest, err)
}

// InternalServerError returns a internal server error.
func InternalServerError(response *restful.Response, err error) {
	log.ResponseLogger(response).Error("internal server error", zap.Error(err))
	writeError(response, http.StatusInternalServerError, err)
}

// PageNotFound returns a not found error.
func PageNotFound(response *restful.Response, err error) {
	writeError(response, http.StatusNotFound, err)
}

func writeError(response *restful.Response, status int, err error) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err = response.WriteError(status, err); err != nil {
		log.ResponseLogger(response).Error("failed to write error", zap.Error(err))
	}
}

// Ok sends the content as JSON to the client.
func Ok(response *restful.Response, content any) {
	response.Header().Set("Access-Control-Allow-Origin", "*")
	if err := response.WriteAsJson(content); err != nil {
		log.ResponseLogger(response).Error("failed to write json", zap.Error(err))
	}
}

func (s *RestServer) authFilter(request *restful.Request, response *restful.Response, chain *restful.FilterChain) {
	if s.Config.Server.APIKey == "" || request.HeaderParameter(apiKeyHeader) == s.Config.Server.APIKey {
		chain.ProcessFilter(request, response)
		return
	}
	log.ResponseLogger(response).Error("unauthorized", zap.String(apiKeyHeader, request.HeaderParameter(apiKeyHeader)))
	writeError(response, http.StatusUnauthorized, errors.Unauthorizedf("api key"))
}
