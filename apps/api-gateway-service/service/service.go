package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"trekmate/apps/api-gateway-service/model"
	"trekmate/pkg/apperr"
	"trekmate/pkg/httpx"
	"trekmate/pkg/logger"
	"trekmate/pkg/metrics"
)

// upstream 一个下游服务及其反向代理
type upstream struct {
	target *url.URL
	proxy  *httputil.ReverseProxy
}

// Service API网关服务：按服务名转发到配置中的下游地址
type Service struct {
	upstreams map[string]*upstream
	logger    logger.Logger
}

// NewService 创建API网关服务实例，targets 为服务名到基础地址的映射，空地址跳过
func NewService(targets map[string]string, log logger.Logger) (*Service, error) {
	s := &Service{upstreams: make(map[string]*upstream, len(targets)), logger: log}
	for name, raw := range targets {
		if raw == "" {
			continue
		}
		target, err := url.Parse(raw)
		if err != nil || target.Scheme == "" || target.Host == "" {
			return nil, fmt.Errorf("invalid upstream url for %s: %q", name, raw)
		}
		s.upstreams[name] = &upstream{target: target, proxy: s.newProxy(name, target)}
	}
	return s, nil
}

func (s *Service) newProxy(name string, target *url.URL) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(target)
	director := proxy.Director
	proxy.Director = func(r *http.Request) {
		director(r)
		r.Host = target.Host
		r.Header.Set("X-Forwarded-Prefix", model.RoutePrefix+"/"+name)
	}
	proxy.ModifyResponse = func(resp *http.Response) error {
		metrics.ProxyRequests.WithLabelValues(name, strconv.Itoa(resp.StatusCode/100)+"xx").Inc()
		return nil
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		metrics.ProxyRequests.WithLabelValues(name, "502").Inc()
		s.logger.Error(r.Context(), "Upstream request failed",
			logger.F("service", name),
			logger.F("path", r.URL.Path),
			logger.F("error", err.Error()))
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusBadGateway)
		_ = json.NewEncoder(w).Encode(httpx.Envelope{Status: "error", Message: model.MsgUpstreamUnavailable})
	}
	return proxy
}

// Routes 已配置的转发目标，按服务名排序
func (s *Service) Routes() []model.Route {
	routes := make([]model.Route, 0, len(s.upstreams))
	for name, u := range s.upstreams {
		routes = append(routes, model.Route{Service: name, Target: u.target.String()})
	}
	sort.Slice(routes, func(i, j int) bool { return routes[i].Service < routes[j].Service })
	return routes
}

// Resolve 从 /api/v1/{service-name}/{path} 解析服务名与下游路径
func Resolve(path string) (service, rest string, err error) {
	trimmed := strings.TrimPrefix(path, model.RoutePrefix+"/")
	if trimmed == path {
		return "", "", apperr.BadRequest(model.MsgInvalidRoute)
	}
	service, rest, _ = strings.Cut(trimmed, "/")
	if service == "" || rest == "" {
		return "", "", apperr.BadRequest(model.MsgInvalidRoute)
	}
	return service, "/" + rest, nil
}

// ProxyRequest 动态路由代理请求。路由错误在写响应前返回，下游故障由代理直接写502
func (s *Service) ProxyRequest(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	name, rest, err := Resolve(r.URL.Path)
	if err != nil {
		return err
	}
	u, ok := s.upstreams[name]
	if !ok {
		return apperr.NotFound(model.MsgUnknownService)
	}

	out := r.Clone(ctx)
	out.URL.Path = rest
	out.URL.RawPath = ""
	s.logger.Debug(ctx, "Proxying request",
		logger.F("service", name),
		logger.F("method", r.Method),
		logger.F("path", rest))
	u.proxy.ServeHTTP(w, out)
	return nil
}
